package usecase

import (
	"context"
	"fmt"

	"github.com/toverwu-qaq/opentypeless/internal/domain"
	"github.com/toverwu-qaq/opentypeless/internal/ports"
	"github.com/toverwu-qaq/opentypeless/internal/store"
)

// RecordingController issues start and stop commands to the backend.
// It performs no state checks; the backend owns transition legality.
type RecordingController struct {
	commander ports.Commander
	store     *store.Store
}

func NewRecordingController(commander ports.Commander, st *store.Store) *RecordingController {
	return &RecordingController{commander: commander, store: st}
}

// StartRecording clears the previous session's artifacts and asks the
// backend to begin capturing. The reset happens even when the command fails.
func (c *RecordingController) StartRecording(ctx context.Context) error {
	c.store.ResetRecording()
	if err := c.commander.Invoke(ctx, domain.CommandStartRecording, nil, nil); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	return nil
}

// StopRecording asks the backend to stop capturing.
func (c *RecordingController) StopRecording(ctx context.Context) error {
	if err := c.commander.Invoke(ctx, domain.CommandStopRecording, nil, nil); err != nil {
		return fmt.Errorf("stop recording: %w", err)
	}
	return nil
}

func (c *RecordingController) IsRecording() bool {
	return c.store.PipelineState().IsRecording()
}

func (c *RecordingController) IsProcessing() bool {
	return c.store.PipelineState().IsProcessing()
}

func (c *RecordingController) IsIdle() bool {
	return c.store.PipelineState() == domain.PipelineIdle
}
