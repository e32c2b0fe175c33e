// Package gesture tells drags, clicks and context-menu requests on the
// capsule apart.
package gesture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/toverwu-qaq/opentypeless/internal/domain"
	"github.com/toverwu-qaq/opentypeless/internal/ports"
	"github.com/toverwu-qaq/opentypeless/internal/store"
)

// DragThreshold is the per-axis displacement, in pixels, that must be
// exceeded before a press becomes a drag.
const DragThreshold = 5.0

var ErrUnknownMenuItem = errors.New("unknown menu item")

// Button identifies a pointer button using DOM numbering.
type Button int

const (
	ButtonPrimary   Button = 0
	ButtonSecondary Button = 2
)

type Phase int

const (
	PhaseNone Phase = iota
	PhaseDown
	PhaseDrag
)

// Action is what a pointer-up resolved to.
type Action string

const (
	ActionNone    Action = "none"
	ActionDragEnd Action = "drag_end"
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
)

// Recorder is the subset of the recording controller a click can reach.
type Recorder interface {
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
}

// Tracker is the state machine for a single pointer gesture.
type Tracker struct {
	store    *store.Store
	window   ports.Window
	recorder Recorder
	shell    ports.Shell
	logger   zerolog.Logger

	mu     sync.Mutex
	phase  Phase
	startX float64
	startY float64
}

func NewTracker(st *store.Store, window ports.Window, recorder Recorder, shell ports.Shell, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:    st,
		window:   window,
		recorder: recorder,
		shell:    shell,
		logger:   logger.With().Str("component", "gesture").Logger(),
	}
}

func (t *Tracker) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// PointerDown starts a gesture. Only the primary button counts.
func (t *Tracker) PointerDown(button Button, x, y float64) {
	if button != ButtonPrimary {
		return
	}
	t.mu.Lock()
	t.phase = PhaseDown
	t.startX, t.startY = x, y
	t.mu.Unlock()
}

// PointerMove classifies the gesture as a drag once the threshold is
// crossed and hands the drag to the window system. It reports whether
// this move started the drag.
func (t *Tracker) PointerMove(ctx context.Context, x, y float64) bool {
	t.mu.Lock()
	if t.phase != PhaseDown {
		t.mu.Unlock()
		return false
	}
	dx := math.Abs(x - t.startX)
	dy := math.Abs(y - t.startY)
	if dx <= DragThreshold && dy <= DragThreshold {
		t.mu.Unlock()
		return false
	}
	t.phase = PhaseDrag
	t.mu.Unlock()

	if err := t.window.StartDragging(ctx); err != nil {
		t.logger.Warn().Err(err).Msg("failed to start window drag")
	}
	return true
}

// PointerUp ends the gesture. A press that never became a drag is a click:
// it stops a recording, or starts one from a clean idle capsule.
func (t *Tracker) PointerUp(ctx context.Context, button Button) Action {
	switch t.Release(button) {
	case PhaseDrag:
		return ActionDragEnd
	case PhaseDown:
		return t.Click(ctx)
	default:
		return ActionNone
	}
}

// Release clears the gesture and returns the phase it ended in. PhaseDown
// means the gesture was a click that still has to be acted on with Click.
func (t *Tracker) Release(button Button) Phase {
	if button != ButtonPrimary {
		return PhaseNone
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	phase := t.phase
	t.phase = PhaseNone
	return phase
}

// Click toggles recording from the current pipeline state.
func (t *Tracker) Click(ctx context.Context) Action {
	snap := t.store.Snapshot()
	switch {
	case snap.IsRecording():
		if err := t.recorder.StopRecording(ctx); err != nil {
			t.logger.Error().Err(err).Msg("failed to stop recording")
		}
		return ActionStop
	case snap.PipelineState == domain.PipelineIdle && !snap.HasError && !snap.IsProcessing():
		if err := t.recorder.StartRecording(ctx); err != nil {
			t.logger.Error().Err(err).Msg("failed to start recording")
		}
		return ActionStart
	default:
		return ActionNone
	}
}

// ContextMenu opens the menu if it is closed. The menu becomes visible
// once the window has grown to fit it.
func (t *Tracker) ContextMenu() {
	if t.store.Snapshot().ContextMenuOpen {
		return
	}
	t.store.OpenContextMenu()
}

// CloseMenu clears the open and ready flags together.
func (t *Tracker) CloseMenu() {
	t.store.CloseContextMenu()
}

func (t *Tracker) MenuVisible() bool {
	snap := t.store.Snapshot()
	return snap.ContextMenuOpen && snap.ContextMenuReady
}

// MenuItem is one entry of the capsule context menu.
type MenuItem struct {
	ID    string       `json:"id"`
	Label string       `json:"label"`
	Route domain.Route `json:"route,omitempty"`
	// SeparatorBefore draws a divider above the item.
	SeparatorBefore bool `json:"separatorBefore,omitempty"`
}

const (
	ItemOpenMain = "open_main"
	ItemSettings = "settings"
	ItemHistory  = "history"
	ItemAccount  = "account"
	ItemUpgrade  = "upgrade"
	ItemExit     = "exit"
)

var menuItems = []MenuItem{
	{ID: ItemOpenMain, Label: "Open Main Window", Route: domain.RouteHome},
	{ID: ItemSettings, Label: "Settings", Route: domain.RouteSettings, SeparatorBefore: true},
	{ID: ItemHistory, Label: "History", Route: domain.RouteHistory},
	{ID: ItemAccount, Label: "Account", Route: domain.RouteAccount},
	{ID: ItemUpgrade, Label: "Upgrade", Route: domain.RouteUpgrade},
	{ID: ItemExit, Label: "Exit", SeparatorBefore: true},
}

func MenuItems() []MenuItem {
	return append([]MenuItem(nil), menuItems...)
}

// Select runs a menu item and closes the menu, whether or not the action
// succeeded.
func (t *Tracker) Select(ctx context.Context, id string) error {
	defer t.CloseMenu()

	for _, item := range menuItems {
		if item.ID != id {
			continue
		}
		var err error
		if item.ID == ItemExit {
			err = t.shell.Quit(ctx)
		} else {
			err = t.shell.OpenMainWindow(ctx, item.Route)
		}
		if err != nil {
			t.logger.Warn().Err(err).Str("item", id).Msg("menu action failed")
			return fmt.Errorf("menu %s: %w", id, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownMenuItem, id)
}
