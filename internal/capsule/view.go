// Package capsule maps pipeline state to what the floating capsule shows
// and owns the capsule's timers.
package capsule

import (
	"fmt"
	"math"
	"time"

	"github.com/samber/lo"

	"github.com/toverwu-qaq/opentypeless/internal/domain"
	"github.com/toverwu-qaq/opentypeless/internal/geometry"
	"github.com/toverwu-qaq/opentypeless/internal/ports"
	"github.com/toverwu-qaq/opentypeless/internal/store"
)

// Variant is the visual mode of the capsule.
type Variant string

const (
	VariantIdle         Variant = "idle"
	VariantRecording    Variant = "recording"
	VariantTranscribing Variant = "transcribing"
	VariantPolishing    Variant = "polishing"
	VariantOutputting   Variant = "outputting"
	VariantError        Variant = "error"
)

const (
	TranscribingPlaceholder = "Transcribing..."
	PolishingLabel          = "Thinking..."
	DoneLabel               = "Done"
	ErrorFallback           = "An error occurred"
)

// Waveform shape.
const (
	BarCount     = 7
	BarMinHeight = 3.0
	BarMaxHeight = 16.0
)

// VariantFor selects the variant. An active error overrides the state.
func VariantFor(snap store.Snapshot) Variant {
	if snap.HasError {
		return VariantError
	}
	switch snap.PipelineState {
	case domain.PipelineRecording:
		return VariantRecording
	case domain.PipelineTranscribing:
		return VariantTranscribing
	case domain.PipelinePolishing:
		return VariantPolishing
	case domain.PipelineOutputting:
		return VariantOutputting
	default:
		return VariantIdle
	}
}

// Bar is one waveform bar, in logical pixels.
type Bar struct {
	Height  float64 `json:"height"`
	Opacity float64 `json:"opacity"`
}

// View is a fully rendered capsule frame.
type View struct {
	Variant     Variant    `json:"variant"`
	Text        string     `json:"text,omitempty"`
	Duration    string     `json:"duration,omitempty"`
	Bars        []Bar      `json:"bars,omitempty"`
	Content     ports.Size `json:"content"`
	// Shell is the capsule's own size; the menu, when shown, sits beside it.
	Shell       ports.Size `json:"shell"`
	Cancelable  bool       `json:"cancelable"`
	MenuVisible bool       `json:"menuVisible"`
}

// Render is pure: the same snapshot and bars always give the same view.
func Render(snap store.Snapshot, bars []Bar) View {
	variant := VariantFor(snap)
	key := geometry.Key{
		State:    snap.PipelineState,
		Expanded: snap.CapsuleExpanded,
		HasError: snap.HasError,
	}
	shell := geometry.ContentSize(key)
	key.MenuOpen = snap.ContextMenuOpen
	view := View{
		Variant:     variant,
		Content:     geometry.ContentSize(key),
		Shell:       shell,
		MenuVisible: snap.ContextMenuOpen && snap.ContextMenuReady,
	}

	switch variant {
	case VariantRecording:
		view.Duration = FormatDuration(snap.RecordingDuration)
		view.Bars = bars
		view.Cancelable = true
	case VariantTranscribing:
		view.Text = snap.PartialTranscript
		if view.Text == "" {
			view.Text = TranscribingPlaceholder
		}
		view.Cancelable = true
	case VariantPolishing:
		view.Text = PolishingLabel
		view.Cancelable = true
	case VariantOutputting:
		view.Text = DoneLabel
	case VariantError:
		view.Text = snap.PipelineError
		if view.Text == "" {
			view.Text = ErrorFallback
		}
	}
	return view
}

// FormatDuration renders whole seconds as mm:ss.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// Waveform samples the bar heights for volume at time t.
func Waveform(volume float64, t time.Duration) []Bar {
	phase := float64(t) / float64(200*time.Millisecond)
	bars := make([]Bar, BarCount)
	for i := range bars {
		offset := math.Sin(phase+float64(i)*0.9) * 0.15
		level := lo.Clamp(volume+offset, 0, 1)
		bars[i] = Bar{
			Height:  BarMinHeight + (BarMaxHeight-BarMinHeight)*level,
			Opacity: math.Max(0.5, level),
		}
	}
	return bars
}
