// Package geometry keeps the capsule window sized to its content while the
// capsule's left edge and vertical centre stay put on screen.
package geometry

import (
	"github.com/toverwu-qaq/opentypeless/internal/domain"
	"github.com/toverwu-qaq/opentypeless/internal/ports"
)

// Padding is added on every side-pair of the content to get the window size.
const Padding = 24

// Key is the tuple that determines the capsule's content size.
type Key struct {
	State    domain.PipelineState
	Expanded bool
	HasError bool
	MenuOpen bool
}

// ContentSize looks up the logical content size. Earlier rows win:
// an open menu beats an error, which beats the expanded flag, which
// beats the pipeline state.
func ContentSize(k Key) ports.Size {
	switch {
	case k.MenuOpen:
		return ports.Size{Width: 220, Height: 220}
	case k.HasError:
		return ports.Size{Width: 200, Height: 36}
	case k.Expanded:
		return ports.Size{Width: 220, Height: 90}
	}

	switch k.State {
	case domain.PipelineRecording:
		return ports.Size{Width: 200, Height: 36}
	case domain.PipelineTranscribing, domain.PipelinePolishing:
		return ports.Size{Width: 220, Height: 36}
	case domain.PipelineOutputting:
		return ports.Size{Width: 120, Height: 36}
	default:
		return ports.Size{Width: 36, Height: 36}
	}
}

// WindowSize pads a content size.
func WindowSize(content ports.Size) ports.Size {
	return ports.Size{Width: content.Width + Padding, Height: content.Height + Padding}
}
