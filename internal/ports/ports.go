package ports

import (
	"context"
	"encoding/json"

	"github.com/toverwu-qaq/opentypeless/internal/domain"
)

// Commander invokes named commands on the native backend.
// result may be nil when the command returns nothing of interest.
type Commander interface {
	Invoke(ctx context.Context, command string, args any, result any) error
}

// Unlisten tears down an established event subscription.
type Unlisten func()

// EventSource subscribes to named events pushed by the native backend.
// Listen may block until the transport confirms the subscription.
type EventSource interface {
	Listen(ctx context.Context, event string, handler func(payload json.RawMessage)) (Unlisten, error)
}

// Size is a width/height pair in logical pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Point is a screen coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Monitor describes the display hosting the capsule window.
type Monitor struct {
	// Size is in physical pixels.
	Size        Size
	ScaleFactor float64
}

// Window is the native windowing surface of the floating capsule.
// Every call is best-effort.
type Window interface {
	SetSize(ctx context.Context, size Size) error
	SetPosition(ctx context.Context, pos Point) error
	// OuterPosition returns the top-left corner in physical pixels.
	OuterPosition(ctx context.Context) (Point, error)
	CurrentMonitor(ctx context.Context) (Monitor, error)
	StartDragging(ctx context.Context) error
}

// Shell exposes application-level actions reachable from the capsule menu.
type Shell interface {
	OpenMainWindow(ctx context.Context, route domain.Route) error
	Quit(ctx context.Context) error
}
