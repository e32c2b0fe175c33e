package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/toverwu-qaq/opentypeless/internal/capsule"
	"github.com/toverwu-qaq/opentypeless/internal/domain"
	"github.com/toverwu-qaq/opentypeless/internal/ports"
)

// Events emitted to the capsule frontend.
const (
	eventView      = "capsule:view"
	eventStartDrag = "capsule:start-drag"
	eventBootError = "capsule:boot-error"
	// eventOpenRoute asks the main window to show a page. It is distinct
	// from the backend's navigate event, which the bridge itself consumes.
	eventOpenRoute = "main:open-route"
)

var errNoScreen = errors.New("no current screen reported")

// guard turns a runtime panic into an error. The Wails runtime panics when
// called with a context that is not bound to a live window.
func guard(op string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s: runtime panic: %v", op, r)
	}
}

// wailsWindow drives the frameless capsule window.
type wailsWindow struct {
	ctx context.Context
}

func (w wailsWindow) SetSize(_ context.Context, size ports.Size) (err error) {
	defer guard("window set size", &err)
	runtime.WindowSetSize(w.ctx, size.Width, size.Height)
	return nil
}

func (w wailsWindow) SetPosition(_ context.Context, pos ports.Point) (err error) {
	defer guard("window set position", &err)
	runtime.WindowSetPosition(w.ctx, pos.X, pos.Y)
	return nil
}

// OuterPosition scales the runtime's logical position to physical pixels.
func (w wailsWindow) OuterPosition(ctx context.Context) (pos ports.Point, err error) {
	defer guard("window position", &err)
	x, y := runtime.WindowGetPosition(w.ctx)
	scale := 1.0
	if monitor, merr := w.CurrentMonitor(ctx); merr == nil && monitor.ScaleFactor > 0 {
		scale = monitor.ScaleFactor
	}
	return ports.Point{X: int(float64(x) * scale), Y: int(float64(y) * scale)}, nil
}

func (w wailsWindow) CurrentMonitor(context.Context) (monitor ports.Monitor, err error) {
	defer guard("current monitor", &err)
	screens, err := runtime.ScreenGetAll(w.ctx)
	if err != nil {
		return ports.Monitor{}, fmt.Errorf("list screens: %w", err)
	}
	for _, screen := range screens {
		if !screen.IsCurrent {
			continue
		}
		physical := screen.PhysicalSize
		if physical.Width == 0 {
			physical = screen.Size
		}
		scale := 1.0
		if screen.Size.Width > 0 {
			scale = float64(physical.Width) / float64(screen.Size.Width)
		}
		return ports.Monitor{
			Size:        ports.Size{Width: physical.Width, Height: physical.Height},
			ScaleFactor: scale,
		}, nil
	}
	return ports.Monitor{}, errNoScreen
}

// StartDragging asks the frontend to hand the pointer to the native drag.
func (w wailsWindow) StartDragging(context.Context) (err error) {
	defer guard("start dragging", &err)
	runtime.EventsEmit(w.ctx, eventStartDrag)
	return nil
}

// wailsEvents subscribes to events raised inside the desktop shell, such
// as tray menu clicks.
type wailsEvents struct {
	ctx context.Context
}

func (e wailsEvents) Listen(_ context.Context, event string, handler func(json.RawMessage)) (unlisten ports.Unlisten, err error) {
	defer guard("listen "+event, &err)
	cancel := runtime.EventsOn(e.ctx, event, func(data ...interface{}) {
		var payload any
		if len(data) > 0 {
			payload = data[0]
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return
		}
		if string(raw) == "null" {
			raw = nil
		}
		handler(raw)
	})
	return func() {
		defer func() { _ = recover() }()
		cancel()
	}, nil
}

// wailsSink pushes every rendered frame to the capsule frontend.
type wailsSink struct {
	ctx context.Context
}

func (s wailsSink) ShowView(view capsule.View) {
	defer func() { _ = recover() }()
	runtime.EventsEmit(s.ctx, eventView, view)
}

// wailsShell routes menu actions to the main window.
type wailsShell struct {
	ctx context.Context
}

func (s wailsShell) OpenMainWindow(_ context.Context, route domain.Route) (err error) {
	defer guard("open main window", &err)
	runtime.WindowShow(s.ctx)
	runtime.EventsEmit(s.ctx, eventOpenRoute, string(route))
	return nil
}

func (s wailsShell) Quit(context.Context) (err error) {
	defer guard("quit", &err)
	runtime.Quit(s.ctx)
	return nil
}
