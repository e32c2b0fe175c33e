package tui

import (
	"context"
	"errors"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/toverwu-qaq/opentypeless/internal/capsule"
	"github.com/toverwu-qaq/opentypeless/internal/domain"
	"github.com/toverwu-qaq/opentypeless/internal/ports"
)

var ErrNotAttached = errors.New("terminal program not attached")

// Sink hands rendered frames to the terminal program. Only the newest
// unread frame is kept.
type Sink struct {
	frames chan capsule.View
}

func NewSink() *Sink {
	return &Sink{frames: make(chan capsule.View, 1)}
}

func (s *Sink) ShowView(view capsule.View) {
	for {
		select {
		case s.frames <- view:
			return
		default:
		}
		select {
		case <-s.frames:
		default:
		}
	}
}

// Window stands in for the native capsule window. It keeps the geometry it
// is given so the footer can show it.
type Window struct {
	mu      sync.Mutex
	size    ports.Size
	pos     ports.Point
	monitor ports.Monitor
	drags   int
}

func NewWindow() *Window {
	return &Window{monitor: ports.Monitor{Size: ports.Size{Width: 1920, Height: 1080}, ScaleFactor: 1}}
}

func (w *Window) SetSize(_ context.Context, size ports.Size) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.size = size
	return nil
}

func (w *Window) SetPosition(_ context.Context, pos ports.Point) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pos = pos
	return nil
}

func (w *Window) OuterPosition(context.Context) (ports.Point, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pos, nil
}

func (w *Window) CurrentMonitor(context.Context) (ports.Monitor, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.monitor, nil
}

func (w *Window) StartDragging(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.drags++
	return nil
}

// Geometry returns the last size and position applied.
func (w *Window) Geometry() (ports.Size, ports.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size, w.pos
}

// Shell reports main-window navigation as a notice line and quits the
// program on exit.
type Shell struct {
	mu      sync.Mutex
	program *tea.Program
}

func (s *Shell) Attach(p *tea.Program) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.program = p
}

func (s *Shell) OpenMainWindow(_ context.Context, route domain.Route) error {
	p, err := s.attached()
	if err != nil {
		return err
	}
	p.Send(noticeMsg("main window: " + string(route)))
	return nil
}

func (s *Shell) Quit(context.Context) error {
	p, err := s.attached()
	if err != nil {
		return err
	}
	p.Quit()
	return nil
}

func (s *Shell) attached() (*tea.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.program == nil {
		return nil, ErrNotAttached
	}
	return s.program, nil
}
