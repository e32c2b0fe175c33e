// Package tui runs the capsule in a terminal. It drives the same store,
// presenter and gesture tracker as the desktop window.
package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/toverwu-qaq/opentypeless/internal/capsule"
	"github.com/toverwu-qaq/opentypeless/internal/gesture"
)

// Approximate pixel size of a terminal cell, so the drag threshold keeps
// its meaning for mouse input.
const (
	cellWidth  = 8
	cellHeight = 16
)

// Gestures is the pointer and menu surface of the gesture tracker.
type Gestures interface {
	PointerDown(button gesture.Button, x, y float64)
	PointerMove(ctx context.Context, x, y float64) bool
	Release(button gesture.Button) gesture.Phase
	Click(ctx context.Context) gesture.Action
	ContextMenu()
	CloseMenu()
	MenuVisible() bool
	Select(ctx context.Context, id string) error
}

type Canceler interface {
	Cancel(ctx context.Context) error
}

type viewMsg capsule.View
type noticeMsg string
type actionMsg gesture.Action
type doneMsg struct {
	what string
	err  error
}

type Model struct {
	ctx      context.Context
	frames   <-chan capsule.View
	gestures Gestures
	canceler Canceler
	window   *Window
	items    []gesture.MenuItem
	spinner  spinner.Model

	view          capsule.View
	notice        string
	width, height int
}

func New(ctx context.Context, sink *Sink, gestures Gestures, canceler Canceler, window *Window) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = busyStyle
	return Model{
		ctx:      ctx,
		frames:   sink.frames,
		gestures: gestures,
		canceler: canceler,
		window:   window,
		items:    gesture.MenuItems(),
		spinner:  sp,
		view:     capsule.View{Variant: capsule.VariantIdle},
	}
}

// NewProgram builds the terminal program with mouse motion reporting.
func NewProgram(m Model) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(m.ctx))
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForView(), m.spinner.Tick)
}

func (m Model) waitForView() tea.Cmd {
	frames, ctx := m.frames, m.ctx
	return func() tea.Msg {
		select {
		case view := <-frames:
			return viewMsg(view)
		case <-ctx.Done():
			return nil
		}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case viewMsg:
		m.view = capsule.View(msg)
		return m, m.waitForView()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case noticeMsg:
		m.notice = string(msg)

	case actionMsg:
		if gesture.Action(msg) != gesture.ActionNone {
			m.notice = "click: " + string(msg)
		}

	case doneMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("%s failed: %v", msg.what, msg.err)
		}

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		return m.handleMouse(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "esc", "x":
		if m.gestures.MenuVisible() {
			m.gestures.CloseMenu()
			return m, nil
		}
		return m, m.run("cancel", m.canceler.Cancel)
	case "m":
		m.gestures.ContextMenu()
	case " ", "space", "enter":
		m.gestures.PointerDown(gesture.ButtonPrimary, 0, 0)
		return m, m.pointerUp()
	default:
		if len(key) == 1 && key[0] >= '1' && key[0] <= '9' && m.gestures.MenuVisible() {
			idx := int(key[0] - '1')
			if idx < len(m.items) {
				item := m.items[idx]
				return m, m.run(item.Label, func(ctx context.Context) error {
					return m.gestures.Select(ctx, item.ID)
				})
			}
		}
	}
	return m, nil
}

func (m Model) handleMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	x := float64(msg.X * cellWidth)
	y := float64(msg.Y * cellHeight)

	switch msg.Action {
	case tea.MouseActionPress:
		switch msg.Button {
		case tea.MouseButtonLeft:
			m.gestures.PointerDown(gesture.ButtonPrimary, x, y)
		case tea.MouseButtonRight:
			m.gestures.ContextMenu()
		}
	case tea.MouseActionMotion:
		m.gestures.PointerMove(m.ctx, x, y)
	case tea.MouseActionRelease:
		return m, m.pointerUp()
	}
	return m, nil
}

// pointerUp ends the gesture on the update loop, so a following press
// always starts a new one. Only the click's backend call runs off the loop.
func (m Model) pointerUp() tea.Cmd {
	switch m.gestures.Release(gesture.ButtonPrimary) {
	case gesture.PhaseDrag:
		return func() tea.Msg { return actionMsg(gesture.ActionDragEnd) }
	case gesture.PhaseDown:
		ctx, gestures := m.ctx, m.gestures
		return func() tea.Msg { return actionMsg(gestures.Click(ctx)) }
	default:
		return nil
	}
}

func (m Model) run(what string, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return doneMsg{what: what, err: fn(ctx)}
	}
}
