package geometry

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/toverwu-qaq/opentypeless/internal/ports"
	"github.com/toverwu-qaq/opentypeless/internal/store"
)

// DefaultBottomMargin is the first-mount gap between the window and the
// bottom of the monitor, in logical pixels.
const DefaultBottomMargin = 80

// Native window operations recorded in a Cycle.
const (
	OpSetSize        = "set_size"
	OpSetPosition    = "set_position"
	OpOuterPosition  = "outer_position"
	OpCurrentMonitor = "current_monitor"
)

// Outcome is the result of one best-effort native call.
type Outcome struct {
	Op  string
	Err error
}

func (o Outcome) OK() bool { return o.Err == nil }

// Cycle describes one reconciliation pass.
type Cycle struct {
	Key        Key
	Window     ports.Size
	FirstMount bool
	// Skipped is set when the key matched the previous pass and no native
	// call was made.
	Skipped bool
	// Position is the top-left that was requested, nil when the pass did
	// not reposition.
	Position  *ports.Point
	MenuReady bool
	Outcomes  []Outcome
}

// Failed returns the outcomes that carry an error.
func (c Cycle) Failed() []Outcome {
	var failed []Outcome
	for _, o := range c.Outcomes {
		if !o.OK() {
			failed = append(failed, o)
		}
	}
	return failed
}

type Config struct {
	BottomMargin int
}

// Engine is the only writer of the capsule window's geometry.
type Engine struct {
	window ports.Window
	store  *store.Store
	logger zerolog.Logger
	cfg    Config

	mu       sync.Mutex
	mounted  bool
	hasKey   bool
	lastKey  Key
	prevSize ports.Size
}

func NewEngine(window ports.Window, st *store.Store, logger zerolog.Logger, cfg Config) *Engine {
	if cfg.BottomMargin < 0 {
		cfg.BottomMargin = DefaultBottomMargin
	}
	return &Engine{
		window: window,
		store:  st,
		logger: logger.With().Str("component", "geometry").Logger(),
		cfg:    cfg,
	}
}

// Run reconciles once and then again after every store change until ctx
// is done. Notifications that arrive during a pass coalesce, so each pass
// works from the latest snapshot.
func (e *Engine) Run(ctx context.Context) error {
	changes, stop := e.store.Watch()
	defer stop()

	e.Reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			e.Reconcile(ctx)
		}
	}
}

// Reconcile performs a single pass against the current store snapshot.
func (e *Engine) Reconcile(ctx context.Context) Cycle {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.store.Snapshot()
	key := Key{
		State:    snap.PipelineState,
		Expanded: snap.CapsuleExpanded,
		HasError: snap.HasError,
		MenuOpen: snap.ContextMenuOpen,
	}

	if e.hasKey && key == e.lastKey {
		cycle := Cycle{Key: key, Window: e.prevSize, Skipped: true}
		if snap.ContextMenuOpen && !snap.ContextMenuReady {
			cycle.MenuReady = e.store.MarkContextMenuReady()
		}
		return cycle
	}

	size := WindowSize(ContentSize(key))
	cycle := Cycle{Key: key, Window: size}

	if !e.mounted {
		cycle.FirstMount = true
		e.mount(ctx, &cycle)
		e.mounted = true
	} else {
		e.resize(ctx, &cycle)
	}

	e.hasKey = true
	e.lastKey = key
	e.prevSize = size

	if key.MenuOpen {
		cycle.MenuReady = e.store.MarkContextMenuReady()
	}

	e.logger.Debug().
		Str("state", string(key.State)).
		Bool("expanded", key.Expanded).
		Bool("error", key.HasError).
		Bool("menu", key.MenuOpen).
		Int("width", size.Width).
		Int("height", size.Height).
		Int("failed", len(cycle.Failed())).
		Msg("geometry cycle")
	return cycle
}

func (e *Engine) mount(ctx context.Context, cycle *Cycle) {
	size := cycle.Window
	cycle.Outcomes = append(cycle.Outcomes, e.call(OpSetSize, func() error {
		return e.window.SetSize(ctx, size)
	}))

	var monitor ports.Monitor
	outcome := e.call(OpCurrentMonitor, func() error {
		var err error
		monitor, err = e.window.CurrentMonitor(ctx)
		return err
	})
	cycle.Outcomes = append(cycle.Outcomes, outcome)
	if !outcome.OK() {
		return
	}

	scale := scaleOf(monitor)
	screenW := float64(monitor.Size.Width) / scale
	screenH := float64(monitor.Size.Height) / scale
	pos := ports.Point{
		X: round(screenW/2 - float64(size.Width)/2),
		Y: round(screenH - float64(size.Height) - float64(e.cfg.BottomMargin)),
	}
	cycle.Position = &pos
	cycle.Outcomes = append(cycle.Outcomes, e.call(OpSetPosition, func() error {
		return e.window.SetPosition(ctx, pos)
	}))
}

func (e *Engine) resize(ctx context.Context, cycle *Cycle) {
	size := cycle.Window

	var outer ports.Point
	posOutcome := e.call(OpOuterPosition, func() error {
		var err error
		outer, err = e.window.OuterPosition(ctx)
		return err
	})
	cycle.Outcomes = append(cycle.Outcomes, posOutcome)

	if !posOutcome.OK() {
		cycle.Outcomes = append(cycle.Outcomes, e.call(OpSetSize, func() error {
			return e.window.SetSize(ctx, size)
		}))
		return
	}

	scale := 1.0
	var monitor ports.Monitor
	monOutcome := e.call(OpCurrentMonitor, func() error {
		var err error
		monitor, err = e.window.CurrentMonitor(ctx)
		return err
	})
	cycle.Outcomes = append(cycle.Outcomes, monOutcome)
	if monOutcome.OK() {
		scale = scaleOf(monitor)
	}

	left := float64(outer.X) / scale
	centerY := float64(outer.Y)/scale + float64(e.prevSize.Height)/2
	pos := ports.Point{
		X: round(left),
		Y: round(centerY - float64(size.Height)/2),
	}
	cycle.Position = &pos

	cycle.Outcomes = append(cycle.Outcomes,
		e.call(OpSetSize, func() error { return e.window.SetSize(ctx, size) }),
		e.call(OpSetPosition, func() error { return e.window.SetPosition(ctx, pos) }),
	)
}

// call runs one native operation, turning both errors and panics into a
// logged Outcome.
func (e *Engine) call(op string, fn func() error) (out Outcome) {
	out.Op = op
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("%s panicked: %v", op, r)
		}
		if out.Err != nil {
			e.logger.Warn().Err(out.Err).Str("op", op).Msg("window call failed")
		}
	}()
	out.Err = fn()
	return out
}

func scaleOf(m ports.Monitor) float64 {
	if m.ScaleFactor <= 0 {
		return 1
	}
	return m.ScaleFactor
}

// round matches half-up rounding for screen coordinates.
func round(v float64) int {
	return int(math.Floor(v + 0.5))
}
