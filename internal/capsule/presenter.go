package capsule

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/toverwu-qaq/opentypeless/internal/domain"
	"github.com/toverwu-qaq/opentypeless/internal/store"
)

const (
	DefaultMaxRecordingSeconds = 30
	DefaultOutputDismiss       = 1200 * time.Millisecond
	DefaultErrorDismiss        = 2500 * time.Millisecond
	DefaultFrame               = 16 * time.Millisecond
)

// Recorder stops an in-progress recording.
type Recorder interface {
	StopRecording(ctx context.Context) error
}

// ViewSink receives every rendered frame.
type ViewSink interface {
	ShowView(view View)
}

type Config struct {
	MaxRecordingSeconds int
	Second              time.Duration
	Frame               time.Duration
	OutputDismiss       time.Duration
	ErrorDismiss        time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRecordingSeconds <= 0 {
		c.MaxRecordingSeconds = DefaultMaxRecordingSeconds
	}
	if c.Second <= 0 {
		c.Second = time.Second
	}
	if c.Frame <= 0 {
		c.Frame = DefaultFrame
	}
	if c.OutputDismiss <= 0 {
		c.OutputDismiss = DefaultOutputDismiss
	}
	if c.ErrorDismiss <= 0 {
		c.ErrorDismiss = DefaultErrorDismiss
	}
	return c
}

type timerKind int

const (
	timerSecond timerKind = iota
	timerDismiss
)

type timerFire struct {
	gen  uint64
	kind timerKind
}

// Presenter renders the capsule and runs the recording counter and the
// auto-dismiss timers. All of its state belongs to the Run goroutine.
type Presenter struct {
	store    *store.Store
	recorder Recorder
	sink     ViewSink
	logger   zerolog.Logger
	cfg      Config

	maxSeconds atomic.Int64
	started    time.Time
	fires      chan timerFire
	done       chan struct{}

	// Owned by Run.
	variant Variant
	gen     uint64
	timers  []*time.Timer
	seconds int
	stopped bool

	stopWG sync.WaitGroup
}

func NewPresenter(st *store.Store, recorder Recorder, sink ViewSink, logger zerolog.Logger, cfg Config) *Presenter {
	cfg = cfg.withDefaults()
	p := &Presenter{
		store:    st,
		recorder: recorder,
		sink:     sink,
		logger:   logger.With().Str("component", "capsule").Logger(),
		cfg:      cfg,
		started:  time.Now(),
		fires:    make(chan timerFire, 8),
		done:     make(chan struct{}),
	}
	p.maxSeconds.Store(int64(cfg.MaxRecordingSeconds))
	return p
}

// SetMaxRecording changes the recording ceiling. It applies from the next tick.
func (p *Presenter) SetMaxRecording(seconds int) {
	if seconds <= 0 {
		seconds = DefaultMaxRecordingSeconds
	}
	p.maxSeconds.Store(int64(seconds))
	p.logger.Info().Int("seconds", seconds).Msg("recording ceiling updated")
}

func (p *Presenter) MaxRecording() int {
	return int(p.maxSeconds.Load())
}

// View renders the current store contents.
func (p *Presenter) View() View {
	snap := p.store.Snapshot()
	return Render(snap, Waveform(snap.AudioVolume, time.Since(p.started)))
}

// Cancel handles the capsule's cancel affordance. A recording is stopped on
// the backend; transcribing and polishing are abandoned locally because the
// backend has no cancel command for them.
func (p *Presenter) Cancel(ctx context.Context) error {
	switch VariantFor(p.store.Snapshot()) {
	case VariantRecording:
		return p.recorder.StopRecording(ctx)
	case VariantTranscribing, VariantPolishing:
		p.store.ResetRecording()
		p.store.SetPipelineState(domain.PipelineIdle)
	}
	return nil
}

// Run drives rendering and timers until ctx is done. It must be called once.
func (p *Presenter) Run(ctx context.Context) error {
	changes, stop := p.store.Watch()
	defer stop()
	defer p.stopTimers()
	defer p.stopWG.Wait()

	var (
		frame  *time.Ticker
		frameC <-chan time.Time
	)
	defer func() {
		if frame != nil {
			frame.Stop()
		}
	}()

	defer close(p.done)

	p.variant = ""
	refresh := func() {
		snap := p.store.Snapshot()
		next := VariantFor(snap)
		if next != p.variant {
			p.enter(ctx, next)
			if next == VariantRecording {
				frame = time.NewTicker(p.cfg.Frame)
				frameC = frame.C
			} else if frame != nil {
				frame.Stop()
				frame = nil
				frameC = nil
			}
		}
		p.sink.ShowView(Render(snap, Waveform(snap.AudioVolume, time.Since(p.started))))
	}
	refresh()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			refresh()
		case <-frameC:
			p.sink.ShowView(p.View())
		case fire := <-p.fires:
			if fire.gen != p.gen {
				continue
			}
			switch fire.kind {
			case timerSecond:
				p.tick(ctx)
			case timerDismiss:
				p.dismiss()
			}
		}
	}
}

// enter switches variant: pending timers from the previous variant are
// stopped and invalidated, then the new variant's timers are armed.
func (p *Presenter) enter(ctx context.Context, next Variant) {
	p.logger.Debug().Str("from", string(p.variant)).Str("to", string(next)).Msg("variant changed")

	p.stopTimers()
	p.gen++
	p.variant = next
	p.seconds = 0
	p.stopped = false

	switch next {
	case VariantRecording:
		p.store.SetRecordingDuration(0)
		p.arm(timerSecond, p.cfg.Second)
	case VariantOutputting:
		p.arm(timerDismiss, p.cfg.OutputDismiss)
	case VariantError:
		p.arm(timerDismiss, p.cfg.ErrorDismiss)
	}
}

func (p *Presenter) arm(kind timerKind, after time.Duration) {
	fire := timerFire{gen: p.gen, kind: kind}
	p.timers = append(p.timers, time.AfterFunc(after, func() {
		select {
		case p.fires <- fire:
		case <-p.done:
		}
	}))
}

func (p *Presenter) stopTimers() {
	for _, t := range p.timers {
		t.Stop()
	}
	p.timers = p.timers[:0]
}

func (p *Presenter) tick(ctx context.Context) {
	p.seconds++
	p.store.SetRecordingDuration(p.seconds)
	// The second timer is the only one armed while recording.
	p.timers = p.timers[:0]
	p.arm(timerSecond, p.cfg.Second)

	limit := p.MaxRecording()
	if p.seconds < limit || p.stopped {
		return
	}
	p.stopped = true
	p.logger.Info().Int("seconds", p.seconds).Msg("recording ceiling reached")

	p.stopWG.Add(1)
	go func() {
		defer p.stopWG.Done()
		if err := p.recorder.StopRecording(ctx); err != nil {
			p.logger.Error().Err(err).Msg("failed to stop recording at ceiling")
		}
	}()
}

// dismiss returns to idle after the success or error acknowledgment.
// A backend push that lands at the same moment simply wins or loses on
// the store; the later write stands.
func (p *Presenter) dismiss() {
	snap := p.store.Snapshot()
	if VariantFor(snap) != p.variant {
		return
	}
	if p.variant == VariantError {
		p.store.ClearPipelineError()
	}
	p.store.ResetRecording()
	p.store.SetPipelineState(domain.PipelineIdle)
}
