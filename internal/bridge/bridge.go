// Package bridge subscribes to backend pushes and writes them into the store.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/toverwu-qaq/opentypeless/internal/domain"
	"github.com/toverwu-qaq/opentypeless/internal/ports"
	"github.com/toverwu-qaq/opentypeless/internal/store"
)

var (
	ErrAlreadyActive = errors.New("bridge already activated")
	ErrDeactivated   = errors.New("bridge deactivated")
)

// HistoryRefresher reloads the history list into the store.
type HistoryRefresher interface {
	Refresh(ctx context.Context) error
}

// Bridge owns the subscriptions of one capsule mount.
type Bridge struct {
	source  ports.EventSource
	store   *store.Store
	history HistoryRefresher
	logger  zerolog.Logger

	onNavigate func(domain.Route)

	mu          sync.Mutex
	ctx         context.Context
	activated   bool
	deactivated bool
	unlisteners []ports.Unlisten

	inflight sync.WaitGroup
}

// New returns an inactive bridge. history may be nil.
func New(source ports.EventSource, st *store.Store, history HistoryRefresher, logger zerolog.Logger) *Bridge {
	return &Bridge{
		source:  source,
		store:   st,
		history: history,
		logger:  logger.With().Str("component", "bridge").Logger(),
	}
}

// OnNavigate installs the hook that receives tray and navigate routes.
// It must be called before Activate.
func (b *Bridge) OnNavigate(fn func(domain.Route)) {
	b.mu.Lock()
	b.onNavigate = fn
	b.mu.Unlock()
}

// Activate registers one subscription per known event. Subscriptions are
// established concurrently; a failing one is logged and does not affect
// the others. Activate does not wait for them; use Wait for that.
func (b *Bridge) Activate(ctx context.Context) error {
	b.mu.Lock()
	if b.deactivated {
		b.mu.Unlock()
		return ErrDeactivated
	}
	if b.activated {
		b.mu.Unlock()
		return ErrAlreadyActive
	}
	b.activated = true
	b.ctx = ctx
	b.mu.Unlock()

	for _, name := range EventNames {
		b.inflight.Add(1)
		go b.subscribe(ctx, name)
	}
	return nil
}

func (b *Bridge) subscribe(ctx context.Context, name string) {
	defer b.inflight.Done()

	unlisten, err := b.source.Listen(ctx, name, func(payload json.RawMessage) {
		b.handle(name, payload)
	})
	if err != nil {
		b.logger.Error().Err(err).Str("event", name).Msg("failed to register listener")
		return
	}

	b.mu.Lock()
	if b.deactivated {
		b.mu.Unlock()
		unlisten()
		b.logger.Debug().Str("event", name).Msg("subscription resolved after deactivation")
		return
	}
	b.unlisteners = append(b.unlisteners, unlisten)
	b.mu.Unlock()
}

// Deactivate tears down every established subscription. Subscriptions
// still resolving are torn down as soon as they complete. It is safe to
// call more than once.
func (b *Bridge) Deactivate() {
	b.mu.Lock()
	if b.deactivated {
		b.mu.Unlock()
		return
	}
	b.deactivated = true
	unlisteners := b.unlisteners
	b.unlisteners = nil
	b.mu.Unlock()

	for _, unlisten := range unlisteners {
		unlisten()
	}
}

// Wait blocks until every pending subscription and history refresh finished.
func (b *Bridge) Wait() {
	b.inflight.Wait()
}

// Subscriptions returns the number of live subscriptions.
func (b *Bridge) Subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.unlisteners)
}

func (b *Bridge) handle(name string, payload json.RawMessage) {
	b.mu.Lock()
	closed := b.deactivated
	b.mu.Unlock()
	if closed {
		return
	}

	event, err := Decode(name, payload)
	if err != nil {
		b.logger.Warn().Err(err).Str("event", name).Msg("dropping malformed event")
		return
	}
	b.Dispatch(event)
}

// Dispatch applies one decoded event to the store.
func (b *Bridge) Dispatch(event Event) {
	switch e := event.(type) {
	case AudioVolume:
		b.store.SetAudioVolume(e.Level)
	case PartialTranscript:
		b.store.SetPartialTranscript(e.Text)
	case FinalTranscript:
		b.store.SetFinalTranscript(e.Text)
	case PolishChunk:
		b.store.AppendPolishedChunk(e.Text)
	case PipelineStateChanged:
		b.store.SetPipelineState(e.State)
		if e.State == domain.PipelineIdle {
			b.refreshHistory()
		}
	case TargetApp:
		b.store.SetTargetApp(e.Name)
	case PipelineError:
		b.store.SetPipelineError(e.Message)
	case PipelineTiming:
		b.store.SetLastTiming(e.Timing)
	case Navigate:
		b.mu.Lock()
		fn := b.onNavigate
		b.mu.Unlock()
		if fn != nil {
			fn(e.Route)
		}
	default:
		b.logger.Warn().Str("type", fmt.Sprintf("%T", event)).Msg("unhandled event")
	}
}

func (b *Bridge) refreshHistory() {
	if b.history == nil {
		return
	}

	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		if err := b.history.Refresh(ctx); err != nil {
			b.logger.Error().Err(err).Msg("failed to refresh history")
		}
	}()
}
