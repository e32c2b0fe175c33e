// Package loopback is an in-process stand-in for the native dictation
// backend. It speaks the same commands and events as the real daemon and
// replays a scripted dictation, so the capsule can run offline.
package loopback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/toverwu-qaq/opentypeless/internal/domain"
	"github.com/toverwu-qaq/opentypeless/internal/ports"
)

var ErrUnknownCommand = errors.New("unknown command")

// NoSpeechMessage is pushed when a recording produced no transcript.
const NoSpeechMessage = "No speech detected. Please try again."

type Config struct {
	// Transcript is what the simulated recognizer hears. Empty simulates silence.
	Transcript string
	TargetApp  string
	Language   string
	// Step spaces the simulated transcription and polish events.
	Step time.Duration
	// VolumeInterval spaces audio:volume samples while recording.
	VolumeInterval time.Duration
	Polisher       *Polisher
	Now            func() time.Time
}

func (c Config) withDefaults() Config {
	if c.TargetApp == "" {
		c.TargetApp = "Notes"
	}
	if c.Language == "" {
		c.Language = "en"
	}
	if c.Step <= 0 {
		c.Step = 80 * time.Millisecond
	}
	if c.VolumeInterval <= 0 {
		c.VolumeInterval = 50 * time.Millisecond
	}
	if c.Polisher == nil {
		c.Polisher = &Polisher{passLimit: defaultPassLimit}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type listener struct {
	event   string
	handler func(json.RawMessage)
}

// Backend implements ports.Commander and ports.EventSource.
type Backend struct {
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex
	state     domain.PipelineState
	listeners map[int]listener
	nextSub   int
	history   []domain.HistoryEntry
	nextEntry int64
	recording *recording
	closed    bool

	emitMu sync.Mutex
	wg     sync.WaitGroup
}

type recording struct {
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(cfg Config, logger zerolog.Logger) *Backend {
	return &Backend{
		cfg:       cfg.withDefaults(),
		logger:    logger.With().Str("component", "loopback").Logger(),
		state:     domain.PipelineIdle,
		listeners: make(map[int]listener),
		nextEntry: 1,
	}
}

// Listen registers handler for event. It never blocks.
func (b *Backend) Listen(_ context.Context, event string, handler func(json.RawMessage)) (ports.Unlisten, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("loopback backend closed")
	}

	id := b.nextSub
	b.nextSub++
	b.listeners[id] = listener{event: event, handler: handler}

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}, nil
}

// Invoke runs one backend command.
func (b *Backend) Invoke(ctx context.Context, command string, args any, result any) error {
	switch command {
	case domain.CommandStartRecording:
		b.startRecording()
		return nil
	case domain.CommandStopRecording:
		b.stopRecording()
		return nil
	case domain.CommandGetHistory:
		return b.getHistory(args, result)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
}

// State returns the backend's own view of the pipeline.
func (b *Backend) State() domain.PipelineState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Close cancels any running dictation and waits for it to unwind.
func (b *Backend) Close() error {
	b.mu.Lock()
	b.closed = true
	rec := b.recording
	b.recording = nil
	b.mu.Unlock()

	if rec != nil {
		rec.cancel()
		<-rec.done
		b.wg.Done()
	}
	b.wg.Wait()
	return nil
}

// Wait blocks until the running dictation, if any, has returned to idle.
func (b *Backend) Wait() {
	b.wg.Wait()
}

func (b *Backend) startRecording() {
	b.mu.Lock()
	if b.closed || b.state != domain.PipelineIdle {
		state := b.state
		b.mu.Unlock()
		b.logger.Debug().Str("state", string(state)).Msg("start ignored")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recording{started: b.cfg.Now(), cancel: cancel, done: make(chan struct{})}
	b.recording = rec
	b.state = domain.PipelineRecording
	b.wg.Add(1)
	b.mu.Unlock()

	b.emit(domain.EventPipelineState, domain.PipelineRecording)
	go b.sampleVolume(ctx, rec)
}

func (b *Backend) sampleVolume(ctx context.Context, rec *recording) {
	defer close(rec.done)

	ticker := time.NewTicker(b.cfg.VolumeInterval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			level := 0.35 + 0.25*math.Sin(float64(i)/3)
			b.emit(domain.EventAudioVolume, math.Round(level*100)/100)
		}
	}
}

func (b *Backend) stopRecording() {
	b.mu.Lock()
	rec := b.recording
	if b.state != domain.PipelineRecording || rec == nil {
		b.mu.Unlock()
		b.logger.Debug().Msg("stop ignored")
		return
	}
	b.recording = nil
	b.state = domain.PipelineTranscribing
	b.mu.Unlock()

	rec.cancel()
	go func() {
		defer b.wg.Done()
		<-rec.done
		b.process(rec)
	}()
}

// process replays transcription, polish and output for one recording.
func (b *Backend) process(rec *recording) {
	stopStart := b.cfg.Now()
	b.emit(domain.EventPipelineState, domain.PipelineTranscribing)

	words := strings.Fields(b.cfg.Transcript)
	for i := range words {
		b.pause()
		b.emit(domain.EventSTTPartial, strings.Join(words[:i+1], " "))
	}
	raw := strings.Join(words, " ")
	if raw == "" {
		b.emit(domain.EventPipelineError, NoSpeechMessage)
		b.setState(domain.PipelineIdle)
		return
	}
	b.emit(domain.EventSTTFinal, raw)
	sttDone := b.cfg.Now()

	b.setState(domain.PipelinePolishing)
	polished := b.cfg.Polisher.Polish(raw)
	for i, chunk := range chunkWords(polished) {
		b.pause()
		if i == 0 {
			b.setState(domain.PipelineOutputting)
		}
		b.emit(domain.EventLLMChunk, chunk)
	}
	llmDone := b.cfg.Now()
	b.emit(domain.EventPipelineTargetApp, b.cfg.TargetApp)

	b.emit(domain.EventPipelineTiming, domain.PipelineTiming{
		STTMillis:       sttDone.Sub(stopStart).Milliseconds(),
		LLMMillis:       llmDone.Sub(sttDone).Milliseconds(),
		TotalMillis:     b.cfg.Now().Sub(stopStart).Milliseconds(),
		RecordingMillis: stopStart.Sub(rec.started).Milliseconds(),
	})

	b.mu.Lock()
	b.history = append(b.history, domain.HistoryEntry{
		ID:           b.nextEntry,
		CreatedAt:    b.cfg.Now().Format("2006-01-02T15:04:05"),
		AppName:      b.cfg.TargetApp,
		AppType:      "Other",
		RawText:      raw,
		PolishedText: polished,
		Language:     b.cfg.Language,
		DurationMS:   stopStart.Sub(rec.started).Milliseconds(),
	})
	b.nextEntry++
	b.mu.Unlock()

	b.setState(domain.PipelineIdle)
}

func (b *Backend) pause() {
	time.Sleep(b.cfg.Step)
}

func (b *Backend) setState(state domain.PipelineState) {
	b.mu.Lock()
	b.state = state
	b.mu.Unlock()
	b.emit(domain.EventPipelineState, state)
}

// getHistory pages newest first.
func (b *Backend) getHistory(args any, result any) error {
	query := domain.HistoryQuery{Limit: 50}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("get_history args: %w", err)
		}
		if err := json.Unmarshal(raw, &query); err != nil {
			return fmt.Errorf("get_history args: %w", err)
		}
	}
	if query.Limit <= 0 {
		query.Limit = 50
	}
	if query.Offset < 0 {
		query.Offset = 0
	}

	b.mu.Lock()
	entries := append([]domain.HistoryEntry(nil), b.history...)
	b.mu.Unlock()

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ID > entries[j].ID })
	page := []domain.HistoryEntry{}
	if query.Offset < len(entries) {
		end := min(query.Offset+query.Limit, len(entries))
		page = entries[query.Offset:end]
	}

	if result == nil {
		return nil
	}
	raw, err := json.Marshal(page)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

// emit delivers one event to every listener. Emission is serialized so
// listeners see events in the order they were produced.
func (b *Backend) emit(event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return
	}

	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	ids := make([]int, 0, len(b.listeners))
	for id, l := range b.listeners {
		if l.event == event {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	handlers := make([]func(json.RawMessage), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.listeners[id].handler)
	}
	b.mu.Unlock()

	for _, handler := range handlers {
		handler(raw)
	}
}

// chunkWords splits text into word-sized chunks that concatenate back to text.
func chunkWords(text string) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	start := 0
	for i := 1; i < len(text); i++ {
		if text[i] == ' ' {
			chunks = append(chunks, text[start:i])
			start = i
		}
	}
	return append(chunks, text[start:])
}
