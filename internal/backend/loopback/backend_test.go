package loopback

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/toverwu-qaq/opentypeless/internal/domain"
)

type emitted struct {
	event   string
	payload json.RawMessage
}

type recorder struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recorder) listenAll(t *testing.T, b *Backend) {
	t.Helper()
	for _, name := range []string{
		domain.EventAudioVolume,
		domain.EventSTTPartial,
		domain.EventSTTFinal,
		domain.EventLLMChunk,
		domain.EventPipelineState,
		domain.EventPipelineTargetApp,
		domain.EventPipelineError,
		domain.EventPipelineTiming,
	} {
		name := name
		_, err := b.Listen(context.Background(), name, func(raw json.RawMessage) {
			r.mu.Lock()
			r.events = append(r.events, emitted{event: name, payload: raw})
			r.mu.Unlock()
		})
		require.NoError(t, err)
	}
}

func (r *recorder) snapshot() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitted(nil), r.events...)
}

// strings returns the decoded string payloads of one event, in order.
func (r *recorder) strings(event string) []string {
	var out []string
	for _, e := range r.snapshot() {
		if e.event != event {
			continue
		}
		var s string
		_ = json.Unmarshal(e.payload, &s)
		out = append(out, s)
	}
	return out
}

func (r *recorder) count(event string) int {
	n := 0
	for _, e := range r.snapshot() {
		if e.event == event {
			n++
		}
	}
	return n
}

// order drops volume samples so the script is comparable.
func (r *recorder) order() []string {
	var out []string
	for _, e := range r.snapshot() {
		if e.event == domain.EventAudioVolume {
			continue
		}
		out = append(out, e.event)
	}
	return out
}

func newBackend(t *testing.T, transcript string) (*Backend, *recorder) {
	t.Helper()
	b := New(Config{
		Transcript:     transcript,
		TargetApp:      "Editor",
		Step:           time.Millisecond,
		VolumeInterval: time.Millisecond,
	}, zerolog.Nop())
	t.Cleanup(func() { _ = b.Close() })

	rec := &recorder{}
	rec.listenAll(t, b)
	return b, rec
}

func dictate(t *testing.T, b *Backend, rec *recorder) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, b.Invoke(ctx, domain.CommandStartRecording, nil, nil))
	require.Eventually(t, func() bool {
		return rec.count(domain.EventAudioVolume) > 0
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, b.Invoke(ctx, domain.CommandStopRecording, nil, nil))
	b.Wait()
}

func TestDictationEmitsFullScript(t *testing.T) {
	t.Parallel()

	b, rec := newBackend(t, "hello  world")
	dictate(t, b, rec)

	require.Equal(t, []string{"recording", "transcribing", "polishing", "outputting", "idle"}, rec.strings(domain.EventPipelineState))
	require.Equal(t, []string{"hello", "hello world"}, rec.strings(domain.EventSTTPartial))
	require.Equal(t, []string{"hello world"}, rec.strings(domain.EventSTTFinal))
	require.Equal(t, "Hello world.", strings.Join(rec.strings(domain.EventLLMChunk), ""))
	require.Equal(t, []string{"Editor"}, rec.strings(domain.EventPipelineTargetApp))
	require.Equal(t, domain.PipelineIdle, b.State())

	require.Equal(t, []string{
		domain.EventPipelineState,
		domain.EventPipelineState,
		domain.EventSTTPartial,
		domain.EventSTTPartial,
		domain.EventSTTFinal,
		domain.EventPipelineState,
		domain.EventPipelineState,
		domain.EventLLMChunk,
		domain.EventLLMChunk,
		domain.EventPipelineTargetApp,
		domain.EventPipelineTiming,
		domain.EventPipelineState,
	}, rec.order())

	var entries []domain.HistoryEntry
	require.NoError(t, b.Invoke(context.Background(), domain.CommandGetHistory, domain.HistoryQuery{Limit: 10}, &entries))
	require.Len(t, entries, 1)
	require.Equal(t, "hello world", entries[0].RawText)
	require.Equal(t, "Hello world.", entries[0].PolishedText)
	require.Equal(t, "Editor", entries[0].AppName)
}

func TestDictationTimingPayload(t *testing.T) {
	t.Parallel()

	b, rec := newBackend(t, "one")
	dictate(t, b, rec)

	var timing domain.PipelineTiming
	for _, e := range rec.snapshot() {
		if e.event == domain.EventPipelineTiming {
			require.NoError(t, json.Unmarshal(e.payload, &timing))
		}
	}
	require.GreaterOrEqual(t, timing.TotalMillis, timing.STTMillis)
	require.GreaterOrEqual(t, timing.TotalMillis, timing.LLMMillis)
}

func TestSilenceReportsNoSpeech(t *testing.T) {
	t.Parallel()

	b, rec := newBackend(t, "   ")
	dictate(t, b, rec)

	require.Equal(t, []string{NoSpeechMessage}, rec.strings(domain.EventPipelineError))
	require.Equal(t, []string{"recording", "transcribing", "idle"}, rec.strings(domain.EventPipelineState))
	require.Zero(t, rec.count(domain.EventSTTFinal))

	var entries []domain.HistoryEntry
	require.NoError(t, b.Invoke(context.Background(), domain.CommandGetHistory, nil, &entries))
	require.Empty(t, entries)
}

func TestStartWhileBusyAndStopWhileIdleAreIgnored(t *testing.T) {
	t.Parallel()

	b, rec := newBackend(t, "hi")
	ctx := context.Background()

	require.NoError(t, b.Invoke(ctx, domain.CommandStopRecording, nil, nil))
	require.Empty(t, rec.snapshot())

	require.NoError(t, b.Invoke(ctx, domain.CommandStartRecording, nil, nil))
	require.NoError(t, b.Invoke(ctx, domain.CommandStartRecording, nil, nil))
	require.Equal(t, []string{"recording"}, rec.strings(domain.EventPipelineState))

	require.NoError(t, b.Invoke(ctx, domain.CommandStopRecording, nil, nil))
	b.Wait()
	require.Equal(t, domain.PipelineIdle, b.State())
}

func TestHistoryPagesNewestFirst(t *testing.T) {
	t.Parallel()

	b, rec := newBackend(t, "again")
	dictate(t, b, rec)
	dictate(t, b, rec)

	ctx := context.Background()
	var page []domain.HistoryEntry
	require.NoError(t, b.Invoke(ctx, domain.CommandGetHistory, domain.HistoryQuery{Limit: 1}, &page))
	require.Len(t, page, 1)
	require.EqualValues(t, 2, page[0].ID)

	require.NoError(t, b.Invoke(ctx, domain.CommandGetHistory, domain.HistoryQuery{Limit: 1, Offset: 1}, &page))
	require.Len(t, page, 1)
	require.EqualValues(t, 1, page[0].ID)

	require.NoError(t, b.Invoke(ctx, domain.CommandGetHistory, domain.HistoryQuery{Limit: 1, Offset: 5}, &page))
	require.Empty(t, page)
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()

	b := New(Config{}, zerolog.Nop())
	err := b.Invoke(context.Background(), "paste_clipboard", nil, nil)
	require.ErrorIs(t, err, ErrUnknownCommand)
}

func TestUnlistenStopsDelivery(t *testing.T) {
	t.Parallel()

	b := New(Config{Transcript: "x", Step: time.Millisecond, VolumeInterval: time.Millisecond}, zerolog.Nop())
	t.Cleanup(func() { _ = b.Close() })

	var mu sync.Mutex
	seen := 0
	unlisten, err := b.Listen(context.Background(), domain.EventPipelineState, func(json.RawMessage) {
		mu.Lock()
		seen++
		mu.Unlock()
	})
	require.NoError(t, err)
	unlisten()
	unlisten()

	require.NoError(t, b.Invoke(context.Background(), domain.CommandStartRecording, nil, nil))
	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, seen)
}

func TestCloseDuringRecording(t *testing.T) {
	t.Parallel()

	b := New(Config{VolumeInterval: time.Millisecond}, zerolog.Nop())
	require.NoError(t, b.Invoke(context.Background(), domain.CommandStartRecording, nil, nil))

	closed := make(chan struct{})
	go func() {
		_ = b.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("close did not return")
	}

	_, err := b.Listen(context.Background(), domain.EventAudioVolume, func(json.RawMessage) {})
	require.Error(t, err)
}
