package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/toverwu-qaq/opentypeless/internal/domain"
)

// fakeBackend answers frames with scripted behaviour.
type fakeBackend struct {
	mu        sync.Mutex
	received  []Frame
	listeners map[string]string
	ackDelay  time.Duration
	conn      *websocket.Conn
	writeMu   sync.Mutex
}

func newFakeBackend(t *testing.T) (*fakeBackend, string) {
	t.Helper()
	b := &fakeBackend{listeners: make(map[string]string)}

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()
		b.serve(conn)
	}))
	t.Cleanup(server.Close)

	return b, "ws" + strings.TrimPrefix(server.URL, "http")
}

func (b *fakeBackend) serve(conn *websocket.Conn) {
	defer conn.Close()
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		b.mu.Lock()
		b.received = append(b.received, frame)
		delay := b.ackDelay
		b.mu.Unlock()

		switch frame.Type {
		case FrameInvoke:
			b.answerInvoke(frame)
		case FrameListen:
			b.mu.Lock()
			b.listeners[frame.Event] = frame.ID
			b.mu.Unlock()
			if frame.Event == "forbidden" {
				b.write(Frame{Type: FrameReply, ID: frame.ID, Error: "not allowed"})
				continue
			}
			go func(id string) {
				time.Sleep(delay)
				b.write(Frame{Type: FrameReply, ID: id})
			}(frame.ID)
		}
	}
}

func (b *fakeBackend) answerInvoke(frame Frame) {
	switch frame.Command {
	case domain.CommandGetHistory:
		var query domain.HistoryQuery
		_ = json.Unmarshal(frame.Args, &query)
		entries := []domain.HistoryEntry{{ID: int64(query.Limit), RawText: "raw", PolishedText: "Polished."}}
		raw, _ := json.Marshal(entries)
		b.write(Frame{Type: FrameReply, ID: frame.ID, Result: raw})
	case "explode":
		b.write(Frame{Type: FrameReply, ID: frame.ID, Error: "kaboom"})
	case "hang":
	case "hangup":
		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()
		_ = conn.Close()
	default:
		b.write(Frame{Type: FrameReply, ID: frame.ID, Result: json.RawMessage("null")})
	}
}

func (b *fakeBackend) write(frame Frame) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = conn.WriteJSON(frame)
}

func (b *fakeBackend) push(event string, payload any) {
	raw, _ := json.Marshal(payload)
	b.write(Frame{Type: FrameEvent, Event: event, Payload: raw})
}

func (b *fakeBackend) frames(kind string) []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Frame
	for _, f := range b.received {
		if f.Type == kind {
			out = append(out, f)
		}
	}
	return out
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), Config{URL: url, DialTimeout: time.Second, CallTimeout: 2 * time.Second}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDialRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), Config{}, zerolog.Nop())
	require.Error(t, err)
}

func TestInvokeRoundTrip(t *testing.T) {
	t.Parallel()

	backend, url := newFakeBackend(t)
	c := dial(t, url)

	require.NoError(t, c.Invoke(context.Background(), domain.CommandStartRecording, nil, nil))

	var entries []domain.HistoryEntry
	err := c.Invoke(context.Background(), domain.CommandGetHistory, domain.HistoryQuery{Limit: 200}, &entries)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.EqualValues(t, 200, entries[0].ID)
	require.Equal(t, "Polished.", entries[0].PolishedText)

	invokes := backend.frames(FrameInvoke)
	require.Len(t, invokes, 2)
	require.NotEqual(t, invokes[0].ID, invokes[1].ID)
	require.JSONEq(t, `{"limit":200,"offset":0}`, string(invokes[1].Args))
}

func TestInvokeRemoteError(t *testing.T) {
	t.Parallel()

	_, url := newFakeBackend(t)
	c := dial(t, url)

	err := c.Invoke(context.Background(), "explode", nil, nil)
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	require.Equal(t, "kaboom", remote.Message)
}

func TestInvokeHonoursContext(t *testing.T) {
	t.Parallel()

	_, url := newFakeBackend(t)
	c := dial(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := c.Invoke(ctx, "hang", nil, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListenDeliversEventsInOrder(t *testing.T) {
	t.Parallel()

	backend, url := newFakeBackend(t)
	c := dial(t, url)

	var (
		mu  sync.Mutex
		got []string
	)
	unlisten, err := c.Listen(context.Background(), domain.EventLLMChunk, func(raw json.RawMessage) {
		var chunk string
		_ = json.Unmarshal(raw, &chunk)
		mu.Lock()
		got = append(got, chunk)
		mu.Unlock()
	})
	require.NoError(t, err)

	for _, chunk := range []string{"He", "llo", ", ", "world"} {
		backend.push(domain.EventLLMChunk, chunk)
	}
	backend.push(domain.EventSTTFinal, "ignored")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 4
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	require.Equal(t, []string{"He", "llo", ", ", "world"}, got)
	mu.Unlock()

	unlisten()
	unlisten()
	require.Eventually(t, func() bool {
		return len(backend.frames(FrameUnlisten)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, backend.frames(FrameListen)[0].ID, backend.frames(FrameUnlisten)[0].ID)
}

func TestListenWaitsForAcknowledgement(t *testing.T) {
	t.Parallel()

	backend, url := newFakeBackend(t)
	backend.ackDelay = 80 * time.Millisecond
	c := dial(t, url)

	start := time.Now()
	_, err := c.Listen(context.Background(), domain.EventAudioVolume, func(json.RawMessage) {})
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestListenRejected(t *testing.T) {
	t.Parallel()

	_, url := newFakeBackend(t)
	c := dial(t, url)

	_, err := c.Listen(context.Background(), "forbidden", func(json.RawMessage) {})
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Empty(t, c.subs)
}

func TestCallsFailAfterClose(t *testing.T) {
	t.Parallel()

	_, url := newFakeBackend(t)
	c := dial(t, url)

	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Invoke(context.Background(), domain.CommandStopRecording, nil, nil), ErrClosed)
	_, err := c.Listen(context.Background(), domain.EventSTTPartial, func(json.RawMessage) {})
	require.ErrorIs(t, err, ErrClosed)
}

func TestPendingCallFailsWhenBackendHangsUp(t *testing.T) {
	t.Parallel()

	_, url := newFakeBackend(t)
	c := dial(t, url)

	err := c.Invoke(context.Background(), "hangup", nil, nil)
	require.ErrorIs(t, err, ErrClosed)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected client to shut down")
	}
}
