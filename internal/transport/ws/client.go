package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/toverwu-qaq/opentypeless/internal/ports"
)

// ErrClosed is returned for calls made on, or pending at, a closed client.
var ErrClosed = errors.New("backend connection closed")

type Config struct {
	URL         string
	DialTimeout time.Duration
	// CallTimeout bounds a call whose context has no deadline.
	CallTimeout time.Duration
}

type subscription struct {
	event   string
	handler func(json.RawMessage)
}

// Client implements ports.Commander and ports.EventSource.
type Client struct {
	conn   *websocket.Conn
	cfg    Config
	logger zerolog.Logger

	out     chan Frame
	closing chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending map[string]chan Frame
	subs    map[string]subscription

	errMu sync.Mutex
	err   error

	shutdownOnce sync.Once
}

// Dial connects to the backend and starts the read and write loops.
func Dial(ctx context.Context, cfg Config, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("backend url is not configured")
	}

	dialer := *websocket.DefaultDialer
	if cfg.DialTimeout > 0 {
		dialer.HandshakeTimeout = cfg.DialTimeout
	}
	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to backend websocket: %w", err)
	}

	c := &Client{
		conn:    conn,
		cfg:     cfg,
		logger:  logger.With().Str("component", "ws").Str("url", cfg.URL).Logger(),
		out:     make(chan Frame, 32),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		pending: make(map[string]chan Frame),
		subs:    make(map[string]subscription),
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	go func() {
		c.wg.Wait()
		_ = conn.Close()
		close(c.done)
	}()

	c.logger.Info().Msg("connected to backend")
	return c, nil
}

// Invoke runs a backend command and decodes its result into result when
// result is non-nil.
func (c *Client) Invoke(ctx context.Context, command string, args any, result any) error {
	frame := Frame{Type: FrameInvoke, Command: command}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("encode %s args: %w", command, err)
		}
		frame.Args = raw
	}

	reply, err := c.call(ctx, frame)
	if err != nil {
		return fmt.Errorf("%s: %w", command, err)
	}
	if reply.Error != "" {
		return &RemoteError{Op: command, Message: reply.Error}
	}
	if result == nil || len(reply.Result) == 0 || string(reply.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(reply.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", command, err)
	}
	return nil
}

// Listen subscribes to a backend event. It returns once the backend has
// acknowledged the subscription. Handlers run on the read loop, so events
// of one connection are delivered in arrival order.
func (c *Client) Listen(ctx context.Context, event string, handler func(json.RawMessage)) (ports.Unlisten, error) {
	id := uuid.NewString()

	c.mu.Lock()
	c.subs[id] = subscription{event: event, handler: handler}
	c.mu.Unlock()

	reply, err := c.call(ctx, Frame{Type: FrameListen, ID: id, Event: event})
	if err == nil && reply.Error != "" {
		err = &RemoteError{Op: "listen " + event, Message: reply.Error}
	}
	if err != nil {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			// The backend does not need to confirm an unlisten.
			if err := c.send(Frame{Type: FrameUnlisten, ID: id, Event: event}); err != nil && !errors.Is(err, ErrClosed) {
				c.logger.Warn().Err(err).Str("event", event).Msg("failed to send unlisten")
			}
		})
	}, nil
}

// Close shuts the connection down and waits for the loops to exit.
func (c *Client) Close() error {
	c.shutdown()
	<-c.done
	return c.waitErr()
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) call(ctx context.Context, frame Frame) (Frame, error) {
	if frame.ID == "" {
		frame.ID = uuid.NewString()
	}
	if _, ok := ctx.Deadline(); !ok && c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}

	replies := make(chan Frame, 1)
	c.mu.Lock()
	c.pending[frame.ID] = replies
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, frame.ID)
		c.mu.Unlock()
	}()

	if err := c.send(frame); err != nil {
		return Frame{}, err
	}

	select {
	case reply := <-replies:
		return reply, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-c.closing:
		return Frame{}, ErrClosed
	}
}

func (c *Client) send(frame Frame) error {
	select {
	case <-c.closing:
		return ErrClosed
	default:
	}
	select {
	case c.out <- frame:
		return nil
	case <-c.closing:
		return ErrClosed
	}
}

func (c *Client) shutdown() {
	c.shutdownOnce.Do(func() {
		close(c.closing)
		_ = c.conn.Close()
	})
}

func (c *Client) waitErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}
	select {
	case <-c.closing:
		// Errors caused by our own shutdown are expected.
		return
	default:
	}

	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Client) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case frame := <-c.out:
			if err := c.conn.WriteJSON(frame); err != nil {
				c.setErr(fmt.Errorf("failed to send %s frame: %w", frame.Type, err))
				c.shutdown()
				return
			}
		case <-c.closing:
			return
		}
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.setErr(fmt.Errorf("failed to read backend frame: %w", err))
			c.shutdown()
			return
		}

		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.logger.Warn().Err(err).Msg("skipping malformed frame")
			continue
		}

		switch frame.Type {
		case FrameReply:
			c.mu.Lock()
			replies, ok := c.pending[frame.ID]
			c.mu.Unlock()
			if !ok {
				c.logger.Debug().Str("id", frame.ID).Msg("reply for unknown call")
				continue
			}
			select {
			case replies <- frame:
			default:
			}
		case FrameEvent:
			c.dispatch(frame)
		default:
			c.logger.Debug().Str("type", frame.Type).Msg("ignoring frame")
		}
	}
}

func (c *Client) dispatch(frame Frame) {
	c.mu.Lock()
	var handlers []func(json.RawMessage)
	for _, sub := range c.subs {
		if sub.event == frame.Event {
			handlers = append(handlers, sub.handler)
		}
	}
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(frame.Payload)
	}
}
