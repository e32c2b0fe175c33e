package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/toverwu-qaq/opentypeless/internal/bridge"
	"github.com/toverwu-qaq/opentypeless/internal/capsule"
	"github.com/toverwu-qaq/opentypeless/internal/domain"
	"github.com/toverwu-qaq/opentypeless/internal/gesture"
	"github.com/toverwu-qaq/opentypeless/internal/ports"
)

type fakeWindow struct {
	mu    sync.Mutex
	sizes []ports.Size
	pos   ports.Point
}

func (w *fakeWindow) SetSize(_ context.Context, size ports.Size) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sizes = append(w.sizes, size)
	return nil
}

func (w *fakeWindow) SetPosition(_ context.Context, pos ports.Point) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pos = pos
	return nil
}

func (w *fakeWindow) OuterPosition(context.Context) (ports.Point, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pos, nil
}

func (w *fakeWindow) CurrentMonitor(context.Context) (ports.Monitor, error) {
	return ports.Monitor{Size: ports.Size{Width: 1920, Height: 1080}, ScaleFactor: 1}, nil
}

func (w *fakeWindow) StartDragging(context.Context) error { return nil }

func (w *fakeWindow) sizeCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sizes)
}

type fakeShell struct {
	mu     sync.Mutex
	routes []domain.Route
}

func (s *fakeShell) OpenMainWindow(_ context.Context, route domain.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = append(s.routes, route)
	return nil
}

func (s *fakeShell) Quit(context.Context) error { return nil }

func (s *fakeShell) snapshot() []domain.Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Route(nil), s.routes...)
}

type fakeSink struct {
	mu    sync.Mutex
	views []capsule.View
}

func (s *fakeSink) ShowView(view capsule.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views = append(s.views, view)
}

func (s *fakeSink) saw(variant capsule.Variant) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.views {
		if v.Variant == variant {
			return true
		}
	}
	return false
}

// fakeDesktop lets a test push tray events.
type fakeDesktop struct {
	mu       sync.Mutex
	handlers map[string]func(json.RawMessage)
}

func (d *fakeDesktop) Listen(_ context.Context, event string, handler func(json.RawMessage)) (ports.Unlisten, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handlers == nil {
		d.handlers = make(map[string]func(json.RawMessage))
	}
	d.handlers[event] = handler
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.handlers, event)
	}, nil
}

func (d *fakeDesktop) emit(event string, payload json.RawMessage) bool {
	d.mu.Lock()
	handler := d.handlers[event]
	d.mu.Unlock()
	if handler == nil {
		return false
	}
	handler(payload)
	return true
}

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("OPENTYPELESS_SETTINGS_FILE", filepath.Join(home, "settings", "config.json"))
	t.Setenv("OPENTYPELESS_BACKEND", "")
	t.Setenv("OPENTYPELESS_POLISH_RULES", "")
	t.Setenv("OPENTYPELESS_LOOPBACK_TRANSCRIPT", "")
	t.Setenv("OPENTYPELESS_LOOPBACK_TARGET_APP", "")
	t.Setenv("OPENTYPELESS_MAX_RECORDING_SECONDS", "")
	t.Setenv("OPENTYPELESS_LOG_LEVEL", "")
	return home
}

func deps(desktop ports.EventSource) (Deps, *fakeWindow, *fakeShell, *fakeSink) {
	window, shell, sink := &fakeWindow{}, &fakeShell{}, &fakeSink{}
	return Deps{Window: window, Shell: shell, Sink: sink, Desktop: desktop, Logger: zerolog.Nop()}, window, shell, sink
}

func click(t *testing.T, s *Services) gesture.Action {
	t.Helper()
	s.Gestures.PointerDown(gesture.ButtonPrimary, 10, 10)
	return s.Gestures.PointerUp(context.Background(), gesture.ButtonPrimary)
}

func TestBuildAndDictateThroughLoopback(t *testing.T) {
	isolate(t)
	t.Setenv("OPENTYPELESS_LOOPBACK_TRANSCRIPT", "hello world")

	desktop := &fakeDesktop{}
	d, window, shell, sink := deps(desktop)
	services, err := Build(context.Background(), d)
	require.NoError(t, err)
	t.Cleanup(func() { _ = services.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- services.Run(ctx) }()

	require.Eventually(t, func() bool {
		return services.Bridge.Subscriptions() == len(bridge.EventNames)
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return window.sizeCount() > 0 }, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, gesture.ActionStart, click(t, services))
	require.Eventually(t, func() bool { return sink.saw(capsule.VariantRecording) }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, gesture.ActionStop, click(t, services))

	require.Eventually(t, func() bool {
		snap := services.Store.Snapshot()
		return snap.PipelineState == domain.PipelineIdle && len(snap.History) == 1
	}, 5*time.Second, 10*time.Millisecond)
	snap := services.Store.Snapshot()
	require.Equal(t, "Hello world.", snap.History[0].PolishedText)
	require.Equal(t, "Notes", snap.TargetApp)
	require.True(t, sink.saw(capsule.VariantOutputting))

	require.Eventually(t, func() bool {
		return desktop.emit(domain.EventTraySettings, nil)
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		routes := shell.snapshot()
		return len(routes) == 1 && routes[0] == domain.RouteSettings
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not return")
	}
	require.Zero(t, services.Bridge.Subscriptions())
}

func TestSettingsReloadUpdatesCeiling(t *testing.T) {
	home := isolate(t)
	settings := filepath.Join(home, "settings", "config.json")

	d, _, _, _ := deps(nil)
	services, err := Build(context.Background(), d)
	require.NoError(t, err)
	t.Cleanup(func() { _ = services.Close() })
	require.Equal(t, 30, services.Presenter.MaxRecording())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = services.Run(ctx) }()

	// The watcher creates the settings directory once it is running.
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Dir(settings))
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(settings, []byte(`{"max_recording_seconds": 12}`), 0o600))

	require.Eventually(t, func() bool {
		return services.Presenter.MaxRecording() == 12
	}, 3*time.Second, 10*time.Millisecond)
}

func TestBuildAppliesConfiguredLogLevel(t *testing.T) {
	isolate(t)
	t.Setenv("OPENTYPELESS_LOG_LEVEL", "warn")

	d, _, _, _ := deps(nil)
	d.Logger = zerolog.New(io.Discard).Level(zerolog.DebugLevel)
	services, err := Build(context.Background(), d)
	require.NoError(t, err)
	t.Cleanup(func() { _ = services.Close() })

	require.Equal(t, zerolog.WarnLevel, services.logger.GetLevel())
}

func TestBuildFailsOnInvalidPolishRules(t *testing.T) {
	home := isolate(t)
	rules := filepath.Join(home, "bad.rules")
	require.NoError(t, os.WriteFile(rules, []byte("not a valid rule\n"), 0o600))
	t.Setenv("OPENTYPELESS_POLISH_RULES", rules)

	d, _, _, _ := deps(nil)
	_, err := Build(context.Background(), d)
	require.Error(t, err)
}

func TestBuildFailsWhenBackendUnreachable(t *testing.T) {
	isolate(t)
	t.Setenv("OPENTYPELESS_BACKEND", "ws")
	t.Setenv("OPENTYPELESS_BACKEND_URL", "ws://127.0.0.1:1/bridge")
	t.Setenv("OPENTYPELESS_DIAL_TIMEOUT_MS", "200")

	d, _, _, _ := deps(nil)
	_, err := Build(context.Background(), d)
	require.Error(t, err)
}

func TestBuildRequiresFrontEnd(t *testing.T) {
	isolate(t)

	_, err := Build(context.Background(), Deps{Logger: zerolog.Nop()})
	require.Error(t, err)
}

type failingSource struct{ err error }

func (f failingSource) Listen(context.Context, string, func(json.RawMessage)) (ports.Unlisten, error) {
	return nil, f.err
}

func TestMergedSourceRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	ok := &fakeDesktop{}
	merged := mergeSources(ok, failingSource{err: errors.New("no tray")})

	_, err := merged.Listen(context.Background(), domain.EventTrayAbout, func(json.RawMessage) {})
	require.Error(t, err)
	require.False(t, ok.emit(domain.EventTrayAbout, nil))
}
