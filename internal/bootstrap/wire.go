package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/toverwu-qaq/opentypeless/internal/backend/loopback"
	"github.com/toverwu-qaq/opentypeless/internal/bridge"
	"github.com/toverwu-qaq/opentypeless/internal/capsule"
	"github.com/toverwu-qaq/opentypeless/internal/config"
	"github.com/toverwu-qaq/opentypeless/internal/domain"
	"github.com/toverwu-qaq/opentypeless/internal/geometry"
	"github.com/toverwu-qaq/opentypeless/internal/gesture"
	"github.com/toverwu-qaq/opentypeless/internal/logging"
	"github.com/toverwu-qaq/opentypeless/internal/ports"
	"github.com/toverwu-qaq/opentypeless/internal/store"
	"github.com/toverwu-qaq/opentypeless/internal/transport/ws"
	"github.com/toverwu-qaq/opentypeless/internal/usecase"
)

// Deps are the front-end surfaces the core drives.
type Deps struct {
	Window ports.Window
	Shell  ports.Shell
	Sink   capsule.ViewSink
	// Desktop carries events raised by the desktop shell itself, such as
	// tray menu clicks. It may be nil.
	Desktop ports.EventSource
	Logger  zerolog.Logger
}

// Services is the assembled runtime graph.
type Services struct {
	Config     config.Config
	Store      *store.Store
	Commander  ports.Commander
	Bridge     *bridge.Bridge
	Controller *usecase.RecordingController
	History    *usecase.HistoryRefresher
	Geometry   *geometry.Engine
	Presenter  *capsule.Presenter
	Gestures   *gesture.Tracker
	Settings   *config.Watcher

	shell     ports.Shell
	logger    zerolog.Logger
	closeFn   func() error
	transport <-chan struct{}
}

// Build wires all capsule dependencies for the current runtime.
func Build(ctx context.Context, deps Deps) (*Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if deps.Window == nil || deps.Shell == nil || deps.Sink == nil {
		return nil, errors.New("bootstrap: window, shell and view sink are required")
	}
	logger := deps.Logger.Level(logging.ParseLevel(cfg.Log.Level))

	s := &Services{
		Config: cfg,
		Store:  store.New(),
		shell:  deps.Shell,
		logger: logger,
	}

	var events ports.EventSource
	switch cfg.Backend.Kind {
	case config.BackendWebsocket:
		client, err := ws.Dial(ctx, ws.Config{
			URL:         cfg.Backend.URL,
			DialTimeout: cfg.Backend.DialTimeout,
			CallTimeout: cfg.Backend.CallTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		s.Commander, events, s.closeFn, s.transport = client, client, client.Close, client.Done()
	default:
		polisher, err := loopback.LoadPolisher(cfg.Backend.Loopback.PolishRules)
		if err != nil {
			return nil, err
		}
		backend := loopback.New(loopback.Config{
			Transcript: cfg.Backend.Loopback.Transcript,
			TargetApp:  cfg.Backend.Loopback.TargetApp,
			Polisher:   polisher,
		}, logger)
		s.Commander, events, s.closeFn = backend, backend, backend.Close
	}
	if deps.Desktop != nil {
		events = mergeSources(events, deps.Desktop)
	}

	s.Controller = usecase.NewRecordingController(s.Commander, s.Store)
	s.History = usecase.NewHistoryRefresher(s.Commander, s.Store, cfg.History.Limit)
	s.Bridge = bridge.New(events, s.Store, s.History, logger)
	s.Geometry = geometry.NewEngine(deps.Window, s.Store, logger, geometry.Config{
		BottomMargin: cfg.Capsule.BottomMargin,
	})
	s.Presenter = capsule.NewPresenter(s.Store, s.Controller, deps.Sink, logger, capsule.Config{
		MaxRecordingSeconds: cfg.Capsule.MaxRecordingSeconds,
	})
	s.Gestures = gesture.NewTracker(s.Store, deps.Window, s.Controller, deps.Shell, logger)
	s.Settings = config.NewWatcher(cfg.Capsule.SettingsPath, 250*time.Millisecond, logger, func(settings config.Settings) {
		s.Presenter.SetMaxRecording(settings.MaxRecordingSeconds)
	})

	return s, nil
}

// Run mounts the capsule and blocks until ctx is cancelled.
func (s *Services) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				s.logger.Error().Err(err).Str("worker", name).Msg("worker stopped")
			}
		}()
	}

	start("geometry", s.Geometry.Run)
	start("presenter", s.Presenter.Run)
	start("settings", s.Settings.Run)
	if s.transport != nil {
		start("transport", s.watchTransport)
	}

	s.Bridge.OnNavigate(func(route domain.Route) {
		if err := s.shell.OpenMainWindow(ctx, route); err != nil {
			s.logger.Warn().Err(err).Str("route", string(route)).Msg("navigate failed")
		}
	})
	if err := s.Bridge.Activate(ctx); err != nil {
		cancel()
		wg.Wait()
		return fmt.Errorf("activate bridge: %w", err)
	}

	<-ctx.Done()
	s.Bridge.Deactivate()
	s.Bridge.Wait()
	wg.Wait()
	return nil
}

// Close releases the backend transport.
func (s *Services) Close() error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

func (s *Services) watchTransport(ctx context.Context) error {
	select {
	case <-s.transport:
		return errors.New("backend connection lost")
	case <-ctx.Done():
		return nil
	}
}

type mergedSource []ports.EventSource

// mergeSources subscribes every source to the same event name.
func mergeSources(sources ...ports.EventSource) ports.EventSource {
	return mergedSource(sources)
}

func (m mergedSource) Listen(ctx context.Context, event string, handler func(json.RawMessage)) (ports.Unlisten, error) {
	unlisteners := make([]ports.Unlisten, 0, len(m))
	for _, source := range m {
		unlisten, err := source.Listen(ctx, event, handler)
		if err != nil {
			for _, u := range unlisteners {
				u()
			}
			return nil, err
		}
		unlisteners = append(unlisteners, unlisten)
	}
	return func() {
		for _, u := range unlisteners {
			u()
		}
	}, nil
}
