package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/toverwu-qaq/opentypeless/internal/bootstrap"
	"github.com/toverwu-qaq/opentypeless/internal/capsule"
	"github.com/toverwu-qaq/opentypeless/internal/config"
	"github.com/toverwu-qaq/opentypeless/internal/gesture"
)

// ErrNotReady is returned by bound methods before the capsule has started.
var ErrNotReady = errors.New("application is not initialized")

// App is the Wails application root.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	services *bootstrap.Services
	bootErr  error
	running  sync.WaitGroup
}

func NewApp(logger zerolog.Logger) *App {
	return &App{logger: logger}
}

func (a *App) startup(ctx context.Context) {
	a.ctx, a.cancel = context.WithCancel(ctx)

	services, err := bootstrap.Build(a.ctx, bootstrap.Deps{
		Window:  wailsWindow{ctx: ctx},
		Shell:   wailsShell{ctx: ctx},
		Sink:    wailsSink{ctx: ctx},
		Desktop: wailsEvents{ctx: ctx},
		Logger:  a.logger,
	})
	if err != nil {
		a.bootErr = err
		a.logger.Error().Err(err).Msg("startup failed")
		a.emitBootError(err)
		return
	}
	a.services = services

	a.running.Add(1)
	go func() {
		defer a.running.Done()
		if err := services.Run(a.ctx); err != nil {
			a.logger.Error().Err(err).Msg("capsule stopped")
		}
	}()
	a.logger.Info().Str("backend", string(services.Config.Backend.Kind)).Msg("capsule started")
}

func (a *App) shutdown(context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	a.running.Wait()
	if a.services != nil {
		if err := a.services.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("backend close")
		}
	}
}

// PointerDown starts a capsule gesture. button uses DOM numbering.
func (a *App) PointerDown(button int, x, y float64) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.services.Gestures.PointerDown(gesture.Button(button), x, y)
	return nil
}

// PointerMove reports whether the gesture has become a drag.
func (a *App) PointerMove(x, y float64) bool {
	if a.requireReady() != nil {
		return false
	}
	return a.services.Gestures.PointerMove(a.ctx, x, y)
}

// PointerUp ends the gesture and returns what it resolved to.
func (a *App) PointerUp(button int) (string, error) {
	if err := a.requireReady(); err != nil {
		return string(gesture.ActionNone), err
	}
	return string(a.services.Gestures.PointerUp(a.ctx, gesture.Button(button))), nil
}

// ContextMenu requests the capsule menu.
func (a *App) ContextMenu() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.services.Gestures.ContextMenu()
	return nil
}

func (a *App) CloseMenu() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.services.Gestures.CloseMenu()
	return nil
}

func (a *App) MenuItems() []gesture.MenuItem {
	return gesture.MenuItems()
}

func (a *App) SelectMenuItem(id string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.services.Gestures.Select(a.ctx, id)
}

// Cancel handles the capsule's cancel button.
func (a *App) Cancel() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.services.Presenter.Cancel(a.ctx)
}

// View returns the current frame, for the frontend's first paint.
func (a *App) View() capsule.View {
	if a.services == nil {
		view := capsule.View{Variant: capsule.VariantIdle}
		if a.bootErr != nil {
			view.Variant = capsule.VariantError
			view.Text = a.bootErr.Error()
		}
		return view
	}
	return a.services.Presenter.View()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if a.services == nil {
		return map[string]string{}
	}

	cfg := a.services.Config
	info := map[string]string{
		"backend":             string(cfg.Backend.Kind),
		"settingsFile":        cfg.Capsule.SettingsPath,
		"maxRecordingSeconds": fmt.Sprint(a.services.Presenter.MaxRecording()),
		"historyLimit":        fmt.Sprint(cfg.History.Limit),
	}
	if cfg.Backend.Kind == config.BackendWebsocket {
		info["backendURL"] = cfg.Backend.URL
	}
	return info
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services == nil {
		return ErrNotReady
	}
	return nil
}

func (a *App) emitBootError(err error) {
	if a.ctx == nil {
		return
	}
	defer func() { _ = recover() }()
	runtime.EventsEmit(a.ctx, eventBootError, map[string]string{"message": err.Error()})
}
