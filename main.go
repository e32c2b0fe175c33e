package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"github.com/toverwu-qaq/opentypeless/internal/bootstrap"
	"github.com/toverwu-qaq/opentypeless/internal/config"
	"github.com/toverwu-qaq/opentypeless/internal/geometry"
	"github.com/toverwu-qaq/opentypeless/internal/logging"
	"github.com/toverwu-qaq/opentypeless/internal/tui"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	terminal := flag.Bool("tui", false, "run the capsule in the terminal instead of a desktop window")
	flag.Parse()

	// A config error is reported again by bootstrap; logging still starts at
	// the default level.
	cfg, _ := config.Load()
	logs, err := logging.New(logging.Options{Level: cfg.Log.Level})
	logger := logs.Logger
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging disabled: %v\n", err)
		logger = logging.Nop()
	}
	defer logs.Close()

	if *terminal {
		err = runTerminal(logger)
	} else {
		err = runDesktop(logger)
	}
	if err != nil {
		logger.Error().Err(err).Msg("exited with error")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDesktop(logger zerolog.Logger) error {
	app := NewApp(logger)
	idle := geometry.WindowSize(geometry.ContentSize(geometry.Key{}))

	return wails.Run(&options.App{
		Title:            "OpenTypeless",
		Width:            idle.Width,
		Height:           idle.Height,
		Frameless:        true,
		AlwaysOnTop:      true,
		DisableResize:    true,
		BackgroundColour: &options.RGBA{R: 0, G: 0, B: 0, A: 0},
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		OnStartup:  app.startup,
		OnShutdown: app.shutdown,
		Bind: []interface{}{
			app,
		},
	})
}

func runTerminal(logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink, window, shell := tui.NewSink(), tui.NewWindow(), &tui.Shell{}
	services, err := bootstrap.Build(ctx, bootstrap.Deps{
		Window: window,
		Shell:  shell,
		Sink:   sink,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer services.Close()

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := services.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("capsule stopped")
		}
	}()

	program := tui.NewProgram(tui.New(ctx, sink, services.Gestures, services.Presenter, window))
	shell.Attach(program)
	_, err = program.Run()

	cancel()
	wg.Wait()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
