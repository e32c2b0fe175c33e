package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the settings file whenever the settings subsystem rewrites it.
type Watcher struct {
	path     string
	delay    time.Duration
	logger   zerolog.Logger
	onChange func(Settings)
}

func NewWatcher(path string, delay time.Duration, logger zerolog.Logger, onChange func(Settings)) *Watcher {
	if delay <= 0 {
		delay = 250 * time.Millisecond
	}
	return &Watcher{
		path:     path,
		delay:    delay,
		logger:   logger.With().Str("component", "settings-watcher").Logger(),
		onChange: onChange,
	}
}

// Run watches until ctx is cancelled. The parent directory is watched so
// atomic replace-by-rename writes are observed too.
func (w *Watcher) Run(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %q: %w", dir, err)
	}

	debounced := debounce.New(w.delay)
	// Drop a pending reload so nothing fires once Run has returned.
	defer debounced(func() {})
	target := filepath.Clean(w.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			debounced(func() { w.reload(ctx) })
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("settings watch error")
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	settings, err := ReadSettings(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("reload settings")
		return
	}
	w.logger.Info().Int("max_recording_seconds", settings.MaxRecordingSeconds).Msg("settings reloaded")
	w.onChange(settings)
}
