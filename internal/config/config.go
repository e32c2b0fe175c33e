package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	appName          = "opentypeless"
	settingsFileName = "config.json"

	defaultMaxRecordingSeconds = 30
	defaultHistoryLimit        = 200
	defaultBackendURL          = "ws://127.0.0.1:17878/bridge"
	defaultLoopbackTranscript  = "this is a dictation from the loopback backend"
)

// BackendKind selects the native backend transport.
type BackendKind string

const (
	BackendLoopback  BackendKind = "loopback"
	BackendWebsocket BackendKind = "ws"
)

// Config stores runtime configuration for the capsule.
type Config struct {
	Backend BackendConfig
	Capsule CapsuleConfig
	History HistoryConfig
	Log     LogConfig
}

type BackendConfig struct {
	Kind        BackendKind
	URL         string
	DialTimeout time.Duration
	CallTimeout time.Duration
	Loopback    LoopbackConfig
}

// LoopbackConfig scripts the in-process backend.
type LoopbackConfig struct {
	Transcript  string
	TargetApp   string
	PolishRules string
}

type CapsuleConfig struct {
	SettingsPath        string
	MaxRecordingSeconds int
	BottomMargin        int
}

type HistoryConfig struct {
	Limit int
}

type LogConfig struct {
	Level string
}

// Settings is the subset of the settings file the capsule reads.
// The file is owned by the settings subsystem and never written here.
type Settings struct {
	MaxRecordingSeconds int `json:"max_recording_seconds"`
}

// Load resolves configuration from environment variables, the settings
// file and sensible defaults.
func Load() (Config, error) {
	settingsPath := strings.TrimSpace(os.Getenv("OPENTYPELESS_SETTINGS_FILE"))
	if settingsPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return Config{}, errors.New("could not determine config directory")
		}
		settingsPath = filepath.Join(dir, appName, settingsFileName)
	}

	settings, err := ReadSettings(settingsPath)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Backend: BackendConfig{
			Kind:        BackendKind(strings.ToLower(envOrDefault("OPENTYPELESS_BACKEND", string(BackendLoopback)))),
			URL:         envOrDefault("OPENTYPELESS_BACKEND_URL", defaultBackendURL),
			DialTimeout: time.Duration(envOrDefaultInt("OPENTYPELESS_DIAL_TIMEOUT_MS", 3000)) * time.Millisecond,
			CallTimeout: time.Duration(envOrDefaultInt("OPENTYPELESS_CALL_TIMEOUT_MS", 5000)) * time.Millisecond,
			Loopback: LoopbackConfig{
				Transcript:  envOrDefault("OPENTYPELESS_LOOPBACK_TRANSCRIPT", defaultLoopbackTranscript),
				TargetApp:   envOrDefault("OPENTYPELESS_LOOPBACK_TARGET_APP", "Notes"),
				PolishRules: envOrDefault("OPENTYPELESS_POLISH_RULES", filepath.Join(filepath.Dir(settingsPath), "polish.rules")),
			},
		},
		Capsule: CapsuleConfig{
			SettingsPath:        settingsPath,
			MaxRecordingSeconds: envOrDefaultInt("OPENTYPELESS_MAX_RECORDING_SECONDS", settings.MaxRecordingSeconds),
			BottomMargin:        envOrDefaultInt("OPENTYPELESS_CAPSULE_BOTTOM_MARGIN", 80),
		},
		History: HistoryConfig{
			Limit: envOrDefaultInt("OPENTYPELESS_HISTORY_LIMIT", defaultHistoryLimit),
		},
		Log: LogConfig{
			Level: envOrDefault("OPENTYPELESS_LOG_LEVEL", "info"),
		},
	}

	switch cfg.Backend.Kind {
	case BackendLoopback, BackendWebsocket:
	default:
		return Config{}, fmt.Errorf("unknown backend %q (want %q or %q)", cfg.Backend.Kind, BackendLoopback, BackendWebsocket)
	}
	if cfg.Backend.DialTimeout <= 0 {
		cfg.Backend.DialTimeout = 3 * time.Second
	}
	if cfg.Backend.CallTimeout <= 0 {
		cfg.Backend.CallTimeout = 5 * time.Second
	}
	if cfg.Capsule.MaxRecordingSeconds <= 0 {
		cfg.Capsule.MaxRecordingSeconds = settings.MaxRecordingSeconds
	}
	if cfg.Capsule.BottomMargin < 0 {
		cfg.Capsule.BottomMargin = 80
	}
	if cfg.History.Limit <= 0 {
		cfg.History.Limit = defaultHistoryLimit
	}

	return cfg, nil
}

// ReadSettings loads the settings file. A missing file yields defaults.
func ReadSettings(path string) (Settings, error) {
	settings := Settings{MaxRecordingSeconds: defaultMaxRecordingSeconds}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return settings, nil
		}
		return Settings{}, fmt.Errorf("read settings %q: %w", path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return settings, nil
	}

	if err := json.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("parse settings %q: %w", path, err)
	}
	if settings.MaxRecordingSeconds <= 0 {
		settings.MaxRecordingSeconds = defaultMaxRecordingSeconds
	}
	return settings, nil
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
