package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ProjectConfigFile is the project-level config file name.
	ProjectConfigFile = "packforge.yaml"
	// UserConfigDir is the user-level config directory under $HOME.
	UserConfigDir = ".config/packforge"
	// UserConfigFile is the user-level config file name.
	UserConfigFile = "config.yaml"
)

// Loader handles configuration loading with layered precedence.
type Loader struct {
	logger  *slog.Logger
	homeDir func() (string, error)
	getwd   func() (string, error)
	getenv  func(string) string
}

// NewLoader creates a loader bound to the process environment.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger, homeDir: os.UserHomeDir, getwd: os.Getwd, getenv: os.Getenv}
}

// Load resolves configuration with layered precedence:
// 1. Defaults
// 2. User config (~/.config/packforge/config.yaml)
// 3. Project config (packforge.yaml in the current or a parent directory)
// 4. PACKFORGE_* environment overrides
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if path := l.userConfigPath(); path != "" {
		if layer, err := loadLayer(path); err == nil {
			l.logger.Debug("loaded user config", slog.String("path", path))
			cfg.Merge(layer)
		} else if !errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("failed to load user config", slog.String("path", path), slog.String("error", err.Error()))
		}
	}

	if path := l.findProjectConfig(); path != "" {
		layer, err := loadLayer(path)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("loaded project config", slog.String("path", path))
		cfg.Merge(layer)
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads an explicit config file over the defaults, then applies
// environment overrides.
func (l *Loader) LoadFile(path string) (*Config, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureUserConfig writes the default user config if none exists.
func (l *Loader) EnsureUserConfig() error {
	path := l.userConfigPath()
	if path == "" {
		return fmt.Errorf("cannot resolve home directory")
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := DefaultConfig().SaveToFile(path); err != nil {
		return err
	}
	l.logger.Info("created default user config", slog.String("path", path))
	return nil
}

func loadLayer(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	layer := &Config{}
	if err := yaml.Unmarshal(data, layer); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return layer, nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	str := map[string]*string{
		"PACKFORGE_OUTPUT_ROOT":    &cfg.Build.OutputRoot,
		"PACKFORGE_PARITY":         &cfg.Build.Parity,
		"PACKFORGE_OVERLAYS_FILE":  &cfg.Overlays.File,
		"PACKFORGE_STORAGE_DRIVER": &cfg.Storage.Driver,
		"PACKFORGE_SQLITE_PATH":    &cfg.Storage.SQLitePath,
		"PACKFORGE_POSTGRES_DSN":   &cfg.Storage.PostgresDSN,
		"PACKFORGE_BLOB_DRIVER":    &cfg.Blob.Driver,
		"PACKFORGE_BLOB_FS_ROOT":   &cfg.Blob.FSRoot,
		"PACKFORGE_NATS_URL":       &cfg.NATS.URL,
		"PACKFORGE_NATS_SUBJECT":   &cfg.NATS.Subject,
		"PACKFORGE_LISTEN_ADDR":    &cfg.Server.Addr,
		"PACKFORGE_LOG_LEVEL":      &cfg.Log.Level,
		"PACKFORGE_LOG_FILE":       &cfg.Log.File,
	}
	for key, dst := range str {
		if v := l.getenv(key); v != "" {
			*dst = v
		}
	}
	flags := map[string]*bool{
		"PACKFORGE_DETERMINISTIC":  &cfg.Build.Deterministic,
		"PACKFORGE_OVERLAYS_WATCH": &cfg.Overlays.Watch,
		"PACKFORGE_NATS_JETSTREAM": &cfg.NATS.JetStream,
	}
	for key, dst := range flags {
		v := l.getenv(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
	}
	if v := l.getenv("PACKFORGE_LOCK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PACKFORGE_LOCK_TIMEOUT: %w", err)
		}
		cfg.Build.LockTimeout = d
	}
	return nil
}

func (l *Loader) userConfigPath() string {
	home, err := l.homeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for packforge.yaml in the current and parent
// directories.
func (l *Loader) findProjectConfig() string {
	dir, err := l.getwd()
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
