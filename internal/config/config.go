// Package config provides configuration loading for packforge.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"packforge/pkg/domain"
)

// Config is the complete packforge configuration.
type Config struct {
	Build    BuildConfig    `yaml:"build"`
	Overlays OverlaysConfig `yaml:"overlays"`
	Storage  StorageConfig  `yaml:"storage"`
	Blob     BlobConfig     `yaml:"blob"`
	NATS     NATSConfig     `yaml:"nats"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// BuildConfig holds build defaults.
type BuildConfig struct {
	// OutputRoot is the directory build directories are committed under.
	OutputRoot string `yaml:"output_root"`
	// Parity is the default parity mode (strict or lenient).
	Parity string `yaml:"parity"`
	// Deterministic pins timestamps and derives build dirs from content.
	Deterministic bool `yaml:"deterministic"`
	// LockTimeout bounds the wait for a busy output root.
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// OverlaysConfig points at the overlay YAML file.
type OverlaysConfig struct {
	File  string `yaml:"file"`
	Watch bool   `yaml:"watch"`
}

// StorageConfig selects the last-build summary store.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// BlobConfig selects the archive store. S3 settings come from the
// PACKFORGE_BLOB_S3_* environment.
type BlobConfig struct {
	// Driver is fs, s3 or memory; empty disables archive publication.
	Driver string `yaml:"driver"`
	FSRoot string `yaml:"fs_root"`
}

// NATSConfig configures build-committed events.
type NATSConfig struct {
	// URL is the NATS server URL; empty disables events.
	URL       string `yaml:"url"`
	Subject   string `yaml:"subject"`
	JetStream bool   `yaml:"jetstream"`
}

// ServerConfig configures `packforge serve`.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MetricsPath string `yaml:"metrics_path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
	// File receives JSON records in addition to stderr when set.
	File string `yaml:"file"`
}

// DefaultConfig returns a Config with defaults.
func DefaultConfig() *Config {
	return &Config{
		Build: BuildConfig{
			OutputRoot:  "packs",
			Parity:      string(domain.ParityStrict),
			LockTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Driver:     "sqlite",
			SQLitePath: "packforge.db",
		},
		NATS: NATSConfig{
			Subject: "packforge.builds.committed",
		},
		Server: ServerConfig{
			Addr:        ":8080",
			MetricsPath: "/metrics",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Build.OutputRoot == "" {
		return fmt.Errorf("build.output_root is required")
	}
	if _, err := domain.ParseParityMode(c.Build.Parity); err != nil {
		return fmt.Errorf("build.parity: %w", err)
	}
	if c.Build.LockTimeout < 0 {
		return fmt.Errorf("build.lock_timeout must not be negative")
	}
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver %q must be memory, sqlite or postgres", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
	}
	switch c.Blob.Driver {
	case "", "fs", "s3", "memory":
	default:
		return fmt.Errorf("blob.driver %q must be fs, s3 or memory", c.Blob.Driver)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level)
	}
	if c.Overlays.Watch && c.Overlays.File == "" {
		return fmt.Errorf("overlays.watch requires overlays.file")
	}
	return nil
}

// ParityMode returns the validated default parity mode.
func (c *Config) ParityMode() domain.ParityMode {
	mode, _ := domain.ParseParityMode(c.Build.Parity)
	return mode
}

// LoadFromFile loads configuration from a YAML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration as YAML.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Merge overlays non-zero values from other onto c.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if other.Build.OutputRoot != "" {
		c.Build.OutputRoot = other.Build.OutputRoot
	}
	if other.Build.Parity != "" {
		c.Build.Parity = other.Build.Parity
	}
	if other.Build.Deterministic {
		c.Build.Deterministic = true
	}
	if other.Build.LockTimeout != 0 {
		c.Build.LockTimeout = other.Build.LockTimeout
	}

	if other.Overlays.File != "" {
		c.Overlays.File = other.Overlays.File
	}
	if other.Overlays.Watch {
		c.Overlays.Watch = true
	}

	if other.Storage.Driver != "" {
		c.Storage.Driver = other.Storage.Driver
	}
	if other.Storage.SQLitePath != "" {
		c.Storage.SQLitePath = other.Storage.SQLitePath
	}
	if other.Storage.PostgresDSN != "" {
		c.Storage.PostgresDSN = other.Storage.PostgresDSN
	}

	if other.Blob.Driver != "" {
		c.Blob.Driver = other.Blob.Driver
	}
	if other.Blob.FSRoot != "" {
		c.Blob.FSRoot = other.Blob.FSRoot
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.Subject != "" {
		c.NATS.Subject = other.NATS.Subject
	}
	if other.NATS.JetStream {
		c.NATS.JetStream = true
	}

	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.MetricsPath != "" {
		c.Server.MetricsPath = other.Server.MetricsPath
	}

	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.File != "" {
		c.Log.File = other.Log.File
	}
}
