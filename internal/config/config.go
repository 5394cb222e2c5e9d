package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config holds the full server configuration.
type Config struct {
	Listen  string        `yaml:"listen"`
	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
	Session SessionConfig `yaml:"session"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StorageConfig selects and configures the durable store.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"` // SQLite database path
}

// SessionConfig controls session lifecycle timing.
type SessionConfig struct {
	EvictionGrace   time.Duration `yaml:"evictionGrace"`   // idle session eviction delay
	IdleFlush       time.Duration `yaml:"idleFlush"`       // flush after this long without edits
	HydrateTimeout  time.Duration `yaml:"hydrateTimeout"`  // durable load deadline
	FlushTimeout    time.Duration `yaml:"flushTimeout"`    // durable save deadline
	ConnIdleTimeout time.Duration `yaml:"connIdleTimeout"` // silent connections are dropped after this
}

// UnmarshalYAML parses duration fields from strings like "30s" or "1m".
// Fields absent from the document keep their current values.
func (c *SessionConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		EvictionGrace   string `yaml:"evictionGrace"`
		IdleFlush       string `yaml:"idleFlush"`
		HydrateTimeout  string `yaml:"hydrateTimeout"`
		FlushTimeout    string `yaml:"flushTimeout"`
		ConnIdleTimeout string `yaml:"connIdleTimeout"`
	}

	if err := value.Decode(&raw); err != nil {
		return err
	}

	for _, field := range []struct {
		raw string
		dst *time.Duration
	}{
		{raw.EvictionGrace, &c.EvictionGrace},
		{raw.IdleFlush, &c.IdleFlush},
		{raw.HydrateTimeout, &c.HydrateTimeout},
		{raw.FlushTimeout, &c.FlushTimeout},
		{raw.ConnIdleTimeout, &c.ConnIdleTimeout},
	} {
		if field.raw == "" {
			continue
		}

		d, err := time.ParseDuration(field.raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", field.raw, err)
		}

		*field.dst = d
	}

	return nil
}

// Default returns a configuration with sensible defaults.
func Default() Config {
	return Config{
		Listen: ":8080",
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			Backend: BackendMemory,
		},
		Session: SessionConfig{
			EvictionGrace:   30 * time.Second,
			IdleFlush:       10 * time.Second,
			HydrateTimeout:  5 * time.Second,
			FlushTimeout:    5 * time.Second,
			ConnIdleTimeout: 5 * time.Minute,
		},
	}
}

// Load reads a YAML configuration file and merges it over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("sqlite backend requires storage.path")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Session.EvictionGrace <= 0 {
		return fmt.Errorf("session.evictionGrace must be positive")
	}

	if c.Session.IdleFlush <= 0 {
		return fmt.Errorf("session.idleFlush must be positive")
	}

	if c.Session.ConnIdleTimeout <= 0 {
		return fmt.Errorf("session.connIdleTimeout must be positive")
	}

	return nil
}
