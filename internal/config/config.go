package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.rosterd/config.toml.
type Config struct {
	DefaultSession string        `toml:"default_session"`
	Engine         EngineConfig  `toml:"engine"`
	Retry          RetryConfig   `toml:"retry"`
	Store          StoreConfig   `toml:"store"`
	Log            LogConfig     `toml:"log"`
	Sources        SourcesConfig `toml:"sources"`
}

// EngineConfig tunes the reconciliation engine.
type EngineConfig struct {
	Debounce     Duration `toml:"debounce"`
	MaxPending   int      `toml:"max_pending"`
	BindingLimit int      `toml:"binding_limit"`
	Generator    string   `toml:"generator"`
}

// RetryConfig controls how failed store batches are retried.
type RetryConfig struct {
	Attempts  int      `toml:"attempts"`
	BaseDelay Duration `toml:"base_delay"`
}

// StoreConfig overrides where the graph database lives.
type StoreConfig struct {
	Path string `toml:"path"`
}

// LogConfig sets the log level and file rotation.
type LogConfig struct {
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// SourcesConfig selects the roster sources the daemon runs.
type SourcesConfig struct {
	// RosterDir overrides the directory watched for YAML roster files.
	RosterDir string `toml:"roster_dir"`
	WhatsApp  bool   `toml:"whatsapp"`
}

// Duration is a time.Duration written as a string such as "1s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		Engine: EngineConfig{
			Debounce:     Duration{time.Second},
			MaxPending:   2000,
			BindingLimit: 32,
			Generator:    "rosterd",
		},
		Retry: RetryConfig{
			Attempts:  3,
			BaseDelay: Duration{200 * time.Millisecond},
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads config from the given path over the defaults. Returns error if
// the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
