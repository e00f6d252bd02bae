package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/seqd/internal/sequence"
	"github.com/roach88/seqd/internal/store"
)

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
)

// Config is the root of the config file.
type Config struct {
	// Database is the SQLite file or the Pebble directory.
	Database string `yaml:"database"`

	// Backend selects the chunk store: sqlite or pebble.
	Backend string `yaml:"backend"`

	// LockTimeout bounds the wait for a sequence lock. Zero waits until the
	// caller's context ends.
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// RefillPolicy is discard or deliver.
	RefillPolicy string `yaml:"refill_policy"`

	Retry RetryConfig `yaml:"retry"`
	Log   LogConfig   `yaml:"log"`
}

// RetryConfig controls retries of transient chunk store failures.
type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
}

func retryConfigFrom(c store.RetryConfig) RetryConfig {
	return RetryConfig{Attempts: c.Attempts, Delay: c.Delay, MaxDelay: c.MaxDelay}
}

// StoreConfig returns r as settings for store.NewRetryingChunkStore.
func (r RetryConfig) StoreConfig() store.RetryConfig {
	return store.RetryConfig{Attempts: r.Attempts, Delay: r.Delay, MaxDelay: r.MaxDelay}
}

// LogConfig controls logging. An empty File logs to stderr only.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Database:     "seqd.db",
		Backend:      BackendSQLite,
		RefillPolicy: "discard",
		Retry:        retryConfigFrom(store.DefaultRetryConfig()),
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads path over the defaults. An empty path returns Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := Parse(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping the values of keys data omits, and
// validates the result.
func Parse(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg.Validate()
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Database == "" {
		errs = append(errs, errors.New("database is required"))
	}
	switch c.Backend {
	case BackendSQLite, BackendPebble:
	default:
		errs = append(errs, fmt.Errorf("backend %q must be %s or %s", c.Backend, BackendSQLite, BackendPebble))
	}
	if c.LockTimeout < 0 {
		errs = append(errs, errors.New("lock_timeout must not be negative"))
	}
	if _, err := sequence.ParseRefillPolicy(c.RefillPolicy); err != nil {
		errs = append(errs, err)
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, errors.New("retry.attempts must be at least 1"))
	}
	if c.Retry.Delay < 0 || c.Retry.MaxDelay < 0 {
		errs = append(errs, errors.New("retry delays must not be negative"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be console or json", c.Log.Format))
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		errs = append(errs, errors.New("log rotation limits must not be negative"))
	}
	return errors.Join(errs...)
}
