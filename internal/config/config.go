package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/grove/internal/cache"
	"github.com/roach88/grove/internal/remote"
	"github.com/roach88/grove/internal/syncer"
)

// Config is the full runtime configuration.
type Config struct {
	// DBPath is the SQLite cache file.
	DBPath string `yaml:"db_path"`

	// DatabaseURL and NATSURL locate the remote log and realtime feed.
	// Either may be empty; without DatabaseURL the remote is unconfigured.
	DatabaseURL string            `yaml:"database_url"`
	NATSURL     string            `yaml:"nats_url"`
	Pool        remote.PoolConfig `yaml:"pool"`

	// UserID is the signed-in user. Empty means signed out.
	UserID string `yaml:"user_id"`

	PullSchedule string        `yaml:"pull_schedule"`
	Debounce     time.Duration `yaml:"debounce"`
	PushTimeout  time.Duration `yaml:"push_timeout"`

	// Timezone is the IANA zone that defines the service day. Empty uses
	// the system zone.
	Timezone string `yaml:"timezone"`

	// RulesPath is an optional CUE file overriding the economy.
	RulesPath string `yaml:"rules_path"`

	// MetricsAddr serves /metrics during watch when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DBPath:       "grove.db",
		PullSchedule: syncer.DefaultPullSchedule,
		Debounce:     cache.DefaultQuietPeriod,
		PushTimeout:  syncer.DefaultPushTimeout,
	}
}

// Load reads the YAML file at path (skipped when path is empty) over the
// defaults, then applies environment overrides.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup LookupFunc) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("debounce must be positive, got %s", c.Debounce))
	}
	if c.PushTimeout <= 0 {
		errs = append(errs, fmt.Errorf("push_timeout must be positive, got %s", c.PushTimeout))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}

// Session is the remote session implied by UserID.
func (c Config) Session() remote.Session {
	return remote.Session{UserID: c.UserID}
}
