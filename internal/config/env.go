package config

import (
	"fmt"
	"strconv"
	"time"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Environment variables read by Load.
const (
	EnvDBPath       = "GROVE_DB_PATH"
	EnvDatabaseURL  = "GROVE_DATABASE_URL"
	EnvNATSURL      = "GROVE_NATS_URL"
	EnvUserID       = "GROVE_USER_ID"
	EnvPullSchedule = "GROVE_PULL_SCHEDULE"
	EnvDebounce     = "GROVE_DEBOUNCE"
	EnvPushTimeout  = "GROVE_PUSH_TIMEOUT"
	EnvTimezone     = "GROVE_TIMEZONE"
	EnvRulesPath    = "GROVE_RULES"
	EnvMetricsAddr  = "GROVE_METRICS_ADDR"

	EnvDBMinConns        = "GROVE_DB_MIN_CONNS"
	EnvDBMaxConns        = "GROVE_DB_MAX_CONNS"
	EnvDBMaxConnLifetime = "GROVE_DB_MAX_CONN_LIFETIME"
	EnvDBMaxConnIdleTime = "GROVE_DB_MAX_CONN_IDLE_TIME"
)

func applyEnv(cfg *Config, lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}
	e := envReader{lookup: lookup}

	e.string(EnvDBPath, &cfg.DBPath)
	e.string(EnvDatabaseURL, &cfg.DatabaseURL)
	e.string(EnvNATSURL, &cfg.NATSURL)
	e.string(EnvUserID, &cfg.UserID)
	e.string(EnvPullSchedule, &cfg.PullSchedule)
	e.string(EnvTimezone, &cfg.Timezone)
	e.string(EnvRulesPath, &cfg.RulesPath)
	e.string(EnvMetricsAddr, &cfg.MetricsAddr)
	e.duration(EnvDebounce, &cfg.Debounce)
	e.duration(EnvPushTimeout, &cfg.PushTimeout)

	e.int(EnvDBMinConns, &cfg.Pool.MinConns)
	e.int(EnvDBMaxConns, &cfg.Pool.MaxConns)
	e.duration(EnvDBMaxConnLifetime, &cfg.Pool.MaxConnLifetime)
	e.duration(EnvDBMaxConnIdleTime, &cfg.Pool.MaxConnIdleTime)

	return e.err
}

// envReader overrides a field when its variable is set and non-empty. The
// first malformed value is kept as the error.
type envReader struct {
	lookup LookupFunc
	err    error
}

func (e *envReader) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	return v, ok && v != ""
}

func (e *envReader) string(key string, dst *string) {
	if v, ok := e.raw(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	v, ok := e.raw(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.raw(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

func (e *envReader) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}
