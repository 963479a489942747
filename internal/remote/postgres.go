package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/grove/internal/event"
)

const createEventsTableSQL = `
CREATE TABLE IF NOT EXISTS grove_events (
  client_id text PRIMARY KEY,
  user_id text NOT NULL,
  kind text NOT NULL,
  client_timestamp text NOT NULL,
  payload jsonb NOT NULL DEFAULT '{}'::jsonb,
  server_timestamp timestamptz NOT NULL DEFAULT clock_timestamp()
)`

const createEventsIndexSQL = `
CREATE INDEX IF NOT EXISTS grove_events_user_server_ts
ON grove_events (user_id, server_timestamp, client_id)`

const insertEventSQL = `
INSERT INTO grove_events (client_id, user_id, kind, client_timestamp, payload)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (client_id) DO NOTHING
RETURNING server_timestamp`

const selectEventSQL = `
SELECT kind, client_id, client_timestamp, payload, server_timestamp
FROM grove_events
WHERE user_id = $1 AND client_id = $2`

const selectAllSQL = `
SELECT kind, client_id, client_timestamp, payload, server_timestamp
FROM grove_events
WHERE user_id = $1
ORDER BY server_timestamp ASC, client_id ASC`

const selectSinceSQL = `
SELECT kind, client_id, client_timestamp, payload, server_timestamp
FROM grove_events
WHERE user_id = $1 AND server_timestamp > $2
ORDER BY server_timestamp ASC, client_id ASC`

// PoolConfig tunes the pgx connection pool. Zero fields use the defaults.
type PoolConfig struct {
	MinConns          int           `yaml:"min_conns"`
	MaxConns          int           `yaml:"max_conns"`
	MaxConnLifetime   time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `yaml:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `yaml:"health_check_period"`
}

const (
	defaultMinConns        = 1
	defaultMaxConns        = 4
	defaultMaxConnLifetime = 30 * time.Minute
	defaultMaxConnIdleTime = 5 * time.Minute
	defaultHealthCheck     = 30 * time.Second
)

// ParsePoolConfig builds a pgxpool config from a database URL and tuning.
func ParsePoolConfig(databaseURL string, pc PoolConfig) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	minConns, maxConns := pc.MinConns, pc.MaxConns
	if minConns <= 0 {
		minConns = defaultMinConns
	}
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	if minConns > maxConns {
		minConns = maxConns
	}
	cfg.MinConns = int32(minConns)
	cfg.MaxConns = int32(maxConns)
	cfg.MaxConnLifetime = orDefault(pc.MaxConnLifetime, defaultMaxConnLifetime)
	cfg.MaxConnIdleTime = orDefault(pc.MaxConnIdleTime, defaultMaxConnIdleTime)
	cfg.HealthCheckPeriod = orDefault(pc.HealthCheckPeriod, defaultHealthCheck)
	return cfg, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// querier is the subset of *pgxpool.Pool the log uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresLog stores events in the grove_events table.
type PostgresLog struct {
	db     querier
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenPostgres connects a pool and ensures the schema exists.
func OpenPostgres(ctx context.Context, databaseURL string, pc PoolConfig, logger *slog.Logger) (*PostgresLog, error) {
	cfg, err := ParsePoolConfig(databaseURL, pc)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	l := NewPostgresLog(pool, logger)
	if err := l.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

// NewPostgresLog wraps an existing pool.
func NewPostgresLog(pool *pgxpool.Pool, logger *slog.Logger) *PostgresLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresLog{db: pool, pool: pool, logger: logger}
}

// Close releases the pool.
func (l *PostgresLog) Close() {
	if l.pool != nil {
		l.pool.Close()
	}
}

// Ping checks connectivity.
func (l *PostgresLog) Ping(ctx context.Context) error {
	if l.pool == nil {
		return errors.New("no pool")
	}
	return l.pool.Ping(ctx)
}

// EnsureSchema creates the table and index if missing.
func (l *PostgresLog) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, createEventsTableSQL); err != nil {
		return fmt.Errorf("create grove_events: %w", err)
	}
	if _, err := l.db.Exec(ctx, createEventsIndexSQL); err != nil {
		return fmt.Errorf("create grove_events index: %w", err)
	}
	return nil
}

// Insert implements Log. On a client id conflict the existing row is
// returned so retries after a lost response are safe.
func (l *PostgresLog) Insert(ctx context.Context, userID string, ev event.Event) (event.Event, error) {
	payload, err := payloadJSON(ev.Payload)
	if err != nil {
		return event.Event{}, err
	}

	var serverTS time.Time
	err = l.db.QueryRow(ctx, insertEventSQL,
		ev.ClientID,
		userID,
		string(ev.Kind),
		ev.ClientTimestamp,
		payload,
	).Scan(&serverTS)
	if err == nil {
		echo := ev
		echo.ServerTimestamp = FormatServerTimestamp(serverTS)
		return echo, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return event.Event{}, fmt.Errorf("insert event: %w", err)
	}

	// Conflict: the event is already stored.
	rows, err := l.db.Query(ctx, selectEventSQL, userID, ev.ClientID)
	if err != nil {
		return event.Event{}, fmt.Errorf("select existing event: %w", err)
	}
	existing, err := l.scan(rows)
	if err != nil {
		return event.Event{}, fmt.Errorf("select existing event: %w", err)
	}
	if len(existing) == 0 {
		return event.Event{}, fmt.Errorf("client id %q belongs to another user", ev.ClientID)
	}
	return existing[0], nil
}

// Since implements Log.
func (l *PostgresLog) Since(ctx context.Context, userID, watermark string) ([]event.Event, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if watermark == "" {
		rows, err = l.db.Query(ctx, selectAllSQL, userID)
	} else {
		var w time.Time
		w, err = time.Parse(time.RFC3339Nano, watermark)
		if err != nil {
			return nil, fmt.Errorf("parse watermark %q: %w", watermark, err)
		}
		rows, err = l.db.Query(ctx, selectSinceSQL, userID, w)
	}
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}
	events, err := l.scan(rows)
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}
	return events, nil
}

// scan reads event rows. Rows whose payload cannot be decoded are logged and
// skipped; one bad record does not fail the pull.
func (l *PostgresLog) scan(rows pgx.Rows) ([]event.Event, error) {
	defer rows.Close()

	out := []event.Event{}
	for rows.Next() {
		var (
			kind, clientID, clientTS string
			payload                  []byte
			serverTS                 time.Time
		)
		if err := rows.Scan(&kind, &clientID, &clientTS, &payload, &serverTS); err != nil {
			return nil, err
		}
		var obj event.Object
		if err := obj.UnmarshalJSON(payload); err != nil {
			l.logger.Warn("dropping undecodable remote event",
				"client_id", clientID,
				"error", err,
			)
			continue
		}
		out = append(out, event.Event{
			Kind:            event.Kind(kind),
			ClientID:        clientID,
			ClientTimestamp: clientTS,
			ServerTimestamp: FormatServerTimestamp(serverTS),
			Payload:         obj,
		})
	}
	return out, rows.Err()
}

func payloadJSON(p event.Object) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	data, err := p.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}
