package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/grove/internal/cache"
	"github.com/roach88/grove/internal/clock"
	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/remote"
)

var jan7 = time.Date(2026, 1, 7, 9, 0, 0, 0, time.UTC)

// memPersister keeps the latest snapshot in memory.
type memPersister struct {
	mu      sync.Mutex
	last    *cache.Snapshot
	saves   int
	flushes int
}

func (p *memPersister) Save(s *cache.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = s
	p.saves++
	return nil
}

func (p *memPersister) Flush(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++
	return nil
}

func (p *memPersister) Last() *cache.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

type device struct {
	svc     *Service
	clock   *clock.FixedClock
	persist *memPersister
	metrics *Metrics
}

type deviceOption func(*Config)

func withSnapshot(s *cache.Snapshot) deviceOption {
	return func(c *Config) { c.Snapshot = s }
}

func withClient(cl *remote.Client) deviceOption {
	return func(c *Config) { c.Client = cl }
}

// startDevice runs a Service against backend as user u1 and stops it at
// test cleanup.
func startDevice(t *testing.T, backend *remote.MemoryBackend, prefix string, opts ...deviceOption) *device {
	t.Helper()

	ids := make([]string, 50)
	for i := range ids {
		ids[i] = prefix + string(rune('a'+i/26)) + string(rune('a'+i%26))
	}
	d := &device{
		clock:   clock.NewFixedClock(jan7),
		persist: &memPersister{},
		metrics: NewMetrics(nil),
	}
	cfg := Config{
		Client:    remote.NewClient(backend, backend, remote.Session{UserID: "u1"}, nil),
		Persister: d.persist,
		Clock:     d.clock,
		IDs:       clock.NewFixedGenerator(ids...),
		Metrics:   d.metrics,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	d.svc = New(cfg)
	runService(t, d.svc)
	return d
}

func runService(t *testing.T, svc *Service) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- svc.Run(context.Background()) }()
	t.Cleanup(func() {
		svc.Stop()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after Stop")
		}
	})
}

func startGoal(t *testing.T, d *device, goalID string, cost float64) event.Event {
	t.Helper()
	ev, err := d.svc.PushEvent(context.Background(), event.KindGoalStarted, event.P(
		"goalId", goalID,
		"categoryId", "health",
		"title", "Run",
		"durationClass", "1m",
		"difficultyClass", "firm",
		"soilCost", cost,
	))
	require.NoError(t, err)
	return ev
}

func logGoal(t *testing.T, d *device, goalID string) event.Event {
	t.Helper()
	ev, err := d.svc.PushEvent(context.Background(), event.KindGoalLogged, event.P("goalId", goalID, "text", "progress"))
	require.NoError(t, err)
	return ev
}

var errOffline = errors.New("network unreachable")
