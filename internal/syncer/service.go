package syncer

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/grove/internal/cache"
	"github.com/roach88/grove/internal/clock"
	"github.com/roach88/grove/internal/derive"
	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/remote"
)

// CacheVersion identifies the snapshot layout and economy this build
// expects. A stored snapshot with a different version forces the next pull
// to be Full.
const CacheVersion = 1

// DefaultPushTimeout bounds a single remote insert.
const DefaultPushTimeout = 15 * time.Second

var (
	// ErrStopped is returned by calls made after Run has exited.
	ErrStopped = errors.New("sync service stopped")

	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("sync service already running")
)

// Persister receives a snapshot after every change. *cache.Writer
// implements it.
type Persister interface {
	Save(snap *cache.Snapshot) error
	Flush(ctx context.Context) error
}

// Config wires a Service. Only Client is required in practice; a nil Client
// behaves as an unconfigured remote.
type Config struct {
	Client    *remote.Client
	Persister Persister

	// Snapshot is the cache contents loaded at startup, nil for none.
	Snapshot *cache.Snapshot

	Deriver     *derive.Deriver
	Clock       clock.Clock
	IDs         clock.IDGenerator
	Logger      *slog.Logger
	Metrics     *Metrics
	PushTimeout time.Duration
}

// view is an immutable published copy of the owner's state.
type view struct {
	version      uint64 // bumped on every log change
	events       []event.Event
	pending      []string
	watermark    string
	cacheVersion int
}

// Service is the single owner of the local event log.
type Service struct {
	client      *remote.Client
	persister   Persister
	deriver     *derive.Deriver
	clock       clock.Clock
	ids         clock.IDGenerator
	logger      *slog.Logger
	metrics     *Metrics
	pushTimeout time.Duration

	queue   *mutationQueue
	running atomic.Bool
	stopped chan struct{}
	view    atomic.Pointer[view]

	// Serializes insert outcomes applied after Run has returned.
	settleMu sync.Mutex

	// Owned by the Run goroutine.
	events        []event.Event
	keys          map[string]struct{}
	pending       []string
	watermark     string
	storedVersion int
	version       uint64

	stateMu   sync.Mutex
	cached    *derive.State
	cachedVer uint64
	cachedLoc *time.Location
}

// New creates a Service seeded from cfg.Snapshot. Call Run before any other
// method that mutates the log.
func New(cfg Config) *Service {
	s := &Service{
		client:      cfg.Client,
		persister:   cfg.Persister,
		deriver:     cfg.Deriver,
		clock:       cfg.Clock,
		ids:         cfg.IDs,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		pushTimeout: cfg.PushTimeout,
		queue:       newMutationQueue(),
		stopped:     make(chan struct{}),
		keys:        make(map[string]struct{}),
	}
	if s.deriver == nil {
		s.deriver = derive.New()
	}
	if s.clock == nil {
		s.clock = clock.SystemClock{}
	}
	if s.ids == nil {
		s.ids = clock.UUIDv7Generator{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	if s.pushTimeout <= 0 {
		s.pushTimeout = DefaultPushTimeout
	}

	if snap := cfg.Snapshot; snap != nil {
		s.replaceLog(snap.Events)
		for _, id := range snap.PendingUploadIDs {
			if s.indexOf(id) >= 0 && !slices.Contains(s.pending, id) {
				s.pending = append(s.pending, id)
			}
		}
		s.watermark = snap.LastSyncTimestamp
		s.storedVersion = snap.CacheVersion
	}
	s.publish(true)
	return s
}

// Run applies queued mutations until ctx is cancelled or Stop is called.
// It returns nil after Stop once every queued mutation has been applied.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.stopped)

	s.logger.Info("sync service starting",
		"events", len(s.events),
		"pending", len(s.pending),
	)

	for {
		if m, ok := s.queue.TryDequeue(); ok {
			m.apply()
			close(m.done)
			continue
		}

		select {
		case <-ctx.Done():
			s.logger.Info("sync service stopping: context cancelled")
			s.queue.Close()
			return ctx.Err()

		case <-s.queue.Wait():
			// The signal channel is closed by Stop, so this fires
			// immediately once the queue is closed.
			if s.queue.Drained() {
				s.logger.Info("sync service stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue; Run returns after draining it.
func (s *Service) Stop() {
	s.queue.Close()
}

// do runs fn on the owner goroutine and waits for it.
func (s *Service) do(ctx context.Context, name string, fn func()) error {
	m := mutation{name: name, apply: fn, done: make(chan struct{})}
	if !s.queue.Enqueue(m) {
		return ErrStopped
	}
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		select {
		case <-m.done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Events returns a copy of the current log in local order.
func (s *Service) Events() []event.Event {
	return slices.Clone(s.view.Load().events)
}

// Status summarizes the log for display.
type Status struct {
	Events       int    `json:"events"`
	Pending      int    `json:"pending"`
	Watermark    string `json:"watermark,omitempty"`
	CacheVersion int    `json:"cacheVersion"`
}

// Status returns counts from the latest published snapshot.
func (s *Service) Status() Status {
	v := s.view.Load()
	return Status{
		Events:       len(v.events),
		Pending:      len(v.pending),
		Watermark:    v.watermark,
		CacheVersion: v.cacheVersion,
	}
}

// PendingIDs returns client ids awaiting remote confirmation.
func (s *Service) PendingIDs() []string {
	return slices.Clone(s.view.Load().pending)
}

// State returns the derived state for now.
//
// The result is cached and reused while the log is unchanged, now stays in
// the same location and before the cached ValidUntil; a hit is restamped to
// now. Callers must treat the returned State as read-only.
func (s *Service) State(now time.Time) *derive.State {
	v := s.view.Load()

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if c := s.cached; c != nil &&
		s.cachedVer == v.version &&
		s.cachedLoc == now.Location() &&
		!now.Before(c.ComputedAt) &&
		now.Before(c.ValidUntil) {
		s.metrics.StateCache.WithLabelValues("hit").Inc()
		return c.At(now)
	}

	s.metrics.StateCache.WithLabelValues("miss").Inc()
	start := time.Now()
	st := s.deriver.Derive(v.events, now)
	s.metrics.DeriveDuration.Observe(time.Since(start).Seconds())

	s.cached, s.cachedVer, s.cachedLoc = st, v.version, now.Location()
	return st
}

// Current is State(clock.Now()).
func (s *Service) Current() *derive.State {
	return s.State(s.clock.Now())
}

// Import replaces the log wholesale. Nothing imported is marked for upload
// and the pull watermark is reset, so the next incremental pull re-merges
// the whole remote log.
func (s *Service) Import(ctx context.Context, events []event.Event) error {
	return s.do(ctx, "import", func() {
		s.replaceLog(events)
		s.pending = nil
		s.watermark = ""
		s.commit(true)
		s.logger.Info("log imported", "events", len(s.events))
	})
}

// Flush writes the latest snapshot to disk now.
func (s *Service) Flush(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	return s.persister.Flush(ctx)
}

// The methods below run on the owner goroutine only.

// snapshot builds the cache record of the owner state.
func (s *Service) snapshot() *cache.Snapshot {
	return &cache.Snapshot{
		Events:            slices.Clone(s.events),
		PendingUploadIDs:  slices.Clone(s.pending),
		LastSyncTimestamp: s.watermark,
		CacheVersion:      s.storedVersion,
	}
}

// commit publishes the new state and hands a snapshot to the persister.
// logChanged invalidates derived-state caches.
func (s *Service) commit(logChanged bool) {
	s.publish(logChanged)
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(s.snapshot()); err != nil {
		s.logger.Warn("cache save failed", "error", err)
	}
}

func (s *Service) publish(logChanged bool) {
	if logChanged {
		s.version++
	}
	s.view.Store(&view{
		version:      s.version,
		events:       slices.Clone(s.events),
		pending:      slices.Clone(s.pending),
		watermark:    s.watermark,
		cacheVersion: s.storedVersion,
	})
	s.metrics.LogSize.Set(float64(len(s.events)))
}

// appendEvent adds ev unless its dedup key is already present.
func (s *Service) appendEvent(ev event.Event) bool {
	key := ev.DedupKey()
	if _, dup := s.keys[key]; dup {
		return false
	}
	s.keys[key] = struct{}{}
	s.events = append(s.events, ev)
	return true
}

// replaceLog swaps in events, dropping duplicates.
func (s *Service) replaceLog(events []event.Event) {
	s.events = make([]event.Event, 0, len(events))
	s.keys = make(map[string]struct{}, len(events))
	for _, ev := range events {
		s.appendEvent(ev)
	}
}

func (s *Service) indexOf(clientID string) int {
	return slices.IndexFunc(s.events, func(ev event.Event) bool {
		return ev.ClientID == clientID
	})
}

func (s *Service) dropPending(clientID string) bool {
	i := slices.Index(s.pending, clientID)
	if i < 0 {
		return false
	}
	s.pending = slices.Delete(s.pending, i, i+1)
	return true
}
