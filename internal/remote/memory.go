package remote

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/grove/internal/event"
)

// MemoryBackend implements Log and Feed in process.
//
// Server timestamps are strictly increasing even when the clock is frozen.
// Failures can be injected per operation.
//
// Thread-safety: all methods are safe for concurrent use. Feed handlers are
// called synchronously from Publish, outside the backend's lock.
type MemoryBackend struct {
	mu     sync.Mutex
	now    func() time.Time
	last   time.Time
	logs   map[string][]event.Event
	index  map[string]map[string]int // user -> client id -> position
	subs   map[string]map[int]func([]byte)
	nextID int

	insertErr    error
	sinceErr     error
	subscribeErr error
	inserts      int
}

// MemoryOption configures a MemoryBackend.
type MemoryOption func(*MemoryBackend)

// WithServerClock sets the source of server timestamps.
func WithServerClock(now func() time.Time) MemoryOption {
	return func(m *MemoryBackend) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	m := &MemoryBackend{
		now:   time.Now,
		logs:  make(map[string][]event.Event),
		index: make(map[string]map[string]int),
		subs:  make(map[string]map[int]func([]byte)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FailInserts makes every Insert return err. nil restores normal behavior.
func (m *MemoryBackend) FailInserts(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertErr = err
}

// FailSince makes every Since return err. nil restores normal behavior.
func (m *MemoryBackend) FailSince(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinceErr = err
}

// FailSubscribe makes every Subscribe return err. nil restores normal behavior.
func (m *MemoryBackend) FailSubscribe(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeErr = err
}

// InsertCalls counts Insert attempts, failed ones included.
func (m *MemoryBackend) InsertCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inserts
}

// Events returns a copy of the user's log in server order.
func (m *MemoryBackend) Events(userID string) []event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]event.Event(nil), m.logs[userID]...)
}

// Insert implements Log.
func (m *MemoryBackend) Insert(ctx context.Context, userID string, ev event.Event) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inserts++
	if m.insertErr != nil {
		return event.Event{}, m.insertErr
	}

	idx := m.index[userID]
	if idx == nil {
		idx = make(map[string]int)
		m.index[userID] = idx
	}
	if pos, ok := idx[ev.ClientID]; ok {
		return m.logs[userID][pos], nil
	}

	ts := m.now().UTC()
	if !ts.After(m.last) {
		ts = m.last.Add(time.Microsecond)
	}
	m.last = ts

	stored := ev
	stored.Payload = ev.Payload.Clone()
	stored.ServerTimestamp = FormatServerTimestamp(ts)
	idx[ev.ClientID] = len(m.logs[userID])
	m.logs[userID] = append(m.logs[userID], stored)
	return stored, nil
}

// Since implements Log.
func (m *MemoryBackend) Since(ctx context.Context, userID, watermark string) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sinceErr != nil {
		return nil, m.sinceErr
	}
	out := []event.Event{}
	for _, ev := range m.logs[userID] {
		if AfterWatermark(ev.ServerTimestamp, watermark) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Publish implements Feed.
func (m *MemoryBackend) Publish(_ context.Context, userID string, ev event.Event) error {
	data, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	m.Deliver(userID, data)
	return nil
}

// Deliver sends raw bytes to the user's subscribers, bypassing encoding.
// Tests use it to inject malformed records.
func (m *MemoryBackend) Deliver(userID string, raw []byte) {
	m.mu.Lock()
	handlers := make([]func([]byte), 0, len(m.subs[userID]))
	for _, h := range m.subs[userID] {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(raw)
	}
}

// Subscribe implements Feed.
func (m *MemoryBackend) Subscribe(_ context.Context, userID string, handler func([]byte)) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}
	if m.subs[userID] == nil {
		m.subs[userID] = make(map[int]func([]byte))
	}
	id := m.nextID
	m.nextID++
	m.subs[userID][id] = handler
	return &memorySubscription{backend: m, userID: userID, id: id}, nil
}

// Subscribers counts live subscriptions for userID.
func (m *MemoryBackend) Subscribers(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[userID])
}

type memorySubscription struct {
	backend *MemoryBackend
	userID  string
	id      int
	once    sync.Once
}

func (s *memorySubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.backend.mu.Lock()
		defer s.backend.mu.Unlock()
		delete(s.backend.subs[s.userID], s.id)
	})
	return nil
}
