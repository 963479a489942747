package syncer

import "sync"

// mutation is one unit of work for the owner goroutine.
type mutation struct {
	name  string
	apply func()
	done  chan struct{}
}

// mutationQueue is a thread-safe FIFO of mutations.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type mutationQueue struct {
	mu     sync.Mutex
	items  []mutation
	closed bool
	signal chan struct{} // buffered, size 1
}

func newMutationQueue() *mutationQueue {
	return &mutationQueue{
		items:  make([]mutation, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds m to the back of the queue. Returns false if the queue is
// closed.
func (q *mutationQueue) Enqueue(m mutation) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, m)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front mutation without blocking.
func (q *mutationQueue) TryDequeue() (mutation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return mutation{}, false
	}
	m := q.items[0]
	// Clear the slot so the closure can be collected.
	q.items[0] = mutation{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return m, true
}

// Wait returns a channel that signals when mutations may be available. It
// is closed by Close.
func (q *mutationQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued mutations.
func (q *mutationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drained reports whether the queue is closed and empty.
func (q *mutationQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.items) == 0
}

// Close rejects further mutations and wakes the Run loop.
func (q *mutationQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
