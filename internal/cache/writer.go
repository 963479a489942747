package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultQuietPeriod is how long the Writer waits after the last Save before
// touching the disk.
const DefaultQuietPeriod = 500 * time.Millisecond

// ErrWriterClosed is returned by Save after Close.
var ErrWriterClosed = errors.New("cache writer closed")

// Sink receives encoded snapshots. *Store implements it.
type Sink interface {
	WriteSnapshot(ctx context.Context, data []byte) error
}

// Writer debounces snapshot writes.
//
// Save encodes on the caller's goroutine and keeps only the newest bytes.
// A single timer, reset by every Save, writes them once the quiet period
// passes. Flush cancels the timer and writes synchronously.
//
// Thread-safety: all methods are safe for concurrent use. Writes never
// overlap and are applied in Save order.
type Writer struct {
	sink    Sink
	quiet   time.Duration
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	pending []byte
	timer   *time.Timer
	closed  bool

	// writeMu serializes take-and-write so an older payload never lands
	// after a newer one.
	writeMu sync.Mutex
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithQuietPeriod overrides DefaultQuietPeriod.
func WithQuietPeriod(d time.Duration) WriterOption {
	return func(w *Writer) {
		if d > 0 {
			w.quiet = d
		}
	}
}

// WithWriteTimeout bounds each background write. Default 5s.
func WithWriteTimeout(d time.Duration) WriterOption {
	return func(w *Writer) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithWriterLogger sets the logger for background write failures.
func WithWriterLogger(l *slog.Logger) WriterOption {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWriter creates a Writer in front of sink.
func NewWriter(sink Sink, opts ...WriterOption) *Writer {
	w := &Writer{
		sink:    sink,
		quiet:   DefaultQuietPeriod,
		timeout: 5 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Save encodes snap and schedules it for writing.
func (w *Writer) Save(snap *Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return err
	}
	return w.SaveBytes(data)
}

// SaveBytes schedules already-encoded bytes for writing, replacing any
// pending payload.
func (w *Writer) SaveBytes(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	w.pending = data
	if w.timer == nil {
		w.timer = time.AfterFunc(w.quiet, w.fire)
	} else {
		w.timer.Reset(w.quiet)
	}
	return nil
}

// Pending reports whether bytes are waiting to be written.
func (w *Writer) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending != nil
}

func (w *Writer) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if err := w.write(ctx); err != nil {
		w.logger.Warn("debounced cache write failed", "error", err)
	}
}

// take removes and returns the pending payload and stops the timer.
func (w *Writer) take() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	data := w.pending
	w.pending = nil
	return data
}

// write takes the pending payload and writes it. On failure the bytes go back
// to pending unless a newer Save already replaced them.
func (w *Writer) write(ctx context.Context) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	data := w.take()
	if data == nil {
		return nil
	}
	if err := w.sink.WriteSnapshot(ctx, data); err != nil {
		w.mu.Lock()
		if w.pending == nil {
			w.pending = data
		}
		w.mu.Unlock()
		return err
	}
	return nil
}

// Flush writes any pending bytes now.
func (w *Writer) Flush(ctx context.Context) error {
	return w.write(ctx)
}

// Close flushes and rejects further saves.
func (w *Writer) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	return w.Flush(ctx)
}
