package syncer

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/grove/internal/event"
)

// PushEvent records a new event.
//
// The event gets a fresh client id and the current client timestamp and is
// appended to the local log before any network call, so State reflects it
// immediately. The remote insert then runs on the caller's goroutine. If it
// fails, exactly that event is removed again by client id and the error is
// returned; State no longer shows any of its effects.
//
// Configuration and authentication errors are detected before the append and
// leave the log untouched. Cancelling ctx does not cancel an insert already
// in flight; the push still confirms or rolls back.
func (s *Service) PushEvent(ctx context.Context, kind event.Kind, payload event.Object) (event.Event, error) {
	if !kind.Valid() {
		return event.Event{}, fmt.Errorf("push: %w: %q", event.ErrUnknownKind, kind)
	}
	if err := s.client.Ready(); err != nil {
		return event.Event{}, fmt.Errorf("push %s: %w", kind, err)
	}

	ev := event.New(kind, s.ids.Generate(), s.clock.Now(), payload)
	if err := s.do(ctx, "append", func() {
		if s.appendEvent(ev) {
			s.pending = append(s.pending, ev.ClientID)
			s.commit(true)
		}
	}); err != nil {
		return event.Event{}, fmt.Errorf("push %s: %w", kind, err)
	}
	s.logger.Debug("event appended", "client_id", ev.ClientID, "kind", kind)

	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.pushTimeout)
	defer cancel()

	if _, err := s.client.Insert(insertCtx, ev); err != nil {
		s.metrics.Pushes.WithLabelValues("rollback").Inc()
		s.settle("rollback", func() { s.rollback(ev.ClientID) })
		s.logger.Warn("push failed, rolled back",
			"client_id", ev.ClientID,
			"kind", kind,
			"error", err,
		)
		return event.Event{}, fmt.Errorf("push %s: %w", kind, err)
	}

	s.settle("confirm", func() { s.confirm(ev.ClientID) })
	s.metrics.Pushes.WithLabelValues("ok").Inc()
	return ev, nil
}

// RetryPending re-sends events still marked pending, typically after a
// restart interrupted a push. It stops at the first failure and leaves the
// remaining events pending; they are not rolled back since the user has
// already seen them survive a restart. Inserts are idempotent by client id.
func (s *Service) RetryPending(ctx context.Context) (int, error) {
	if err := s.client.Ready(); err != nil {
		return 0, fmt.Errorf("retry pending: %w", err)
	}

	var batch []event.Event
	if err := s.do(ctx, "collect pending", func() {
		for _, id := range s.pending {
			if i := s.indexOf(id); i >= 0 {
				batch = append(batch, s.events[i])
			}
		}
	}); err != nil {
		return 0, fmt.Errorf("retry pending: %w", err)
	}

	sent := 0
	for _, ev := range batch {
		if _, err := s.client.Insert(ctx, ev); err != nil {
			s.metrics.Pushes.WithLabelValues("retry_failed").Inc()
			return sent, fmt.Errorf("retry pending: %w", err)
		}
		if err := s.do(ctx, "confirm", func() { s.confirm(ev.ClientID) }); err != nil {
			return sent, fmt.Errorf("retry pending: %w", err)
		}
		s.metrics.Pushes.WithLabelValues("retried").Inc()
		sent++
	}
	if sent > 0 {
		s.logger.Info("pending events uploaded", "count", sent)
	}
	return sent, nil
}

// settle applies the outcome of an insert. The outcome lands even when the
// owner loop stopped while the insert was in flight: once Run has returned
// nothing else touches the log, so fn runs here under settleMu.
func (s *Service) settle(name string, fn func()) {
	err := s.do(context.Background(), name, fn)
	if !errors.Is(err, ErrStopped) {
		return
	}
	if s.running.Load() {
		<-s.stopped
	}
	s.settleMu.Lock()
	defer s.settleMu.Unlock()
	fn()
	s.logger.Debug("applied after stop", "op", name)
}

// rollback removes an optimistic event that never reached the remote.
func (s *Service) rollback(clientID string) {
	i := s.indexOf(clientID)
	if i < 0 {
		s.dropPending(clientID)
		return
	}
	delete(s.keys, s.events[i].DedupKey())
	s.events = slices.Delete(s.events, i, i+1)
	s.dropPending(clientID)
	s.commit(true)
}

// confirm clears the pending mark after a successful insert.
func (s *Service) confirm(clientID string) {
	if s.dropPending(clientID) {
		s.commit(false)
	}
}
