package syncer

import (
	"context"
	"fmt"

	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/remote"
)

// SubscribeRealtime merges events other devices insert as they arrive.
//
// Each arrival goes through the same dedup key as every other append, so a
// device's own pushes echoed back on the feed are dropped as duplicates.
// onEvent, if non-nil, is called after a genuinely new event has been
// merged. Records that cannot be decoded are logged and dropped; the
// subscription keeps running. Unsubscribe tears it down and may be followed
// by a new SubscribeRealtime, e.g. after signing in again.
func (s *Service) SubscribeRealtime(ctx context.Context, onEvent func(event.Event)) (remote.Subscription, error) {
	sub, err := s.client.Subscribe(ctx,
		func(ev event.Event) {
			var added bool
			if err := s.do(context.Background(), "realtime merge", func() {
				added = s.appendEvent(ev)
				if added {
					s.commit(true)
				}
			}); err != nil {
				s.logger.Warn("realtime event not merged", "client_id", ev.ClientID, "error", err)
				return
			}
			if !added {
				s.metrics.Realtime.WithLabelValues("duplicate").Inc()
				return
			}
			s.metrics.Realtime.WithLabelValues("merged").Inc()
			s.logger.Debug("realtime event merged", "client_id", ev.ClientID, "kind", ev.Kind)
			if onEvent != nil {
				onEvent(ev)
			}
		},
		func(err error) {
			s.metrics.Realtime.WithLabelValues("dropped").Inc()
			s.logger.Warn("dropping realtime record", "error", err)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("subscribe realtime: %w", err)
	}
	return sub, nil
}
