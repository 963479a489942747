package derive

import (
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/grove/internal/event"
)

// Deriver folds an event log into a State. It holds configuration only; a
// single Deriver may be shared between goroutines.
type Deriver struct {
	rules  Rules
	logger *slog.Logger
}

// Option configures a Deriver.
type Option func(*Deriver)

// WithRules replaces DefaultRules.
func WithRules(r Rules) Option {
	return func(d *Deriver) {
		d.rules = r
	}
}

// WithLogger sets the logger used to report skipped events.
func WithLogger(l *slog.Logger) Option {
	return func(d *Deriver) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a Deriver with DefaultRules and slog.Default().
func New(opts ...Option) *Deriver {
	d := &Deriver{
		rules:  DefaultRules(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Rules returns the economy this Deriver applies.
func (d *Deriver) Rules() Rules {
	return d.rules
}

// Derive is New().Derive(events, now).
func Derive(events []event.Event, now time.Time) *State {
	return New().Derive(events, now)
}

// timedEvent is an event with its parsed replay key.
type timedEvent struct {
	ev  event.Event
	at  time.Time
	key string
	idx int
}

// Derive computes the State for events as of now.
//
// The input is never modified. Events are ordered by client timestamp, then
// by dedup key, then by input position; duplicates by dedup key are dropped
// keeping the first in that order. An event whose timestamp cannot be parsed
// is a duplicate when another event with the same key parses, and is skipped
// otherwise. Events that cannot be applied are recorded in State.Skipped and
// the fold continues.
//
// now's location defines the local reset boundaries for water, sun and the
// streak service day.
func (d *Deriver) Derive(events []event.Event, now time.Time) *State {
	f := newFold(d.rules, d.logger)

	ordered := make([]timedEvent, 0, len(events))
	validKeys := make(map[string]struct{}, len(events))
	var bad []event.Event
	for i, ev := range events {
		key := ev.DedupKey()
		at, err := ev.Time()
		if err != nil {
			bad = append(bad, ev)
			continue
		}
		validKeys[key] = struct{}{}
		ordered = append(ordered, timedEvent{ev: ev, at: at.UTC(), key: key, idx: i})
	}

	// A copy with a readable timestamp supersedes an unreadable one.
	badKeys := make(map[string]struct{})
	for _, ev := range bad {
		key := ev.DedupKey()
		if _, ok := validKeys[key]; ok {
			continue
		}
		if _, seen := badKeys[key]; !seen {
			badKeys[key] = struct{}{}
			f.skip(ev, key, "unparseable client timestamp")
		}
	}

	slices.SortStableFunc(ordered, func(a, b timedEvent) int {
		if c := a.at.Compare(b.at); c != 0 {
			return c
		}
		if a.key != b.key {
			if a.key < b.key {
				return -1
			}
			return 1
		}
		return a.idx - b.idx
	})

	seen := make(map[string]struct{}, len(ordered))
	for _, te := range ordered {
		if _, dup := seen[te.key]; dup {
			continue
		}
		seen[te.key] = struct{}{}
		f.apply(te)
	}

	return f.finish(now, len(seen)+len(badKeys))
}
