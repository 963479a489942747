package event

import (
	"errors"
	"fmt"
	"time"
)

// Kind names what happened. The set is closed: replay skips unknown kinds.
type Kind string

const (
	KindGoalStarted     Kind = "goal_started"
	KindGoalLogged      Kind = "goal_logged"
	KindGoalClosed      Kind = "goal_closed"
	KindGoalAbandoned   Kind = "goal_abandoned"
	KindReflectionMade  Kind = "reflection_made"
	KindGroupingCreated Kind = "grouping_created"
	KindGoalEdited      Kind = "goal_edited"
)

// Kinds lists every valid kind in declaration order.
var Kinds = []Kind{
	KindGoalStarted,
	KindGoalLogged,
	KindGoalClosed,
	KindGoalAbandoned,
	KindReflectionMade,
	KindGroupingCreated,
	KindGoalEdited,
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Event is the immutable unit of truth.
//
// ClientTimestamp is the replay ordering key. ServerTimestamp is set by the
// remote log on acceptance and is used only as the incremental-pull watermark.
type Event struct {
	Kind            Kind   `json:"kind"`
	ClientTimestamp string `json:"clientTimestamp"`
	ServerTimestamp string `json:"serverTimestamp,omitempty"`
	ClientID        string `json:"clientId,omitempty"`
	Payload         Object `json:"payload"`
}

// Validation errors returned by Validate.
var (
	ErrMissingClientID = errors.New("event has no client id")
	ErrUnknownKind     = errors.New("unknown event kind")
	ErrBadTimestamp    = errors.New("unparseable client timestamp")
)

// Validate checks the preconditions for accepting an event into the live log.
// Replay is more lenient and only needs a parseable timestamp.
func (e Event) Validate() error {
	if e.ClientID == "" {
		return ErrMissingClientID
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if _, err := e.Time(); err != nil {
		return err
	}
	return nil
}

// Time parses ClientTimestamp. Both RFC 3339 and RFC 3339 with fractional
// seconds are accepted.
func (e Event) Time() (time.Time, error) {
	return ParseTimestamp(e.ClientTimestamp)
}

// ParseTimestamp parses an ISO-8601 timestamp as written by any client.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, ErrBadTimestamp
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
	}
	return t, nil
}

// FormatTimestamp renders t the way this client stamps new events: UTC with
// millisecond precision, which sorts lexically and parses everywhere.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// PrimaryEntityID returns the id of the entity the event is about.
func (e Event) PrimaryEntityID() string {
	var key string
	switch e.Kind {
	case KindGroupingCreated:
		key = FieldGroupingID
	case KindReflectionMade:
		key = FieldCategoryID
	default:
		key = FieldGoalID
	}
	id, _ := e.Payload.GetString(key)
	return id
}

// DedupKey identifies the logical event. Two deliveries with the same key are
// the same event. The client id is used when present; legacy records without
// one fall back to kind, entity and timestamp.
func (e Event) DedupKey() string {
	if e.ClientID != "" {
		return e.ClientID
	}
	return string(e.Kind) + "|" + e.PrimaryEntityID() + "|" + e.ClientTimestamp
}

// New builds an event stamped at t. The payload is cloned.
func New(kind Kind, clientID string, t time.Time, payload Object) Event {
	return Event{
		Kind:            kind,
		ClientTimestamp: FormatTimestamp(t),
		ClientID:        clientID,
		Payload:         payload.Clone(),
	}
}

// Dedup returns events with duplicate dedup keys removed, keeping the first
// occurrence. Order is otherwise preserved.
func Dedup(events []Event) []Event {
	seen := make(map[string]struct{}, len(events))
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		key := ev.DedupKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ev)
	}
	return out
}
