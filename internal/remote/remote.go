package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/grove/internal/event"
)

// Log is the remote, per-user, append-only event table.
type Log interface {
	// Insert stores ev for userID and returns the accepted record with its
	// server timestamp. Inserting a client id that already exists returns the
	// stored record unchanged.
	Insert(ctx context.Context, userID string, ev event.Event) (event.Event, error)

	// Since returns the user's events with a server timestamp strictly after
	// watermark, in server order. An empty watermark returns the whole log.
	Since(ctx context.Context, userID, watermark string) ([]event.Event, error)
}

// Feed delivers accepted events to a user's other devices.
type Feed interface {
	Publish(ctx context.Context, userID string, ev event.Event) error

	// Subscribe calls handler with the raw bytes of every event published
	// for userID until the Subscription is torn down. Handlers may run on a
	// transport goroutine and must not block for long.
	Subscribe(ctx context.Context, userID string, handler func(raw []byte)) (Subscription, error)
}

// Subscription is a live Feed registration.
type Subscription interface {
	Unsubscribe() error
}

// Session identifies the signed-in user. The zero value is signed out.
type Session struct {
	UserID string
}

// SignedIn reports whether a user is present.
func (s Session) SignedIn() bool {
	return s.UserID != ""
}

// Client applies the configuration and session checks around a Log and an
// optional Feed and maps every failure to a *SyncError.
type Client struct {
	log     Log
	feed    Feed
	session Session
	logger  *slog.Logger
}

// NewClient creates a Client. log may be nil (every call then fails with
// CodeNotConfigured); feed may be nil (no realtime).
func NewClient(log Log, feed Feed, session Session, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{log: log, feed: feed, session: session, logger: logger}
}

// Session returns the client's session.
func (c *Client) Session() Session {
	return c.session
}

func (c *Client) check(op string) error {
	if c == nil || c.log == nil {
		return notConfigured(op)
	}
	if !c.session.SignedIn() {
		return notAuthenticated(op)
	}
	return nil
}

// Ready reports whether remote calls can be attempted at all: a backend is
// configured and a user is signed in.
func (c *Client) Ready() error {
	return c.check("ready")
}

// Insert stores ev remotely and returns the echo. After a successful insert
// the echo is published on the Feed; a publish failure is logged, not
// returned, since the event is already durable.
func (c *Client) Insert(ctx context.Context, ev event.Event) (event.Event, error) {
	if err := c.check("insert"); err != nil {
		return event.Event{}, err
	}
	echo, err := c.log.Insert(ctx, c.session.UserID, ev)
	if err != nil {
		return event.Event{}, NewNetworkError("insert", err)
	}
	if c.feed != nil {
		if err := c.feed.Publish(ctx, c.session.UserID, echo); err != nil {
			c.logger.Warn("realtime publish failed",
				"client_id", echo.ClientID,
				"error", err,
			)
		}
	}
	return echo, nil
}

// Since downloads events after watermark.
func (c *Client) Since(ctx context.Context, watermark string) ([]event.Event, error) {
	if err := c.check("since"); err != nil {
		return nil, err
	}
	events, err := c.log.Since(ctx, c.session.UserID, watermark)
	if err != nil {
		return nil, NewNetworkError("since", err)
	}
	return events, nil
}

// Subscribe decodes Feed messages into events. Records that fail to decode
// or validate go to onDrop as CodeDecode errors and the subscription keeps
// running. Without a Feed the call fails with CodeNotConfigured.
func (c *Client) Subscribe(ctx context.Context, onEvent func(event.Event), onDrop func(error)) (Subscription, error) {
	if err := c.check("subscribe"); err != nil {
		return nil, err
	}
	if c.feed == nil {
		return nil, notConfigured("subscribe")
	}
	sub, err := c.feed.Subscribe(ctx, c.session.UserID, func(raw []byte) {
		ev, err := DecodeEvent(raw)
		if err != nil {
			if onDrop != nil {
				onDrop(NewDecodeError("subscribe", err))
			}
			return
		}
		onEvent(ev)
	})
	if err != nil {
		return nil, NewNetworkError("subscribe", err)
	}
	return sub, nil
}

// DecodeEvent parses one wire record and rejects events that could not be
// accepted into a live log.
func DecodeEvent(raw []byte) (event.Event, error) {
	var ev event.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return event.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return event.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

// EncodeEvent is the wire form used by feeds.
func EncodeEvent(ev event.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}

// FormatServerTimestamp renders a server timestamp with full precision.
func FormatServerTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// AfterWatermark reports whether ts is strictly after watermark. An empty or
// unparseable watermark precedes everything; an unparseable ts is never after.
func AfterWatermark(ts, watermark string) bool {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return false
	}
	w, err := time.Parse(time.RFC3339Nano, watermark)
	if err != nil {
		return true
	}
	return t.After(w)
}
