package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/roach88/grove/internal/event"
)

// SubjectPrefix is prepended to the user id to form the realtime subject.
const SubjectPrefix = "grove.events."

// Subject returns the realtime subject for userID. User ids must be a single
// NATS token: no dots, wildcards or whitespace.
func Subject(userID string) (string, error) {
	if userID == "" || strings.ContainsAny(userID, ".*> \t\r\n") {
		return "", fmt.Errorf("user id %q is not a valid subject token", userID)
	}
	return SubjectPrefix + userID, nil
}

// NATSFeed implements Feed with core NATS publish/subscribe.
type NATSFeed struct {
	conn *nats.Conn
}

// NewNATSFeed wraps an established connection.
func NewNATSFeed(conn *nats.Conn) *NATSFeed {
	return &NATSFeed{conn: conn}
}

// ConnectNATS dials url.
func ConnectNATS(url string) (*NATSFeed, error) {
	conn, err := nats.Connect(url, nats.Name("grove"))
	if err != nil {
		return nil, err
	}
	return NewNATSFeed(conn), nil
}

// ConnectNATSWithRetry keeps dialing until it succeeds or timeout passes.
func ConnectNATSWithRetry(url string, timeout time.Duration) (*NATSFeed, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		feed, err := ConnectNATS(url)
		if err == nil {
			return feed, nil
		}
		lastErr = err
		time.Sleep(500 * time.Millisecond)
	}
	return nil, fmt.Errorf("connect nats timeout after %s: %w", timeout, lastErr)
}

// Close drains and closes the connection.
func (f *NATSFeed) Close() {
	if f == nil || f.conn == nil {
		return
	}
	_ = f.conn.Drain()
	f.conn.Close()
}

// Publish implements Feed.
func (f *NATSFeed) Publish(_ context.Context, userID string, ev event.Event) error {
	subject, err := Subject(userID)
	if err != nil {
		return err
	}
	data, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	if err := f.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe implements Feed. handler runs on the connection's dispatch
// goroutine.
func (f *NATSFeed) Subscribe(_ context.Context, userID string, handler func([]byte)) (Subscription, error) {
	subject, err := Subject(userID)
	if err != nil {
		return nil, err
	}
	sub, err := f.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return natsSubscription{sub: sub}, nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s natsSubscription) Unsubscribe() error {
	if !s.sub.IsValid() {
		return nil
	}
	return s.sub.Unsubscribe()
}
