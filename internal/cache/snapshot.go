package cache

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/grove/internal/event"
)

// ErrCorrupt reports stored bytes that fail their integrity check.
var ErrCorrupt = errors.New("cache snapshot corrupt")

// Snapshot is everything needed to resume the local log after a restart.
type Snapshot struct {
	Events []event.Event `json:"events"`

	// PendingUploadIDs are client ids appended locally whose remote insert
	// has not been confirmed yet.
	PendingUploadIDs []string `json:"pendingUploadIds"`

	// LastSyncTimestamp is the highest server timestamp seen; the next
	// incremental pull asks for events after it.
	LastSyncTimestamp string `json:"lastSyncTimestamp,omitempty"`

	CacheVersion int `json:"cacheVersion"`
}

// Encode serializes the snapshot.
func (s *Snapshot) Encode() ([]byte, error) {
	out := *s
	if out.Events == nil {
		out.Events = []event.Event{}
	}
	if out.PendingUploadIDs == nil {
		out.PendingUploadIDs = []string{}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses bytes written by Encode.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Events == nil {
		s.Events = []event.Event{}
	}
	if s.PendingUploadIDs == nil {
		s.PendingUploadIDs = []string{}
	}
	return &s, nil
}
