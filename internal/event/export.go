package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ExportVersion is written into every export document.
const ExportVersion = 1

// ErrChecksumMismatch is returned by ParseExport when a document's checksum
// does not match its events.
var ErrChecksumMismatch = errors.New("export checksum mismatch")

// CategoryLabel is the user-facing label for a category node.
type CategoryLabel struct {
	Label string `json:"label"`
	Note  string `json:"note,omitempty"`
}

// Export is the backup/transfer document: the full event log plus the
// category labels the events refer to.
type Export struct {
	Version        int                      `json:"version"`
	ExportedAt     string                   `json:"exportedAt,omitempty"`
	Events         []Event                  `json:"events"`
	CategoryLabels map[string]CategoryLabel `json:"categoryLabels,omitempty"`
	Checksum       string                   `json:"checksum,omitempty"`
}

// NewExport builds an export with its checksum filled in.
func NewExport(events []Event, labels map[string]CategoryLabel, exportedAt string) (Export, error) {
	doc := Export{
		Version:        ExportVersion,
		ExportedAt:     exportedAt,
		Events:         events,
		CategoryLabels: labels,
	}
	if doc.Events == nil {
		doc.Events = []Event{}
	}
	sum, err := Fingerprint(DomainExport, doc.Events)
	if err != nil {
		return Export{}, fmt.Errorf("export checksum: %w", err)
	}
	doc.Checksum = sum
	return doc, nil
}

// ParseExport decodes an export document. Documents written by older clients
// carry no checksum and are accepted as-is.
func ParseExport(data []byte) (Export, error) {
	var doc Export
	if err := json.Unmarshal(data, &doc); err != nil {
		return Export{}, fmt.Errorf("parse export: %w", err)
	}
	if doc.Events == nil {
		doc.Events = []Event{}
	}
	if doc.Checksum == "" {
		return doc, nil
	}
	sum, err := Fingerprint(DomainExport, doc.Events)
	if err != nil {
		return Export{}, fmt.Errorf("parse export: %w", err)
	}
	if sum != doc.Checksum {
		return Export{}, ErrChecksumMismatch
	}
	return doc, nil
}
