// Package remote is the cloud side of the event log.
//
// A Log is an ordered, appendable table of events keyed by user. Insert
// returns the accepted record with its server timestamp (insert-with-echo)
// and Since returns everything accepted after a watermark. A Feed carries
// newly accepted events to the user's other devices.
//
// Implementations:
//   - PostgresLog: grove_events table via pgx
//   - NATSFeed: subject grove.events.<userID> via nats.go
//   - MemoryBackend: both contracts in process, with failure injection
//
// Client wraps a Log and Feed with the session checks and turns every
// failure into a *SyncError.
package remote
