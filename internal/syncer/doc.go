// Package syncer owns the live event log and reconciles it with the remote.
//
// # Single Owner
//
// A Service holds the in-memory log. Every mutation (optimistic append,
// rollback, pull merge, realtime merge, import) is queued and applied by the
// Run goroutine one at a time, so no two writers ever interleave. Remote
// calls happen on the caller's goroutine, outside the owner, so a slow
// network never delays a local append.
//
// Readers get consistent snapshots: after each mutation the owner publishes
// an immutable copy of the log, and Events and State read that copy without
// going through the queue.
//
// # Conflict Model
//
// Events are only ever appended. Merging remote events is an append
// filtered by dedup key; the derived state is a pure function of the log, so
// devices converge no matter in which order they receive each other's
// events. The only removal is the rollback of an optimistic append whose
// remote insert failed.
package syncer
