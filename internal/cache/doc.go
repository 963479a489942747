// Package cache persists the local event log so the app survives restarts
// and works offline.
//
// The cache holds exactly one Snapshot: the event log, the client ids still
// waiting for a confirmed remote insert, the incremental-pull watermark and
// the cache version. It is never the source of truth for derived state; a
// missing or corrupt snapshot simply means starting from an empty log.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// # Write Path
//
// The owner of the log encodes a Snapshot on its own goroutine and hands the
// bytes to a Writer. The Writer coalesces bursts into one database write after
// a quiet period. Flush writes pending bytes immediately and is meant for
// shutdown.
package cache
