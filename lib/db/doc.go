// Package db defines the record table that backs every lock store.
//
// The package focuses on:
//   - The lock Record, the only entity ever persisted
//   - Field filters used for bulk deletion and listings
//   - The LockDB interface implemented by storage engines
//
// Key Components:
//
//   - Record: a lock held by a holder under a unique encoded name, carrying
//     optional identity attributes and metadata. Its ExpiryMarker is a
//     back-dated creation time: the record dies exactly Window() after it.
//
//   - LockDB Interface: a table keyed by record name which guarantees that at
//     most one live record exists per name. Upsert either inserts, refreshes a
//     record held by the same holder, or reports a conflict without touching
//     the stored record.
//
//   - DatabaseInfo: standardized reporting on table state (record count,
//     expired records not yet swept, engine specific metadata).
//
// Note on Time-Based Operations:
//   - Every operation that depends on record liveness takes the current time
//     as a parameter instead of reading a clock. This keeps engines
//     deterministic, which the raft based store relies on: all replicas apply
//     a command with the proposer's timestamp and reach the same state.
//   - Dead records are never visible. DeleteExpired only reclaims memory.
//
// Implementations:
//
//	ttlmap: an in-memory sharded table built on xsync.MapOf.
//	Available in the "github.com/ValentinKolb/dLock/lib/db/engines/ttlmap" package.
package db
