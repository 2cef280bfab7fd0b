// Package store provides the shared lock table used by the locker.
// It serves as an abstraction layer over the lower-level db.LockDB engines,
// adding record id assignment, time keeping, background sweeping and
// standardized error reporting.
//
// The package focuses on:
//   - A unified interface (ILockStore) for lock records across different backends
//   - Pluggable storage engines through the DBFactory pattern
//   - Lease emulation on top of a fixed sweep window (LeaseMarker)
//
// Key Components:
//
//   - ILockStore Interface: atomic acquire-or-fail keyed on the record name,
//     holder checked release, administrative filter deletes and listings.
//     Conflicts are reported as *Error with code RetCConflict, so callers can
//     tell a busy lock apart from an infrastructure failure.
//
//   - Error System: A structured error reporting mechanism using typed error codes
//     and descriptive messages.
//
//   - LeaseMarker: the store only knows one record lifetime, the window W. A
//     shorter lease t is emulated by back-dating the expiry marker by W - t.
//
// Implementations:
//
//	- Local Store (lstore): A single process implementation that directly
//	  utilizes a db.LockDB instance and sweeps it in the background.
//	  Available in the "github.com/ValentinKolb/dLock/lib/store/lstore" package.
//
//	- Distributed Store (dstore): An implementation built on the Dragonboat
//	  RAFT consensus library. Every write is a raft proposal carrying the
//	  proposer's time, so all replicas reach the same expiry decisions.
//	  Available in the "github.com/ValentinKolb/dLock/lib/store/dstore" package.
package store
