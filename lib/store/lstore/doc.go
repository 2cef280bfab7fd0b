// Package lstore implements a local, in-memory, single-process lock store based on the
// store.ILockStore interface. It provides a thin wrapper around any db.LockDB
// implementation. Data is stored entirely in memory and is not persisted between
// process restarts.
//
// Implementation Details:
//
//   - Time keeping: every operation reads the store's clock.Clock once and
//     hands the instant to the engine, so liveness checks within one call are
//     consistent. Tests inject a clock.Manual to move time explicitly.
//
//   - Record ids: records without an id get a fresh xid on insertion. A
//     refresh by the same holder keeps the id of the stored record.
//
//   - Sweeping: a background goroutine calls DeleteExpired every SweepInterval
//     (default one second) until Close. Sweeping only reclaims memory, dead
//     records are already invisible.
//
// Thread Safety:
//
//	All operations are thread-safe. Atomicity per name is provided by the
//	underlying db.LockDB engine.
//
// Usage Example:
//
//	factory := func() db.LockDB {
//		return ttlmap.NewTTLMap(&ttlmap.Options{Window: time.Minute})
//	}
//	s := lstore.NewLocalStore("locks", factory, nil)
//	defer s.Close()
//
//	rec, err := s.TryAcquire(db.Record{Name: "orders:42", HolderID: "user-1", ExpiryMarker: time.Now()})
package lstore
