// Package locker implements TTL based mutual exclusion on top of a lock store.
//
// The package focuses on:
//   - Encoding lock names from atoms and tuples of atoms
//   - Deriving the holder of a lock from the invocation bound to a context
//   - Acquiring, refreshing and releasing locks with per call leases
//   - Running critical sections with retries and back-off (IfLockElse)
//   - Administrative bulk releases
//
// Key Components:
//
//   - Name: a single atom ([A-Za-z0-9_-]+) or an ordered tuple of atoms joined
//     with ":". Since ":" is not part of the atom alphabet, an atom never
//     collides with an encoded tuple.
//
//   - Invocation: the caller of an operation, attached to the context by the
//     transport layer with WithInvocation. A Projection turns it into the
//     holder id; ByUserID and ByConnectionID are the standard presets.
//
//   - Locker: the lock protocol. It keeps no lock state of its own, all
//     uniqueness guarantees come from the store.ILockStore it wraps. A lease
//     shorter than the store window is emulated by back-dating the expiry
//     marker of the record (see store.LeaseMarker).
//
//   - IfLockElse: acquires a lock, runs a callback and always releases the
//     lock afterwards. Failed attempts are retried with the delay
//     BackoffDelay(n) = floor(base * exp(clamp(0, 700, (n-1) * m)) + (n-1) * inc).
//
// Errors:
//
// Validation failures and lock conflicts are *Error values that match the
// sentinels ErrInvalidLockName, ErrFailedToAcquireLock, ... with errors.Is.
// Store failures other than conflicts are returned unchanged.
//
// Usage Example:
//
//	lockStore := lstore.NewLocalStore("locks", func() db.LockDB {
//		return ttlmap.NewTTLMap(ttlmap.DefaultOptions())
//	}, nil)
//	defer lockStore.Close()
//
//	l, _ := locker.NewUserIDLocker(lockStore, 30*time.Second)
//	ctx := locker.WithInvocation(context.Background(), &locker.Invocation{UserID: "alice"})
//
//	opts := locker.DefaultIfLockOptions[string]()
//	opts.MaxTrials = 3
//	opts.OnAcquired = func(any) (string, error) { return "done", nil }
//	res, err := locker.IfLockElse(ctx, l, locker.Tuple("document", "42"), opts)
package locker
