package locker

import (
	"context"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
)

// ILocker defines the lock operations available to a bound invocation.
// The holder of every lock is derived from the invocation attached to ctx
// (see WithInvocation), never passed by the caller.
type ILocker interface {
	// AcquireLock acquires or refreshes the lock on name for the current holder.
	// A ttl outside (0, DefaultTTL()] falls back to DefaultTTL().
	// It returns true on success and ErrFailedToAcquireLock if another holder
	// owns the lock. Store failures are returned unchanged.
	AcquireLock(ctx context.Context, name Name, metadata any, ttl time.Duration) (ok bool, err error)

	// ReleaseLock releases the lock on name held by the current holder.
	// Releasing a lock that is not held (or already expired) is not an error
	// and returns false.
	ReleaseLock(ctx context.Context, name Name) (released bool, err error)

	// ReleaseOwnLock releases the lock on name held by the current user,
	// whichever connection acquired it.
	ReleaseOwnLock(ctx context.Context, name Name) (released bool, err error)

	// LockerID returns the holder identity of the current invocation.
	LockerID(ctx context.Context) (holderID string, err error)

	// IdentityAttributes returns the identity attributes recorded for the current invocation.
	IdentityAttributes(ctx context.Context) (attrs map[string]string, err error)

	// DefaultTTL returns the lease used when no (or an out of range) ttl is requested.
	DefaultTTL() (ttl time.Duration)

	// Name returns the diagnostic name of the locker.
	Name() (name string)

	// SetDebug enables or disables verbose logging.
	SetDebug(on bool)
}

// IAdmin defines administrative release operations. None of them check the
// holder of the deleted records.
type IAdmin interface {
	ReleaseAllLocks() (deleted int, err error)
	ReleaseAllOwnLocks(holderID string) (deleted int, err error)
	ReleaseLocksByIdentityAttribute(attr, value string) (deleted int, err error)
	ReleaseAllCurrentConnectionLocks(ctx context.Context) (deleted int, err error)
	ReleaseAllOwnCurrentConnectionLocks(ctx context.Context) (deleted int, err error)
	ReleaseLockByID(id string) (released bool, err error)
	ListLocks(filter db.Filter) (records []db.Record, err error)
}

var (
	_ ILocker = (*Locker)(nil)
	_ IAdmin  = (*Locker)(nil)
)
