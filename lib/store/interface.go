package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new db used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() db.LockDB

// ILockStore is the shared, linearizable table of lock records.
// It is the only synchronization point between lock holders: uniqueness of a
// name among live records is enforced here and nowhere else.
//
// Every record dies Window() after its expiry marker. Dead records are
// invisible to all operations, Sweep only reclaims them.
type ILockStore interface {
	// TryAcquire atomically inserts rec, or refreshes the live record under
	// rec.Name if it is held by rec.HolderID (the expiry marker is replaced,
	// identity attributes and metadata are merged, the id is kept).
	// The store assigns an id when rec.ID is empty.
	// If a live record of another holder exists, nothing is changed and an
	// *Error with code RetCConflict is returned.
	TryAcquire(rec db.Record) (stored db.Record, err error)
	// Release deletes the live record under name if it is held by holderID.
	// It returns whether a record was deleted.
	Release(name, holderID string) (deleted bool, err error)
	// ReleaseWhere deletes all records matching filter without any holder check.
	ReleaseWhere(filter db.Filter) (deleted int, err error)
	// Find returns all live records matching filter, ordered by name.
	Find(filter db.Filter) (records []db.Record, err error)
	// Sweep removes every dead record immediately and returns how many were removed.
	Sweep() (deleted int, err error)
	// Window returns the fixed sweep window of the store.
	Window() (window time.Duration)
	// Namespace returns the identifier of the record collection.
	Namespace() (namespace string)
	// GetDBInfo returns metadata about the database underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo() (info db.DatabaseInfo, err error)
	// Close stops background work of the store.
	Close() (err error)
}

// --------------------------------------------------------------------------
// Lease emulation
// --------------------------------------------------------------------------

// LeaseMarker returns the expiry marker that makes a record acquired at now die
// after ttl in a store with the given window: now - (window - ttl).
// A ttl outside (0, window] falls back to the full window.
func LeaseMarker(now time.Time, window, ttl time.Duration) time.Time {
	if ttl <= 0 || ttl > window {
		ttl = window
	}
	return now.Add(-(window - ttl))
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("LockStoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new LockStoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// IsConflict reports whether err is a store error caused by a live record of
// another holder.
func IsConflict(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == RetCConflict
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCConflict                            // 4: The name is held by another holder.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCConflict:
		return "Conflict"
	default:
		return "Unknown"
	}
}
