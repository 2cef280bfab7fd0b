package db

import (
	"io"
	"time"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplTTLMap Implementation = "ttlmap"
)

type DatabaseInfo struct {
	Records        int            `json:"records"`
	ExpiredBacklog int            `json:"expired_backlog"`
	Window         time.Duration  `json:"window"`
	DbType         Implementation `json:"db_type"`
	Metadata       interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Lock Record
// --------------------------------------------------------------------------

// Record is a single lock. It is the only entity ever persisted.
type Record struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	HolderID           string            `json:"holderId"`
	IdentityAttributes map[string]string `json:"identityAttributes,omitempty"`
	ExpiryMarker       time.Time         `json:"expiryMarker"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// ExpiresAt returns the point in time at which a store with the given sweep
// window considers the record dead.
func (r Record) ExpiresAt(window time.Duration) time.Time {
	return r.ExpiryMarker.Add(window)
}

// IsExpired reports whether the record is dead at now.
func (r Record) IsExpired(window time.Duration, now time.Time) bool {
	return !now.Before(r.ExpiresAt(window))
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	r.IdentityAttributes = cloneMap(r.IdentityAttributes)
	r.Metadata = cloneMap(r.Metadata)
	return r
}

// Refresh applies a re-acquisition by the same holder to r: the expiry marker
// is replaced while identity attributes and metadata are merged key by key.
// The record id is kept.
func (r Record) Refresh(update Record) Record {
	out := r.Clone()
	out.ExpiryMarker = update.ExpiryMarker
	out.IdentityAttributes = mergeMap(out.IdentityAttributes, update.IdentityAttributes)
	out.Metadata = mergeMap(out.Metadata, update.Metadata)
	return out
}

// --------------------------------------------------------------------------
// Filter
// --------------------------------------------------------------------------

// Filter selects records by field equality. Zero-valued fields are wildcards,
// so the zero Filter matches every record.
type Filter struct {
	ID         string            `json:"id,omitempty"`
	Name       string            `json:"name,omitempty"`
	HolderID   string            `json:"holderId,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Matches reports whether r satisfies every non-zero field of f.
func (f Filter) Matches(r Record) bool {
	if f.ID != "" && f.ID != r.ID {
		return false
	}
	if f.Name != "" && f.Name != r.Name {
		return false
	}
	if f.HolderID != "" && f.HolderID != r.HolderID {
		return false
	}
	for k, v := range f.Attributes {
		if got, ok := r.IdentityAttributes[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Snapshot
// --------------------------------------------------------------------------

// Snapshot is a point-in-time copy of a LockDB. It is detached from the
// database, so writes applied after it was taken never show up in Save.
type Snapshot interface {
	// Save writes the copied records in the format accepted by LockDB.Load.
	Save(w io.Writer) (err error)

	// Len returns the number of copied records, dead ones included.
	Len() (n int)
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// LockDB defines an interface for lock record tables.
// Records are keyed by name; the table guarantees at most one live record per
// name. Every record dies Window() after its expiry marker. Dead records are
// invisible to all operations, even before DeleteExpired physically removes
// them.
//
// All time-dependent operations take the current time as a parameter so that
// replicated implementations can apply them deterministically.
type LockDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Upsert inserts rec if no live record exists under rec.Name, or refreshes
	// the live record if it is held by rec.HolderID (see Record.Refresh).
	// It returns the stored record and true on success. If the live record
	// belongs to a different holder nothing is changed and false is returned
	// together with the conflicting record.
	Upsert(rec Record, now time.Time) (stored Record, ok bool)

	// Delete removes the live record under name if it is held by holderID.
	// It returns whether a live record was removed.
	Delete(name, holderID string, now time.Time) (deleted bool)

	// DeleteWhere removes every record matching filter and returns the number
	// of live records removed.
	DeleteWhere(filter Filter, now time.Time) (deleted int)

	// DeleteExpired removes every dead record and returns how many were removed.
	DeleteExpired(now time.Time) (deleted int)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get returns the live record under name.
	Get(name string, now time.Time) (rec Record, loaded bool)

	// Find returns copies of all live records matching filter, ordered by name.
	Find(filter Filter, now time.Time) (records []Record)

	// Window returns the fixed lifetime of a record measured from its expiry marker.
	Window() (window time.Duration)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Snapshot copies every stored record, dead ones included. The copy reflects
	// all writes that returned before Snapshot was called; it is only exact if
	// no write runs concurrently with Snapshot itself.
	Snapshot() (snap Snapshot)

	// Save persists the current state of the database to the provided io.Writer.
	// It is equivalent to Snapshot().Save(w).
	Save(w io.Writer) (err error)

	// Load restores the database state data provided by an io.Reader.
	Load(r io.Reader) (err error)

	// GetInfo returns information about the database. Records dead at now are
	// counted as ExpiredBacklog.
	GetInfo(now time.Time) (info DatabaseInfo)

	// Close closes the database.
	Close() (err error)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func mergeMap(dst, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
