package internal

import (
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
)

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTFind      QueryType = iota // List live records matching a filter.
	QueryTGetDBInfo                  // Retrieve metadata about the database underlying the machine.
)

func (q QueryType) String() string {
	switch q {
	case QueryTFind:
		return "Find"
	case QueryTGetDBInfo:
		return "GetDBInfo"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or StaleRead
type Query struct {
	Type   QueryType // The type of Query to perform.
	Filter db.Filter // The filter for QueryTFind.
	Now    time.Time // The reader's wall clock.
}

// FilterToRecord packs a filter into a record so it can travel through a record serializer
func FilterToRecord(f db.Filter) db.Record {
	return db.Record{
		ID:                 f.ID,
		Name:               f.Name,
		HolderID:           f.HolderID,
		IdentityAttributes: f.Attributes,
	}
}

// RecordToFilter is the inverse of FilterToRecord
func RecordToFilter(r db.Record) db.Filter {
	return db.Filter{
		ID:         r.ID,
		Name:       r.Name,
		HolderID:   r.HolderID,
		Attributes: r.IdentityAttributes,
	}
}
