// Package ttlmap provides an in-memory implementation of the db.LockDB interface.
//
// Records are spread over a fixed number of shards, each an xsync.MapOf keyed
// by the encoded lock name. The shard of a name is picked with a seeded FNV-1a
// hash. All conditional writes run inside MapOf.Compute, which holds the
// bucket lock of the name for the duration of the check and the write, so two
// holders racing for the same name can never both succeed.
//
// Expiry:
//
//	A record dies exactly Window() after its expiry marker. Dead records are
//	ignored by every read and overwritten by every write, so the table behaves
//	as if they were gone. DeleteExpired reclaims their memory and is meant to be
//	called periodically by the owning store.
//
// Statistics:
//
//	Conflicts and sweep runs are tracked with go-metrics counters and a timer
//	and reported together with the shard distribution by GetInfo.
//
// Persistence:
//
//	Save writes a versioned binary snapshot (magic number, version, record count,
//	length prefixed records in the binary record format). Load replaces the
//	whole table and must not run concurrently with other calls.
package ttlmap
