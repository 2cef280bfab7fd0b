// Package internal provides the communication protocol structures and serialization
// logic for the dstore package. It defines the wire format used to transmit operations
// between the store client and the distributed state machine.
//
// This package is intended for internal use by the dstore implementation and should
// not be imported directly by external code.
//
// The package consists of two main components:
//
//   - Command System: write operations (TryAcquire, Release, ReleaseWhere, Sweep)
//     that modify the lock table. Commands are serialized and proposed to the RAFT
//     cluster, executed on the state machine of every replica, and produce results
//     that are returned to the proposer.
//
//   - Query System: read operations (Find, GetDBInfo) executed locally on the
//     state machine which therefore do not require serialization.
//
// Time:
//
//	Every command carries the wall clock of the proposer. Replicas never read
//	their own clock while applying a command, otherwise two replicas could
//	disagree on whether a record is still alive.
//
// Command Format:
//
//	- 1 byte: Command type
//	- 8 bytes: Proposer time (unix nanoseconds, big endian)
//	- 4 bytes: Key length (uint32, big endian)
//	- 4 bytes: Holder id length (uint32, big endian)
//	- N bytes: Key data
//	- N bytes: Holder id data
//	- M bytes: Payload (binary record for TryAcquire, filter packed as record for ReleaseWhere)
package internal
