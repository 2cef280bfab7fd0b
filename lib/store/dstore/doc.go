// Package dstore implements a distributed, fault-tolerant lock store using
// the Dragonboat RAFT consensus library. It provides a strongly consistent implementation
// of the store.ILockStore interface that can operate across multiple nodes while
// maintaining linearizable consistency.
//
// Architecture:
//
// The dstore implementation consists of three main components:
//
//   - Store Client: Implements the store.ILockStore interface and communicates with
//     the RAFT cluster. It serializes operations into commands, sends them to the
//     consensus layer, and processes responses.
//
//   - State Machine: A Dragonboat IConcurrentStateMachine implementation that processes
//     commands and queries on each node. The state machine contains the actual db.LockDB
//     instance and applies operations to it.
//
//   - Communication Protocol: Defined in the internal package, this consists of Command
//     and Query structures with serialization logic for transmitting operations across
//     the network.
//
// Time and Expiry:
//
//	A record is alive while now < ExpiryMarker + Window. To make this decision
//	identical on every replica, the proposer stamps each command with its wall
//	clock and the state machine applies it with max(stamp, highest stamp seen).
//	Record ids are generated by the proposer for the same reason.
//
// Write Operations:
//
//	All write operations (TryAcquire, Release, ReleaseWhere, Sweep) follow this flow:
//
//	1. The operation is serialized into a Command structure
//	2. The Command is proposed to the RAFT cluster via SyncPropose
//	3. Once committed, the command is executed on the state machine on each node (Update method in statemachine.go)
//	4. The result code and payload are returned to the proposer
//
//	A conflict on TryAcquire is returned as result code RetCConflict and turned
//	into a *store.Error on the proposer.
//
// Read Operations:
//
//   - Linearizable Reads: Find uses SyncRead, so the listing reflects every
//     committed command.
//
//   - Stale Reads: GetDBInfo uses StaleRead, which may return slightly outdated
//     information but with lower latency.
//
// Sweeping:
//
//	A goroutine proposes a Sweep command every SweepInterval while the local
//	replica leads the shard. Sweeps are idempotent, so a short overlap during
//	leader changes is harmless.
//
// Error Handling and Retries:
//
//	When Dragonboat returns ErrSystemBusy, the operation is retried after a short
//	delay, up to five attempts. All operations have a configurable timeout.
//
// Snapshotting and Recovery:
//
//	PrepareSnapshot copies the logical clock and the lock table (db.LockDB.Snapshot)
//	while no update is applied. SaveSnapshot writes only that copy, so entries
//	applied after the snapshot index never leak into the snapshot and replaying
//	them on recovery yields the same results as on every other replica.
//
// Usage:
//
//	// Create and start shard (RAFT server)
//	err := nh.StartConcurrentReplica(
//	    clusterMembers,
//	    false,
//	    dstore.CreateStateMachineFactory(dbFactory, nil),
//	    shardConfig)
//
//	// Create store with the same window the engines use
//	s := dstore.NewDistributedStore(nh, shardID, &dstore.Options{Window: time.Minute, ReplicaID: replicaID})
package dstore
