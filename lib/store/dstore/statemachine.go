package dstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/serializer"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/lib/store/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// LockStateMachine is a state machine implementation for Dragonboat RAFT
type LockStateMachine struct {
	replicaID uint64
	shardID   uint64
	database  db.LockDB                    // the actual lock table
	codec     serializer.IRecordSerializer // must match the codec of the proposers

	// lastNow is the highest proposer time applied so far (unix nanoseconds).
	// Applying commands with max(cmd.Now, lastNow) keeps time monotonic on
	// every replica even if proposer clocks drift apart.
	lastNow atomic.Int64
}

// CreateStateMachineFactory returns a function that can be used by dragonboat to create a new state machine for a node host
// The factory pattern is used to enable the caller to pass an interchangeable dbFactory
func CreateStateMachineFactory(dbFactory store.DBFactory, codec serializer.IRecordSerializer) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	if codec == nil {
		codec = serializer.NewBinarySerializer()
	}
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &LockStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			database:  dbFactory(),
			codec:     codec,
		}
	}
}

// advance moves the logical clock of the machine to at least now and returns it
func (fsm *LockStateMachine) advance(now int64) time.Time {
	for {
		last := fsm.lastNow.Load()
		if now <= last {
			return time.Unix(0, last).UTC()
		}
		if fsm.lastNow.CompareAndSwap(last, now) {
			return time.Unix(0, now).UTC()
		}
	}
}

// Lookup handles read-only queries by mapping each Query operation to the corresponding LockDB method.
func (fsm *LockStateMachine) Lookup(itf interface{}) (interface{}, error) {

	q, ok := itf.(internal.Query)
	if !ok {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("invalid Query type: %T", itf))
	}

	// readers never look behind the applied log
	now := q.Now
	if last := time.Unix(0, fsm.lastNow.Load()).UTC(); now.Before(last) {
		now = last
	}

	switch q.Type {
	case internal.QueryTFind:
		return fsm.database.Find(q.Filter, now), nil
	case internal.QueryTGetDBInfo:
		return fsm.database.GetInfo(now), nil
	default:
		return nil, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("unknown Query operation: %d", q.Type))
	}
}

// Update handles write commands on the LockDB instance
// All write operations are serialized into []byte and are accessible via the entries struct
func (fsm *LockStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {

	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()

	for idx, e := range entries {
		entries[idx].Result = fsm.apply(e.Cmd)
	}

	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// apply executes a single serialized command
func (fsm *LockStateMachine) apply(data []byte) sm.Result {
	if len(data) == 0 {
		return failure(store.RetCInvalidOperation, "empty command ignored")
	}

	cmd := internal.Command{}
	if err := cmd.Deserialize(data); err != nil {
		return failure(store.RetCInternalError, fmt.Sprintf("failed to deserialize command: %v", err))
	}
	now := fsm.advance(cmd.Now)

	switch cmd.Type {
	case internal.CommandTTryAcquire:
		var rec db.Record
		if err := fsm.codec.Deserialize(cmd.Payload, &rec); err != nil {
			return failure(store.RetCInternalError, fmt.Sprintf("failed to deserialize record: %v", err))
		}
		stored, ok := fsm.database.Upsert(rec, now)
		if !ok {
			return failure(store.RetCConflict, fmt.Sprintf("lock %q is held by another holder", rec.Name))
		}
		payload, err := fsm.codec.Serialize(stored)
		if err != nil {
			return failure(store.RetCInternalError, fmt.Sprintf("failed to serialize record: %v", err))
		}
		return sm.Result{Value: uint64(store.RetCSuccess), Data: payload}

	case internal.CommandTRelease:
		return count(boolToInt(fsm.database.Delete(cmd.Key, cmd.HolderID, now)))

	case internal.CommandTReleaseWhere:
		var rec db.Record
		if err := fsm.codec.Deserialize(cmd.Payload, &rec); err != nil {
			return failure(store.RetCInternalError, fmt.Sprintf("failed to deserialize filter: %v", err))
		}
		return count(fsm.database.DeleteWhere(internal.RecordToFilter(rec), now))

	case internal.CommandTSweep:
		return count(fsm.database.DeleteExpired(now))

	default:
		return failure(store.RetCInvalidOperation, fmt.Sprintf("unknown Command operation: %s", cmd.Type))
	}
}

func failure(code store.RetCode, msg string) sm.Result {
	return sm.Result{Value: uint64(code), Data: []byte(msg)}
}

func count(n int) sm.Result {
	return sm.Result{Value: uint64(store.RetCSuccess), Data: binary.BigEndian.AppendUint64(nil, uint64(n))}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// snapshotState is the state captured by PrepareSnapshot
type snapshotState struct {
	lastNow int64
	data    db.Snapshot
}

// PrepareSnapshot copies the lock table and the logical clock.
// Dragonboat never runs it concurrently with Update, so the copy holds exactly
// the entries applied up to the snapshot index.
func (fsm *LockStateMachine) PrepareSnapshot() (interface{}, error) {
	state := &snapshotState{
		lastNow: fsm.lastNow.Load(),
		data:    fsm.database.Snapshot(),
	}
	log.Debugf("[shard %d] prepared snapshot of %d record(s)", fsm.shardID, state.data.Len())
	return state, nil
}

// SaveSnapshot writes the logical clock followed by the table copied in PrepareSnapshot
func (fsm *LockStateMachine) SaveSnapshot(ctx interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	state, ok := ctx.(*snapshotState)
	if !ok {
		return fmt.Errorf("invalid snapshot context type: %T", ctx)
	}
	if err := binary.Write(writer, binary.LittleEndian, state.lastNow); err != nil {
		return err
	}
	return state.data.Save(writer)
}

// RecoverFromSnapshot restores the logical clock and the lock table
func (fsm *LockStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	var last int64
	if err := binary.Read(r, binary.LittleEndian, &last); err != nil {
		return err
	}
	if err := fsm.database.Load(r); err != nil {
		return err
	}
	fsm.lastNow.Store(last)
	return nil
}

// Close performs any necessary cleanup.
func (fsm *LockStateMachine) Close() error {
	return fsm.database.Close()
}
