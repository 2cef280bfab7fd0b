package dstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/clock"
	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// localNode routes proposals and reads directly into a state machine
type localNode struct {
	fsm *LockStateMachine

	busy      int          // number of calls answered with ErrSystemBusy
	proposals int          // proposals that reached the state machine
	result    *sm.Result   // overrides the result of every proposal
	readValue *interface{} // overrides the result of every read
	leader    uint64
}

func (n *localNode) GetNoOPSession(uint64) *client.Session {
	return nil
}

func (n *localNode) GetLeaderID(uint64) (uint64, uint64, bool, error) {
	return n.leader, 1, n.leader != 0, nil
}

func (n *localNode) SyncPropose(_ context.Context, _ *client.Session, cmd []byte) (sm.Result, error) {
	if n.busy > 0 {
		n.busy--
		return sm.Result{}, dragonboat.ErrSystemBusy
	}
	n.proposals++
	entries, err := n.fsm.Update([]sm.Entry{{Index: uint64(n.proposals), Cmd: cmd}})
	if err != nil {
		return sm.Result{}, err
	}
	if n.result != nil {
		return *n.result, nil
	}
	return entries[0].Result, nil
}

func (n *localNode) SyncRead(_ context.Context, _ uint64, query interface{}) (interface{}, error) {
	return n.read(query)
}

func (n *localNode) StaleRead(_ uint64, query interface{}) (interface{}, error) {
	return n.read(query)
}

func (n *localNode) read(query interface{}) (interface{}, error) {
	if n.busy > 0 {
		n.busy--
		return nil, dragonboat.ErrSystemBusy
	}
	if n.readValue != nil {
		return *n.readValue, nil
	}
	return n.fsm.Lookup(query)
}

func newTestDistributedStore(t *testing.T) (*storeImpl, *localNode, *clock.Manual) {
	t.Helper()
	c := clock.NewManual(testStart)
	node := &localNode{fsm: newTestMachine(t)}
	s := newStore(node, 7, &Options{
		Window:        testWindow,
		Timeout:       10 * time.Millisecond,
		Clock:         c,
		SweepInterval: -1,
	})
	t.Cleanup(func() { s.Close() })
	return s, node, c
}

func TestDistributedStoreOperations(t *testing.T) {
	s, _, c := newTestDistributedStore(t)

	if s.Namespace() != "shard-7" || s.Window() != testWindow {
		t.Errorf("unexpected defaults: namespace %q, window %v", s.Namespace(), s.Window())
	}

	rec, err := s.TryAcquire(db.Record{Name: "a", HolderID: "U1", IdentityAttributes: map[string]string{"userId": "U1"}, ExpiryMarker: c.Now()})
	if err != nil {
		t.Fatalf("TryAcquire failed: %v", err)
	}
	if rec.ID == "" {
		t.Error("expected the proposer to assign an id")
	}

	if _, err := s.TryAcquire(db.Record{Name: "a", HolderID: "U2", ExpiryMarker: c.Now()}); !store.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := s.TryAcquire(db.Record{HolderID: "U2"}); err == nil {
		t.Error("expected error for a record without name")
	}

	if _, err := s.TryAcquire(db.Record{Name: "b", HolderID: "U1", IdentityAttributes: map[string]string{"userId": "U1"}, ExpiryMarker: c.Now()}); err != nil {
		t.Fatal(err)
	}
	records, err := s.Find(db.Filter{HolderID: "U1"})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(records) != 2 || records[0].Name != "a" || records[0].ID != rec.ID {
		t.Fatalf("unexpected records %+v", records)
	}

	if ok, err := s.Release("a", "U2"); err != nil || ok {
		t.Errorf("release by another holder: ok=%v err=%v", ok, err)
	}
	if ok, err := s.Release("a", "U1"); err != nil || !ok {
		t.Errorf("release by the holder: ok=%v err=%v", ok, err)
	}

	c.Advance(testWindow)
	info, err := s.GetDBInfo()
	if err != nil {
		t.Fatalf("GetDBInfo failed: %v", err)
	}
	if info.Records != 0 || info.ExpiredBacklog != 1 {
		t.Errorf("expected b to be expired at the proposer's time, got %+v", info)
	}
	if n, err := s.Sweep(); err != nil || n != 1 {
		t.Errorf("expected one swept record, got %d (%v)", n, err)
	}
	if n, err := s.ReleaseWhere(db.Filter{}); err != nil || n != 0 {
		t.Errorf("expected an empty table, got %d (%v)", n, err)
	}
}

func TestDistributedStoreRetriesBusyNode(t *testing.T) {
	s, node, c := newTestDistributedStore(t)

	node.busy = retries - 1
	if _, err := s.TryAcquire(db.Record{Name: "a", HolderID: "U1", ExpiryMarker: c.Now()}); err != nil {
		t.Fatalf("TryAcquire should succeed on the last attempt, got %v", err)
	}

	node.busy = retries
	_, err := s.Release("a", "U1")
	var se *store.Error
	if !errors.As(err, &se) || se.Code != store.RetCInternalError {
		t.Fatalf("expected internal error after %d busy answers, got %v", retries, err)
	}
	if node.proposals != 1 {
		t.Errorf("expected a single applied proposal, got %d", node.proposals)
	}

	node.busy = retries
	if _, err := s.Find(db.Filter{}); !errors.As(err, &se) || se.Code != store.RetCInternalError {
		t.Errorf("expected internal error for a busy read, got %v", err)
	}
}

func TestDistributedStoreMalformedResults(t *testing.T) {
	s, node, _ := newTestDistributedStore(t)

	node.result = &sm.Result{Value: uint64(store.RetCSuccess), Data: []byte{1, 2, 3}}
	_, err := s.Sweep()
	var se *store.Error
	if !errors.As(err, &se) || se.Code != store.RetCInternalError {
		t.Errorf("expected internal error for a short count, got %v", err)
	}

	node.result = &sm.Result{Value: uint64(store.RetCInvalidOperation), Data: []byte("rejected")}
	if _, err := s.Release("a", "U1"); !errors.As(err, &se) || se.Code != store.RetCInvalidOperation || se.Msg != "rejected" {
		t.Errorf("expected the state machine error to pass through, got %v", err)
	}

	var wrong interface{} = "not a record list"
	node.readValue = &wrong
	if _, err := s.Find(db.Filter{}); !errors.As(err, &se) || se.Code != store.RetCInternalError {
		t.Errorf("expected internal error for an unexpected read type, got %v", err)
	}
}

func TestDistributedStoreLeadership(t *testing.T) {
	s, node, _ := newTestDistributedStore(t)

	if !s.isLeader() {
		t.Error("a store without replica id always sweeps")
	}

	s.opts.ReplicaID = 2
	node.leader = 1
	if s.isLeader() {
		t.Error("replica 2 must not sweep while 1 leads")
	}
	node.leader = 2
	if !s.isLeader() {
		t.Error("replica 2 should sweep while it leads")
	}
}
