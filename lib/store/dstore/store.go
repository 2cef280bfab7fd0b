package dstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/dLock/lib/clock"
	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/engines/ttlmap"
	"github.com/ValentinKolb/dLock/lib/serializer"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/lib/store/dstore/internal"
	"github.com/dustin/go-humanize"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/rs/xid"
)

var (
	retries = 5
	log     = logger.GetLogger("store")
)

// Options configures the distributed store
type Options struct {
	Namespace     string                       // Identifier of the record collection (empty = "shard-<id>")
	Window        time.Duration                // Sweep window of the replicated engine (0 = ttlmap.DefaultWindow)
	Timeout       time.Duration                // Timeout of a single raft operation (0 = 5s)
	Clock         clock.Clock                  // Time source of the proposer (nil = wall clock)
	Serializer    serializer.IRecordSerializer // Record codec, must match the state machine (nil = binary)
	ReplicaID     uint64                       // Replica of this node, sweeps are only proposed while it leads (0 = always propose)
	SweepInterval time.Duration                // Pause between proposed sweeps (0 = 1s, <0 = no sweeping)
}

// raftNode is the part of a dragonboat.NodeHost used by the store
type raftNode interface {
	GetNoOPSession(shardID uint64) *client.Session
	GetLeaderID(shardID uint64) (uint64, uint64, bool, error)
	SyncPropose(ctx context.Context, session *client.Session, cmd []byte) (sm.Result, error)
	SyncRead(ctx context.Context, shardID uint64, query interface{}) (interface{}, error)
	StaleRead(shardID uint64, query interface{}) (interface{}, error)
}

var _ raftNode = (*dragonboat.NodeHost)(nil)

// storeImpl is the concrete implementation of the ILockStore interface.
// It encapsulates a Dragonboat NodeHost which is used to communicate with the state machine.
type storeImpl struct {
	nh      raftNode
	shardID uint64
	cs      *client.Session
	opts    Options
	clock   clock.Clock
	codec   serializer.IRecordSerializer

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewDistributedStore creates a new distributed store instance which uses raft consensus to ensure strict linearizability
// across multiple nodes.
func NewDistributedStore(nh *dragonboat.NodeHost, shardID uint64, opts *Options) store.ILockStore {
	return newStore(nh, shardID, opts)
}

func newStore(nh raftNode, shardID uint64, opts *Options) *storeImpl {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.Namespace == "" {
		o.Namespace = fmt.Sprintf("shard-%d", shardID)
	}
	if o.Window <= 0 {
		o.Window = ttlmap.DefaultWindow
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.Serializer == nil {
		o.Serializer = serializer.NewBinarySerializer()
	}
	if o.SweepInterval == 0 {
		o.SweepInterval = time.Second
	}

	s := &storeImpl{
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		opts:    o,
		clock:   clock.OrReal(o.Clock),
		codec:   o.Serializer,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if o.SweepInterval > 0 {
		go s.sweepLoop()
	} else {
		close(s.done)
	}
	return s
}

// sweepLoop proposes a sweep every interval while this replica leads the shard
func (s *storeImpl) sweepLoop() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.clock.After(s.opts.SweepInterval):
			if !s.isLeader() {
				continue
			}
			n, err := s.Sweep()
			if err != nil {
				log.Warningf("[%s] sweep failed: %v", s.opts.Namespace, err)
			} else if n > 0 {
				log.Debugf("[%s] swept %s expired lock(s)", s.opts.Namespace, humanize.Comma(int64(n)))
			}
		}
	}
}

func (s *storeImpl) isLeader() bool {
	if s.opts.ReplicaID == 0 {
		return true
	}
	leaderID, _, valid, err := s.nh.GetLeaderID(s.shardID)
	return err == nil && valid && leaderID == s.opts.ReplicaID
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// write serializes a Command and sends it via SyncPropose.
// It returns the result data on success or a *store.Error.
func (s *storeImpl) write(cmd internal.Command) ([]byte, error) {
	cmd.Now = s.clock.Now().UnixNano()
	data := cmd.Serialize()

	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)

		res, err := s.nh.SyncPropose(ctx, s.cs, data)
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.opts.Timeout / 10)
			continue
		}

		if err != nil {
			return nil, store.NewError(store.RetCInternalError, err.Error())
		}
		if res.Value != uint64(store.RetCSuccess) {
			return nil, store.NewError(store.RetCode(res.Value), string(res.Data))
		}
		return res.Data, nil
	}
	return nil, store.NewError(store.RetCInternalError, "timeout")
}

// writeCount sends a command whose result is a count
func (s *storeImpl) writeCount(cmd internal.Command) (int, error) {
	data, err := s.write(cmd)
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, store.NewError(store.RetCInternalError, fmt.Sprintf("unexpected result of %d bytes", len(data)))
	}
	return int(binary.BigEndian.Uint64(data)), nil
}

// read is a generic helper function queries the statemachine
// and attempts to convert the response into the expected type R.
//
// This function uses the SyncRead function (dragonboat) by default to Query the state machine.
// If linearizability is not required, the stale parameter can be set to true to use the faster StaleRead function.
//
// If the read operation fails due to a system busy error, the function retries up to 5 times.
func read[R any](r *storeImpl, q internal.Query, stale bool) (R, error) {
	var zero R
	q.Now = r.clock.Now()
	for i := 0; i < retries; i++ {

		var res interface{}
		var err error

		if stale {
			res, err = r.nh.StaleRead(r.shardID, q)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), r.opts.Timeout)
			res, err = r.nh.SyncRead(ctx, r.shardID, q)
			cancel()
		}

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(r.opts.Timeout / 10)
			continue
		}

		if err != nil {
			var se *store.Error
			if errors.As(err, &se) {
				return zero, se
			}
			return zero, store.NewError(store.RetCInternalError, err.Error())
		}

		casted, ok := res.(R)
		if !ok {
			return zero, store.NewError(store.RetCInternalError,
				fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	return zero, store.NewError(store.RetCInternalError, "timeout")
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) TryAcquire(rec db.Record) (db.Record, error) {
	if rec.Name == "" || rec.HolderID == "" {
		return db.Record{}, store.NewError(store.RetCInvalidOperation, "name and holder id are required")
	}
	// ids are generated by the proposer, replicas must not diverge
	if rec.ID == "" {
		rec.ID = xid.New().String()
	}

	payload, err := s.codec.Serialize(rec)
	if err != nil {
		return db.Record{}, store.NewError(store.RetCInternalError, err.Error())
	}

	data, err := s.write(internal.Command{
		Type:    internal.CommandTTryAcquire,
		Key:     rec.Name,
		Payload: payload,
	})
	if err != nil {
		return db.Record{}, err
	}

	var stored db.Record
	if err := s.codec.Deserialize(data, &stored); err != nil {
		return db.Record{}, store.NewError(store.RetCInternalError, err.Error())
	}
	return stored, nil
}

func (s *storeImpl) Release(name, holderID string) (bool, error) {
	n, err := s.writeCount(internal.Command{
		Type:     internal.CommandTRelease,
		Key:      name,
		HolderID: holderID,
	})
	return n > 0, err
}

func (s *storeImpl) ReleaseWhere(filter db.Filter) (int, error) {
	payload, err := s.codec.Serialize(internal.FilterToRecord(filter))
	if err != nil {
		return 0, store.NewError(store.RetCInternalError, err.Error())
	}
	return s.writeCount(internal.Command{
		Type:    internal.CommandTReleaseWhere,
		Payload: payload,
	})
}

func (s *storeImpl) Find(filter db.Filter) ([]db.Record, error) {
	return read[[]db.Record](s, internal.Query{
		Type:   internal.QueryTFind,
		Filter: filter,
	}, false)
}

func (s *storeImpl) Sweep() (int, error) {
	return s.writeCount(internal.Command{Type: internal.CommandTSweep})
}

func (s *storeImpl) Window() time.Duration {
	return s.opts.Window
}

func (s *storeImpl) Namespace() string {
	return s.opts.Namespace
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return read[db.DatabaseInfo](
		s,
		internal.Query{
			Type: internal.QueryTGetDBInfo,
		},
		true, // Note: allow for stale reads
	)
}

// Close stops the sweeper. The node host is owned by the caller and stays open.
func (s *storeImpl) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
	return nil
}
