package lstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/dLock/lib/clock"
	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/dustin/go-humanize"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/rs/xid"
)

var log = logger.GetLogger("store")

// DefaultSweepInterval is the pause between two background sweeps
const DefaultSweepInterval = time.Second

// Options configures the local store
type Options struct {
	Clock         clock.Clock   // Time source (nil = wall clock)
	SweepInterval time.Duration // Pause between sweeps (0 = DefaultSweepInterval, <0 = no background sweeping)
}

type storeImpl struct {
	namespace string
	db        db.LockDB
	clock     clock.Clock

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewLocalStore creates a new local store instance.
// This store implementation is not distributed and only works within a single process.
// Unless disabled, a background goroutine sweeps dead records until Close is called.
func NewLocalStore(namespace string, factory store.DBFactory, opts *Options) store.ILockStore {
	if opts == nil {
		opts = &Options{}
	}
	interval := opts.SweepInterval
	if interval == 0 {
		interval = DefaultSweepInterval
	}

	s := &storeImpl{
		namespace: namespace,
		db:        factory(),
		clock:     clock.OrReal(opts.Clock),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	if interval > 0 {
		go s.sweepLoop(interval)
	} else {
		close(s.done)
	}
	return s
}

// sweepLoop removes dead records every interval until the store is closed
func (s *storeImpl) sweepLoop(interval time.Duration) {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.clock.After(interval):
			n := s.db.DeleteExpired(s.clock.Now())
			if n > 0 {
				log.Debugf("[%s] swept %s expired lock(s)", s.namespace, humanize.Comma(int64(n)))
			}
		}
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) TryAcquire(rec db.Record) (db.Record, error) {
	if rec.Name == "" || rec.HolderID == "" {
		return db.Record{}, store.NewError(store.RetCInvalidOperation, "name and holder id are required")
	}
	if rec.ID == "" {
		rec.ID = xid.New().String()
	}

	stored, ok := s.db.Upsert(rec, s.clock.Now())
	if !ok {
		return stored, store.NewError(store.RetCConflict, fmt.Sprintf("lock %q is held by another holder", rec.Name))
	}
	return stored, nil
}

func (s *storeImpl) Release(name, holderID string) (bool, error) {
	return s.db.Delete(name, holderID, s.clock.Now()), nil
}

func (s *storeImpl) ReleaseWhere(filter db.Filter) (int, error) {
	return s.db.DeleteWhere(filter, s.clock.Now()), nil
}

func (s *storeImpl) Find(filter db.Filter) ([]db.Record, error) {
	return s.db.Find(filter, s.clock.Now()), nil
}

func (s *storeImpl) Sweep() (int, error) {
	return s.db.DeleteExpired(s.clock.Now()), nil
}

func (s *storeImpl) Window() time.Duration {
	return s.db.Window()
}

func (s *storeImpl) Namespace() string {
	return s.namespace
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return s.db.GetInfo(s.clock.Now()), nil
}

func (s *storeImpl) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
	return s.db.Close()
}
