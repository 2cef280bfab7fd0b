package locker

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/clock"
	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/engines/ttlmap"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/lib/store/lstore"
)

const window = time.Minute

var start = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// countingStore counts TryAcquire calls and can inject a store failure
type countingStore struct {
	store.ILockStore
	attempts atomic.Int64
	fail     error
}

func (s *countingStore) TryAcquire(rec db.Record) (db.Record, error) {
	s.attempts.Add(1)
	if s.fail != nil {
		return db.Record{}, s.fail
	}
	return s.ILockStore.TryAcquire(rec)
}

func newTestStore(t *testing.T, c clock.Clock) *countingStore {
	t.Helper()
	s := lstore.NewLocalStore("test-locks", func() db.LockDB {
		return ttlmap.NewTTLMap(&ttlmap.Options{NumShards: 4, Window: window})
	}, &lstore.Options{Clock: c, SweepInterval: -1})
	t.Cleanup(func() { s.Close() })
	return &countingStore{ILockStore: s}
}

func newTestLocker(t *testing.T, opts Options) (*Locker, *countingStore, *clock.Manual) {
	t.Helper()
	c := clock.NewManual(start)
	s := newTestStore(t, c)
	if opts.Identity == nil {
		opts.Identity = ByUserID
	}
	opts.Clock = c
	l, err := NewLocker(s, opts)
	if err != nil {
		t.Fatalf("NewLocker failed: %v", err)
	}
	return l, s, c
}

func as(userID, connectionID string) context.Context {
	return WithInvocation(context.Background(), &Invocation{UserID: userID, ConnectionID: connectionID})
}

func TestNewLocker(t *testing.T) {
	c := clock.NewManual(start)
	s := newTestStore(t, c)

	t.Run("NilStore", func(t *testing.T) {
		if _, err := NewLocker(nil, Options{Identity: ByUserID}); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("expected invalid argument, got %v", err)
		}
	})

	t.Run("NilIdentity", func(t *testing.T) {
		if _, err := NewLocker(s, Options{}); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("expected invalid argument, got %v", err)
		}
	})

	t.Run("InvalidAttribute", func(t *testing.T) {
		_, err := NewLocker(s, Options{Identity: ByUserID, Attributes: []Attribute{{Name: "bad name", Project: ByUserID}}})
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("expected invalid argument, got %v", err)
		}
	})

	t.Run("Defaults", func(t *testing.T) {
		l, err := NewLocker(s, Options{Identity: ByUserID})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if l.DefaultTTL() != window {
			t.Errorf("expected default ttl %s, got %s", window, l.DefaultTTL())
		}
		if l.Name() != "test-locks" {
			t.Errorf("expected the namespace as name, got %q", l.Name())
		}
	})

	t.Run("DefaultTTLClamped", func(t *testing.T) {
		l, err := NewLocker(s, Options{Identity: ByUserID, DefaultTTL: time.Hour})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if l.DefaultTTL() != window {
			t.Errorf("expected default ttl clamped to %s, got %s", window, l.DefaultTTL())
		}
	})

	t.Run("Presets", func(t *testing.T) {
		userLocker, err := NewUserIDLocker(s, 10*time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		connLocker, err := NewConnectionIDLocker(s, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ctx := as("alice", "c1")
		if id, _ := userLocker.LockerID(ctx); id != "alice" {
			t.Errorf("expected holder alice, got %q", id)
		}
		if id, _ := connLocker.LockerID(ctx); id != "c1" {
			t.Errorf("expected holder c1, got %q", id)
		}
		if userLocker.DefaultTTL() != 10*time.Second {
			t.Errorf("unexpected default ttl %s", userLocker.DefaultTTL())
		}
	})
}

func TestAcquireRefreshConflictRelease(t *testing.T) {
	l, _, _ := newTestLocker(t, Options{Name: "acquire"})
	u1, u2 := as("u1", "c1"), as("u2", "c2")
	name := Atom("resource-1")

	if ok, err := l.AcquireLock(u1, name, nil, 0); !ok || err != nil {
		t.Fatalf("first acquisition failed: %v", err)
	}
	if ok, err := l.AcquireLock(u1, name, nil, 0); !ok || err != nil {
		t.Fatalf("refresh by the same holder failed: %v", err)
	}
	if ok, err := l.AcquireLock(u2, name, nil, 0); ok || !errors.Is(err, ErrFailedToAcquireLock) {
		t.Fatalf("expected failed to acquire, got %v, %v", ok, err)
	}

	if released, err := l.ReleaseLock(u2, name); released || err != nil {
		t.Fatalf("release by a non holder must be a no-op, got %v, %v", released, err)
	}
	if released, err := l.ReleaseLock(u1, name); !released || err != nil {
		t.Fatalf("release by the holder failed: %v, %v", released, err)
	}
	if released, err := l.ReleaseLock(u1, name); released || err != nil {
		t.Fatalf("second release must return false, got %v, %v", released, err)
	}

	if ok, err := l.AcquireLock(u2, name, nil, 0); !ok || err != nil {
		t.Fatalf("acquisition after release failed: %v", err)
	}
}

func TestAcquireValidation(t *testing.T) {
	l, s, _ := newTestLocker(t, Options{Name: "validation"})

	tests := []struct {
		name     string
		ctx      context.Context
		lock     Name
		metadata any
		wantErr  error
	}{
		{"NoInvocation", context.Background(), Atom("a"), nil, ErrInvalidCallingContext},
		{"AnonymousCaller", as("", "c1"), Atom("a"), nil, ErrInvalidLockerID},
		{"InvalidName", as("u1", "c1"), Atom("a b"), nil, ErrInvalidLockName},
		{"InvalidComponent", as("u1", "c1"), Tuple("a", "b:c"), nil, ErrInvalidLockNameComponent},
		{"MetadataNotAnObject", as("u1", "c1"), Atom("a"), 42, ErrMetadataShouldBeAnObject},
		{"InvalidMetadata", as("u1", "c1"), Atom("a"), map[string]string{"color": "not valid!"}, ErrInvalidArgument},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := l.AcquireLock(tc.ctx, tc.lock, tc.metadata, 0)
			if ok || !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v, %v", tc.wantErr, ok, err)
			}
		})
	}

	if n := s.attempts.Load(); n != 0 {
		t.Errorf("invalid requests must not reach the store, got %d attempts", n)
	}
}

func TestAcquireRecordsAttributesAndMetadata(t *testing.T) {
	l, _, _ := newTestLocker(t, Options{Name: "record"})
	ctx := as("u1", "c1")

	if _, err := l.AcquireLock(ctx, Tuple("doc", "1"), map[string]any{"name": "x", "color": "blue"}, 10*time.Second); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if _, err := l.AcquireLock(ctx, Tuple("doc", "1"), Metadata{"size": "XL"}, 10*time.Second); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	records, err := l.ListLocks(db.Filter{Name: "doc:1"})
	if err != nil || len(records) != 1 {
		t.Fatalf("expected a single record, got %v, %v", records, err)
	}
	rec := records[0]

	if rec.HolderID != "u1" {
		t.Errorf("expected holder u1, got %q", rec.HolderID)
	}
	wantAttrs := map[string]string{AttrUserID: "u1", AttrConnectionID: "c1"}
	if !reflect.DeepEqual(rec.IdentityAttributes, wantAttrs) {
		t.Errorf("expected attributes %v, got %v", wantAttrs, rec.IdentityAttributes)
	}
	wantMeta := map[string]string{"color": "blue", "size": "XL"}
	if !reflect.DeepEqual(rec.Metadata, wantMeta) {
		t.Errorf("expected merged metadata %v, got %v", wantMeta, rec.Metadata)
	}
	if want := start.Add(-(window - 10*time.Second)); !rec.ExpiryMarker.Equal(want) {
		t.Errorf("expected expiry marker %s, got %s", want, rec.ExpiryMarker)
	}
}

func TestLeaseExpiry(t *testing.T) {
	tests := []struct {
		name       string
		defaultTTL time.Duration
		ttl        time.Duration
		wantLease  time.Duration
	}{
		{"RequestedTTL", 30 * time.Second, 10 * time.Second, 10 * time.Second},
		{"DefaultTTL", 30 * time.Second, 0, 30 * time.Second},
		{"NegativeTTL", 30 * time.Second, -time.Second, 30 * time.Second},
		{"TTLAboveDefault", 30 * time.Second, 5 * time.Minute, 30 * time.Second},
		{"FullWindow", 0, window, window},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l, _, c := newTestLocker(t, Options{Name: "lease", DefaultTTL: tc.defaultTTL})
			u1, u2 := as("u1", "c1"), as("u2", "c2")
			name := Atom("resource-1")

			if _, err := l.AcquireLock(u1, name, nil, tc.ttl); err != nil {
				t.Fatalf("AcquireLock failed: %v", err)
			}

			c.Advance(tc.wantLease - time.Millisecond)
			if _, err := l.AcquireLock(u2, name, nil, 0); !errors.Is(err, ErrFailedToAcquireLock) {
				t.Fatalf("lock must be held just before %s, got %v", tc.wantLease, err)
			}

			c.Advance(time.Millisecond)
			if ok, err := l.AcquireLock(u2, name, nil, 0); !ok || err != nil {
				t.Fatalf("lock must be free after %s, got %v", tc.wantLease, err)
			}
		})
	}
}

func TestStoreErrorsPassThrough(t *testing.T) {
	l, s, _ := newTestLocker(t, Options{Name: "store-error"})
	s.fail = store.NewError(store.RetCInternalError, "connection lost")

	_, err := l.AcquireLock(as("u1", "c1"), Atom("a"), nil, 0)
	if errors.Is(err, ErrFailedToAcquireLock) {
		t.Fatal("store failures must not be reported as conflicts")
	}
	var se *store.Error
	if !errors.As(err, &se) || se.Code != store.RetCInternalError {
		t.Errorf("expected the store error unchanged, got %v", err)
	}
}

func TestConcurrentAcquisition(t *testing.T) {
	l, _, _ := newTestLocker(t, Options{Name: "race"})
	name := Atom("resource-1")
	contenders := []context.Context{as("U1", "c1"), as("U2", "c2")}

	var (
		wg       sync.WaitGroup
		ready    = make(chan struct{})
		winners  atomic.Int32
		conflict atomic.Int32
		unknown  atomic.Int32
	)
	for _, ctx := range contenders {
		wg.Add(1)
		go func(ctx context.Context) {
			defer wg.Done()
			<-ready
			ok, err := l.AcquireLock(ctx, name, nil, 0)
			switch {
			case ok && err == nil:
				winners.Add(1)
			case errors.Is(err, ErrFailedToAcquireLock):
				conflict.Add(1)
			default:
				unknown.Add(1)
			}
		}(ctx)
	}
	close(ready)
	wg.Wait()

	if winners.Load() != 1 || conflict.Load() != 1 || unknown.Load() != 0 {
		t.Errorf("expected one winner and one conflict, got %d winners, %d conflicts, %d other",
			winners.Load(), conflict.Load(), unknown.Load())
	}
}

func TestReleaseOwnLock(t *testing.T) {
	l, _, _ := newTestLocker(t, Options{Name: "release-own", Identity: ByConnectionID})
	name := Atom("resource-1")
	first, second := as("alice", "c1"), as("alice", "c2")

	if _, err := l.AcquireLock(first, name, nil, 0); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if released, _ := l.ReleaseLock(second, name); released {
		t.Fatal("another connection must not release the lock with ReleaseLock")
	}
	if released, _ := l.ReleaseOwnLock(as("bob", "c3"), name); released {
		t.Fatal("another user must not release the lock")
	}
	if released, err := l.ReleaseOwnLock(second, name); !released || err != nil {
		t.Fatalf("expected the user to release its own lock, got %v, %v", released, err)
	}
	if _, err := l.ReleaseOwnLock(context.Background(), name); !errors.Is(err, ErrInvalidCallingContext) {
		t.Errorf("expected invalid calling context, got %v", err)
	}
}

func TestReleaseOwnLockWithoutUser(t *testing.T) {
	l, _, _ := newTestLocker(t, Options{Name: "release-own-anonymous", Identity: ByConnectionID})
	name := Atom("resource-1")
	anonymous := as("", "c1")

	if _, err := l.AcquireLock(anonymous, name, nil, 0); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if released, err := l.ReleaseOwnLock(anonymous, name); !released || err != nil {
		t.Fatalf("expected fallback to the holder id, got %v, %v", released, err)
	}
}

func TestIdentityAttributesAndDebug(t *testing.T) {
	l, _, _ := newTestLocker(t, Options{Name: "attributes", Debug: true})

	attrs, err := l.IdentityAttributes(as("u1", "c1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := map[string]string{AttrUserID: "u1", AttrConnectionID: "c1"}; !reflect.DeepEqual(attrs, want) {
		t.Errorf("expected %v, got %v", want, attrs)
	}
	if _, err := l.IdentityAttributes(context.Background()); !errors.Is(err, ErrInvalidCallingContext) {
		t.Errorf("expected invalid calling context, got %v", err)
	}

	if !l.log.debug.Load() {
		t.Error("expected debug logging to be enabled")
	}
	l.SetDebug(false)
	if l.log.debug.Load() {
		t.Error("expected debug logging to be disabled")
	}

	// a second locker with the same name keeps its own setting
	other, _, _ := newTestLocker(t, Options{Name: "attributes"})
	other.SetDebug(true)
	if l.log.debug.Load() {
		t.Error("enabling debug on another locker must not affect this one")
	}
	other.SetDebug(false)
	l.SetDebug(true)
	if other.log.debug.Load() || !l.log.debug.Load() {
		t.Error("debug flags of lockers sharing a name are not independent")
	}
}
