package locker

import (
	"context"
	"errors"
	"time"

	"github.com/ValentinKolb/dLock/lib/clock"
	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/store"
)

// Options configures a Locker
type Options struct {
	Name       string        // Diagnostic name (empty = store namespace)
	DefaultTTL time.Duration // Lease used when none is requested (0 or > window = store window)
	Identity   Projection    // Maps the invocation to the holder id (required)
	Attributes []Attribute   // Identity attributes recorded with each lock (nil = DefaultAttributes)
	Debug      bool          // Verbose logging
	Clock      clock.Clock   // Time source for expiry markers and retry sleeps (nil = wall clock)
}

// Locker implements the lock protocol on top of a store.ILockStore.
// It holds no lock state of its own: the store is the only synchronization point.
type Locker struct {
	name       string
	store      store.ILockStore
	defaultTTL time.Duration
	resolver   IdentityResolver
	attributes []Attribute
	validator  *MetadataValidator
	clock      clock.Clock
	log        *prefixedLogger
	metrics    *lockerMetrics
}

// NewLocker creates a locker backed by s.
func NewLocker(s store.ILockStore, opts Options) (*Locker, error) {
	if s == nil {
		return nil, newError(KindInvalidArgument, "store must not be nil")
	}
	if opts.Identity == nil {
		return nil, newError(KindInvalidArgument, "identity projection must not be nil")
	}

	attrs := opts.Attributes
	if attrs == nil {
		attrs = DefaultAttributes
	}
	names := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		if !ValidAtom(attr.Name) || attr.Project == nil {
			return nil, newError(KindInvalidArgument, "invalid identity attribute %q", attr.Name)
		}
		names = append(names, attr.Name)
	}

	name := opts.Name
	if name == "" {
		name = s.Namespace()
	}
	log := newPrefixedLogger(name, opts.Debug)

	window := s.Window()
	ttl := opts.DefaultTTL
	switch {
	case ttl <= 0:
		ttl = window
	case ttl > window:
		log.Warningf("default ttl %s exceeds the store window, using %s", ttl, window)
		ttl = window
	}

	return &Locker{
		name:       name,
		store:      s,
		defaultTTL: ttl,
		resolver:   IdentityResolver{Projection: opts.Identity},
		attributes: append([]Attribute(nil), attrs...),
		validator:  NewMetadataValidator(names, log),
		clock:      clock.OrReal(opts.Clock),
		log:        log,
		metrics:    newLockerMetrics(name),
	}, nil
}

// NewUserIDLocker creates a locker whose holders are identified by user id.
func NewUserIDLocker(s store.ILockStore, defaultTTL time.Duration) (*Locker, error) {
	return NewLocker(s, Options{Name: "user-id", DefaultTTL: defaultTTL, Identity: ByUserID})
}

// NewConnectionIDLocker creates a locker whose holders are identified by connection id.
func NewConnectionIDLocker(s store.ILockStore, defaultTTL time.Duration) (*Locker, error) {
	return NewLocker(s, Options{Name: "connection-id", DefaultTTL: defaultTTL, Identity: ByConnectionID})
}

// --------------------------------------------------------------------------
// Interface Methods (docu see locker.ILocker)
// --------------------------------------------------------------------------

func (l *Locker) AcquireLock(ctx context.Context, name Name, metadata any, ttl time.Duration) (bool, error) {
	holderID, err := l.resolver.Resolve(ctx)
	if err != nil {
		return false, err
	}
	key, err := name.Encode()
	if err != nil {
		return false, err
	}
	meta, err := l.validator.Sanitize(metadata)
	if err != nil {
		return false, err
	}
	if ttl <= 0 || ttl > l.defaultTTL {
		ttl = l.defaultTTL
	}

	inv, _ := InvocationFrom(ctx)
	rec := db.Record{
		Name:               key,
		HolderID:           holderID,
		IdentityAttributes: resolveAttributes(inv, l.attributes),
		ExpiryMarker:       store.LeaseMarker(l.clock.Now(), l.store.Window(), ttl),
		Metadata:           meta,
	}

	stored, err := l.store.TryAcquire(rec)
	switch {
	case err == nil:
		l.metrics.acquired.Inc()
		l.log.Debugf("%q acquired %q (id %s, ttl %s)", holderID, key, stored.ID, ttl)
		return true, nil
	case store.IsConflict(err):
		l.metrics.conflicts.Inc()
		l.log.Debugf("%q failed to acquire %q: held by another holder", holderID, key)
		return false, newError(KindFailedToAcquireLock, "%q is held by another holder", key)
	default:
		l.metrics.failures.Inc()
		l.log.Errorf("failed to acquire %q: %v", key, err)
		return false, err
	}
}

func (l *Locker) ReleaseLock(ctx context.Context, name Name) (bool, error) {
	holderID, err := l.resolver.Resolve(ctx)
	if err != nil {
		return false, err
	}
	key, err := name.Encode()
	if err != nil {
		return false, err
	}

	released, err := l.store.Release(key, holderID)
	if err != nil {
		return false, err
	}
	if released {
		l.metrics.released.Inc()
		l.log.Debugf("%q released %q", holderID, key)
	}
	return released, nil
}

func (l *Locker) ReleaseOwnLock(ctx context.Context, name Name) (bool, error) {
	inv, ok := InvocationFrom(ctx)
	if !ok {
		return false, newError(KindInvalidCallingContext, "no invocation bound to the context")
	}
	if inv.UserID == "" || !l.recordsAttribute(AttrUserID) {
		return l.ReleaseLock(ctx, name)
	}

	key, err := name.Encode()
	if err != nil {
		return false, err
	}
	n, err := l.store.ReleaseWhere(db.Filter{
		Name:       key,
		Attributes: map[string]string{AttrUserID: inv.UserID},
	})
	if err != nil {
		return false, err
	}
	if n > 0 {
		l.metrics.released.Add(n)
		l.log.Debugf("user %q released own lock %q", inv.UserID, key)
	}
	return n > 0, nil
}

func (l *Locker) LockerID(ctx context.Context) (string, error) {
	return l.resolver.Resolve(ctx)
}

func (l *Locker) IdentityAttributes(ctx context.Context) (map[string]string, error) {
	inv, ok := InvocationFrom(ctx)
	if !ok {
		return nil, newError(KindInvalidCallingContext, "no invocation bound to the context")
	}
	return resolveAttributes(inv, l.attributes), nil
}

func (l *Locker) DefaultTTL() time.Duration {
	return l.defaultTTL
}

func (l *Locker) Name() string {
	return l.name
}

func (l *Locker) SetDebug(on bool) {
	l.log.setDebug(on)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func (l *Locker) recordsAttribute(name string) bool {
	for _, attr := range l.attributes {
		if attr.Name == name {
			return true
		}
	}
	return false
}

// retryPolicy controls acquireWithRetry
type retryPolicy struct {
	maxTrials  int
	base       time.Duration
	increment  time.Duration
	multiplier float64
}

// acquireWithRetry calls AcquireLock up to p.maxTrials times. Only
// ErrFailedToAcquireLock is retried; the pause between two trials is taken
// from BackoffDelay and slept through the locker's clock.
func (l *Locker) acquireWithRetry(ctx context.Context, name Name, metadata any, ttl time.Duration, p retryPolicy) error {
	for trial := 1; ; trial++ {
		_, err := l.AcquireLock(ctx, name, metadata, ttl)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrFailedToAcquireLock) || trial >= p.maxTrials {
			return err
		}

		delay := BackoffDelay(trial, p.base, p.increment, p.multiplier)
		l.metrics.retryDelay.Update(delay.Seconds())
		l.log.Debugf("trial %d/%d for %s failed, retrying in %s", trial, p.maxTrials, name, delay)
		l.clock.Sleep(delay)
	}
}
