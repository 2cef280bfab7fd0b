package locker

import (
	"context"
	"time"
)

// IfLockOptions configures IfLockElse. Start from DefaultIfLockOptions:
// a zero MaxTrials is rejected.
type IfLockOptions[T any] struct {
	Metadata any           // Forwarded to AcquireLock
	TTL      time.Duration // Forwarded to AcquireLock (0 = default ttl)

	MaxTrials                    int           // Acquisition attempts, must be >= 1
	RetryInterval                time.Duration // Base delay between two trials
	LinearBackoffIncrement       time.Duration // Added per extra trial
	ExponentialBackoffMultiplier float64       // Exponent factor per extra trial

	// ReleaseOwnLock releases a lock already held by the current user on the
	// name before the first attempt.
	ReleaseOwnLock bool

	// Receiver is handed to the callbacks. ReceiverFunc takes precedence and
	// is evaluated once, right before the callback runs.
	Receiver     any
	ReceiverFunc func() any

	// ForceNoUnblock keeps the invocation blocked while retrying. By default
	// the Unblock hook of the invocation is called when MaxTrials > 1.
	ForceNoUnblock bool

	OnAcquired    func(receiver any) (T, error)
	OnNotAcquired func(receiver any) (T, error)
}

// DefaultIfLockOptions returns a single trial configuration with a 1s retry interval.
func DefaultIfLockOptions[T any]() IfLockOptions[T] {
	return IfLockOptions[T]{
		MaxTrials:     1,
		RetryInterval: time.Second,
	}
}

func (o IfLockOptions[T]) receiver() any {
	if o.ReceiverFunc != nil {
		return o.ReceiverFunc()
	}
	return o.Receiver
}

// Result is the outcome of IfLockElse.
type Result[T any] struct {
	LockAcquired bool  // Whether OnAcquired ran under the lock
	Outcome      T     // Value returned by the callback that ran
	AcquireErr   error // Why the lock was not acquired (nil if it was)
}

// IfLockElse acquires the lock on name, runs OnAcquired and releases the
// lock afterwards, also if the callback fails or panics. If the lock cannot
// be acquired within MaxTrials attempts OnNotAcquired runs instead.
//
// Only ErrFailedToAcquireLock is retried. Any other failure ends the loop and
// takes the not acquired path; it is reported in Result.AcquireErr and never
// returned. The returned error is the error of the callback that ran, or
// ErrInvalidArgument for an invalid MaxTrials.
//
// The retry loop does not observe the cancellation of ctx once started.
func IfLockElse[T any](ctx context.Context, l *Locker, name Name, opts IfLockOptions[T]) (res Result[T], err error) {
	if opts.MaxTrials < 1 {
		return res, newError(KindInvalidArgument, "max trials must be at least 1, got %d", opts.MaxTrials)
	}

	var acquireErr error
	if opts.ReleaseOwnLock {
		if _, acquireErr = l.ReleaseOwnLock(ctx, name); acquireErr != nil {
			l.log.Warningf("failed to release own lock %s: %v", name, acquireErr)
		}
	}

	if acquireErr == nil {
		if opts.MaxTrials > 1 && !opts.ForceNoUnblock {
			if inv, ok := InvocationFrom(ctx); ok && inv.Unblock != nil {
				inv.Unblock()
			}
		}
		acquireErr = l.acquireWithRetry(ctx, name, opts.Metadata, opts.TTL, retryPolicy{
			maxTrials:  opts.MaxTrials,
			base:       opts.RetryInterval,
			increment:  opts.LinearBackoffIncrement,
			multiplier: opts.ExponentialBackoffMultiplier,
		})
	}

	if acquireErr != nil {
		res.AcquireErr = acquireErr
		res.Outcome, err = call(opts.OnNotAcquired, opts.receiver())
		return res, err
	}

	res.LockAcquired = true
	defer func() {
		if _, relErr := l.ReleaseLock(ctx, name); relErr != nil {
			l.log.Errorf("failed to release %s after critical section: %v", name, relErr)
		}
	}()
	res.Outcome, err = call(opts.OnAcquired, opts.receiver())
	return res, err
}

func call[T any](fn func(receiver any) (T, error), receiver any) (T, error) {
	if fn == nil {
		var zero T
		return zero, nil
	}
	return fn(receiver)
}
