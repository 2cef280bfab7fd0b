package locker

import "fmt"

// Kind classifies locker errors
type Kind int

const (
	KindInvalidLockName Kind = iota + 1
	KindInvalidLockNameComponent
	KindInvalidCallingContext
	KindInvalidLockerID
	KindMetadataShouldBeAnObject
	KindInvalidArgument
	KindFailedToAcquireLock
)

func (k Kind) String() string {
	switch k {
	case KindInvalidLockName:
		return "invalid-lock-name"
	case KindInvalidLockNameComponent:
		return "invalid-lock-name-component"
	case KindInvalidCallingContext:
		return "invalid-calling-context"
	case KindInvalidLockerID:
		return "invalid-locker-id"
	case KindMetadataShouldBeAnObject:
		return "metadata-should-be-an-object"
	case KindInvalidArgument:
		return "invalid-argument"
	case KindFailedToAcquireLock:
		return "failed-to-acquire-lock"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Error is returned by all locker operations except for store failures,
// which are passed through unchanged.
type Error struct {
	Kind Kind
	Msg  string
}

// Sentinel errors for use with errors.Is. They match every *Error of the same kind.
var (
	ErrInvalidLockName          = &Error{Kind: KindInvalidLockName}
	ErrInvalidLockNameComponent = &Error{Kind: KindInvalidLockNameComponent}
	ErrInvalidCallingContext    = &Error{Kind: KindInvalidCallingContext}
	ErrInvalidLockerID          = &Error{Kind: KindInvalidLockerID}
	ErrMetadataShouldBeAnObject = &Error{Kind: KindMetadataShouldBeAnObject}
	ErrInvalidArgument          = &Error{Kind: KindInvalidArgument}
	ErrFailedToAcquireLock      = &Error{Kind: KindFailedToAcquireLock}
)

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is reports whether target is an *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
