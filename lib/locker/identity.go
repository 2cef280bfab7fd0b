package locker

import "context"

// Identity attribute names recorded with every lock by default
const (
	AttrUserID       = "userId"
	AttrConnectionID = "connectionId"
)

// Invocation describes the caller of a lock operation. The transport layer
// binds one to the context of every request with WithInvocation.
type Invocation struct {
	UserID       string         // authenticated principal, empty if anonymous
	ConnectionID string         // transport session
	Values       map[string]any // additional values for custom projections

	// Unblock lets the transport layer process further requests of the same
	// session while this one waits. It is called before a retry loop with
	// more than one trial and may be nil.
	Unblock func()
}

type invocationKey struct{}

// WithInvocation returns a copy of ctx carrying inv.
func WithInvocation(ctx context.Context, inv *Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFrom returns the invocation bound to ctx.
func InvocationFrom(ctx context.Context) (*Invocation, bool) {
	if ctx == nil {
		return nil, false
	}
	inv, ok := ctx.Value(invocationKey{}).(*Invocation)
	return inv, ok && inv != nil
}

// Projection maps an invocation to a holder identity. A valid identity is a
// non-empty string; anything else is rejected by the resolver.
type Projection func(inv *Invocation) any

// ByUserID identifies callers by their user id.
func ByUserID(inv *Invocation) any {
	if inv.UserID == "" {
		return nil
	}
	return inv.UserID
}

// ByConnectionID identifies callers by their connection id.
func ByConnectionID(inv *Invocation) any {
	if inv.ConnectionID == "" {
		return nil
	}
	return inv.ConnectionID
}

// ByValue identifies callers by inv.Values[key].
func ByValue(key string) Projection {
	return func(inv *Invocation) any {
		return inv.Values[key]
	}
}

// Attribute is a secondary identity field stored with each lock.
type Attribute struct {
	Name    string
	Project Projection
}

// DefaultAttributes records the user and the connection of the holder.
var DefaultAttributes = []Attribute{
	{Name: AttrUserID, Project: ByUserID},
	{Name: AttrConnectionID, Project: ByConnectionID},
}

// IdentityResolver derives the holder identity from the invocation bound to a context.
type IdentityResolver struct {
	Projection Projection
}

// Resolve returns the holder identity of the invocation bound to ctx.
func (r IdentityResolver) Resolve(ctx context.Context) (string, error) {
	inv, ok := InvocationFrom(ctx)
	if !ok {
		return "", newError(KindInvalidCallingContext, "no invocation bound to the context")
	}

	switch id := r.Projection(inv).(type) {
	case nil:
		return "", newError(KindInvalidLockerID, "blank or missing locker ids are forbidden")
	case string:
		if id == "" {
			return "", newError(KindInvalidLockerID, "blank or missing locker ids are forbidden")
		}
		return id, nil
	default:
		return "", newError(KindInvalidLockerID, "projection must return a string, got %T", id)
	}
}

// resolveAttributes evaluates attrs against inv, omitting empty and non-string values.
func resolveAttributes(inv *Invocation, attrs []Attribute) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, attr := range attrs {
		if v, ok := attr.Project(inv).(string); ok && v != "" {
			out[attr.Name] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
