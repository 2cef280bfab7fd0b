package locker

import (
	"context"

	"github.com/ValentinKolb/dLock/lib/db"
)

// --------------------------------------------------------------------------
// Interface Methods (docu see locker.IAdmin)
// --------------------------------------------------------------------------

// ReleaseAllLocks deletes every record of the store.
func (l *Locker) ReleaseAllLocks() (int, error) {
	return l.releaseWhere(db.Filter{})
}

// ReleaseAllOwnLocks deletes every record held by holderID.
func (l *Locker) ReleaseAllOwnLocks(holderID string) (int, error) {
	if holderID == "" {
		return 0, newError(KindInvalidArgument, "holder id must not be empty")
	}
	return l.releaseWhere(db.Filter{HolderID: holderID})
}

// ReleaseLocksByIdentityAttribute deletes every record whose identity
// attribute attr equals value, independent of the holder.
func (l *Locker) ReleaseLocksByIdentityAttribute(attr, value string) (int, error) {
	if attr == "" || value == "" {
		return 0, newError(KindInvalidArgument, "identity attribute and value must not be empty")
	}
	return l.releaseWhere(db.Filter{Attributes: map[string]string{attr: value}})
}

// ReleaseAllCurrentConnectionLocks deletes every record acquired through the
// connection of the current invocation.
func (l *Locker) ReleaseAllCurrentConnectionLocks(ctx context.Context) (int, error) {
	connID, err := currentConnection(ctx)
	if err != nil {
		return 0, err
	}
	return l.releaseWhere(db.Filter{Attributes: map[string]string{AttrConnectionID: connID}})
}

// ReleaseAllOwnCurrentConnectionLocks deletes every record the current user
// acquired through the connection of the current invocation. Records are
// matched by the userId attribute; without a user, or if the locker does not
// record userId, the resolved holder is used instead.
func (l *Locker) ReleaseAllOwnCurrentConnectionLocks(ctx context.Context) (int, error) {
	connID, err := currentConnection(ctx)
	if err != nil {
		return 0, err
	}

	filter := db.Filter{Attributes: map[string]string{AttrConnectionID: connID}}
	if inv, _ := InvocationFrom(ctx); inv.UserID != "" && l.recordsAttribute(AttrUserID) {
		filter.Attributes[AttrUserID] = inv.UserID
	} else if filter.HolderID, err = l.resolver.Resolve(ctx); err != nil {
		return 0, err
	}
	return l.releaseWhere(filter)
}

// ReleaseLockByID deletes the record with the given store assigned id.
func (l *Locker) ReleaseLockByID(id string) (bool, error) {
	if id == "" {
		return false, newError(KindInvalidArgument, "record id must not be empty")
	}
	n, err := l.releaseWhere(db.Filter{ID: id})
	return n > 0, err
}

// ListLocks returns all live records matching filter, ordered by name.
func (l *Locker) ListLocks(filter db.Filter) ([]db.Record, error) {
	return l.store.Find(filter)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func (l *Locker) releaseWhere(filter db.Filter) (int, error) {
	n, err := l.store.ReleaseWhere(filter)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.metrics.released.Add(n)
	}
	l.log.Infof("administrative release %+v removed %d lock(s)", filter, n)
	return n, nil
}

func currentConnection(ctx context.Context) (string, error) {
	inv, ok := InvocationFrom(ctx)
	if !ok {
		return "", newError(KindInvalidCallingContext, "no invocation bound to the context")
	}
	if inv.ConnectionID == "" {
		return "", newError(KindInvalidCallingContext, "invocation carries no connection id")
	}
	return inv.ConnectionID, nil
}
