package locker

import (
	"context"
	"errors"
	"testing"

	"github.com/ValentinKolb/dLock/lib/db"
)

// seedLocks acquires a and b as u1@c1, c as u2@c2, d as u1@c3 and e as u2@c1
func seedLocks(t *testing.T, l *Locker) {
	t.Helper()
	seeds := []struct {
		user, conn, name string
	}{
		{"u1", "c1", "a"},
		{"u1", "c1", "b"},
		{"u2", "c2", "c"},
		{"u1", "c3", "d"},
		{"u2", "c1", "e"},
	}
	for _, s := range seeds {
		if _, err := l.AcquireLock(as(s.user, s.conn), Atom(s.name), nil, 0); err != nil {
			t.Fatalf("AcquireLock(%s) failed: %v", s.name, err)
		}
	}
}

func TestAdminReleases(t *testing.T) {
	tests := []struct {
		name      string
		release   func(l *Locker) (int, error)
		wantCount int
		wantErr   error
		remaining []string
	}{
		{
			name:      "ReleaseAllLocks",
			release:   func(l *Locker) (int, error) { return l.ReleaseAllLocks() },
			wantCount: 5,
		},
		{
			name:      "ReleaseAllOwnLocks",
			release:   func(l *Locker) (int, error) { return l.ReleaseAllOwnLocks("u1") },
			wantCount: 3,
			remaining: []string{"c", "e"},
		},
		{
			name:    "ReleaseAllOwnLocksEmptyHolder",
			release: func(l *Locker) (int, error) { return l.ReleaseAllOwnLocks("") },
			wantErr: ErrInvalidArgument,
		},
		{
			name: "ReleaseLocksByIdentityAttribute",
			release: func(l *Locker) (int, error) {
				return l.ReleaseLocksByIdentityAttribute(AttrConnectionID, "c1")
			},
			wantCount: 3,
			remaining: []string{"c", "d"},
		},
		{
			name: "ReleaseLocksByIdentityAttributeEmptyValue",
			release: func(l *Locker) (int, error) {
				return l.ReleaseLocksByIdentityAttribute(AttrConnectionID, "")
			},
			wantErr: ErrInvalidArgument,
		},
		{
			name: "ReleaseAllCurrentConnectionLocks",
			release: func(l *Locker) (int, error) {
				return l.ReleaseAllCurrentConnectionLocks(as("u2", "c1"))
			},
			wantCount: 3,
			remaining: []string{"c", "d"},
		},
		{
			name: "ReleaseAllOwnCurrentConnectionLocks",
			release: func(l *Locker) (int, error) {
				return l.ReleaseAllOwnCurrentConnectionLocks(as("u2", "c1"))
			},
			wantCount: 1,
			remaining: []string{"a", "b", "c", "d"},
		},
		{
			name: "CurrentConnectionWithoutInvocation",
			release: func(l *Locker) (int, error) {
				return l.ReleaseAllCurrentConnectionLocks(context.Background())
			},
			wantErr: ErrInvalidCallingContext,
		},
		{
			name: "CurrentConnectionWithoutConnection",
			release: func(l *Locker) (int, error) {
				return l.ReleaseAllOwnCurrentConnectionLocks(as("u1", ""))
			},
			wantErr: ErrInvalidCallingContext,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l, _, _ := newTestLocker(t, Options{Name: "admin"})
			seedLocks(t, l)

			n, err := tc.release(l)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if n != tc.wantCount {
				t.Errorf("expected %d released locks, got %d", tc.wantCount, n)
			}

			records, err := l.ListLocks(db.Filter{})
			if err != nil {
				t.Fatalf("ListLocks failed: %v", err)
			}
			if len(records) != len(tc.remaining) {
				t.Fatalf("expected remaining locks %v, got %d records", tc.remaining, len(records))
			}
			for i, rec := range records {
				if rec.Name != tc.remaining[i] {
					t.Errorf("expected remaining lock %q at %d, got %q", tc.remaining[i], i, rec.Name)
				}
			}
		})
	}
}

func TestReleaseLockByID(t *testing.T) {
	l, _, _ := newTestLocker(t, Options{Name: "admin-id"})
	seedLocks(t, l)

	records, err := l.ListLocks(db.Filter{Name: "c"})
	if err != nil || len(records) != 1 {
		t.Fatalf("expected lock c, got %v, %v", records, err)
	}

	if released, err := l.ReleaseLockByID(records[0].ID); !released || err != nil {
		t.Fatalf("expected the lock to be released, got %v, %v", released, err)
	}
	if released, err := l.ReleaseLockByID(records[0].ID); released || err != nil {
		t.Fatalf("second release must return false, got %v, %v", released, err)
	}
	if _, err := l.ReleaseLockByID(""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected invalid argument, got %v", err)
	}

	if ok, err := l.AcquireLock(as("u1", "c1"), Atom("c"), nil, 0); !ok || err != nil {
		t.Errorf("lock c must be free after the release by id, got %v", err)
	}
}

func TestListLocks(t *testing.T) {
	l, _, _ := newTestLocker(t, Options{Name: "admin-list"})
	seedLocks(t, l)

	tests := []struct {
		name   string
		filter db.Filter
		want   []string
	}{
		{"All", db.Filter{}, []string{"a", "b", "c", "d", "e"}},
		{"ByHolder", db.Filter{HolderID: "u2"}, []string{"c", "e"}},
		{"ByConnection", db.Filter{Attributes: map[string]string{AttrConnectionID: "c1"}}, []string{"a", "b", "e"}},
		{"ByName", db.Filter{Name: "d"}, []string{"d"}},
		{"NoMatch", db.Filter{HolderID: "u3"}, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			records, err := l.ListLocks(tc.filter)
			if err != nil {
				t.Fatalf("ListLocks failed: %v", err)
			}
			if len(records) != len(tc.want) {
				t.Fatalf("expected %v, got %d records", tc.want, len(records))
			}
			for i, rec := range records {
				if rec.Name != tc.want[i] {
					t.Errorf("expected %q at %d, got %q", tc.want[i], i, rec.Name)
				}
			}
		})
	}
}

func TestReleaseAllOwnCurrentConnectionLocksSharedConnection(t *testing.T) {
	// with connection identity all users of c1 share one holder id
	l, _, _ := newTestLocker(t, Options{Name: "admin-shared", Identity: ByConnectionID})
	for _, s := range []struct{ user, name string }{{"u1", "a"}, {"u2", "b"}, {"u1", "c"}} {
		if ok, err := l.AcquireLock(as(s.user, "c1"), Atom(s.name), nil, 0); !ok || err != nil {
			t.Fatalf("AcquireLock(%s) failed: %v", s.name, err)
		}
	}

	n, err := l.ReleaseAllOwnCurrentConnectionLocks(as("u1", "c1"))
	if err != nil || n != 2 {
		t.Fatalf("expected the two locks of u1 to be released, got %d (%v)", n, err)
	}
	records, _ := l.ListLocks(db.Filter{})
	if len(records) != 1 || records[0].Name != "b" {
		t.Fatalf("expected only the lock of u2 to remain, got %+v", records)
	}

	// without a user the holder of the connection is used
	n, err = l.ReleaseAllOwnCurrentConnectionLocks(as("", "c1"))
	if err != nil || n != 1 {
		t.Errorf("expected the remaining lock to be released by holder, got %d (%v)", n, err)
	}
}
