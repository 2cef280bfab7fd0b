package locker

import (
	"errors"
	"reflect"
	"testing"
)

func TestNameEncode(t *testing.T) {
	tests := []struct {
		name    string
		input   Name
		want    string
		wantErr error
	}{
		{"Atom", Atom("resource-1"), "resource-1", nil},
		{"AtomAlphabet", Atom("Az_09-"), "Az_09-", nil},
		{"EmptyAtom", Atom(""), "", ErrInvalidLockName},
		{"AtomWithSeparator", Atom("a:b"), "", ErrInvalidLockName},
		{"AtomWithSpace", Atom("a b"), "", ErrInvalidLockName},
		{"AtomNonASCII", Atom("schlüssel"), "", ErrInvalidLockName},
		{"ZeroName", Name{}, "", ErrInvalidLockName},
		{"Tuple", Tuple("document", "42"), "document:42", nil},
		{"SingleTuple", Tuple("a"), "a", nil},
		{"EmptyTuple", Tuple(), "", ErrInvalidLockName},
		{"TupleBadComponent", Tuple("a", "b!"), "", ErrInvalidLockNameComponent},
		{"TupleEmptyComponent", Tuple("a", ""), "", ErrInvalidLockNameComponent},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.input.Encode()
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestNameAtomsAndTuplesDoNotCollide(t *testing.T) {
	encoded, err := Tuple("a", "b").Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Atom(encoded).Encode(); !errors.Is(err, ErrInvalidLockName) {
		t.Errorf("atom %q must be rejected, got %v", encoded, err)
	}

	single, _ := Tuple("a").Encode()
	atom, _ := Atom("a").Encode()
	if single != atom {
		t.Errorf("a tuple of one atom must encode like the atom: %q != %q", single, atom)
	}
}

func TestDecodeName(t *testing.T) {
	parts := []string{"tenant-1", "document", "42"}
	encoded, err := Tuple(parts...).Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := DecodeName(encoded); !reflect.DeepEqual(got, parts) {
		t.Errorf("expected %v, got %v", parts, got)
	}
}

func TestErrorKinds(t *testing.T) {
	err := newError(KindInvalidArgument, "bad value %d", 7)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Error("expected error to match its sentinel")
	}
	if errors.Is(err, ErrInvalidLockName) {
		t.Error("error must not match another kind")
	}
	if got, want := err.Error(), "invalid-argument: bad value 7"; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if got := ErrFailedToAcquireLock.Error(); got != "failed-to-acquire-lock" {
		t.Errorf("unexpected sentinel message %q", got)
	}
}
