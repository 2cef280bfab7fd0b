package locker

import (
	"regexp"
	"strings"
)

// Separator joins the atoms of a tuple name. It is not part of the atom alphabet,
// so an atom can never collide with an encoded tuple.
const Separator = ":"

var atomPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Name is a lock name: a single atom or an ordered tuple of atoms.
type Name struct {
	parts []string
	tuple bool
}

// Atom returns a name consisting of a single atom.
func Atom(s string) Name {
	return Name{parts: []string{s}}
}

// Tuple returns a name consisting of the given atoms in order.
// A tuple of one atom is the same lock as that atom.
func Tuple(parts ...string) Name {
	return Name{parts: append([]string(nil), parts...), tuple: true}
}

// ValidAtom reports whether s is a non-empty string of [A-Za-z0-9_-].
func ValidAtom(s string) bool {
	return atomPattern.MatchString(s)
}

// Encode validates the name and returns its storage key.
func (n Name) Encode() (string, error) {
	if !n.tuple {
		if len(n.parts) != 1 || !ValidAtom(n.parts[0]) {
			return "", newError(KindInvalidLockName, "%q", n.String())
		}
		return n.parts[0], nil
	}

	if len(n.parts) == 0 {
		return "", newError(KindInvalidLockName, "empty tuple")
	}
	for i, part := range n.parts {
		if !ValidAtom(part) {
			return "", newError(KindInvalidLockNameComponent, "component %d: %q", i, part)
		}
	}
	return strings.Join(n.parts, Separator), nil
}

// String returns the name joined by Separator without validating it.
func (n Name) String() string {
	return strings.Join(n.parts, Separator)
}

// DecodeName splits an encoded name into its atoms.
func DecodeName(encoded string) []string {
	return strings.Split(encoded, Separator)
}
