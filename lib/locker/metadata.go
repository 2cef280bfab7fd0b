package locker

import (
	"sort"

	"github.com/lni/dragonboat/v4/logger"
)

// Metadata is caller supplied data stored with a lock.
type Metadata map[string]string

// reservedFields can never be set through metadata
var reservedFields = []string{"id", "name", "holderId", "expiryMarker"}

// MetadataValidator sanitizes caller supplied metadata.
type MetadataValidator struct {
	reserved map[string]struct{}
	warnf    func(format string, args ...interface{})
}

// NewMetadataValidator creates a validator that additionally reserves the given
// identity attribute names. Dropped keys are reported through log (may be nil).
func NewMetadataValidator(attributeNames []string, log logger.ILogger) *MetadataValidator {
	reserved := make(map[string]struct{}, len(reservedFields)+len(attributeNames))
	for _, k := range reservedFields {
		reserved[k] = struct{}{}
	}
	for _, k := range attributeNames {
		reserved[k] = struct{}{}
	}
	v := &MetadataValidator{reserved: reserved, warnf: func(string, ...interface{}) {}}
	if log != nil {
		v.warnf = log.Warningf
	}
	return v
}

// Sanitize returns a validated copy of m. The caller's map is never modified.
//
// Accepted inputs are nil, Metadata, map[string]string and map[string]any with
// string values. Reserved keys are dropped with a warning. All remaining keys
// and values must match [A-Za-z0-9_-]+.
func (v *MetadataValidator) Sanitize(m any) (Metadata, error) {
	var raw map[string]any
	switch t := m.(type) {
	case nil:
		return Metadata{}, nil
	case Metadata:
		raw = stringMapToAny(t)
	case map[string]string:
		raw = stringMapToAny(t)
	case map[string]any:
		raw = t
	default:
		return nil, newError(KindMetadataShouldBeAnObject, "got %T", m)
	}

	// sorted for deterministic error messages
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(Metadata, len(raw))
	for _, k := range keys {
		if _, reserved := v.reserved[k]; reserved {
			v.warnf("dropping reserved metadata key %q", k)
			continue
		}
		if !ValidAtom(k) {
			return nil, newError(KindInvalidArgument, "invalid metadata key %q", k)
		}
		s, ok := raw[k].(string)
		if !ok || !ValidAtom(s) {
			return nil, newError(KindInvalidArgument, "invalid metadata value for key %q: %v", k, raw[k])
		}
		out[k] = s
	}
	return out, nil
}

func stringMapToAny[M ~map[string]string](m M) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
