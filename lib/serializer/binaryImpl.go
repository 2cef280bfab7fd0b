package serializer

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRecordSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRecordSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasID         byte = 1 << 0
	hasName       byte = 1 << 1
	hasHolderID   byte = 1 << 2
	hasExpiry     byte = 1 << 3
	hasAttributes byte = 1 << 4
	hasMetadata   byte = 1 << 5
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRecordSerializer)
// --------------------------------------------------------------------------

// Serialize writes the record with the format:
// 1 byte for flags,
// for each present string field: 4 bytes length (big endian) + data,
// 8 bytes expiry marker (unix nanoseconds, big endian) if present,
// for each present map: 4 bytes entry count followed by length prefixed key/value pairs (sorted by key)
func (b binarySerializerImpl) Serialize(rec db.Record) ([]byte, error) {
	result := make([]byte, 0, b.sizeBytes(rec))

	var flags byte
	if rec.ID != "" {
		flags |= hasID
	}
	if rec.Name != "" {
		flags |= hasName
	}
	if rec.HolderID != "" {
		flags |= hasHolderID
	}
	if !rec.ExpiryMarker.IsZero() {
		flags |= hasExpiry
	}
	if len(rec.IdentityAttributes) > 0 {
		flags |= hasAttributes
	}
	if len(rec.Metadata) > 0 {
		flags |= hasMetadata
	}
	result = append(result, flags)

	if flags&hasID != 0 {
		result = appendString(result, rec.ID)
	}
	if flags&hasName != 0 {
		result = appendString(result, rec.Name)
	}
	if flags&hasHolderID != 0 {
		result = appendString(result, rec.HolderID)
	}
	if flags&hasExpiry != 0 {
		result = binary.BigEndian.AppendUint64(result, uint64(rec.ExpiryMarker.UnixNano()))
	}
	if flags&hasAttributes != 0 {
		result = appendMap(result, rec.IdentityAttributes)
	}
	if flags&hasMetadata != 0 {
		result = appendMap(result, rec.Metadata)
	}

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, rec *db.Record) error {
	if len(data) < 1 {
		return fmt.Errorf("data too short for record")
	}
	*rec = db.Record{}

	flags := data[0]
	pos := 1
	var err error

	if flags&hasID != 0 {
		if rec.ID, pos, err = readString(data, pos); err != nil {
			return fmt.Errorf("failed to read id: %w", err)
		}
	}
	if flags&hasName != 0 {
		if rec.Name, pos, err = readString(data, pos); err != nil {
			return fmt.Errorf("failed to read name: %w", err)
		}
	}
	if flags&hasHolderID != 0 {
		if rec.HolderID, pos, err = readString(data, pos); err != nil {
			return fmt.Errorf("failed to read holder id: %w", err)
		}
	}
	if flags&hasExpiry != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for expiry marker")
		}
		rec.ExpiryMarker = time.Unix(0, int64(binary.BigEndian.Uint64(data[pos:pos+8]))).UTC()
		pos += 8
	}
	if flags&hasAttributes != 0 {
		if rec.IdentityAttributes, pos, err = readMap(data, pos); err != nil {
			return fmt.Errorf("failed to read identity attributes: %w", err)
		}
	}
	if flags&hasMetadata != 0 {
		if rec.Metadata, pos, err = readMap(data, pos); err != nil {
			return fmt.Errorf("failed to read metadata: %w", err)
		}
	}

	if pos != len(data) {
		return fmt.Errorf("unexpected %d trailing bytes", len(data)-pos)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// sizeBytes returns the exact number of bytes needed to serialize rec
func (b binarySerializerImpl) sizeBytes(rec db.Record) int {
	size := 1
	for _, s := range []string{rec.ID, rec.Name, rec.HolderID} {
		if s != "" {
			size += 4 + len(s)
		}
	}
	if !rec.ExpiryMarker.IsZero() {
		size += 8
	}
	for _, m := range []map[string]string{rec.IdentityAttributes, rec.Metadata} {
		if len(m) > 0 {
			size += 4
			for k, v := range m {
				size += 8 + len(k) + len(v)
			}
		}
	}
	return size
}

func appendString(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

func appendMap(dst []byte, m map[string]string) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	dst = binary.BigEndian.AppendUint32(dst, uint32(len(keys)))
	for _, k := range keys {
		dst = appendString(dst, k)
		dst = appendString(dst, m[k])
	}
	return dst
}

func readString(data []byte, pos int) (string, int, error) {
	if pos+4 > len(data) {
		return "", pos, fmt.Errorf("data too short for length prefix")
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if pos+n > len(data) {
		return "", pos, fmt.Errorf("data too short for string of length %d", n)
	}
	return string(data[pos : pos+n]), pos + n, nil
}

func readMap(data []byte, pos int) (map[string]string, int, error) {
	if pos+4 > len(data) {
		return nil, pos, fmt.Errorf("data too short for entry count")
	}
	count := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4

	m := make(map[string]string, min(count, 64))
	for i := 0; i < count; i++ {
		var k, v string
		var err error
		if k, pos, err = readString(data, pos); err != nil {
			return nil, pos, err
		}
		if v, pos, err = readString(data, pos); err != nil {
			return nil, pos, err
		}
		m[k] = v
	}
	return m, pos, nil
}
