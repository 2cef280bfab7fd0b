package serializer

import (
	"fmt"

	"github.com/ValentinKolb/dLock/lib/db"
)

// IRecordSerializer is the interface for all lock record serializers
type IRecordSerializer interface {
	// Serialize serializes a Record into a byte array
	// It returns the serialized byte array and an error if any
	Serialize(rec db.Record) ([]byte, error)
	// Deserialize deserializes a byte array into a Record
	// It takes a byte array and a pointer to a Record as parameters
	// It returns an error if any
	Deserialize(b []byte, rec *db.Record) error
}

// ByName returns the serializer registered under name (json, gob, binary).
func ByName(name string) (IRecordSerializer, error) {
	switch name {
	case "json":
		return NewJSONSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	case "binary", "":
		return NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s (expected one of: json, gob, binary)", name)
	}
}
