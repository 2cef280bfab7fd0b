package serializer

import (
	"bytes"
	"encoding/gob"

	"github.com/ValentinKolb/dLock/lib/db"
)

// NewGOBSerializer creates a new serializer using Go's binary gob format
func NewGOBSerializer() IRecordSerializer {
	return &gobSerializerImpl{}
}

// gobSerializerImpl implements the IRecordSerializer interface using gob encoding
type gobSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRecordSerializer)
// --------------------------------------------------------------------------

func (g gobSerializerImpl) Serialize(rec db.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g gobSerializerImpl) Deserialize(b []byte, rec *db.Record) error {
	buf := bytes.NewBuffer(b)
	dec := gob.NewDecoder(buf)
	return dec.Decode(rec)
}
