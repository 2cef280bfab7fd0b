package serializer

import (
	"encoding/json"

	"github.com/ValentinKolb/dLock/lib/db"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer() IRecordSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IRecordSerializer interface using json encoding
type jsonSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRecordSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Serialize(rec db.Record) ([]byte, error) {
	return json.Marshal(rec)
}

func (j jsonSerializerImpl) Deserialize(b []byte, rec *db.Record) error {
	return json.Unmarshal(b, rec)
}
