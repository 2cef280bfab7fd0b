// Package serializer provides lock record serialization for the replicated
// store and for engine snapshots. It defines a common interface and multiple
// implementations for serializing and deserializing db.Record values.
//
// Key Components:
//
//   - IRecordSerializer: Core interface that all serializer implementations must satisfy.
//
//   - binarySerializerImpl: Custom binary format implementation optimized for speed
//     and space efficiency. Uses a flag-based approach to encode only present fields,
//     resulting in compact serialized data with minimal overhead. Map entries are
//     written in key order, so equal records always produce equal bytes.
//
//   - gobSerializerImpl: Implementation using Go's built-in gob encoding.
//
//   - jsonSerializerImpl: Implementation using JSON encoding, useful for debugging
//     or inspecting raft logs with external tools.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s, err := serializer.ByName("binary")
//	data, err := s.Serialize(record)
//	var decoded db.Record
//	err = s.Deserialize(data, &decoded)
package serializer
