// Package util provides helpers shared by lock table engines and the
// replicated store.
//
// The package contains:
//   - functions: seed generation and FNV-1a hashing used for shard selection
//     and for deriving raft replica ids from node addresses
//   - statistics: shard distribution quality computed with go-metrics histograms
package util
