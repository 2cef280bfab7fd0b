// Package testing provides standardised tests and benchmarks for
// lock table engines that satisfy the db.LockDB interface.
//
// The package contains:
//   - testing: A conformance suite for the LockDB contract (uniqueness per name,
//     refresh on re-acquisition, lazy expiry, sweeping, filter deletes, persistence)
//   - benchmark: Performance tests for acquisition, contention, sweeping and snapshots
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func() db.LockDB {
//		return NewMyEngine()
//	}
//
//	// Running the standard test suite
//	dbtesting.RunLockDBTests(t, "MyEngine", factory)
//
//	// Running performance benchmarks
//	dbtesting.RunLockDBBenchmarks(b, "MyEngine", factory)
package testing
