package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
)

// RunLockDBBenchmarks runs all benchmarks for a lock table implementation
func RunLockDBBenchmarks(b *testing.B, name string, factory DBFactory) {

	b.Run("Acquire", func(b *testing.B) {
		benchmarkAcquire(b, factory())
	})

	b.Run("Refresh", func(b *testing.B) {
		benchmarkRefresh(b, factory())
	})

	b.Run("Contended", func(b *testing.B) {
		benchmarkContended(b, factory())
	})

	b.Run("AcquireRelease", func(b *testing.B) {
		benchmarkAcquireRelease(b, factory())
	})

	b.Run("DeleteExpired", func(b *testing.B) {
		benchmarkDeleteExpired(b, factory())
	})

	b.Run("SaveLoad", func(b *testing.B) {
		benchmarkSaveLoad(b, factory)
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for acquiring distinct names
func benchmarkAcquire(b *testing.B, database db.LockDB) {
	b.Cleanup(func() {
		database.Close()
	})

	var counter atomic.Int64
	now := time.Now()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := counter.Add(1)
			database.Upsert(newRecord(fmt.Sprintf("resource-%d", i), "user-1", now), now)
		}
	})
}

// Benchmark for re-acquiring a held lock by its holder
func benchmarkRefresh(b *testing.B, database db.LockDB) {
	b.Cleanup(func() {
		database.Close()
	})

	now := time.Now()
	for i := 0; i < 1000; i++ {
		database.Upsert(newRecord(fmt.Sprintf("resource-%d", i), "user-1", now), now)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			database.Upsert(newRecord(fmt.Sprintf("resource-%d", r.Intn(1000)), "user-1", now), now)
		}
	})
}

// Benchmark for many holders competing for few names
func benchmarkContended(b *testing.B, database db.LockDB) {
	b.Cleanup(func() {
		database.Close()
	})

	var holder atomic.Int64
	now := time.Now()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		id := fmt.Sprintf("user-%d", holder.Add(1))
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			name := fmt.Sprintf("resource-%d", r.Intn(8))
			if _, ok := database.Upsert(newRecord(name, id, now), now); ok {
				database.Delete(name, id, now)
			}
		}
	})
}

// Benchmark for a full acquire and release cycle
func benchmarkAcquireRelease(b *testing.B, database db.LockDB) {
	b.Cleanup(func() {
		database.Close()
	})

	var counter atomic.Int64
	now := time.Now()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			name := fmt.Sprintf("resource-%d", counter.Add(1))
			database.Upsert(newRecord(name, "user-1", now), now)
			database.Delete(name, "user-1", now)
		}
	})
}

// Benchmark for sweeping a table where half the records are dead
func benchmarkDeleteExpired(b *testing.B, database db.LockDB) {
	b.Cleanup(func() {
		database.Close()
	})

	now := time.Now()
	dead := now.Add(-2 * database.Window())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for j := 0; j < 1000; j++ {
			marker := now
			if j%2 == 0 {
				marker = dead
			}
			database.Upsert(newRecord(fmt.Sprintf("resource-%d", j), "user-1", marker), now)
		}
		b.StartTimer()
		database.DeleteExpired(now)
	}
}

// Benchmark for snapshot creation and recovery
func benchmarkSaveLoad(b *testing.B, factory DBFactory) {
	database := factory()
	b.Cleanup(func() {
		database.Close()
	})

	now := time.Now()
	for i := 0; i < 10000; i++ {
		rec := newRecord(fmt.Sprintf("resource-%d", i), fmt.Sprintf("user-%d", i%100), now)
		rec.Metadata = map[string]string{"step": fmt.Sprintf("%d", i)}
		database.Upsert(rec, now)
	}

	var buf bytes.Buffer
	b.Run("Save", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			buf.Reset()
			if err := database.Save(&buf); err != nil {
				b.Fatalf("Save failed: %v", err)
			}
		}
	})

	b.Run("Load", func(b *testing.B) {
		restored := factory()
		defer restored.Close()
		for i := 0; i < b.N; i++ {
			if err := restored.Load(bytes.NewReader(buf.Bytes())); err != nil {
				b.Fatalf("Load failed: %v", err)
			}
		}
	})
}
