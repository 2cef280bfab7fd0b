package testing

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
)

// DBFactory is a function that creates a new instance of a LockDB implementation
type DBFactory func() db.LockDB

// RunLockDBTests runs a comprehensive test suite for a LockDB implementation.
func RunLockDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Upsert&Get", func(t *testing.T) {
			testUpsertGet(t, factory())
		})

		t.Run("Conflict", func(t *testing.T) {
			testConflict(t, factory())
		})

		t.Run("Refresh", func(t *testing.T) {
			testRefresh(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("LazyExpiry", func(t *testing.T) {
			testLazyExpiry(t, factory())
		})

		t.Run("DeleteExpired", func(t *testing.T) {
			testDeleteExpired(t, factory())
		})

		t.Run("DeleteWhere", func(t *testing.T) {
			testDeleteWhere(t, factory())
		})

		t.Run("Find", func(t *testing.T) {
			testFind(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("Snapshot", func(t *testing.T) {
			testSnapshot(t, factory)
		})

		t.Run("ConcurrentUpsert", func(t *testing.T) {
			testConcurrentUpsert(t, factory())
		})

		t.Run("Info", func(t *testing.T) {
			testInfo(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// baseTime is the fixed point in time all tests start from
var baseTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newRecord(name, holder string, marker time.Time) db.Record {
	return db.Record{
		ID:           "id-" + name + "-" + holder,
		Name:         name,
		HolderID:     holder,
		ExpiryMarker: marker,
	}
}

func mustUpsert(t *testing.T, database db.LockDB, rec db.Record, now time.Time) db.Record {
	t.Helper()
	stored, ok := database.Upsert(rec, now)
	if !ok {
		t.Fatalf("Expected upsert of %q by %q to succeed, conflicting holder is %q", rec.Name, rec.HolderID, stored.HolderID)
	}
	return stored
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testUpsertGet(t *testing.T, database db.LockDB) {
	defer database.Close()

	rec := newRecord("resource-1", "user-1", baseTime)
	rec.Metadata = map[string]string{"color": "blue"}
	stored := mustUpsert(t, database, rec, baseTime)

	if stored.ID != rec.ID || stored.HolderID != "user-1" || stored.Metadata["color"] != "blue" {
		t.Errorf("Unexpected stored record: %+v", stored)
	}

	got, ok := database.Get("resource-1", baseTime)
	if !ok {
		t.Fatalf("Expected record to exist after Upsert")
	}
	if got.HolderID != "user-1" || !got.ExpiryMarker.Equal(baseTime) {
		t.Errorf("Unexpected record: %+v", got)
	}

	// returned records are copies
	got.Metadata["color"] = "red"
	again, _ := database.Get("resource-1", baseTime)
	if again.Metadata["color"] != "blue" {
		t.Errorf("Get should return a copy, not a reference to the stored record")
	}

	// the caller's record is copied as well
	rec.Metadata["color"] = "green"
	again, _ = database.Get("resource-1", baseTime)
	if again.Metadata["color"] != "blue" {
		t.Errorf("Upsert should not retain the caller's maps")
	}

	if _, ok := database.Get("nonexistent", baseTime); ok {
		t.Errorf("Expected nonexistent name to return loaded=false")
	}
}

func testConflict(t *testing.T, database db.LockDB) {
	defer database.Close()

	mustUpsert(t, database, newRecord("resource-1", "user-1", baseTime), baseTime)

	other := newRecord("resource-1", "user-2", baseTime)
	other.Metadata = map[string]string{"color": "red"}
	current, ok := database.Upsert(other, baseTime)
	if ok {
		t.Fatalf("Expected upsert by a different holder to fail")
	}
	if current.HolderID != "user-1" {
		t.Errorf("Expected conflicting record to be held by user-1, got %q", current.HolderID)
	}

	got, _ := database.Get("resource-1", baseTime)
	if got.HolderID != "user-1" || got.Metadata != nil || got.ID != "id-resource-1-user-1" {
		t.Errorf("Failed upsert must not modify the stored record: %+v", got)
	}
}

func testRefresh(t *testing.T, database db.LockDB) {
	defer database.Close()

	first := newRecord("resource-1", "user-1", baseTime)
	first.IdentityAttributes = map[string]string{"userId": "user-1", "connectionId": "conn-1"}
	first.Metadata = map[string]string{"a": "1", "b": "2"}
	mustUpsert(t, database, first, baseTime)

	later := baseTime.Add(database.Window() / 2)
	second := newRecord("resource-1", "user-1", later)
	second.ID = "another-id"
	second.IdentityAttributes = map[string]string{"connectionId": "conn-2"}
	second.Metadata = map[string]string{"b": "3", "c": "4"}
	stored := mustUpsert(t, database, second, later)

	if stored.ID != first.ID {
		t.Errorf("Refresh must keep the record id, got %q", stored.ID)
	}
	if !stored.ExpiryMarker.Equal(later) {
		t.Errorf("Refresh must replace the expiry marker, got %v", stored.ExpiryMarker)
	}
	wantMeta := map[string]string{"a": "1", "b": "3", "c": "4"}
	for k, v := range wantMeta {
		if stored.Metadata[k] != v {
			t.Errorf("Metadata[%q] = %q, want %q", k, stored.Metadata[k], v)
		}
	}
	if stored.IdentityAttributes["userId"] != "user-1" || stored.IdentityAttributes["connectionId"] != "conn-2" {
		t.Errorf("Unexpected identity attributes after refresh: %v", stored.IdentityAttributes)
	}

	// the record lives a full window from the new marker
	if _, ok := database.Get("resource-1", baseTime.Add(database.Window())); !ok {
		t.Errorf("Refreshed record should outlive the first expiry marker")
	}
}

func testDelete(t *testing.T, database db.LockDB) {
	defer database.Close()

	mustUpsert(t, database, newRecord("resource-1", "user-1", baseTime), baseTime)

	if database.Delete("resource-1", "user-2", baseTime) {
		t.Errorf("Delete by a different holder must not remove the record")
	}
	if _, ok := database.Get("resource-1", baseTime); !ok {
		t.Errorf("Record should still exist after foreign delete")
	}
	if !database.Delete("resource-1", "user-1", baseTime) {
		t.Errorf("Delete by the holder should remove the record")
	}
	if database.Delete("resource-1", "user-1", baseTime) {
		t.Errorf("Second delete should report false")
	}
	if database.Delete("nonexistent", "user-1", baseTime) {
		t.Errorf("Delete of nonexistent name should report false")
	}

	// a different holder can acquire after the release
	mustUpsert(t, database, newRecord("resource-1", "user-2", baseTime), baseTime)
}

func testLazyExpiry(t *testing.T, database db.LockDB) {
	defer database.Close()

	window := database.Window()
	mustUpsert(t, database, newRecord("resource-1", "user-1", baseTime), baseTime)

	justBefore := baseTime.Add(window - time.Nanosecond)
	if _, ok := database.Get("resource-1", justBefore); !ok {
		t.Errorf("Record should be live just before the window elapsed")
	}
	if _, ok := database.Upsert(newRecord("resource-1", "user-2", justBefore), justBefore); ok {
		t.Errorf("Record should still conflict just before the window elapsed")
	}

	deadline := baseTime.Add(window)
	if _, ok := database.Get("resource-1", deadline); ok {
		t.Errorf("Record should be dead once the window elapsed")
	}
	if database.Delete("resource-1", "user-1", deadline) {
		t.Errorf("Deleting a dead record should report false")
	}

	// a dead record never blocks another holder, even before a sweep
	mustUpsert(t, database, newRecord("resource-2", "user-1", baseTime), baseTime)
	stored := mustUpsert(t, database, newRecord("resource-2", "user-2", deadline), deadline)
	if stored.ID != "id-resource-2-user-2" {
		t.Errorf("Replacing a dead record must insert the new record, got id %q", stored.ID)
	}
}

func testDeleteExpired(t *testing.T, database db.LockDB) {
	defer database.Close()

	window := database.Window()
	for i := 0; i < 10; i++ {
		marker := baseTime
		if i%2 == 0 {
			// back-dated markers expire half a window earlier
			marker = baseTime.Add(-window / 2)
		}
		mustUpsert(t, database, newRecord(fmt.Sprintf("resource-%d", i), "user-1", marker), baseTime)
	}

	if n := database.DeleteExpired(baseTime); n != 0 {
		t.Errorf("Expected no expired records, got %d", n)
	}

	half := baseTime.Add(window / 2)
	if n := database.DeleteExpired(half); n != 5 {
		t.Errorf("Expected 5 expired records, got %d", n)
	}
	if n := database.DeleteExpired(half); n != 0 {
		t.Errorf("Second sweep should find nothing, got %d", n)
	}
	if info := database.GetInfo(half); info.Records != 5 || info.ExpiredBacklog != 0 {
		t.Errorf("Expected 5 live records after sweep, got %+v", info)
	}

	if n := database.DeleteExpired(baseTime.Add(window)); n != 5 {
		t.Errorf("Expected the remaining 5 records to expire, got %d", n)
	}
}

func testDeleteWhere(t *testing.T, database db.LockDB) {
	defer database.Close()

	for i := 0; i < 6; i++ {
		rec := newRecord(fmt.Sprintf("resource-%d", i), fmt.Sprintf("user-%d", i%2), baseTime)
		rec.IdentityAttributes = map[string]string{"connectionId": fmt.Sprintf("conn-%d", i%3)}
		mustUpsert(t, database, rec, baseTime)
	}

	// each case sees the table left behind by the previous one
	testCases := []struct {
		name   string
		filter db.Filter
		want   int
	}{
		{"ByID", db.Filter{ID: "id-resource-0-user-0"}, 1},
		{"ByUnknownID", db.Filter{ID: "unknown"}, 0},
		{"ByHolder", db.Filter{HolderID: "user-1"}, 3},
		{"ByAttribute", db.Filter{Attributes: map[string]string{"connectionId": "conn-2"}}, 1},
		{"All", db.Filter{}, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if n := database.DeleteWhere(tc.filter, baseTime); n != tc.want {
				t.Errorf("DeleteWhere(%+v) = %d, want %d", tc.filter, n, tc.want)
			}
		})
	}

	if records := database.Find(db.Filter{}, baseTime); len(records) != 0 {
		t.Errorf("Expected empty table, got %d records", len(records))
	}

	// dead records are removed but not counted
	mustUpsert(t, database, newRecord("resource-x", "user-1", baseTime), baseTime)
	if n := database.DeleteWhere(db.Filter{}, baseTime.Add(database.Window())); n != 0 {
		t.Errorf("Dead records must not be counted, got %d", n)
	}
}

func testFind(t *testing.T, database db.LockDB) {
	defer database.Close()

	names := []string{"c", "a", "b"}
	for _, name := range names {
		rec := newRecord(name, "user-1", baseTime)
		rec.IdentityAttributes = map[string]string{"userId": "user-1"}
		mustUpsert(t, database, rec, baseTime)
	}
	mustUpsert(t, database, newRecord("d", "user-2", baseTime.Add(-database.Window())), baseTime.Add(-database.Window()))

	all := database.Find(db.Filter{}, baseTime)
	if len(all) != 3 {
		t.Fatalf("Expected 3 live records, got %d", len(all))
	}
	for i, want := range []string{"a", "b", "c"} {
		if all[i].Name != want {
			t.Errorf("Find()[%d].Name = %q, want %q", i, all[i].Name, want)
		}
	}

	byName := database.Find(db.Filter{Name: "b"}, baseTime)
	if len(byName) != 1 || byName[0].Name != "b" {
		t.Errorf("Unexpected result for name filter: %+v", byName)
	}

	byAttr := database.Find(db.Filter{Attributes: map[string]string{"userId": "user-1"}}, baseTime)
	if len(byAttr) != 3 {
		t.Errorf("Expected 3 records for attribute filter, got %d", len(byAttr))
	}

	if dead := database.Find(db.Filter{Name: "d"}, baseTime); len(dead) != 0 {
		t.Errorf("Find must not return dead records")
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	database := factory()
	defer database.Close()

	for i := 0; i < 100; i++ {
		rec := newRecord(fmt.Sprintf("resource-%d", i), fmt.Sprintf("user-%d", i%7), baseTime.Add(time.Duration(i)*time.Millisecond))
		rec.IdentityAttributes = map[string]string{"userId": fmt.Sprintf("user-%d", i%7)}
		if i%3 == 0 {
			rec.Metadata = map[string]string{"step": fmt.Sprintf("%d", i)}
		}
		mustUpsert(t, database, rec, baseTime)
	}

	var buf bytes.Buffer
	if err := database.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored := factory()
	defer restored.Close()
	// existing records are replaced by Load
	mustUpsert(t, restored, newRecord("stale", "user-x", baseTime), baseTime)

	if err := restored.Load(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, ok := restored.Get("stale", baseTime); ok {
		t.Errorf("Load should replace the existing table")
	}

	before := database.Find(db.Filter{}, baseTime)
	after := restored.Find(db.Filter{}, baseTime)
	if len(before) != len(after) {
		t.Fatalf("Expected %d records after load, got %d", len(before), len(after))
	}
	for i := range before {
		b, a := before[i], after[i]
		if b.ID != a.ID || b.Name != a.Name || b.HolderID != a.HolderID ||
			!b.ExpiryMarker.Equal(a.ExpiryMarker) ||
			b.Metadata["step"] != a.Metadata["step"] ||
			b.IdentityAttributes["userId"] != a.IdentityAttributes["userId"] {
			t.Errorf("Record %d differs after load:\nbefore: %+v\nafter: %+v", i, b, a)
		}
	}

	// the restored table enforces uniqueness as well
	if _, ok := restored.Upsert(newRecord("resource-0", "user-x", baseTime), baseTime); ok {
		t.Errorf("Restored record should conflict with a different holder")
	}

	if err := restored.Load(bytes.NewReader([]byte("garbage"))); err == nil {
		t.Errorf("Load should fail for invalid data")
	}
}

func testSnapshot(t *testing.T, factory DBFactory) {
	database := factory()
	defer database.Close()

	window := database.Window()
	mustUpsert(t, database, newRecord("held", "user-1", baseTime), baseTime)
	mustUpsert(t, database, newRecord("dead", "user-1", baseTime.Add(-2*window)), baseTime.Add(-2*window))

	snap := database.Snapshot()
	if snap.Len() != 2 {
		t.Fatalf("Expected 2 records in snapshot, got %d", snap.Len())
	}

	// writes after the snapshot must not leak into it
	if !database.Delete("held", "user-1", baseTime) {
		t.Fatalf("Delete of held record failed")
	}
	mustUpsert(t, database, newRecord("later", "user-2", baseTime), baseTime)
	database.DeleteExpired(baseTime)

	var buf bytes.Buffer
	if err := snap.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored := factory()
	defer restored.Close()
	if err := restored.Load(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if rec, ok := restored.Get("held", baseTime); !ok || rec.HolderID != "user-1" {
		t.Errorf("Expected held record from the snapshot, got %+v (loaded=%v)", rec, ok)
	}
	if _, ok := restored.Get("later", baseTime); ok {
		t.Errorf("Record written after the snapshot was restored")
	}
	if info := restored.GetInfo(baseTime); info.Records != 1 || info.ExpiredBacklog != 1 {
		t.Errorf("Expected 1 live and 1 expired record after restore, got %+v", info)
	}
}

func testConcurrentUpsert(t *testing.T, database db.LockDB) {
	defer database.Close()

	const (
		holders = 16
		names   = 8
	)

	var winners [names]atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for h := 0; h < holders; h++ {
		wg.Add(1)
		go func(h int) {
			defer wg.Done()
			<-start
			for n := 0; n < names; n++ {
				rec := newRecord(fmt.Sprintf("resource-%d", n), fmt.Sprintf("user-%d", h), baseTime)
				if _, ok := database.Upsert(rec, baseTime); ok {
					winners[n].Add(1)
				}
			}
		}(h)
	}
	close(start)
	wg.Wait()

	for n := range winners {
		if got := winners[n].Load(); got != 1 {
			t.Errorf("Expected exactly one winner for resource-%d, got %d", n, got)
		}
	}
}

func testInfo(t *testing.T, database db.LockDB) {
	defer database.Close()

	window := database.Window()
	mustUpsert(t, database, newRecord("live", "user-1", baseTime), baseTime)
	mustUpsert(t, database, newRecord("dead", "user-1", baseTime.Add(-2*window)), baseTime.Add(-2*window))

	info := database.GetInfo(baseTime)
	if info.Records != 1 || info.ExpiredBacklog != 1 {
		t.Errorf("Expected 1 live and 1 expired record, got %+v", info)
	}

	// the split follows the supplied time, not the wall clock
	if info := database.GetInfo(baseTime.Add(window)); info.Records != 0 || info.ExpiredBacklog != 2 {
		t.Errorf("Expected 2 expired records one window later, got %+v", info)
	}
	if info.Window != database.Window() {
		t.Errorf("Expected window %v, got %v", database.Window(), info.Window)
	}
}
