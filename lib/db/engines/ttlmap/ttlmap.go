package ttlmap

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"sort"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/util"
	"github.com/ValentinKolb/dLock/lib/serializer"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rcrowley/go-metrics"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum       = "DLOCKTTL"       // File format identifier
	ttlmapVersion  = 1                // Snapshot version
	DefaultWindow  = 60 * time.Second // Default sweep window
	maxRecordBytes = 1 << 24          // Upper bound for a single serialized record
)

// --------------------------------------------------------------------------
// Core structure
// --------------------------------------------------------------------------

// ttlMapImpl implements db.LockDB with records spread over xsync maps
type ttlMapImpl struct {
	window time.Duration
	seed   uint64
	shards []*xsync.MapOf[string, db.Record]
	codec  serializer.IRecordSerializer

	// statistics
	registry   metrics.Registry
	conflicts  metrics.Counter
	sweeps     metrics.Counter
	swept      metrics.Counter
	sweepTimer metrics.Timer
}

// Options configures the ttlmap during initialization
type Options struct {
	NumShards int           // Number of shards (0 = number of CPUs)
	Window    time.Duration // Lifetime of a record measured from its expiry marker (0 = DefaultWindow)
}

// DefaultOptions returns the default ttlmap options
func DefaultOptions() *Options {
	return &Options{
		NumShards: runtime.NumCPU(),
		Window:    DefaultWindow,
	}
}

// --------------------------------------------------------------------------
// Initialization
// --------------------------------------------------------------------------

// NewTTLMap creates a new in-memory lock table with the specified options (optional)
func NewTTLMap(opts *Options) db.LockDB {
	if opts == nil {
		opts = DefaultOptions()
	}
	numShards := opts.NumShards
	if numShards <= 0 {
		numShards = runtime.NumCPU()
	}
	window := opts.Window
	if window <= 0 {
		window = DefaultWindow
	}

	registry := metrics.NewRegistry()
	m := &ttlMapImpl{
		window:     window,
		seed:       util.GenerateSeed(),
		codec:      serializer.NewBinarySerializer(),
		registry:   registry,
		conflicts:  metrics.NewRegisteredCounter("conflicts", registry),
		sweeps:     metrics.NewRegisteredCounter("sweeps", registry),
		swept:      metrics.NewRegisteredCounter("swept", registry),
		sweepTimer: metrics.NewRegisteredTimer("sweep", registry),
	}
	m.shards = newShards(numShards)
	return m
}

func newShards(n int) []*xsync.MapOf[string, db.Record] {
	shards := make([]*xsync.MapOf[string, db.Record], n)
	for i := range shards {
		shards[i] = xsync.NewMapOf[string, db.Record]()
	}
	return shards
}

// shard returns the map responsible for name
func (m *ttlMapImpl) shard(name string) *xsync.MapOf[string, db.Record] {
	return m.shards[util.ShardIndex(util.HashString(name, m.seed), len(m.shards))]
}

// --------------------------------------------------------------------------
// Write Operations (docu see db.LockDB)
// --------------------------------------------------------------------------

func (m *ttlMapImpl) Upsert(rec db.Record, now time.Time) (db.Record, bool) {
	var (
		stored db.Record
		ok     bool
	)

	// Compute holds the bucket lock, so the check and the write are atomic per name
	m.shard(rec.Name).Compute(rec.Name, func(old db.Record, loaded bool) (db.Record, bool) {
		switch {
		case !loaded || old.IsExpired(m.window, now):
			stored, ok = rec.Clone(), true
		case old.HolderID == rec.HolderID:
			stored, ok = old.Refresh(rec), true
		default:
			stored, ok = old, false
		}
		return stored, false
	})

	if !ok {
		m.conflicts.Inc(1)
	}
	return stored.Clone(), ok
}

func (m *ttlMapImpl) Delete(name, holderID string, now time.Time) bool {
	deleted := false
	m.shard(name).Compute(name, func(old db.Record, loaded bool) (db.Record, bool) {
		if !loaded {
			return old, true
		}
		if old.IsExpired(m.window, now) {
			// dead records are removed on sight but never reported
			return old, true
		}
		if old.HolderID != holderID {
			return old, false
		}
		deleted = true
		return old, true
	})
	return deleted
}

func (m *ttlMapImpl) DeleteWhere(filter db.Filter, now time.Time) int {
	count := 0
	for _, name := range m.names(filter) {
		m.shard(name).Compute(name, func(old db.Record, loaded bool) (db.Record, bool) {
			if !loaded {
				return old, true
			}
			if old.IsExpired(m.window, now) {
				return old, true
			}
			// the record may have been replaced since it was listed
			if !filter.Matches(old) {
				return old, false
			}
			count++
			return old, true
		})
	}
	return count
}

func (m *ttlMapImpl) DeleteExpired(now time.Time) int {
	count := 0
	m.sweepTimer.Time(func() {
		for _, shard := range m.shards {
			var expired []string
			shard.Range(func(name string, rec db.Record) bool {
				if rec.IsExpired(m.window, now) {
					expired = append(expired, name)
				}
				return true
			})
			for _, name := range expired {
				shard.Compute(name, func(old db.Record, loaded bool) (db.Record, bool) {
					if loaded && old.IsExpired(m.window, now) {
						count++
						return old, true
					}
					return old, !loaded
				})
			}
		}
	})
	m.sweeps.Inc(1)
	m.swept.Inc(int64(count))
	return count
}

// --------------------------------------------------------------------------
// Query Operations (docu see db.LockDB)
// --------------------------------------------------------------------------

func (m *ttlMapImpl) Get(name string, now time.Time) (db.Record, bool) {
	rec, ok := m.shard(name).Load(name)
	if !ok || rec.IsExpired(m.window, now) {
		return db.Record{}, false
	}
	return rec.Clone(), true
}

func (m *ttlMapImpl) Find(filter db.Filter, now time.Time) []db.Record {
	var out []db.Record
	m.scan(filter, func(rec db.Record) {
		if !rec.IsExpired(m.window, now) {
			out = append(out, rec.Clone())
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *ttlMapImpl) Window() time.Duration {
	return m.window
}

// names lists the names of all records matching filter, live or not
func (m *ttlMapImpl) names(filter db.Filter) []string {
	var names []string
	m.scan(filter, func(rec db.Record) {
		names = append(names, rec.Name)
	})
	return names
}

// scan calls fn for every stored record matching filter.
// A filter on the name only touches a single shard.
func (m *ttlMapImpl) scan(filter db.Filter, fn func(rec db.Record)) {
	if filter.Name != "" {
		if rec, ok := m.shard(filter.Name).Load(filter.Name); ok && filter.Matches(rec) {
			fn(rec)
		}
		return
	}
	for _, shard := range m.shards {
		shard.Range(func(_ string, rec db.Record) bool {
			if filter.Matches(rec) {
				fn(rec)
			}
			return true
		})
	}
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// snapshot is the detached record set returned by Snapshot
type snapshot struct {
	records []db.Record
	codec   serializer.IRecordSerializer
}

// Snapshot copies all records, including dead ones that were not swept yet.
func (m *ttlMapImpl) Snapshot() db.Snapshot {
	var records []db.Record
	m.scan(db.Filter{}, func(rec db.Record) {
		records = append(records, rec.Clone())
	})
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return &snapshot{records: records, codec: m.codec}
}

func (m *ttlMapImpl) Save(w io.Writer) error {
	return m.Snapshot().Save(w)
}

func (s *snapshot) Len() int {
	return len(s.records)
}

// Save writes the copied records to w.
//
// Format: magic number, version (uint8), record count (uint64), then per record
// the length (uint32) followed by the binary serialized record.
func (s *snapshot) Save(w io.Writer) error {
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(ttlmapVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(s.records))); err != nil {
		return err
	}

	for _, rec := range s.records {
		data, err := s.codec.Serialize(rec)
		if err != nil {
			return fmt.Errorf("failed to serialize record %q: %w", rec.Name, err)
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(data))); err != nil {
			return err
		}
		if _, err := bw.Write(data); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Load replaces the current table with the records read from r.
//
// Thread-safety: This function must not be called concurrently with any other method.
func (m *ttlMapImpl) Load(r io.Reader) error {
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if int(version) != ttlmapVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, ttlmapVersion)
	}

	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	shards := newShards(len(m.shards))
	seed := util.GenerateSeed()
	for i := uint64(0); i < count; i++ {
		var size uint32
		if err := binary.Read(br, binary.LittleEndian, &size); err != nil {
			return err
		}
		if size > maxRecordBytes {
			return fmt.Errorf("record %d too large: %d bytes", i, size)
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(br, data); err != nil {
			return err
		}

		var rec db.Record
		if err := m.codec.Deserialize(data, &rec); err != nil {
			return fmt.Errorf("failed to deserialize record %d: %w", i, err)
		}
		shards[util.ShardIndex(util.HashString(rec.Name, seed), len(shards))].Store(rec.Name, rec)
	}

	m.shards = shards
	m.seed = seed
	return nil
}

// --------------------------------------------------------------------------
// Features and Metadata
// --------------------------------------------------------------------------

// Statistics is the engine specific part of db.DatabaseInfo
type Statistics struct {
	ShardCount        int                    `json:"shard_count"`
	ShardDistribution util.DistributionStats `json:"shard_distribution"`
	Conflicts         int64                  `json:"conflicts"`     // failed upserts
	Sweeps            int64                  `json:"sweeps"`        // DeleteExpired calls
	SweptRecords      int64                  `json:"swept_records"` // records removed by sweeps
	SweepMean         time.Duration          `json:"sweep_mean"`
	SweepP99          time.Duration          `json:"sweep_p99"`
}

// GetInfo returns statistics about the table
func (m *ttlMapImpl) GetInfo(now time.Time) db.DatabaseInfo {
	live, expired := 0, 0
	shardSizes := make([]int, len(m.shards))

	for i, shard := range m.shards {
		shardSizes[i] = shard.Size()
		shard.Range(func(_ string, rec db.Record) bool {
			if rec.IsExpired(m.window, now) {
				expired++
			} else {
				live++
			}
			return true
		})
	}

	meta := &Statistics{
		ShardCount:        len(m.shards),
		ShardDistribution: util.NewDistributionStats(shardSizes),
		Conflicts:         m.conflicts.Count(),
		Sweeps:            m.sweeps.Count(),
		SweptRecords:      m.swept.Count(),
		SweepMean:         time.Duration(m.sweepTimer.Mean()),
		SweepP99:          time.Duration(m.sweepTimer.Percentile(0.99)),
	}

	return db.DatabaseInfo{
		Records:        live,
		ExpiredBacklog: expired,
		Window:         m.window,
		DbType:         db.ImplTTLMap,
		Metadata:       meta,
	}
}

// Close releases the statistics registry
func (m *ttlMapImpl) Close() error {
	m.registry.UnregisterAll()
	return nil
}
