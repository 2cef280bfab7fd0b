package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dLock/lib/db/util"
	"github.com/dustin/go-humanize"
	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (for the server util)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to Dragonboat Config
func (c *ServerConfig) ToDragonboatConfig(shardId uint64) config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            shardId,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

type StoreType string

const (
	StoreTypeLocal       StoreType = "lstore"
	StoreTypeDistributed StoreType = "dstore"
)

// Identity presets selectable by configuration
const (
	IdentityUserID       = "user-id"
	IdentityConnectionID = "connection-id"
)

type ServerShard struct {
	// ShardID is the ID of the shard
	ShardID uint64
	// Type is the store backing the shard
	Type StoreType
}

// Namespace returns the record collection identifier of the shard
func (s ServerShard) Namespace() string {
	return fmt.Sprintf("locks-%d", s.ShardID)
}

// ServerConfig holds all configuration parameters of a dLock node.
type ServerConfig struct {
	Shards []ServerShard

	// Locker parameters
	Identity      string
	DefaultTTL    time.Duration
	Window        time.Duration
	SweepInterval time.Duration
	Serializer    string
	Debug         bool

	// Dragonboat parameters
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string

	// distributed store parameters
	TimeoutSecond int64

	// HTTP endpoint for metrics and lock listings
	Endpoint string

	// Logging configuration
	LogLevel string
}

// HasDistributedShard checks if the configuration contains any raft replicated shards
func (c *ServerConfig) HasDistributedShard() bool {
	for _, shard := range c.Shards {
		if shard.Type == StoreTypeDistributed {
			return true
		}
	}
	return false
}

// Validate checks the configuration for inconsistencies
func (c *ServerConfig) Validate() error {
	if len(c.Shards) == 0 {
		return fmt.Errorf("at least one shard is required")
	}
	if c.Identity != IdentityUserID && c.Identity != IdentityConnectionID {
		return fmt.Errorf("invalid identity %s (expected one of: %s, %s)", c.Identity, IdentityUserID, IdentityConnectionID)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", c.Window)
	}
	if c.DefaultTTL > c.Window {
		return fmt.Errorf("default ttl %s exceeds the window %s", c.DefaultTTL, c.Window)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}

	if !c.HasDistributedShard() {
		return nil
	}
	if c.ReplicaID == 0 {
		return fmt.Errorf("ReplicaId is required for distributed shards")
	}
	if len(c.ClusterMembers) == 0 {
		return fmt.Errorf("ClusterMembers is required for distributed shards")
	}
	if _, ok := c.ClusterMembers[c.ReplicaID]; !ok {
		return fmt.Errorf("no address found for replica ID %d in cluster members", c.ReplicaID)
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Endpoint")
	addField("Address", c.Endpoint)

	addSection("Locker")
	addField("Identity", c.Identity)
	addField("Default TTL", c.DefaultTTL.String())
	addField("Window", c.Window.String())
	addField("Sweep Interval", c.SweepInterval.String())
	addField("Serializer", c.Serializer)
	addField("Debug", strconv.FormatBool(c.Debug))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	addSection("Shards")
	for _, shard := range c.Shards {
		addField(strconv.FormatUint(shard.ShardID, 10), fmt.Sprintf("%s (%s)", shard.Type, shard.Namespace()))
	}

	if c.HasDistributedShard() {
		addSection("Node Identity")
		addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
		addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))

		addSection("RAFT Parameters")
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", humanize.Comma(int64(c.RTTMillisecond*electionRTTFactor)))
		addField("Heartbeat RTT (ms)", humanize.Comma(int64(c.RTTMillisecond*heartbeatRTTFactor)))
		addField("Check Quorum", fmt.Sprintf("%t", true))
		addField("Snapshot Entries", humanize.Comma(int64(c.SnapshotEntries)))
		addField("Compaction Overhead", humanize.Comma(int64(c.CompactionOverhead)))
		addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

		addSection("Storage")
		addField("Data Directory", c.DataDir)

		addSection("Cluster")
		sb.WriteString("  Initial Cluster Members:\n")

		// Sort keys for consistent output
		var keys []uint64
		for k := range c.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// Parsing
// --------------------------------------------------------------------------

// ParseShards parses a comma-separated list of ID=TYPE pairs, e.g. "100=lstore,200=dstore"
func ParseShards(s string) ([]ServerShard, error) {
	var shards []ServerShard
	seen := make(map[uint64]struct{})
	for _, shardConfig := range strings.Split(s, ",") {
		parts := strings.Split(shardConfig, "=")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid shard format: %s (expected ID=TYPE)", shardConfig)
		}

		shardID, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid shard ID %s: %w", parts[0], err)
		}
		if _, dup := seen[shardID]; dup {
			return nil, fmt.Errorf("duplicate shard ID %d", shardID)
		}
		seen[shardID] = struct{}{}

		var shardType StoreType
		switch t := StoreType(strings.TrimSpace(parts[1])); t {
		case StoreTypeLocal, StoreTypeDistributed:
			shardType = t
		default:
			return nil, fmt.Errorf("invalid shard type: %s (expected one of: lstore, dstore)", t)
		}

		shards = append(shards, ServerShard{ShardID: shardID, Type: shardType})
	}
	return shards, nil
}

// ParseReplicaID hashes a human readable replica name (e.g. "node-1") to a dragonboat replica id
func ParseReplicaID(name string) uint64 {
	return uint64(util.HashString(strings.TrimSpace(name), 0))
}

// ParseClusterMembers parses a comma-separated list of NAME=ADDRESS pairs,
// e.g. "node-1=localhost:63001,node-2=localhost:63002". Names are hashed with ParseReplicaID.
func ParseClusterMembers(s string) (map[uint64]string, error) {
	members := make(map[uint64]string)
	for _, member := range strings.Split(s, ",") {
		parts := strings.Split(member, "=")
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
		}
		members[ParseReplicaID(parts[0])] = strings.TrimSpace(parts[1])
	}
	return members, nil
}
