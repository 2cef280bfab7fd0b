package serve

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dLock/lib/common"
	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/engines/ttlmap"
	"github.com/ValentinKolb/dLock/lib/locker"
	"github.com/ValentinKolb/dLock/lib/serializer"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/lib/store/dstore"
	"github.com/ValentinKolb/dLock/lib/store/lstore"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4"
	"github.com/puzpuzpuz/xsync/v3"
)

// nodeShard is a store hosted by the node together with the locker wrapping it
type nodeShard struct {
	store  store.ILockStore
	locker *locker.Locker
}

// node hosts the lock shards of a ServerConfig
type node struct {
	config   common.ServerConfig
	nodeHost *dragonboat.NodeHost
	shards   *xsync.MapOf[uint64, nodeShard]
}

// newNode creates the stores and lockers of all configured shards.
// A Dragonboat NodeHost is only started if the configuration has distributed shards.
func newNode(config common.ServerConfig) (*node, error) {
	codec, err := serializer.ByName(config.Serializer)
	if err != nil {
		return nil, err
	}

	identity := locker.ByUserID
	if config.Identity == common.IdentityConnectionID {
		identity = locker.ByConnectionID
	}

	dbFactory := func() db.LockDB {
		return ttlmap.NewTTLMap(&ttlmap.Options{Window: config.Window})
	}

	n := &node{
		config: config,
		shards: xsync.NewMapOf[uint64, nodeShard](),
	}

	if config.HasDistributedShard() {
		if n.nodeHost, err = dragonboat.NewNodeHost(config.ToNodeHostConfig()); err != nil {
			return nil, fmt.Errorf("failed to create node host: %w", err)
		}
	}

	for _, shardConfig := range config.Shards {
		var s store.ILockStore

		switch shardConfig.Type {
		case common.StoreTypeLocal:
			s = lstore.NewLocalStore(shardConfig.Namespace(), dbFactory, &lstore.Options{
				SweepInterval: config.SweepInterval,
			})

		case common.StoreTypeDistributed:
			factory := dstore.CreateStateMachineFactory(dbFactory, codec)
			if err := n.nodeHost.StartConcurrentReplica(config.ClusterMembers, false, factory, config.ToDragonboatConfig(shardConfig.ShardID)); err != nil {
				n.Close()
				return nil, fmt.Errorf("failed to start shard %d: %w", shardConfig.ShardID, err)
			}
			s = dstore.NewDistributedStore(n.nodeHost, shardConfig.ShardID, &dstore.Options{
				Namespace:     shardConfig.Namespace(),
				Window:        config.Window,
				Timeout:       time.Duration(config.TimeoutSecond) * time.Second,
				Serializer:    codec,
				ReplicaID:     config.ReplicaID,
				SweepInterval: config.SweepInterval,
			})

		default:
			n.Close()
			return nil, fmt.Errorf("invalid shard type: %s", shardConfig.Type)
		}

		l, err := locker.NewLocker(s, locker.Options{
			Name:       shardConfig.Namespace(),
			DefaultTTL: config.DefaultTTL,
			Identity:   identity,
			Debug:      config.Debug,
		})
		if err != nil {
			_ = s.Close()
			n.Close()
			return nil, err
		}

		n.shards.Store(shardConfig.ShardID, nodeShard{store: s, locker: l})
		log.Infof("created %s for shard %d", shardConfig.Type, shardConfig.ShardID)
	}

	return n, nil
}

// Close stops all stores and the node host
func (n *node) Close() {
	n.shards.Range(func(id uint64, shard nodeShard) bool {
		if err := shard.store.Close(); err != nil {
			log.Warningf("failed to close shard %d: %v", id, err)
		}
		n.shards.Delete(id)
		return true
	})
	if n.nodeHost != nil {
		n.nodeHost.Close()
		n.nodeHost = nil
	}
}

// --------------------------------------------------------------------------
// HTTP endpoints
// --------------------------------------------------------------------------

// handler serves
//
//	GET /metrics                 Prometheus exposition of all VictoriaMetrics series
//	GET /locks?shard=ID&...      live locks of a shard, filtered by id, name, holder and attr.<name>
//	GET /info                    database info of every shard
func (n *node) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	mux.HandleFunc("GET /locks", n.handleLocks)
	mux.HandleFunc("GET /info", n.handleInfo)
	return mux
}

func (n *node) handleLocks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	shardID, err := strconv.ParseUint(query.Get("shard"), 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid shard %q", query.Get("shard")), http.StatusBadRequest)
		return
	}
	shard, ok := n.shards.Load(shardID)
	if !ok {
		http.Error(w, "shard not found", http.StatusNotFound)
		return
	}

	filter := db.Filter{
		ID:       query.Get("id"),
		Name:     query.Get("name"),
		HolderID: query.Get("holder"),
	}
	for key, values := range query {
		if attr, found := strings.CutPrefix(key, "attr."); found && len(values) > 0 {
			if filter.Attributes == nil {
				filter.Attributes = make(map[string]string)
			}
			filter.Attributes[attr] = values[0]
		}
	}

	records, err := shard.locker.ListLocks(filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []db.Record{}
	}
	writeJSON(w, records)
}

// shardInfo is the /info representation of a shard
type shardInfo struct {
	ShardID   uint64          `json:"shard_id"`
	Namespace string          `json:"namespace"`
	Info      db.DatabaseInfo `json:"info"`
	Error     string          `json:"error,omitempty"`
}

func (n *node) handleInfo(w http.ResponseWriter, _ *http.Request) {
	var infos []shardInfo
	n.shards.Range(func(id uint64, shard nodeShard) bool {
		info := shardInfo{ShardID: id, Namespace: shard.store.Namespace()}
		if dbInfo, err := shard.store.GetDBInfo(); err != nil {
			info.Error = err.Error()
		} else {
			info.Info = dbInfo
		}
		infos = append(infos, info)
		return true
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].ShardID < infos[j].ShardID })
	writeJSON(w, infos)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warningf("failed to write response: %v", err)
	}
}
