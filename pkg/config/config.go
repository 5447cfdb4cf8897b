package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tailscale/hujson"
)

// Config is the full set of engine-tunable parameters. JSON tags use
// snake_case to match the on-disk nexus.hjson convention.
type Config struct {
	DataDir string `json:"data_dir"`

	PageCache PageCacheConfig `json:"page_cache"`
	Cache     CacheConfig     `json:"cache"`
	Wal       WalConfig       `json:"wal"`
	Txn       TxnConfig       `json:"txn"`
	LockMgr   LockMgrConfig   `json:"lock_manager"`
	Replication ReplicationConfig `json:"replication"`
}

// PageCacheConfig tunes pkg/pagecache.
type PageCacheConfig struct {
	CapacityPages int `json:"capacity_pages"`
}

// CacheConfig tunes the three pkg/cache layers.
type CacheConfig struct {
	ObjectMaxBytes    int64         `json:"object_max_bytes"`
	ObjectMaxItemSize int64         `json:"object_max_item_size"`
	ObjectTTL         time.Duration `json:"object_ttl"`
	ObjectPolicy      string        `json:"object_policy"` // lru|lfu|fifo|random|ttl

	QueryMaxBytes      int64         `json:"query_max_bytes"`
	QueryTTL           time.Duration `json:"query_ttl"`
	QueryMinExecTime   time.Duration `json:"query_min_execution_time"`

	IndexMaxBytes   int64         `json:"index_max_bytes"`
	IndexMaxPageSize int64        `json:"index_max_page_size"`
	IndexTTL        time.Duration `json:"index_ttl"`

	WarmBatchSize int `json:"warm_batch_size"`
}

// WalConfig tunes pkg/wal's async writer.
type WalConfig struct {
	MaxBatchSize  int           `json:"max_batch_size"`
	MaxBatchAge   time.Duration `json:"max_batch_age"`
	FlushInterval time.Duration `json:"flush_interval"`
	QueueCapacity int           `json:"queue_capacity"`
	SpillDir      string        `json:"spill_dir"`
}

// TxnConfig tunes pkg/txn and pkg/gc.
type TxnConfig struct {
	GCInterval time.Duration `json:"gc_interval"`
}

// LockMgrConfig tunes pkg/lockmgr.
type LockMgrConfig struct {
	DefaultTimeout time.Duration `json:"default_timeout"`
}

// ReplicationConfig tunes pkg/replication.
type ReplicationConfig struct {
	ListenAddr          string        `json:"listen_addr"`
	Mode                string        `json:"mode"` // async|sync
	SyncQuorum          int           `json:"sync_quorum"`
	WriteTimeout        time.Duration `json:"write_timeout"`
	HeartbeatInterval   time.Duration `json:"heartbeat_interval"`
	MissedHeartbeats    int           `json:"missed_heartbeats_threshold"`
	LogCapacity         int           `json:"log_capacity"`
	ReconnectMinBackoff time.Duration `json:"reconnect_min_backoff"`
	ReconnectMaxBackoff time.Duration `json:"reconnect_max_backoff"`
}

// Default returns the compiled-in default configuration.
func Default() Config {
	return Config{
		DataDir: "./data",
		PageCache: PageCacheConfig{
			CapacityPages: 4096,
		},
		Cache: CacheConfig{
			ObjectMaxBytes:    64 << 20,
			ObjectMaxItemSize: 1 << 20,
			ObjectTTL:         5 * time.Minute,
			ObjectPolicy:      "lru",
			QueryMaxBytes:     32 << 20,
			QueryTTL:          1 * time.Minute,
			QueryMinExecTime:  5 * time.Millisecond,
			IndexMaxBytes:     32 << 20,
			IndexMaxPageSize:  1 << 20,
			IndexTTL:          10 * time.Minute,
			WarmBatchSize:     256,
		},
		Wal: WalConfig{
			MaxBatchSize:  128,
			MaxBatchAge:   50 * time.Millisecond,
			FlushInterval: time.Second,
			QueueCapacity: 4096,
		},
		Txn: TxnConfig{
			GCInterval: 30 * time.Second,
		},
		LockMgr: LockMgrConfig{
			DefaultTimeout: 5 * time.Second,
		},
		Replication: ReplicationConfig{
			ListenAddr:          ":7687",
			Mode:                "async",
			SyncQuorum:          1,
			WriteTimeout:        5 * time.Second,
			HeartbeatInterval:   2 * time.Second,
			MissedHeartbeats:    3,
			LogCapacity:         65536,
			ReconnectMinBackoff: 500 * time.Millisecond,
			ReconnectMaxBackoff: 30 * time.Second,
		},
	}
}

// Load reads path (HUJSON) and merges it onto Default(). A missing file is
// not an error: the caller gets compiled-in defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	std, err := hujson.Standardize(raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := json.Unmarshal(std, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}
