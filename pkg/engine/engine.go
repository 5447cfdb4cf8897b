package engine

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/hivellm/nexus/pkg/cache"
	"github.com/hivellm/nexus/pkg/catalog"
	"github.com/hivellm/nexus/pkg/config"
	"github.com/hivellm/nexus/pkg/events"
	"github.com/hivellm/nexus/pkg/gc"
	"github.com/hivellm/nexus/pkg/lockmgr"
	"github.com/hivellm/nexus/pkg/nxerrors"
	"github.com/hivellm/nexus/pkg/nxlog"
	"github.com/hivellm/nexus/pkg/recordstore"
	"github.com/hivellm/nexus/pkg/replication"
	"github.com/hivellm/nexus/pkg/snapshot"
	"github.com/hivellm/nexus/pkg/txn"
	"github.com/hivellm/nexus/pkg/types"
	"github.com/hivellm/nexus/pkg/wal"
)

// Engine is the assembled storage/transaction substrate: every exported
// field is a fully-constructed collaborator, wired once in Open and never
// replaced, per §9's explicit-construction design note (no globals, no
// service locator).
type Engine struct {
	cfg config.Config

	Store    *recordstore.Store
	Wal      *wal.Wal
	Async    *wal.AsyncWal
	Cache    *cache.MultiLayer
	Txn      *txn.Manager
	Locks    *lockmgr.Manager
	Catalog  *catalog.Catalog
	Events   *events.Broker
	GC       *gc.Reconciler
	Snapshot *snapshot.Service
	Primary  *replication.Primary // nil unless replication.listen_addr is set

	replica       *replication.Replica
	replicaCancel context.CancelFunc
}

// Open assembles an Engine from cfg: creates the data directory if
// necessary, opens every on-disk collaborator, and starts their background
// loops (async WAL writer, event broker, GC reconciler, and, if configured,
// the replication primary listener).
func Open(cfg config.Config) (*Engine, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nxerrors.Wrap(nxerrors.IOError, "create data dir", err)
	}

	store, err := recordstore.NewStore(cfg.DataDir, cfg.PageCache.CapacityPages)
	if err != nil {
		return nil, err
	}

	w, err := wal.Open(filepath.Join(cfg.DataDir, "wal.log"))
	if err != nil {
		store.Close()
		return nil, err
	}

	spillDir := cfg.Wal.SpillDir
	if spillDir == "" {
		spillDir = filepath.Join(cfg.DataDir, "spill")
	}
	async := wal.NewAsyncWal(w, wal.AsyncConfig{
		MaxBatchSize:  cfg.Wal.MaxBatchSize,
		MaxBatchAge:   cfg.Wal.MaxBatchAge,
		FlushInterval: cfg.Wal.FlushInterval,
		QueueCapacity: cfg.Wal.QueueCapacity,
		SpillDir:      spillDir,
	})

	cat, err := catalog.Open(cfg.DataDir)
	if err != nil {
		async.Shutdown()
		store.Close()
		return nil, err
	}

	broker := events.NewBroker()
	broker.Start()

	txnMgr := txn.NewManager()
	locks := lockmgr.NewManager(cfg.LockMgr.DefaultTimeout)
	multiCache := cache.New(cfg.Cache)
	snapSvc := snapshot.NewService(cfg.DataDir, 0, snapshot.LevelDefault)

	reconciler := gc.New(store, txnMgr, cfg.Txn.GCInterval)
	reconciler.Start()

	e := &Engine{
		cfg:      cfg,
		Store:    store,
		Wal:      w,
		Async:    async,
		Cache:    multiCache,
		Txn:      txnMgr,
		Locks:    locks,
		Catalog:  cat,
		Events:   broker,
		GC:       reconciler,
		Snapshot: snapSvc,
	}

	if cfg.Replication.ListenAddr != "" {
		primary := replication.NewPrimary(cfg.Replication, snapSvc)
		if err := primary.Start(); err != nil {
			e.Close()
			return nil, err
		}
		e.Primary = primary
	}

	e.warmCache(cfg.DataDir)

	nxlog.WithComponent("engine").Info().Str("data_dir", cfg.DataDir).Msg("engine opened")
	return e, nil
}

// hotKeyEntry is one line of the on-disk cache warming manifest: a bounded
// list of object keys an operator (or a prior shutdown hook) considers worth
// preloading, per §4.3's "warming reads a bounded hot key manifest at
// startup."
type hotKeyEntry struct {
	Kind string `json:"kind"`
	ID   uint64 `json:"id"`
	Sub  uint32 `json:"sub,omitempty"`
}

// warmCache reads data_dir/hot_keys.json, if present, and preloads the
// listed keys into the object cache. A missing manifest is the common case
// (nothing to warm) and is not logged as an error; a malformed manifest or a
// loader failure is logged and otherwise ignored, per "Preloading is
// advisory and failures never crash the engine."
func (e *Engine) warmCache(dataDir string) {
	logger := nxlog.WithComponent("engine")
	data, err := os.ReadFile(filepath.Join(dataDir, "hot_keys.json"))
	if err != nil {
		return
	}
	var entries []hotKeyEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		logger.Warn().Err(err).Msg("cache warm: malformed hot key manifest, skipping")
		return
	}
	keys := make([]types.ObjectKey, 0, len(entries))
	for _, entry := range entries {
		var kind types.ObjectKeyKind
		switch entry.Kind {
		case "node":
			kind = types.ObjectNode
		case "rel":
			kind = types.ObjectRelationship
		case "property":
			kind = types.ObjectProperty
		default:
			logger.Warn().Str("kind", entry.Kind).Msg("cache warm: unknown key kind in manifest, skipping entry")
			continue
		}
		keys = append(keys, types.ObjectKey{Kind: kind, ID: entry.ID, Sub: entry.Sub})
	}
	if n := e.cfg.Cache.WarmBatchSize; n > 0 && len(keys) > n {
		keys = keys[:n]
	}
	e.Cache.Warm(context.Background(), keys, e.loadObjectBytes)
}

// loadObjectBytes serializes the current on-disk state of key's node or
// relationship into the flat big-endian form Warm hands to the object
// cache. Property keys have no standalone backing record to preload, so
// they are rejected rather than silently skipped.
func (e *Engine) loadObjectBytes(key types.ObjectKey) ([]byte, error) {
	switch key.Kind {
	case types.ObjectNode:
		node, err := e.Store.ReadNode(key.ID)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 32)
		binary.BigEndian.PutUint64(buf[0:8], node.ID)
		binary.BigEndian.PutUint64(buf[8:16], node.LabelBits)
		binary.BigEndian.PutUint64(buf[16:24], node.FirstRelPtr)
		binary.BigEndian.PutUint64(buf[24:32], node.PropPtr)
		return buf, nil
	case types.ObjectRelationship:
		rel, err := e.Store.ReadRel(key.ID)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 52)
		binary.BigEndian.PutUint64(buf[0:8], rel.ID)
		binary.BigEndian.PutUint64(buf[8:16], rel.SrcID)
		binary.BigEndian.PutUint64(buf[16:24], rel.DstID)
		binary.BigEndian.PutUint32(buf[24:28], rel.TypeID)
		binary.BigEndian.PutUint64(buf[28:36], rel.NextSrcPtr)
		binary.BigEndian.PutUint64(buf[36:44], rel.NextDstPtr)
		binary.BigEndian.PutUint64(buf[44:52], rel.PropPtr)
		return buf, nil
	default:
		return nil, nxerrors.Newf(nxerrors.InvalidInput, "cache warm: object key kind %d has no standalone backing record", key.Kind)
	}
}

// Close stops every background loop and flushes and closes every on-disk
// collaborator. It is safe to call on a partially-constructed Engine (the
// cleanup paths in Open call it with nil fields).
func (e *Engine) Close() error {
	if e.replicaCancel != nil {
		e.replicaCancel()
	}
	if e.Primary != nil {
		e.Primary.Stop()
	}
	if e.GC != nil {
		e.GC.Stop()
	}
	if e.Events != nil {
		e.Events.Stop()
	}
	if e.Async != nil {
		if err := e.Async.Shutdown(); err != nil {
			nxlog.Error("async wal shutdown: " + err.Error())
		}
	}
	if e.Catalog != nil {
		if err := e.Catalog.Close(); err != nil {
			nxlog.Error("catalog close: " + err.Error())
		}
	}
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			return err
		}
	}
	return nil
}

// DataDir returns the engine's data directory, as configured.
func (e *Engine) DataDir() string {
	return e.cfg.DataDir
}

// ApplyRecovered replays a single WAL entry recovered by wal.Recover
// against this engine's record store, using the same deterministic apply
// path the replica side of replication uses. epoch 0 is passed through
// unchanged to MarkNodeDeleted/MarkRelDeleted for delete entries recovered
// without their own commit epoch recorded separately.
func (e *Engine) ApplyRecovered(entry types.WalEntry) error {
	return e.applyReplicated(entry, entry.Epoch)
}

// ReplicaOffset returns the next offset this engine, acting as a replica,
// expects from its primary. Zero if this engine is not a replica.
func (e *Engine) ReplicaOffset() uint64 {
	if e.replica == nil {
		return 0
	}
	return e.replica.CurrentOffset()
}

// ConnectReplica starts this Engine as a replica of the primary at addr,
// applying its replicated WalEntry stream with the engine's own apply path.
// Engine is either a primary or a replica of one upstream, never both at
// once in this implementation.
func (e *Engine) ConnectReplica(id, addr string) {
	ctx, cancel := context.WithCancel(context.Background())
	e.replicaCancel = cancel
	e.replica = replication.NewReplica(id, addr, e.cfg.Replication, e.Snapshot, e.applyReplicated)
	go e.replica.Run(ctx)
}

// applyReplicated deterministically reproduces a primary's committed
// mutation, per §4.10's "apply callback is expected to deterministically
// reproduce the primary's state mutation."
func (e *Engine) applyReplicated(entry types.WalEntry, epoch uint64) error {
	switch entry.Kind {
	case types.KindCreateNode:
		return e.Store.WriteNode(types.NodeRecord{ID: entry.NodeID, LabelBits: entry.LabelBits, FirstRelPtr: types.NoPtr, PropPtr: types.NoPtr})
	case types.KindDeleteNode:
		if err := e.Store.DeleteNode(entry.NodeID); err != nil {
			return err
		}
		e.Store.MarkNodeDeleted(entry.NodeID, epoch)
		return nil
	case types.KindCreateRel:
		return e.Store.WriteRel(types.RelationshipRecord{
			ID: entry.RelID, SrcID: entry.SrcID, DstID: entry.DstID, TypeID: entry.TypeID,
			NextSrcPtr: types.NoPtr, NextDstPtr: types.NoPtr, PropPtr: types.NoPtr,
		})
	case types.KindDeleteRel:
		if err := e.Store.DeleteRel(entry.RelID); err != nil {
			return err
		}
		e.Store.MarkRelDeleted(entry.RelID, epoch)
		return nil
	case types.KindSetProperty:
		value, err := types.DecodePropertyValue(entry.Value)
		if err != nil {
			return err
		}
		return e.writeProperty(entry.EntityKind, entry.EntityID, entry.KeyID, value)
	case types.KindDeleteProperty:
		return e.writeProperty(entry.EntityKind, entry.EntityID, entry.KeyID, types.PropertyValue{Kind: types.PropNull})
	case types.KindBeginTx, types.KindCommitTx, types.KindAbortTx, types.KindCheckpoint:
		return nil
	default:
		return nxerrors.Newf(nxerrors.ProtocolError, "replica: unknown wal entry kind %d", entry.Kind)
	}
}

// writeProperty prepends value onto entityKind/entityID's property chain
// and writes back the updated head pointer. A PropNull value represents a
// delete: ReadProperties' first-seen-wins dedup makes the most recently
// prepended entry for a key id authoritative, so a null entry at the head
// shadows whatever value came before it without rewriting the chain.
func (e *Engine) writeProperty(entityKind types.ObjectKeyKind, entityID uint64, keyID uint32, value types.PropertyValue) error {
	switch entityKind {
	case types.ObjectNode:
		node, err := e.Store.ReadNode(entityID)
		if err != nil {
			return err
		}
		ptr, err := e.Store.WriteProperty(keyID, value, node.PropPtr)
		if err != nil {
			return err
		}
		node.PropPtr = ptr
		return e.Store.WriteNode(node)
	case types.ObjectRelationship:
		rel, err := e.Store.ReadRel(entityID)
		if err != nil {
			return err
		}
		ptr, err := e.Store.WriteProperty(keyID, value, rel.PropPtr)
		if err != nil {
			return err
		}
		rel.PropPtr = ptr
		return e.Store.WriteRel(rel)
	default:
		return nxerrors.Newf(nxerrors.InvalidInput, "property entity kind %d is not a node or relationship", entityKind)
	}
}

// publishCommit fans out a tx.committed event carrying the keys the
// multi-layer cache should invalidate.
func (e *Engine) publishCommit(txID, epoch uint64, keys []string) {
	e.Events.Publish(&events.Event{Type: events.EventTxCommitted, TxID: txID, Epoch: epoch, Keys: keys})
}

// logReplicationFailure records a replication send failure without failing
// the commit itself: a lagging or disconnected replica is the replication
// layer's problem (surfaced via nxmetrics.ReplicationLagSeconds and the
// health checker), not a reason to roll back a durable local commit.
func logReplicationFailure(err error) {
	nxlog.WithComponent("engine").Warn().Err(err).Msg("replicate committed entry")
}
