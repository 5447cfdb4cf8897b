package engine

import (
	"context"

	"github.com/hivellm/nexus/pkg/lockmgr"
	"github.com/hivellm/nexus/pkg/nxerrors"
	"github.com/hivellm/nexus/pkg/types"
)

// Txn is a single write transaction, bundling the transaction manager's
// handle with the lock guards it has acquired and the bookkeeping needed at
// commit time: tombstone epochs and cache invalidation keys. Per §2's write
// path, every mutation here appends to the WAL and writes the record store
// before Commit assigns the epoch those mutations become visible at.
type Txn struct {
	engine *Engine
	tx     *types.Transaction
	guards []*lockmgr.Guard

	deletedNodes []uint64
	deletedRels  []uint64
	invalidate   []types.ObjectKey
	closed       bool
}

// BeginWrite opens a write transaction. Writers are serialized by
// pkg/txn.Manager; cross-resource concurrency within a single writer still
// goes through the lock manager so readers and future writers see correct
// wait-for-graph bookkeeping.
func (e *Engine) BeginWrite() *Txn {
	return &Txn{engine: e, tx: e.Txn.BeginWrite()}
}

func (t *Txn) lock(ctx context.Context, resource string, mode lockmgr.Mode) error {
	g, err := t.engine.Locks.Acquire(ctx, t.tx.ID, resource, mode)
	if err != nil {
		return err
	}
	t.guards = append(t.guards, g)
	return nil
}

// CreateNode allocates a node id, appends its WAL entry, and writes the
// record. The node becomes visible to readers once Commit returns.
func (t *Txn) CreateNode(ctx context.Context, labelBits uint64) (uint64, error) {
	id, err := t.engine.Store.AllocateNodeID()
	if err != nil {
		return 0, err
	}
	key := types.ObjectKey{Kind: types.ObjectNode, ID: id}
	if err := t.lock(ctx, key.String(), lockmgr.Write); err != nil {
		return 0, err
	}
	if _, err := t.engine.Async.Append(types.WalEntry{
		Kind: types.KindCreateNode, TxID: t.tx.ID, NodeID: id, LabelBits: labelBits,
	}); err != nil {
		return 0, err
	}
	if err := t.engine.Store.WriteNode(types.NodeRecord{
		ID: id, LabelBits: labelBits, FirstRelPtr: types.NoPtr, PropPtr: types.NoPtr,
	}); err != nil {
		return 0, err
	}
	t.invalidate = append(t.invalidate, key)
	return id, nil
}

// DeleteNode zeroes the node's slot immediately (per §4.1, the record store
// itself holds no version history) and stages a tombstone at the epoch this
// transaction eventually commits at, so the GC reconciler never reclaims it
// before every reader who could still observe it has moved on.
func (t *Txn) DeleteNode(ctx context.Context, id uint64) error {
	key := types.ObjectKey{Kind: types.ObjectNode, ID: id}
	if err := t.lock(ctx, key.String(), lockmgr.Write); err != nil {
		return err
	}
	if _, err := t.engine.Async.Append(types.WalEntry{Kind: types.KindDeleteNode, TxID: t.tx.ID, NodeID: id}); err != nil {
		return err
	}
	if err := t.engine.Store.DeleteNode(id); err != nil {
		return err
	}
	t.deletedNodes = append(t.deletedNodes, id)
	t.invalidate = append(t.invalidate, key)
	return nil
}

// CreateRelationship allocates a relationship id, links it into its
// endpoints' rings, and appends the WAL entry.
func (t *Txn) CreateRelationship(ctx context.Context, srcID, dstID uint64, typeID uint32) (uint64, error) {
	id, err := t.engine.Store.AllocateRelID()
	if err != nil {
		return 0, err
	}
	srcKey := types.ObjectKey{Kind: types.ObjectNode, ID: srcID}
	dstKey := types.ObjectKey{Kind: types.ObjectNode, ID: dstID}
	relKey := types.ObjectKey{Kind: types.ObjectRelationship, ID: id}
	for _, k := range []types.ObjectKey{srcKey, dstKey, relKey} {
		if err := t.lock(ctx, k.String(), lockmgr.Write); err != nil {
			return 0, err
		}
	}

	if _, err := t.engine.Async.Append(types.WalEntry{
		Kind: types.KindCreateRel, TxID: t.tx.ID, RelID: id, SrcID: srcID, DstID: dstID, TypeID: typeID,
	}); err != nil {
		return 0, err
	}

	src, err := t.engine.Store.ReadNode(srcID)
	if err != nil {
		return 0, err
	}
	dst, err := t.engine.Store.ReadNode(dstID)
	if err != nil {
		return 0, err
	}

	if err := t.engine.Store.WriteRel(types.RelationshipRecord{
		ID: id, SrcID: srcID, DstID: dstID, TypeID: typeID,
		NextSrcPtr: src.FirstRelPtr, NextDstPtr: dst.FirstRelPtr, PropPtr: types.NoPtr,
	}); err != nil {
		return 0, err
	}
	src.FirstRelPtr = id
	if err := t.engine.Store.WriteNode(src); err != nil {
		return 0, err
	}
	if srcID != dstID {
		dst.FirstRelPtr = id
		if err := t.engine.Store.WriteNode(dst); err != nil {
			return 0, err
		}
	}

	t.invalidate = append(t.invalidate, srcKey, dstKey, relKey)
	return id, nil
}

// DeleteRelationship removes a relationship's slot and stages its
// tombstone, mirroring DeleteNode.
func (t *Txn) DeleteRelationship(ctx context.Context, id uint64) error {
	key := types.ObjectKey{Kind: types.ObjectRelationship, ID: id}
	if err := t.lock(ctx, key.String(), lockmgr.Write); err != nil {
		return err
	}
	if _, err := t.engine.Async.Append(types.WalEntry{Kind: types.KindDeleteRel, TxID: t.tx.ID, RelID: id}); err != nil {
		return err
	}
	if err := t.engine.Store.DeleteRel(id); err != nil {
		return err
	}
	t.deletedRels = append(t.deletedRels, id)
	t.invalidate = append(t.invalidate, key)
	return nil
}

// SetProperty prepends a new property value onto entityKind/entityID's
// property chain and updates the entity's head pointer.
func (t *Txn) SetProperty(ctx context.Context, entityKind types.ObjectKeyKind, entityID uint64, keyID uint32, value types.PropertyValue) error {
	key := types.ObjectKey{Kind: types.ObjectProperty, ID: entityID, Sub: keyID}
	if err := t.lock(ctx, key.String(), lockmgr.Write); err != nil {
		return err
	}
	encoded := types.EncodePropertyValue(value)
	if _, err := t.engine.Async.Append(types.WalEntry{
		Kind: types.KindSetProperty, TxID: t.tx.ID, EntityKind: entityKind, EntityID: entityID, KeyID: keyID, Value: encoded,
	}); err != nil {
		return err
	}
	if err := t.engine.writeProperty(entityKind, entityID, keyID, value); err != nil {
		return err
	}
	t.invalidate = append(t.invalidate, key, types.ObjectKey{Kind: entityKind, ID: entityID})
	return nil
}

// DeleteProperty prepends a PropNull tombstone entry for keyID;
// ReadProperties then returns that PropNull entry as the key's value,
// shadowing any earlier value.
func (t *Txn) DeleteProperty(ctx context.Context, entityKind types.ObjectKeyKind, entityID uint64, keyID uint32) error {
	key := types.ObjectKey{Kind: types.ObjectProperty, ID: entityID, Sub: keyID}
	if err := t.lock(ctx, key.String(), lockmgr.Write); err != nil {
		return err
	}
	if _, err := t.engine.Async.Append(types.WalEntry{
		Kind: types.KindDeleteProperty, TxID: t.tx.ID, EntityKind: entityKind, EntityID: entityID, KeyID: keyID,
	}); err != nil {
		return err
	}
	if err := t.engine.writeProperty(entityKind, entityID, keyID, types.PropertyValue{Kind: types.PropNull}); err != nil {
		return err
	}
	t.invalidate = append(t.invalidate, key, types.ObjectKey{Kind: entityKind, ID: entityID})
	return nil
}

// Commit assigns the write epoch, appends and flushes the CommitTx entry
// (commit is the durability boundary per §9: "append is not durable, flush
// is"), stages tombstones at that epoch, invalidates cache entries,
// publishes a tx.committed event, replicates the committed entries if a
// primary is attached, and releases every lock guard.
func (t *Txn) Commit(ctx context.Context) (uint64, error) {
	if t.closed {
		return 0, nxerrors.New(nxerrors.InvalidInput, "transaction already closed")
	}
	t.closed = true
	defer t.releaseGuards()

	epoch := t.engine.Txn.Commit(t.tx)

	if _, err := t.engine.Async.Append(types.WalEntry{Kind: types.KindCommitTx, TxID: t.tx.ID, Epoch: epoch}); err != nil {
		return 0, err
	}
	if err := t.engine.Async.Flush(); err != nil {
		return 0, err
	}

	for _, id := range t.deletedNodes {
		t.engine.Store.MarkNodeDeleted(id, epoch)
	}
	for _, id := range t.deletedRels {
		t.engine.Store.MarkRelDeleted(id, epoch)
	}

	t.engine.Cache.InvalidateKeys(t.invalidate)

	keys := make([]string, len(t.invalidate))
	for i, k := range t.invalidate {
		keys[i] = k.String()
	}
	t.engine.publishCommit(t.tx.ID, epoch, keys)

	if t.engine.Primary != nil {
		if _, err := t.engine.Primary.Replicate(types.WalEntry{Kind: types.KindCommitTx, TxID: t.tx.ID, Epoch: epoch}, epoch); err != nil {
			logReplicationFailure(err)
		}
	}

	return epoch, nil
}

// Abort releases the transaction's writer slot and every lock it acquired
// without advancing the epoch. A dropped transaction that is never
// committed or aborted leaks the writer serialization slot, so callers must
// always reach Commit or Abort (typically via defer).
func (t *Txn) Abort() {
	if t.closed {
		return
	}
	t.closed = true
	defer t.releaseGuards()
	t.engine.Txn.Abort(t.tx)
	if _, err := t.engine.Async.Append(types.WalEntry{Kind: types.KindAbortTx, TxID: t.tx.ID}); err != nil {
		logReplicationFailure(err)
	}
}

func (t *Txn) releaseGuards() {
	for _, g := range t.guards {
		g.Unlock()
	}
	t.guards = nil
}
