package engine

import (
	"context"
	"testing"
	"time"

	"github.com/hivellm/nexus/pkg/config"
	"github.com/hivellm/nexus/pkg/types"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Replication.ListenAddr = ""
	cfg.Txn.GCInterval = time.Hour
	return cfg
}

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestCreateNodeThenRead(t *testing.T) {
	e := openTestEngine(t)

	tx := e.BeginWrite()
	id, err := tx.CreateNode(context.Background(), 1<<2)
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if _, err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	node, err := e.Store.ReadNode(id)
	if err != nil {
		t.Fatalf("ReadNode: %v", err)
	}
	if !node.HasLabel(2) {
		t.Fatalf("expected label 2 set, got bits %x", node.LabelBits)
	}
}

func TestCreateRelationshipLinksEndpoints(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	tx := e.BeginWrite()
	src, err := tx.CreateNode(ctx, 0)
	if err != nil {
		t.Fatalf("CreateNode src: %v", err)
	}
	dst, err := tx.CreateNode(ctx, 0)
	if err != nil {
		t.Fatalf("CreateNode dst: %v", err)
	}
	relID, err := tx.CreateRelationship(ctx, src, dst, 7)
	if err != nil {
		t.Fatalf("CreateRelationship: %v", err)
	}
	if _, err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	srcNode, err := e.Store.ReadNode(src)
	if err != nil {
		t.Fatalf("ReadNode src: %v", err)
	}
	if srcNode.FirstRelPtr != relID {
		t.Fatalf("expected src.FirstRelPtr=%d, got %d", relID, srcNode.FirstRelPtr)
	}
	dstNode, err := e.Store.ReadNode(dst)
	if err != nil {
		t.Fatalf("ReadNode dst: %v", err)
	}
	if dstNode.FirstRelPtr != relID {
		t.Fatalf("expected dst.FirstRelPtr=%d, got %d", relID, dstNode.FirstRelPtr)
	}

	rel, err := e.Store.ReadRel(relID)
	if err != nil {
		t.Fatalf("ReadRel: %v", err)
	}
	if rel.SrcID != src || rel.DstID != dst || rel.TypeID != 7 {
		t.Fatalf("unexpected relationship record: %+v", rel)
	}
}

func TestSetAndDeletePropertyRoundTrip(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	tx := e.BeginWrite()
	id, err := tx.CreateNode(ctx, 0)
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := tx.SetProperty(ctx, types.ObjectNode, id, 5, types.PropertyValue{Kind: types.PropString, String: "alice"}); err != nil {
		t.Fatalf("SetProperty: %v", err)
	}
	if _, err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	node, err := e.Store.ReadNode(id)
	if err != nil {
		t.Fatalf("ReadNode: %v", err)
	}
	props, err := e.Store.ReadProperties(node.PropPtr)
	if err != nil {
		t.Fatalf("ReadProperties: %v", err)
	}
	if props[5].String != "alice" {
		t.Fatalf("expected property 5 = alice, got %+v", props[5])
	}

	tx2 := e.BeginWrite()
	if err := tx2.DeleteProperty(ctx, types.ObjectNode, id, 5); err != nil {
		t.Fatalf("DeleteProperty: %v", err)
	}
	if _, err := tx2.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	node, err = e.Store.ReadNode(id)
	if err != nil {
		t.Fatalf("ReadNode after delete: %v", err)
	}
	props, err = e.Store.ReadProperties(node.PropPtr)
	if err != nil {
		t.Fatalf("ReadProperties after delete: %v", err)
	}
	if props[5].Kind != types.PropNull {
		t.Fatalf("expected property 5 tombstoned, got %+v", props[5])
	}
}

func TestAbortDoesNotAdvanceEpoch(t *testing.T) {
	e := openTestEngine(t)
	before := e.Txn.CurrentEpoch()

	tx := e.BeginWrite()
	if _, err := tx.CreateNode(context.Background(), 0); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	tx.Abort()

	if after := e.Txn.CurrentEpoch(); after != before {
		t.Fatalf("epoch advanced on abort: before=%d after=%d", before, after)
	}
}

func TestDeleteNodeStagesTombstoneAtCommitEpoch(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	tx := e.BeginWrite()
	id, err := tx.CreateNode(ctx, 0)
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if _, err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit create: %v", err)
	}

	tx2 := e.BeginWrite()
	if err := tx2.DeleteNode(ctx, id); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	epoch, err := tx2.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit delete: %v", err)
	}

	tombstones, err := e.Store.ListTombstones(epoch + 1)
	if err != nil {
		t.Fatalf("ListTombstones: %v", err)
	}
	found := false
	for _, ts := range tombstones {
		if ts.Kind == "node" && ts.ID == id && ts.DeletedAt == epoch {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected tombstone for node %d at epoch %d, got %+v", id, epoch, tombstones)
	}
}

func TestApplyReplicatedReproducesCreateAndProperty(t *testing.T) {
	e := openTestEngine(t)

	id, err := e.Store.AllocateNodeID()
	if err != nil {
		t.Fatalf("AllocateNodeID: %v", err)
	}
	if err := e.applyReplicated(types.WalEntry{Kind: types.KindCreateNode, NodeID: id, LabelBits: 4}, 1); err != nil {
		t.Fatalf("applyReplicated create: %v", err)
	}
	encoded := types.EncodePropertyValue(types.PropertyValue{Kind: types.PropInt64, Int64: 42})
	if err := e.applyReplicated(types.WalEntry{
		Kind: types.KindSetProperty, EntityKind: types.ObjectNode, EntityID: id, KeyID: 9, Value: encoded,
	}, 1); err != nil {
		t.Fatalf("applyReplicated set property: %v", err)
	}

	node, err := e.Store.ReadNode(id)
	if err != nil {
		t.Fatalf("ReadNode: %v", err)
	}
	props, err := e.Store.ReadProperties(node.PropPtr)
	if err != nil {
		t.Fatalf("ReadProperties: %v", err)
	}
	if props[9].Int64 != 42 {
		t.Fatalf("expected property 9 = 42, got %+v", props[9])
	}
}
