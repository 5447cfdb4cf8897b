package recordstore

import (
	"testing"

	"github.com/hivellm/nexus/pkg/types"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), 16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// S1: create-then-read.
func TestCreateThenReadNode(t *testing.T) {
	s := openTestStore(t)

	id, err := s.AllocateNodeID()
	require.NoError(t, err)
	require.EqualValues(t, 0, id)

	rec := types.NodeRecord{ID: id, LabelBits: 0b100, FirstRelPtr: types.NoPtr, PropPtr: types.NoPtr}
	require.NoError(t, s.WriteNode(rec))

	got, err := s.ReadNode(0)
	require.NoError(t, err)
	require.Equal(t, rec, got)
	require.True(t, got.HasLabel(2))
	require.False(t, got.HasLabel(0))
}

func TestReadNodeUnallocatedIsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ReadNode(42)
	require.Error(t, err)
}

func TestNodeSurvivesEvictionRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir(), 1) // capacity 1: writing a second page evicts the first
	require.NoError(t, err)
	defer s.Close()

	// nodeLayout packs 255 records per page, so spanning node ids across two
	// pages requires allocating past that boundary.
	var ids []uint64
	for i := 0; i < nodeLayout.perPage+5; i++ {
		id, err := s.AllocateNodeID()
		require.NoError(t, err)
		require.NoError(t, s.WriteNode(types.NodeRecord{ID: id, LabelBits: uint64(i), FirstRelPtr: types.NoPtr, PropPtr: types.NoPtr}))
		ids = append(ids, id)
	}
	for i, id := range ids {
		rec, err := s.ReadNode(id)
		require.NoError(t, err)
		require.EqualValues(t, i, rec.LabelBits)
	}
}

func TestRelationshipRingWalk(t *testing.T) {
	s := openTestStore(t)

	n0, _ := s.AllocateNodeID()
	n1, _ := s.AllocateNodeID()
	require.NoError(t, s.WriteNode(types.NodeRecord{ID: n0, FirstRelPtr: types.NoPtr, PropPtr: types.NoPtr}))
	require.NoError(t, s.WriteNode(types.NodeRecord{ID: n1, FirstRelPtr: types.NoPtr, PropPtr: types.NoPtr}))

	r0, _ := s.AllocateRelID()
	r1, _ := s.AllocateRelID()

	// n0's ring: r1 -> r0 (prepended, most recent first).
	require.NoError(t, s.WriteRel(types.RelationshipRecord{
		ID: r0, SrcID: n0, DstID: n1, TypeID: 7,
		NextSrcPtr: types.NoPtr, NextDstPtr: types.NoPtr, PropPtr: types.NoPtr,
	}))
	require.NoError(t, s.WriteRel(types.RelationshipRecord{
		ID: r1, SrcID: n0, DstID: n1, TypeID: 9,
		NextSrcPtr: r0, NextDstPtr: types.NoPtr, PropPtr: types.NoPtr,
	}))
	n0rec, err := s.ReadNode(n0)
	require.NoError(t, err)
	n0rec.FirstRelPtr = r1
	require.NoError(t, s.WriteNode(n0rec))

	cur := s.NewRelCursor()
	ids, err := cur.WalkFromSrc(n0)
	require.NoError(t, err)
	require.Equal(t, []uint64{r1, r0}, ids)
}

func TestDeleteNodeTombstones(t *testing.T) {
	s := openTestStore(t)
	id, _ := s.AllocateNodeID()
	require.NoError(t, s.WriteNode(types.NodeRecord{ID: id, LabelBits: 0b1, FirstRelPtr: types.NoPtr, PropPtr: types.NoPtr}))
	require.NoError(t, s.DeleteNode(id))

	rec, err := s.ReadNode(id)
	require.NoError(t, err)
	require.EqualValues(t, 0, rec.LabelBits)
	require.Equal(t, types.NoPtr, rec.FirstRelPtr)
}

func TestPropertyChainRoundTrip(t *testing.T) {
	s := openTestStore(t)

	head := types.NoPtr
	ptr1, err := s.WriteProperty(1, types.PropertyValue{Kind: types.PropString, String: "alice"}, head)
	require.NoError(t, err)

	ptr2, err := s.WriteProperty(2, types.PropertyValue{Kind: types.PropInt64, Int64: 30}, ptr1)
	require.NoError(t, err)

	props, err := s.ReadProperties(ptr2)
	require.NoError(t, err)
	require.Len(t, props, 2)
	require.Equal(t, "alice", props[1].String)
	require.EqualValues(t, 30, props[2].Int64)
}

func TestPropertyChainOverwriteKeepsMostRecent(t *testing.T) {
	s := openTestStore(t)

	ptr1, err := s.WriteProperty(5, types.PropertyValue{Kind: types.PropInt64, Int64: 1}, types.NoPtr)
	require.NoError(t, err)
	ptr2, err := s.WriteProperty(5, types.PropertyValue{Kind: types.PropInt64, Int64: 2}, ptr1)
	require.NoError(t, err)

	props, err := s.ReadProperties(ptr2)
	require.NoError(t, err)
	require.EqualValues(t, 2, props[5].Int64)
}

func TestStatsReflectsAllocations(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		_, err := s.AllocateNodeID()
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err := s.AllocateRelID()
		require.NoError(t, err)
	}
	st := s.Stats()
	require.EqualValues(t, 5, st.NodeCount)
	require.EqualValues(t, 2, st.RelCount)
}

// S2 (partial): the id counter persists across a reopen of the same
// directory, so recovery does not reissue already-allocated ids.
func TestIDCounterPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewStore(dir, 4)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s1.AllocateNodeID()
		require.NoError(t, err)
	}
	require.NoError(t, s1.Close())

	s2, err := NewStore(dir, 4)
	require.NoError(t, err)
	defer s2.Close()
	id, err := s2.AllocateNodeID()
	require.NoError(t, err)
	require.EqualValues(t, 3, id)
}
