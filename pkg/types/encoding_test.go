package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPropertyValueRoundTrip(t *testing.T) {
	cases := []PropertyValue{
		{Kind: PropNull},
		{Kind: PropBool, Bool: true},
		{Kind: PropBool, Bool: false},
		{Kind: PropInt64, Int64: -42},
		{Kind: PropFloat64, Float64: 3.14159},
		{Kind: PropString, String: "hello, nexus"},
		{Kind: PropBytes, Bytes: []byte{0x01, 0x02, 0x03}},
		{Kind: PropBytes, Bytes: []byte{}},
	}

	for _, c := range cases {
		encoded := EncodePropertyValue(c)
		decoded, err := DecodePropertyValue(encoded)
		require.NoError(t, err)
		require.Equal(t, c.Kind, decoded.Kind)
		switch c.Kind {
		case PropBool:
			require.Equal(t, c.Bool, decoded.Bool)
		case PropInt64:
			require.Equal(t, c.Int64, decoded.Int64)
		case PropFloat64:
			require.InDelta(t, c.Float64, decoded.Float64, 1e-12)
		case PropString:
			require.Equal(t, c.String, decoded.String)
		case PropBytes:
			require.Equal(t, c.Bytes, decoded.Bytes)
		}
	}
}

func TestPropertyValueCorruptSchemaVersion(t *testing.T) {
	encoded := EncodePropertyValue(PropertyValue{Kind: PropInt64, Int64: 7})
	encoded[0] = 0xFF
	_, err := DecodePropertyValue(encoded)
	require.Error(t, err)
}

func TestWalEntryRoundTrip(t *testing.T) {
	cases := []WalEntry{
		{Kind: KindBeginTx, TxID: 1, Epoch: 1},
		{Kind: KindCommitTx, TxID: 1, Epoch: 1},
		{Kind: KindAbortTx, TxID: 2, Epoch: 2},
		{Kind: KindCreateNode, NodeID: 0, LabelBits: 0b100},
		{Kind: KindDeleteNode, NodeID: 5},
		{Kind: KindCreateRel, RelID: 0, SrcID: 0, DstID: 0, TypeID: 0},
		{Kind: KindDeleteRel, RelID: 9},
		{Kind: KindSetProperty, EntityID: 3, KeyID: 2, Value: EncodePropertyValue(PropertyValue{Kind: PropInt64, Int64: 99})},
		{Kind: KindDeleteProperty, EntityID: 3, KeyID: 2},
		{Kind: KindCheckpoint, Epoch: 10},
	}

	for _, c := range cases {
		encoded := EncodeWalEntry(c)
		decoded, err := DecodeWalEntry(encoded)
		require.NoError(t, err)
		require.Equal(t, c, decoded)
	}
}

func TestNodeRecordLabels(t *testing.T) {
	n := NodeRecord{ID: 0, FirstRelPtr: NoPtr, PropPtr: NoPtr}
	n.SetLabel(2)
	require.True(t, n.HasLabel(2))
	require.False(t, n.HasLabel(3))
}
