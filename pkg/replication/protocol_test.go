package replication

import (
	"bytes"
	"testing"

	"github.com/hivellm/nexus/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Message{
		{Kind: MsgHello, ReplicaID: "r1", LastWalOffset: 42, ProtocolVersion: ProtocolVersion},
		{Kind: MsgWelcome, MasterID: "m1", CurrentWalOffset: 99, RequiresFullSync: true},
		{Kind: MsgWalEntry, Offset: 7, Epoch: 3, Entry: types.WalEntry{Kind: types.KindCreateNode, NodeID: 1, LabelBits: 2}},
		{Kind: MsgWalAck, Offset: 7, Success: true},
		{Kind: MsgSnapshotMeta, SnapshotID: "s1", TotalSize: 1024, ChunkCount: 2, Checksum: 0xABCD, Offset: 500},
		{Kind: MsgSnapshotChunk, SnapshotID: "s1", ChunkIndex: 0, Data: []byte("hello"), ChunkChecksum: 123},
		{Kind: MsgSnapshotComplete, SnapshotID: "s1", Success: true},
		{Kind: MsgPing},
		{Kind: MsgPong},
		{Kind: MsgError, ErrCode: 1, ErrText: "bad protocol version"},
	}
	for _, m := range cases {
		enc := Encode(m)
		dec, err := Decode(enc)
		require.NoError(t, err)
		require.Equal(t, m, dec)
	}
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	m := Message{Kind: MsgHello, ReplicaID: "r1", LastWalOffset: 5, ProtocolVersion: ProtocolVersion}
	require.NoError(t, WriteFrame(&buf, m))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestReadFrameRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("XXXX")
	buf.Write([]byte{0, 0, 0, 0, byte(MsgPing)})
	_, err := ReadFrame(&buf)
	require.Error(t, err)
}

func TestReadFrameRejectsCorruptChecksum(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Message{Kind: MsgPing}))
	b := buf.Bytes()
	b[len(b)-1] ^= 0xFF
	_, err := ReadFrame(bytes.NewReader(b))
	require.Error(t, err)
}
