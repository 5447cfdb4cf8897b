package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hivellm/nexus/pkg/nxerrors"
	"github.com/hivellm/nexus/pkg/types"
	"github.com/stretchr/testify/require"
)

func walPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "wal.log")
}

func TestAppendRecoverRoundTrip(t *testing.T) {
	path := walPath(t)
	w, err := Open(path)
	require.NoError(t, err)

	entries := []types.WalEntry{
		{Kind: types.KindBeginTx, TxID: 1, Epoch: 1},
		{Kind: types.KindCreateNode, NodeID: 0, LabelBits: 0b1},
		{Kind: types.KindCreateRel, RelID: 0, SrcID: 0, DstID: 0, TypeID: 0},
		{Kind: types.KindCommitTx, TxID: 1, Epoch: 1},
	}
	for _, e := range entries {
		_, err := w.Append(e)
		require.NoError(t, err)
	}
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	recovered, err := Recover(path)
	require.NoError(t, err)
	require.Len(t, recovered, len(entries))
	for i, e := range entries {
		require.Equal(t, e, recovered[i].Entry)
	}
}

// S2: crash recovery. Append 4 entries, flush, "crash" (just stop using the
// handle without any extra cleanup), reopen and recover: all 4 entries come
// back in order.
func TestCrashRecoveryScenario(t *testing.T) {
	path := walPath(t)
	w, err := Open(path)
	require.NoError(t, err)

	entries := []types.WalEntry{
		{Kind: types.KindBeginTx, TxID: 1, Epoch: 1},
		{Kind: types.KindCreateNode, NodeID: 0, LabelBits: 1},
		{Kind: types.KindCreateRel, RelID: 0, SrcID: 0, DstID: 0, TypeID: 0},
		{Kind: types.KindCommitTx, TxID: 1, Epoch: 1},
	}
	for _, e := range entries {
		_, err := w.Append(e)
		require.NoError(t, err)
	}
	require.NoError(t, w.Flush())
	// No Close(): simulate the process being dropped mid-flight, after the
	// durable flush but before any graceful shutdown.

	recovered, err := Recover(path)
	require.NoError(t, err)
	require.Len(t, recovered, 4)
	require.Equal(t, types.KindCommitTx, recovered[3].Entry.Kind)
}

func TestRecoverTornTailIsTolerated(t *testing.T) {
	path := walPath(t)
	w, err := Open(path)
	require.NoError(t, err)

	_, err = w.Append(types.WalEntry{Kind: types.KindBeginTx, TxID: 1, Epoch: 1})
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	// Append a few extra bytes that look like the start of a frame but are
	// truncated, simulating a crash mid-write of the next frame.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{byte(types.KindCommitTx), 0x10, 0x00, 0x00, 0x00, 0xAA})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	recovered, err := Recover(path)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
}

func TestRecoverCRCMismatchIsFatal(t *testing.T) {
	path := walPath(t)
	w, err := Open(path)
	require.NoError(t, err)
	_, err = w.Append(types.WalEntry{Kind: types.KindBeginTx, TxID: 1, Epoch: 1})
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	// Flip a byte inside the payload without touching length or CRC.
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	buf := make([]byte, 1)
	_, err = f.ReadAt(buf, 5) // first payload byte (the entry's schema_version)
	require.NoError(t, err)
	buf[0] ^= 0xFF
	_, err = f.WriteAt(buf, 5)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Recover(path)
	require.Error(t, err)
	kind, ok := nxerrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, nxerrors.WalCorrupt, kind)
}

func TestCheckpointThenTruncate(t *testing.T) {
	path := walPath(t)
	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append(types.WalEntry{Kind: types.KindCreateNode, NodeID: 0})
	require.NoError(t, err)
	_, err = w.Checkpoint(5)
	require.NoError(t, err)
	require.NoError(t, w.Truncate())

	recovered, err := Recover(path)
	require.NoError(t, err)
	require.Empty(t, recovered)
}

func TestRecoverMissingFileReturnsEmpty(t *testing.T) {
	recovered, err := Recover(filepath.Join(t.TempDir(), "does-not-exist.log"))
	require.NoError(t, err)
	require.Empty(t, recovered)
}
