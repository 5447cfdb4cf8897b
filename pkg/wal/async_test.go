package wal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hivellm/nexus/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestAsyncWal(t *testing.T, cfg AsyncConfig) (*AsyncWal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wal.log")
	w, err := Open(path)
	require.NoError(t, err)
	if cfg.SpillDir == "" {
		cfg.SpillDir = t.TempDir()
	}
	a := NewAsyncWal(w, cfg)
	t.Cleanup(func() { _ = a.Shutdown() })
	return a, path
}

func TestAsyncAppendThenFlushIsDurable(t *testing.T) {
	a, path := newTestAsyncWal(t, AsyncConfig{MaxBatchSize: 100, MaxBatchAge: time.Hour, FlushInterval: time.Hour})

	_, err := a.Append(types.WalEntry{Kind: types.KindBeginTx, TxID: 1, Epoch: 1})
	require.NoError(t, err)
	require.NoError(t, a.Flush())

	recovered, err := Recover(path)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
}

func TestAsyncBatchesBySize(t *testing.T) {
	a, _ := newTestAsyncWal(t, AsyncConfig{MaxBatchSize: 4, MaxBatchAge: time.Hour, FlushInterval: time.Hour})

	for i := 0; i < 4; i++ {
		_, err := a.Append(types.WalEntry{Kind: types.KindCreateNode, NodeID: uint64(i)})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return a.Stats().SizeBatches >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestAsyncBatchesByAge(t *testing.T) {
	a, _ := newTestAsyncWal(t, AsyncConfig{MaxBatchSize: 1000, MaxBatchAge: 10 * time.Millisecond, FlushInterval: time.Hour})

	_, err := a.Append(types.WalEntry{Kind: types.KindCreateNode, NodeID: 1})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return a.Stats().TimeoutBatches >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestAsyncShutdownFlushesPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w, err := Open(path)
	require.NoError(t, err)
	a := NewAsyncWal(w, AsyncConfig{MaxBatchSize: 1000, MaxBatchAge: time.Hour, FlushInterval: time.Hour, SpillDir: t.TempDir()})

	_, err = a.Append(types.WalEntry{Kind: types.KindCreateNode, NodeID: 1})
	require.NoError(t, err)
	require.NoError(t, a.Shutdown())

	recovered, err := Recover(path)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
}

func TestAsyncStatsTrackSubmittedAndWritten(t *testing.T) {
	a, _ := newTestAsyncWal(t, AsyncConfig{MaxBatchSize: 2, MaxBatchAge: time.Hour, FlushInterval: time.Hour})

	for i := 0; i < 3; i++ {
		_, err := a.Append(types.WalEntry{Kind: types.KindCreateNode, NodeID: uint64(i)})
		require.NoError(t, err)
	}
	require.NoError(t, a.Flush())

	stats := a.Stats()
	require.EqualValues(t, 3, stats.EntriesSubmitted)
	require.EqualValues(t, 3, stats.EntriesWritten)
}
