package replication

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hivellm/nexus/pkg/config"
	"github.com/hivellm/nexus/pkg/snapshot"
	"github.com/hivellm/nexus/pkg/types"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition not reached within timeout")
}

func testConfig() config.ReplicationConfig {
	return config.ReplicationConfig{
		ListenAddr:          "127.0.0.1:0",
		Mode:                "sync",
		SyncQuorum:          2,
		WriteTimeout:        2 * time.Second,
		HeartbeatInterval:   50 * time.Millisecond,
		MissedHeartbeats:    1000,
		LogCapacity:         100,
		ReconnectMinBackoff: 20 * time.Millisecond,
		ReconnectMaxBackoff: 100 * time.Millisecond,
	}
}

// S5: sync replication with quorum=2 (primary + 1 replica). Replicate blocks
// until the replica acks, and times out if the replica never does.
func TestSyncQuorumAckAndTimeout(t *testing.T) {
	cfg := testConfig()
	primarySnap := snapshot.NewService(t.TempDir(), 0, snapshot.LevelDefault)
	primary := NewPrimary(cfg, primarySnap)
	require.NoError(t, primary.Start())
	defer primary.Stop()

	addr := primary.listenerAddr()

	applied := make(chan types.WalEntry, 10)
	replicaSnap := snapshot.NewService(t.TempDir(), 0, snapshot.LevelDefault)
	replica := NewReplica("r1", addr, cfg, replicaSnap, func(e types.WalEntry, epoch uint64) error {
		applied <- e
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go replica.Run(ctx)

	waitFor(t, 2*time.Second, func() bool { return len(primary.Replicas()) == 1 })

	offset, err := primary.Replicate(types.WalEntry{Kind: types.KindCheckpoint, Epoch: 1}, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(0), offset)

	select {
	case e := <-applied:
		require.Equal(t, types.KindCheckpoint, e.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("replica never applied replicated entry")
	}

	// Disconnect the replica, then the next sync write must time out.
	replica.Stop()
	cancel()
	waitFor(t, 2*time.Second, func() bool { return len(primary.Replicas()) == 0 })

	_, err = primary.Replicate(types.WalEntry{Kind: types.KindCheckpoint, Epoch: 2}, 2)
	require.Error(t, err)
}

// S6: primary has advanced past its retained log window; a replica
// connecting from offset 0 must be bootstrapped via snapshot before live
// streaming resumes.
func TestSnapshotBootstrapOnLaggingReplica(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "async"
	cfg.LogCapacity = 4

	primaryDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(primaryDir, "nodes.store"), []byte("node-data"), 0o644))
	primarySnap := snapshot.NewService(primaryDir, 0, snapshot.LevelDefault)
	primary := NewPrimary(cfg, primarySnap)
	require.NoError(t, primary.Start())
	defer primary.Stop()

	for i := 0; i < 10; i++ {
		_, err := primary.Replicate(types.WalEntry{Kind: types.KindCheckpoint, Epoch: uint64(i)}, uint64(i))
		require.NoError(t, err)
	}

	replicaDir := t.TempDir()
	replicaSnap := snapshot.NewService(replicaDir, 0, snapshot.LevelDefault)
	var lastApplied types.WalEntry
	replica := NewReplica("r2", primary.listenerAddr(), cfg, replicaSnap, func(e types.WalEntry, epoch uint64) error {
		lastApplied = e
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go replica.Run(ctx)

	waitFor(t, 2*time.Second, func() bool {
		got, err := os.ReadFile(filepath.Join(replicaDir, "nodes.store"))
		return err == nil && string(got) == "node-data"
	})

	waitFor(t, 2*time.Second, func() bool { return replica.CurrentOffset() > 0 })

	// The snapshot covers offsets 0..9; live streaming resumes with the next
	// entry, which the replica applies.
	off, err := primary.Replicate(types.WalEntry{Kind: types.KindCheckpoint, Epoch: 10}, 10)
	require.NoError(t, err)
	waitFor(t, 2*time.Second, func() bool { return replica.CurrentOffset() > off })
	require.Equal(t, types.KindCheckpoint, lastApplied.Kind)
}

func (p *Primary) listenerAddr() string {
	return p.listener.Addr().String()
}
