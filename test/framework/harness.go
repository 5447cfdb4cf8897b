package framework

import (
	"net"
	"testing"
	"time"

	"github.com/hivellm/nexus/pkg/config"
	"github.com/hivellm/nexus/pkg/engine"
)

// NewEngineConfig returns a Default() config rooted at a fresh temp
// directory, with replication disabled and GC parked, suitable as the
// starting point for a single-node scenario test.
func NewEngineConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Replication.ListenAddr = ""
	cfg.Txn.GCInterval = time.Hour
	return cfg
}

// OpenEngine opens an Engine against a fresh temp data dir and registers its
// Close with t.Cleanup.
func OpenEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.Open(NewEngineConfig(t))
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// FreeAddr returns a loopback address with an OS-assigned free port,
// suitable for a primary's replication.listen_addr in a test.
func FreeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocate free port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

// OpenPrimary opens an Engine configured to listen for replicas on a fresh
// loopback address and returns the engine plus the address it is listening
// on. logCapacity bounds the in-memory replication log, the way
// config.ReplicationConfig.LogCapacity does in production; pass 0 for the
// compiled-in default.
func OpenPrimary(t *testing.T, mode string, syncQuorum, logCapacity int) (*engine.Engine, string) {
	t.Helper()
	cfg := NewEngineConfig(t)
	cfg.Replication.ListenAddr = FreeAddr(t)
	cfg.Replication.Mode = mode
	cfg.Replication.SyncQuorum = syncQuorum
	cfg.Replication.WriteTimeout = 2 * time.Second
	cfg.Replication.HeartbeatInterval = 100 * time.Millisecond
	cfg.Replication.MissedHeartbeats = 3
	if logCapacity > 0 {
		cfg.Replication.LogCapacity = logCapacity
	}

	e, err := engine.Open(cfg)
	if err != nil {
		t.Fatalf("open primary engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e, cfg.Replication.ListenAddr
}

// OpenReplica opens an Engine with no listener of its own and connects it as
// a replica of primaryAddr.
func OpenReplica(t *testing.T, id, primaryAddr string) *engine.Engine {
	t.Helper()
	e := OpenEngine(t)
	e.ConnectReplica(id, primaryAddr)
	return e
}
