package replication

import (
	"context"
	"hash/crc32"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hivellm/nexus/pkg/config"
	"github.com/hivellm/nexus/pkg/health"
	"github.com/hivellm/nexus/pkg/nxerrors"
	"github.com/hivellm/nexus/pkg/nxlog"
	"github.com/hivellm/nexus/pkg/nxmetrics"
	"github.com/hivellm/nexus/pkg/snapshot"
	"github.com/hivellm/nexus/pkg/types"
)

// ApplyFunc deterministically reproduces the primary's mutation described by
// entry at epoch; the replica expects it to be idempotent under retry only
// in the sense that it is called exactly once per offset (§4.10).
type ApplyFunc func(entry types.WalEntry, epoch uint64) error

// Replica is the §4.10 replica-side node: it connects to a primary, bootstraps
// from a snapshot when necessary, and then applies the live WalEntry stream
// in order.
type Replica struct {
	id          string
	primaryAddr string
	cfg         config.ReplicationConfig
	snapshotSvc *snapshot.Service
	apply       ApplyFunc

	mu      sync.Mutex
	nextOff uint64 // next offset this replica expects to receive
	conn    net.Conn
}

// NewReplica constructs a Replica identified by id, dialing primaryAddr.
// apply is invoked once per in-order WalEntry received.
func NewReplica(id, primaryAddr string, cfg config.ReplicationConfig, snapshotSvc *snapshot.Service, apply ApplyFunc) *Replica {
	return &Replica{
		id: id, primaryAddr: primaryAddr, cfg: cfg,
		snapshotSvc: snapshotSvc, apply: apply,
	}
}

// Run connects to the primary and streams until ctx is cancelled,
// reconnecting with exponential backoff (§4.10: "on disconnect:
// exponential-backoff reconnect with capped retry") whenever the connection
// drops for any reason other than ctx cancellation.
func (r *Replica) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.ReconnectMinBackoff
	bo.MaxInterval = r.cfg.ReconnectMaxBackoff
	bo.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return nil
		}
		err := r.connectOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			nxlog.WithReplica(r.id).Warn().Msg("replica disconnected: " + err.Error())
		}
		wait := bo.NextBackOff()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// Stop closes the active connection, if any, unblocking a pending read so
// Run can observe ctx cancellation and exit cleanly.
func (r *Replica) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		r.conn.Close()
	}
}

// CurrentOffset returns the next offset this replica expects.
func (r *Replica) CurrentOffset() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextOff
}

func (r *Replica) connectOnce(ctx context.Context) error {
	probe := health.NewTCPChecker(r.primaryAddr).WithTimeout(r.cfg.WriteTimeout)
	if result := probe.Check(ctx); !result.Healthy {
		return nxerrors.Newf(nxerrors.IOError, "primary unreachable: %s", result.Message)
	}

	conn, err := net.Dial("tcp", r.primaryAddr)
	if err != nil {
		return nxerrors.Wrap(nxerrors.IOError, "dial primary", err)
	}
	defer conn.Close()

	r.mu.Lock()
	r.conn = conn
	lastOffset := r.nextOff
	r.mu.Unlock()

	hello := Message{Kind: MsgHello, ReplicaID: r.id, LastWalOffset: lastOffset, ProtocolVersion: ProtocolVersion}
	if err := WriteFrame(conn, hello); err != nil {
		return err
	}

	welcome, err := ReadFrame(conn)
	if err != nil {
		return err
	}
	if welcome.Kind == MsgError {
		return nxerrors.Newf(nxerrors.ProtocolError, "primary rejected hello: %s", welcome.ErrText)
	}
	if welcome.Kind != MsgWelcome {
		return nxerrors.New(nxerrors.ProtocolError, "expected Welcome from primary")
	}

	if welcome.RequiresFullSync {
		if err := r.bootstrapFromSnapshot(conn); err != nil {
			return err
		}
	}

	nxlog.WithReplica(r.id).Info().Msg("replica connected to primary")
	return r.streamLoop(ctx, conn)
}

// bootstrapFromSnapshot receives SnapshotMeta, exactly ChunkCount chunks
// (validating each chunk's checksum), and SnapshotComplete, then restores
// local state and resumes from the offset the snapshot covers.
func (r *Replica) bootstrapFromSnapshot(conn net.Conn) error {
	meta, err := ReadFrame(conn)
	if err != nil {
		return err
	}
	if meta.Kind != MsgSnapshotMeta {
		return nxerrors.New(nxerrors.ProtocolError, "expected SnapshotMeta")
	}

	blob := make([]byte, 0, meta.TotalSize)
	for i := uint32(0); i < meta.ChunkCount; i++ {
		chunk, err := ReadFrame(conn)
		if err != nil {
			return err
		}
		if chunk.Kind != MsgSnapshotChunk {
			return nxerrors.New(nxerrors.ProtocolError, "expected SnapshotChunk")
		}
		if chunk.ChunkIndex != i {
			return nxerrors.Newf(nxerrors.ProtocolError, "snapshot chunk out of order: got %d want %d", chunk.ChunkIndex, i)
		}
		if crc32.ChecksumIEEE(chunk.Data) != chunk.ChunkChecksum {
			return nxerrors.New(nxerrors.Checksum, "snapshot chunk checksum mismatch")
		}
		blob = append(blob, chunk.Data...)
	}

	complete, err := ReadFrame(conn)
	if err != nil {
		return err
	}
	if complete.Kind != MsgSnapshotComplete || !complete.Success {
		return nxerrors.New(nxerrors.ProtocolError, "snapshot transfer did not complete successfully")
	}
	if crc32.ChecksumIEEE(blob) != meta.Checksum {
		return nxerrors.New(nxerrors.Checksum, "snapshot aggregate checksum mismatch")
	}

	smeta := types.SnapshotMeta{
		SnapshotID: meta.SnapshotID, TotalSize: meta.TotalSize, ChunkCount: meta.ChunkCount,
		Checksum: meta.Checksum, WalOffset: meta.Offset,
	}
	if err := r.snapshotSvc.Restore(blob, smeta); err != nil {
		return err
	}

	r.mu.Lock()
	r.nextOff = meta.Offset + 1
	r.mu.Unlock()
	nxmetrics.SnapshotTransfersTotal.Inc()
	return nil
}

// streamLoop consumes WalEntry messages in order, invoking apply and
// emitting WalAck for each, replying to Ping with Pong. An out-of-order
// WalEntry or an Error from the primary ends the loop so Run reconnects.
func (r *Replica) streamLoop(ctx context.Context, conn net.Conn) error {
	for {
		msg, err := ReadFrame(conn)
		if err != nil {
			return err
		}
		switch msg.Kind {
		case MsgWalEntry:
			r.mu.Lock()
			expected := r.nextOff
			r.mu.Unlock()
			if msg.Offset != expected {
				return nxerrors.Newf(nxerrors.ProtocolError, "out-of-order wal entry: got offset %d, expected %d", msg.Offset, expected)
			}
			if err := r.apply(msg.Entry, msg.Epoch); err != nil {
				_ = WriteFrame(conn, Message{Kind: MsgWalAck, Offset: msg.Offset, Success: false})
				return nxerrors.Wrap(nxerrors.IOError, "apply replicated wal entry", err)
			}
			r.mu.Lock()
			r.nextOff = msg.Offset + 1
			r.mu.Unlock()
			if err := WriteFrame(conn, Message{Kind: MsgWalAck, Offset: msg.Offset, Success: true}); err != nil {
				return err
			}
		case MsgPing:
			if err := WriteFrame(conn, Message{Kind: MsgPong}); err != nil {
				return err
			}
		case MsgError:
			return nxerrors.Newf(nxerrors.ProtocolError, "primary reported error: %s", msg.ErrText)
		default:
			nxlog.Warn("replica received unexpected message kind: " + msg.Kind.String())
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}
