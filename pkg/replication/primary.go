package replication

import (
	"context"
	"hash/crc32"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hivellm/nexus/pkg/config"
	"github.com/hivellm/nexus/pkg/health"
	"github.com/hivellm/nexus/pkg/nxerrors"
	"github.com/hivellm/nexus/pkg/nxlog"
	"github.com/hivellm/nexus/pkg/nxmetrics"
	"github.com/hivellm/nexus/pkg/snapshot"
	"github.com/hivellm/nexus/pkg/types"
)

// replicaConn is one primary-side connection to a replica: a socket, an
// outbound message queue drained by its own writer goroutine, and the
// bookkeeping §4.9 tracks per replica.
type replicaConn struct {
	conn    net.Conn
	outbox  chan Message
	cancel  context.CancelFunc
	checker *health.HeartbeatChecker

	mu   sync.Mutex
	info types.ReplicaInfo
}

func (r *replicaConn) send(m Message) {
	select {
	case r.outbox <- m:
	default:
		nxlog.WithReplica(r.info.ID).Warn().Msg("replication outbox full, dropping message")
	}
}

// Primary is the §4.9 master-side replication node: it maintains the
// bounded in-memory replication log, accepts replica connections, and
// broadcasts committed WalEntry records to every attached replica.
type Primary struct {
	id          string
	cfg         config.ReplicationConfig
	snapshotSvc *snapshot.Service
	listener    net.Listener

	mu         sync.Mutex
	cond       *sync.Cond
	log        []types.ReplicationLogEntry
	baseOffset uint64 // offset of log[0]; oldest offset still retained
	nextOffset uint64
	replicas   map[string]*replicaConn

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPrimary constructs a Primary with a fresh node id. snapshotSvc is used
// to bootstrap replicas that have fallen behind the retained log window.
func NewPrimary(cfg config.ReplicationConfig, snapshotSvc *snapshot.Service) *Primary {
	p := &Primary{
		id:          uuid.NewString(),
		cfg:         cfg,
		snapshotSvc: snapshotSvc,
		replicas:    make(map[string]*replicaConn),
		stopCh:      make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start listens on cfg.ListenAddr and begins accepting replica connections
// and sending heartbeats. The accept loop runs on its own goroutine; Start
// returns once the listener is bound.
func (p *Primary) Start() error {
	ln, err := net.Listen("tcp", p.cfg.ListenAddr)
	if err != nil {
		return nxerrors.Wrap(nxerrors.IOError, "listen for replicas", err)
	}
	p.listener = ln

	p.wg.Add(2)
	go p.acceptLoop()
	go p.heartbeatLoop()
	return nil
}

// Stop closes the listener, every replica connection, and waits for all
// background goroutines to exit.
func (p *Primary) Stop() error {
	close(p.stopCh)
	if p.listener != nil {
		p.listener.Close()
	}
	p.mu.Lock()
	for id, r := range p.replicas {
		r.conn.Close()
		if r.cancel != nil {
			r.cancel()
		}
		delete(p.replicas, id)
	}
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

func (p *Primary) acceptLoop() {
	defer p.wg.Done()
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			select {
			case <-p.stopCh:
				return
			default:
				nxlog.Error("replication accept failed: " + err.Error())
				return
			}
		}
		go func() {
			if err := p.Accept(conn); err != nil {
				nxlog.Error("replication handshake failed: " + err.Error())
			}
		}()
	}
}

// Replicate assigns entry the next offset, appends it to the bounded
// replication log (evicting the oldest entry on overflow), and broadcasts
// it to every connected replica. In async mode it returns immediately; in
// sync mode it blocks until sync_quorum replicas (primary included) have
// acked the offset, or write_timeout elapses.
func (p *Primary) Replicate(entry types.WalEntry, epoch uint64) (uint64, error) {
	p.mu.Lock()
	offset := p.nextOffset
	p.nextOffset++
	p.log = append(p.log, types.ReplicationLogEntry{
		Offset: offset, Epoch: epoch, Entry: entry, Timestamp: time.Now(),
	})
	if p.cfg.LogCapacity > 0 && len(p.log) > p.cfg.LogCapacity {
		p.log = p.log[1:]
		p.baseOffset++
	}
	targets := make([]*replicaConn, 0, len(p.replicas))
	for _, r := range p.replicas {
		targets = append(targets, r)
	}
	p.mu.Unlock()

	nxmetrics.ReplicationOffset.Set(float64(offset))

	msg := Message{Kind: MsgWalEntry, Offset: offset, Epoch: epoch, Entry: entry}
	for _, r := range targets {
		r.send(msg)
	}

	if p.cfg.Mode != "sync" {
		return offset, nil
	}

	deadline := time.Now().Add(p.cfg.WriteTimeout)
	p.mu.Lock()
	reached := p.waitQuorumLocked(offset, deadline)
	p.mu.Unlock()
	if !reached {
		return offset, nxerrors.New(nxerrors.ReplicationTimeout, "sync replication quorum not reached before write_timeout")
	}
	return offset, nil
}

// waitQuorumLocked blocks on p.cond until quorumReachedLocked(offset) or
// deadline passes. Must be called with p.mu held.
func (p *Primary) waitQuorumLocked(offset uint64, deadline time.Time) bool {
	for !p.quorumReachedLocked(offset) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		timer := time.AfterFunc(remaining, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		p.cond.Wait()
		timer.Stop()
	}
	return true
}

// quorumReachedLocked counts the primary itself plus every healthy replica
// whose last acked offset is at or past offset, per "sync_quorum − 1
// replicas (plus self = quorum)".
func (p *Primary) quorumReachedLocked(offset uint64) bool {
	acked := 1
	for _, r := range p.replicas {
		r.mu.Lock()
		if r.info.Healthy && r.info.LastAckOffset >= offset {
			acked++
		}
		r.mu.Unlock()
	}
	return acked >= p.cfg.SyncQuorum
}

// Accept performs the server side of the §4.9 handshake on an already
// established connection: validate Hello, decide full-sync vs. replay,
// respond, and attach the replica to live broadcast.
func (p *Primary) Accept(conn net.Conn) error {
	hello, err := ReadFrame(conn)
	if err != nil {
		conn.Close()
		return err
	}
	if hello.Kind != MsgHello {
		p.rejectAndClose(conn, 1, "expected Hello as first message")
		return nxerrors.New(nxerrors.ProtocolError, "replication: first message was not Hello")
	}
	if hello.ProtocolVersion != ProtocolVersion {
		p.rejectAndClose(conn, 1, "protocol version mismatch")
		return nxerrors.Newf(nxerrors.ProtocolError, "replication: replica %s speaks protocol %d, primary speaks %d",
			hello.ReplicaID, hello.ProtocolVersion, ProtocolVersion)
	}

	p.mu.Lock()
	baseOffset := p.baseOffset
	currentOffset := p.nextOffset
	p.mu.Unlock()
	requiresFullSync := hello.LastWalOffset < baseOffset

	rc := &replicaConn{
		conn:    conn,
		outbox:  make(chan Message, 256),
		checker: health.NewHeartbeatChecker(p.cfg.HeartbeatInterval, p.cfg.MissedHeartbeats),
		info: types.ReplicaInfo{
			ID: hello.ReplicaID, Addr: conn.RemoteAddr().String(),
			LastAckOffset: hello.LastWalOffset, LastHeartbeat: time.Now(),
			ConnectedAt: time.Now(), Healthy: true,
		},
	}
	p.mu.Lock()
	p.replicas[hello.ReplicaID] = rc
	p.mu.Unlock()
	nxmetrics.ConnectedReplicas.Set(float64(len(p.replicas)))

	welcome := Message{Kind: MsgWelcome, MasterID: p.id, CurrentWalOffset: currentOffset, RequiresFullSync: requiresFullSync}
	if err := WriteFrame(conn, welcome); err != nil {
		p.removeReplica(hello.ReplicaID)
		return err
	}

	// replayFrom is the next offset the replica expects to receive, matching
	// the "next expected" convention Hello.LastWalOffset and WalEntry.Offset
	// share: a brand-new replica's LastWalOffset=0 means "I have applied
	// nothing, start me at offset 0" (§4.8's S6 example), not "offset 0 is
	// already applied" — offsets are dense and 0-based (§3 invariant 6).
	replayFrom := hello.LastWalOffset
	if requiresFullSync {
		newReplayFrom, err := p.sendSnapshot(conn, currentOffset)
		if err != nil {
			p.removeReplica(hello.ReplicaID)
			return err
		}
		replayFrom = newReplayFrom
		nxmetrics.SnapshotTransfersTotal.Inc()
	}

	p.mu.Lock()
	var replay []types.ReplicationLogEntry
	for _, e := range p.log {
		if e.Offset >= replayFrom {
			replay = append(replay, e)
		}
	}
	p.mu.Unlock()
	for _, e := range replay {
		rc.send(Message{Kind: MsgWalEntry, Offset: e.Offset, Epoch: e.Epoch, Entry: e.Entry})
	}

	ctx, cancel := context.WithCancel(context.Background())
	rc.cancel = cancel
	p.wg.Add(2)
	go p.writerLoop(ctx, hello.ReplicaID, rc)
	go p.readerLoop(ctx, hello.ReplicaID, rc)
	return nil
}

// sendSnapshot creates a full-state snapshot and streams it as SnapshotMeta
// + ordered SnapshotChunks + SnapshotComplete, returning the WAL offset the
// replica should resume replay from.
func (p *Primary) sendSnapshot(conn net.Conn, currentOffset uint64) (uint64, error) {
	walOffset := currentOffset - 1
	blob, meta, err := p.snapshotSvc.Create(walOffset, 0)
	if err != nil {
		return 0, err
	}

	if err := WriteFrame(conn, Message{
		Kind: MsgSnapshotMeta, SnapshotID: meta.SnapshotID, TotalSize: meta.TotalSize,
		ChunkCount: meta.ChunkCount, Checksum: meta.Checksum, Offset: meta.WalOffset,
	}); err != nil {
		return 0, err
	}

	chunks := snapshot.Chunks(blob)
	for i, chunk := range chunks {
		msg := Message{
			Kind: MsgSnapshotChunk, SnapshotID: meta.SnapshotID, ChunkIndex: uint32(i),
			Data: chunk, ChunkChecksum: crc32.ChecksumIEEE(chunk),
		}
		if err := WriteFrame(conn, msg); err != nil {
			return 0, err
		}
	}

	if err := WriteFrame(conn, Message{Kind: MsgSnapshotComplete, SnapshotID: meta.SnapshotID, Success: true}); err != nil {
		return 0, err
	}
	// The snapshot covers offsets through meta.WalOffset; replay resumes at
	// the next one, matching S6's "then WalEntry messages starting at
	// offset W+1".
	return meta.WalOffset + 1, nil
}

func (p *Primary) rejectAndClose(conn net.Conn, code uint32, msg string) {
	_ = WriteFrame(conn, Message{Kind: MsgError, ErrCode: code, ErrText: msg})
	conn.Close()
}

func (p *Primary) writerLoop(ctx context.Context, replicaID string, rc *replicaConn) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-rc.outbox:
			if err := WriteFrame(rc.conn, msg); err != nil {
				nxlog.WithReplica(replicaID).Warn().Msg("replication write failed: " + err.Error())
				p.removeReplica(replicaID)
				return
			}
		}
	}
}

func (p *Primary) readerLoop(ctx context.Context, replicaID string, rc *replicaConn) {
	defer p.wg.Done()
	for {
		msg, err := ReadFrame(rc.conn)
		if err != nil {
			p.removeReplica(replicaID)
			return
		}
		switch msg.Kind {
		case MsgWalAck:
			rc.checker.Touch()
			p.mu.Lock()
			rc.mu.Lock()
			rc.info.LastAckOffset = msg.Offset
			rc.info.LastHeartbeat = time.Now()
			rc.mu.Unlock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case MsgPong:
			rc.checker.Touch()
			rc.mu.Lock()
			rc.info.LastHeartbeat = time.Now()
			rc.mu.Unlock()
		default:
			nxlog.WithReplica(replicaID).Warn().Msg("unexpected message from replica: " + msg.Kind.String())
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (p *Primary) heartbeatLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.mu.Lock()
			targets := make([]*replicaConn, 0, len(p.replicas))
			for _, r := range p.replicas {
				targets = append(targets, r)
			}
			p.mu.Unlock()

			healthyCount := 0
			for _, r := range targets {
				r.send(Message{Kind: MsgPing})
				result := r.checker.Check(context.Background())
				idle := r.checker.Silence()
				r.mu.Lock()
				r.info.Healthy = result.Healthy
				r.info.Lag = uint64(idle / time.Millisecond)
				healthy := r.info.Healthy
				id := r.info.ID
				r.mu.Unlock()
				if healthy {
					healthyCount++
				}
				nxmetrics.ReplicationLagSeconds.WithLabelValues(id).Set(idle.Seconds())
			}
			nxmetrics.HealthyReplicas.Set(float64(healthyCount))
		}
	}
}

func (p *Primary) removeReplica(id string) {
	p.mu.Lock()
	if r, ok := p.replicas[id]; ok {
		r.conn.Close()
		if r.cancel != nil {
			r.cancel()
		}
		delete(p.replicas, id)
	}
	p.mu.Unlock()
	p.cond.Broadcast()
	nxmetrics.ConnectedReplicas.Set(float64(len(p.replicas)))
}

// Replicas returns a snapshot of every connected replica's tracked state.
func (p *Primary) Replicas() []types.ReplicaInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.ReplicaInfo, 0, len(p.replicas))
	for _, r := range p.replicas {
		r.mu.Lock()
		out = append(out, r.info)
		r.mu.Unlock()
	}
	return out
}

// CurrentOffset returns the next offset Replicate will assign.
func (p *Primary) CurrentOffset() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextOffset
}
