package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// HeartbeatChecker judges health passively: it does not dial anything, it
// compares the current time against the last time the caller recorded a
// heartbeat (a Pong or a WalAck) via Touch. Used by the replication primary
// to evaluate a replica's liveness between explicit Ping round-trips (§4.9).
type HeartbeatChecker struct {
	mu            sync.Mutex
	last          time.Time
	maxSilence    time.Duration
	missedInARow  int
	missedLimit   int
}

// NewHeartbeatChecker creates a checker that considers a peer unhealthy once
// missedLimit consecutive Check calls have each observed more than
// maxSilence since the last Touch.
func NewHeartbeatChecker(maxSilence time.Duration, missedLimit int) *HeartbeatChecker {
	return &HeartbeatChecker{
		last:        time.Now(),
		maxSilence:  maxSilence,
		missedLimit: missedLimit,
	}
}

// Touch records a heartbeat observation (Pong or WalAck received).
func (h *HeartbeatChecker) Touch() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = time.Now()
	h.missedInARow = 0
}

// Check reports whether the peer is still healthy.
func (h *HeartbeatChecker) Check(_ context.Context) Result {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := time.Now()
	silence := start.Sub(h.last)
	if silence <= h.maxSilence {
		return Result{Healthy: true, Message: "heartbeat recent", CheckedAt: start, Duration: 0}
	}

	h.missedInARow++
	healthy := h.missedInARow < h.missedLimit
	return Result{
		Healthy: healthy,
		Message: fmt.Sprintf("no heartbeat for %s (missed %d/%d)", silence, h.missedInARow, h.missedLimit),
		CheckedAt: start,
		Duration:  0,
	}
}

// Type returns the health check type.
func (h *HeartbeatChecker) Type() CheckType {
	return CheckTypeHeartbeat
}

// Silence returns how long it has been since the last Touch.
func (h *HeartbeatChecker) Silence() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return time.Since(h.last)
}
