package lockmgr

import (
	"context"
	"sync"
	"time"

	"github.com/hivellm/nexus/pkg/nxerrors"
	"github.com/hivellm/nexus/pkg/nxmetrics"
)

// Mode is one of §4.7's five lock modes.
type Mode uint8

const (
	Read Mode = iota
	Write
	IntentShared
	IntentExclusive
	SharedIntentExclusive
)

func (m Mode) String() string {
	switch m {
	case Read:
		return "R"
	case Write:
		return "W"
	case IntentShared:
		return "IS"
	case IntentExclusive:
		return "IX"
	case SharedIntentExclusive:
		return "SIX"
	default:
		return "?"
	}
}

// compat[held][requested] implements §4.7's compatibility matrix.
var compat = map[Mode]map[Mode]bool{
	Read: {Read: true, Write: false, IntentShared: true, IntentExclusive: false, SharedIntentExclusive: false},
	Write: {Read: false, Write: false, IntentShared: false, IntentExclusive: false, SharedIntentExclusive: false},
	IntentShared:          {Read: true, Write: false, IntentShared: true, IntentExclusive: true, SharedIntentExclusive: true},
	IntentExclusive:       {Read: false, Write: false, IntentShared: true, IntentExclusive: true, SharedIntentExclusive: true},
	SharedIntentExclusive: {Read: true, Write: false, IntentShared: true, IntentExclusive: true, SharedIntentExclusive: true},
}

func compatible(held, requested Mode) bool { return compat[held][requested] }

// selfUpgrade reports whether a holder already in mode cur may upgrade to
// mode want in place, given sole (whether it is the sole holder of the
// resource). Per §4.7: Read->Write iff sole holder; IS->IX; IX->W; SIX->W.
func selfUpgrade(cur, want Mode, sole bool) bool {
	if cur == want {
		return true
	}
	switch {
	case cur == Read && want == Write:
		return sole
	case cur == IntentShared && want == IntentExclusive:
		return true
	case cur == IntentExclusive && want == Write:
		return true
	case cur == SharedIntentExclusive && want == Write:
		return true
	}
	return false
}

type waiter struct {
	txID     uint64
	resource string
	mode     Mode
	result   chan error
}

// Manager grants per-resource locks, maintains a wait-for graph across
// parked requests, and detects deadlocks by DFS before a request blocks.
// Per §5, resourceLocks/pendingRequests/waitForGraph are guarded together:
// every exported method takes the single mu for its whole critical section.
type Manager struct {
	mu             sync.Mutex
	holders        map[string]map[uint64]Mode   // resource -> txID -> mode
	pending        map[string][]*waiter         // resource -> FIFO of parked requests
	waitFor        map[uint64]map[uint64]bool   // requester txID -> set of txIDs it waits on
	defaultTimeout time.Duration
}

// NewManager constructs a lock manager. defaultTimeout is used by Acquire
// when the caller does not specify a context deadline.
func NewManager(defaultTimeout time.Duration) *Manager {
	return &Manager{
		holders:        make(map[string]map[uint64]Mode),
		pending:        make(map[string][]*waiter),
		waitFor:        make(map[uint64]map[uint64]bool),
		defaultTimeout: defaultTimeout,
	}
}

// Guard represents a held lock; callers must defer Unlock immediately after
// a successful Acquire so the lock releases on every path, including a
// later panic recovered upstream by the caller.
type Guard struct {
	mgr      *Manager
	resource string
	txID     uint64
	mode     Mode
	mu       sync.Mutex
	released bool
}

// Unlock releases the lock. Safe to call more than once; only the first
// call has effect.
func (g *Guard) Unlock() {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return
	}
	g.released = true
	g.mu.Unlock()
	g.mgr.release(g.resource, g.txID)
}

// Acquire requests mode on resource for txID, blocking until granted,
// denied by deadlock detection, or timed out. If ctx has no deadline, the
// manager's DefaultTimeout governs.
func (m *Manager) Acquire(ctx context.Context, txID uint64, resource string, mode Mode) (*Guard, error) {
	m.mu.Lock()
	if m.canGrantLocked(resource, txID, mode, true) {
		m.grantLocked(resource, txID, mode)
		m.mu.Unlock()
		nxmetrics.LockGrantsTotal.Inc()
		return &Guard{mgr: m, resource: resource, txID: txID, mode: mode}, nil
	}

	for holderID := range m.holders[resource] {
		if holderID != txID {
			m.addWaitEdgeLocked(txID, holderID)
		}
	}
	if m.hasCycleLocked(txID) {
		m.removeOutgoingEdgesLocked(txID)
		m.mu.Unlock()
		nxmetrics.LockDeadlocksTotal.Inc()
		return nil, nxerrors.Newf(nxerrors.DeadlockDetected, "tx %d deadlocked acquiring %s on %s", txID, mode, resource)
	}

	w := &waiter{txID: txID, resource: resource, mode: mode, result: make(chan error, 1)}
	m.pending[resource] = append(m.pending[resource], w)
	m.mu.Unlock()
	nxmetrics.LockWaitersGauge.Inc()
	defer nxmetrics.LockWaitersGauge.Dec()

	timeout := m.defaultTimeout
	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case err := <-w.result:
		if err != nil {
			return nil, err
		}
		return &Guard{mgr: m, resource: resource, txID: txID, mode: mode}, nil
	case <-timeoutCh:
		m.mu.Lock()
		m.removePendingLocked(resource, w)
		m.removeOutgoingEdgesLocked(txID)
		m.mu.Unlock()
		nxmetrics.LockTimeoutsTotal.Inc()
		return nil, nxerrors.Newf(nxerrors.LockTimeout, "tx %d timed out acquiring %s on %s", txID, mode, resource)
	case <-ctx.Done():
		m.mu.Lock()
		m.removePendingLocked(resource, w)
		m.removeOutgoingEdgesLocked(txID)
		m.mu.Unlock()
		return nil, ctx.Err()
	}
}

// release drops txID's hold on resource and attempts to grant parked
// requests for that resource in arrival order.
func (m *Manager) release(resource string, txID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if holders := m.holders[resource]; holders != nil {
		delete(holders, txID)
		if len(holders) == 0 {
			delete(m.holders, resource)
		}
	}
	m.removeEdgesToLocked(txID)

	queue := m.pending[resource]
	remaining := queue[:0:0]
	for _, w := range queue {
		if m.canGrantLocked(resource, w.txID, w.mode, false) {
			m.grantLocked(resource, w.txID, w.mode)
			m.removeOutgoingEdgesLocked(w.txID)
			w.result <- nil
		} else {
			remaining = append(remaining, w)
		}
	}
	if len(remaining) == 0 {
		delete(m.pending, resource)
	} else {
		m.pending[resource] = remaining
	}
}

// canGrantLocked reports whether mode can be granted to txID on resource
// right now. When enforceFIFO is true (a brand-new request), a non-empty
// pending queue blocks immediate grant so later arrivals cannot jump ahead
// of requests already parked — except for a self-upgrade by the same tx.
func (m *Manager) canGrantLocked(resource string, txID uint64, mode Mode, enforceFIFO bool) bool {
	holders := m.holders[resource]
	if cur, ok := holders[txID]; ok {
		if selfUpgrade(cur, mode, len(holders) == 1) {
			return true
		}
	}
	if enforceFIFO && len(m.pending[resource]) > 0 {
		return false
	}
	for holderID, heldMode := range holders {
		if holderID == txID {
			continue
		}
		if !compatible(heldMode, mode) {
			return false
		}
	}
	return true
}

func (m *Manager) grantLocked(resource string, txID uint64, mode Mode) {
	if m.holders[resource] == nil {
		m.holders[resource] = make(map[uint64]Mode)
	}
	m.holders[resource][txID] = mode
}

func (m *Manager) removePendingLocked(resource string, target *waiter) {
	queue := m.pending[resource]
	for i, w := range queue {
		if w == target {
			m.pending[resource] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(m.pending[resource]) == 0 {
		delete(m.pending, resource)
	}
}

func (m *Manager) addWaitEdgeLocked(requester, holder uint64) {
	if m.waitFor[requester] == nil {
		m.waitFor[requester] = make(map[uint64]bool)
	}
	m.waitFor[requester][holder] = true
}

func (m *Manager) removeOutgoingEdgesLocked(txID uint64) {
	delete(m.waitFor, txID)
}

func (m *Manager) removeEdgesToLocked(target uint64) {
	for requester, set := range m.waitFor {
		if set[target] {
			delete(set, target)
			if len(set) == 0 {
				delete(m.waitFor, requester)
			}
		}
	}
}

// hasCycleLocked runs an iterative-shaped DFS (via recursion + an explicit
// on-stack set) from start over the wait-for graph; a back-edge to a node
// still on the stack is a cycle, per §4.7/§9.
func (m *Manager) hasCycleLocked(start uint64) bool {
	visited := make(map[uint64]bool)
	onStack := make(map[uint64]bool)

	var visit func(uint64) bool
	visit = func(node uint64) bool {
		visited[node] = true
		onStack[node] = true
		for next := range m.waitFor[node] {
			if onStack[next] {
				return true
			}
			if !visited[next] && visit(next) {
				return true
			}
		}
		onStack[node] = false
		return false
	}
	return visit(start)
}
