package gc

import (
	"sync"
	"time"

	"github.com/hivellm/nexus/pkg/nxlog"
	"github.com/hivellm/nexus/pkg/nxmetrics"
)

// Tombstone identifies a deleted record retained pending reclamation.
type Tombstone struct {
	Kind        string // "node" or "rel"; the store's Reclaim dispatches on it
	ID          uint64
	DeletedAt   uint64 // epoch the delete committed at
}

// Store is the narrow collaborator interface the reconciler needs from the
// record store: enumerate tombstones older than a cutoff, and reclaim
// (physically free) one once it is safe to do so.
type Store interface {
	ListTombstones(olderThanEpoch uint64) ([]Tombstone, error)
	Reclaim(t Tombstone) error
}

// LowWaterMarker supplies the oldest epoch any active reader still depends
// on; satisfied by *txn.Manager.
type LowWaterMarker interface {
	LowWaterMark() uint64
}

// Reconciler periodically reclaims tombstones that have fallen below the
// transaction manager's low-water mark, mirroring the teacher's
// tick-list-act reconciliation loop.
type Reconciler struct {
	store    Store
	epochs   LowWaterMarker
	interval time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// New constructs a Reconciler. It does not start the loop; call Start.
func New(store Store, epochs LowWaterMarker, interval time.Duration) *Reconciler {
	return &Reconciler{
		store:    store,
		epochs:   epochs,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the reconciliation loop in a background goroutine.
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop signals the loop to exit and waits for it to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Reconciler) run() {
	defer r.wg.Done()
	logger := nxlog.WithComponent("gc")
	logger.Info().Msg("tombstone reconciler started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.reconcile(); err != nil {
				logger.Error().Err(err).Msg("tombstone reconciliation cycle failed")
			}
		case <-r.stopCh:
			logger.Info().Msg("tombstone reconciler stopped")
			return
		}
	}
}

// reconcile runs one cycle: list tombstones strictly below the low-water
// mark and reclaim each. A reclaim failure for one tombstone is logged and
// does not abort the rest of the cycle.
func (r *Reconciler) reconcile() error {
	timer := nxmetrics.NewTimer()
	defer timer.ObserveDuration(nxmetrics.GCCycleDuration)

	lwm := r.epochs.LowWaterMark()
	tombstones, err := r.store.ListTombstones(lwm)
	if err != nil {
		return err
	}

	logger := nxlog.WithComponent("gc")
	for _, ts := range tombstones {
		if err := r.store.Reclaim(ts); err != nil {
			logger.Error().Err(err).Uint64("id", ts.ID).Str("kind", ts.Kind).Msg("failed to reclaim tombstone")
			continue
		}
		nxmetrics.TombstonesReclaimedTotal.Inc()
	}
	return nil
}

// RunOnce executes a single reconciliation cycle synchronously, for tests
// and for an operator-triggered manual GC pass.
func (r *Reconciler) RunOnce() error {
	return r.reconcile()
}
