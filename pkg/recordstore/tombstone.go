package recordstore

import (
	"sync"

	"github.com/hivellm/nexus/pkg/gc"
)

// tombstones tracks records deleted by a write transaction, keyed by kind
// and id, until the GC reconciler reclaims them once no active reader's
// snapshot can still observe the pre-deletion state (§4.6). The record
// store itself holds no version history, so the deletion epoch has to be
// recorded out of band here rather than in the fixed-width record.
type tombstones struct {
	mu    sync.Mutex
	nodes map[uint64]uint64 // id -> epoch deleted
	rels  map[uint64]uint64
}

func newTombstones() *tombstones {
	return &tombstones{nodes: make(map[uint64]uint64), rels: make(map[uint64]uint64)}
}

// MarkNodeDeleted records that node id was tombstoned at epoch, called by
// the engine immediately after DeleteNode commits.
func (s *Store) MarkNodeDeleted(id, epoch uint64) {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	s.ts.nodes[id] = epoch
}

// MarkRelDeleted records that relationship id was tombstoned at epoch.
func (s *Store) MarkRelDeleted(id, epoch uint64) {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	s.ts.rels[id] = epoch
}

// ListTombstones implements pkg/gc.Store: every tombstone deleted strictly
// before olderThanEpoch (the current low-water mark) is safe to reclaim.
func (s *Store) ListTombstones(olderThanEpoch uint64) ([]gc.Tombstone, error) {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()

	var out []gc.Tombstone
	for id, epoch := range s.ts.nodes {
		if epoch < olderThanEpoch {
			out = append(out, gc.Tombstone{Kind: "node", ID: id, DeletedAt: epoch})
		}
	}
	for id, epoch := range s.ts.rels {
		if epoch < olderThanEpoch {
			out = append(out, gc.Tombstone{Kind: "rel", ID: id, DeletedAt: epoch})
		}
	}
	return out, nil
}

// Reclaim implements pkg/gc.Store: the slot was already zeroed at delete
// time, so reclamation here only needs to drop the tombstone bookkeeping
// entry. Ids are allocated monotonically and never reissued, so the freed
// slot is not handed out again.
func (s *Store) Reclaim(t gc.Tombstone) error {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	switch t.Kind {
	case "node":
		delete(s.ts.nodes, t.ID)
	case "rel":
		delete(s.ts.rels, t.ID)
	}
	return nil
}
