package gc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu         sync.Mutex
	tombstones []Tombstone
	reclaimed  []Tombstone
}

func (f *fakeStore) ListTombstones(olderThanEpoch uint64) ([]Tombstone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Tombstone
	for _, t := range f.tombstones {
		if t.DeletedAt < olderThanEpoch {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) Reclaim(t Tombstone) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reclaimed = append(f.reclaimed, t)
	var kept []Tombstone
	for _, ts := range f.tombstones {
		if ts.ID != t.ID || ts.Kind != t.Kind {
			kept = append(kept, ts)
		}
	}
	f.tombstones = kept
	return nil
}

type fixedMark struct{ v uint64 }

func (f fixedMark) LowWaterMark() uint64 { return f.v }

func TestReconcileReclaimsBelowLowWaterMark(t *testing.T) {
	store := &fakeStore{tombstones: []Tombstone{
		{Kind: "node", ID: 1, DeletedAt: 2},
		{Kind: "node", ID: 2, DeletedAt: 5},
	}}
	r := New(store, fixedMark{v: 4}, time.Hour)

	require.NoError(t, r.RunOnce())

	require.Len(t, store.reclaimed, 1)
	require.Equal(t, uint64(1), store.reclaimed[0].ID)
	require.Len(t, store.tombstones, 1)
	require.Equal(t, uint64(2), store.tombstones[0].ID)
}

func TestStartStopIsClean(t *testing.T) {
	store := &fakeStore{}
	r := New(store, fixedMark{v: 0}, 5*time.Millisecond)
	r.Start()
	time.Sleep(15 * time.Millisecond)
	r.Stop()
	r.Stop() // idempotent
}
