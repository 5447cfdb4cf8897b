package lockmgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hivellm/nexus/pkg/nxerrors"
	"github.com/stretchr/testify/require"
)

func TestCompatibleGrantsConcurrentReaders(t *testing.T) {
	m := NewManager(time.Second)
	g1, err := m.Acquire(context.Background(), 1, "n1", Read)
	require.NoError(t, err)
	g2, err := m.Acquire(context.Background(), 2, "n1", Read)
	require.NoError(t, err)
	g1.Unlock()
	g2.Unlock()
}

func TestWriteExcludesReaders(t *testing.T) {
	m := NewManager(50 * time.Millisecond)
	g1, err := m.Acquire(context.Background(), 1, "n1", Write)
	require.NoError(t, err)

	_, err = m.Acquire(context.Background(), 2, "n1", Read)
	require.Error(t, err)
	kind, ok := nxerrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, nxerrors.LockTimeout, kind)

	g1.Unlock()
}

func TestSelfUpgradeReadToWrite(t *testing.T) {
	m := NewManager(time.Second)
	g, err := m.Acquire(context.Background(), 1, "n1", Read)
	require.NoError(t, err)
	g2, err := m.Acquire(context.Background(), 1, "n1", Write)
	require.NoError(t, err)
	g.Unlock()
	g2.Unlock()
}

func TestDeadlockDetection(t *testing.T) {
	// S4: tx A locks X(W), tx B locks Y(W); A requests Y(W), B requests X(W).
	m := NewManager(2 * time.Second)
	gx, err := m.Acquire(context.Background(), 1, "X", Write)
	require.NoError(t, err)
	gy, err := m.Acquire(context.Background(), 2, "Y", Write)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := m.Acquire(context.Background(), 1, "Y", Write)
		results[0] = err
	}()
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond) // let A's request park first
		_, err := m.Acquire(context.Background(), 2, "X", Write)
		results[1] = err
	}()
	wg.Wait()

	deadlocks := 0
	for _, err := range results {
		if err != nil {
			kind, ok := nxerrors.KindOf(err)
			require.True(t, ok)
			require.Equal(t, nxerrors.DeadlockDetected, kind)
			deadlocks++
		}
	}
	require.Equal(t, 1, deadlocks, "exactly one of the two requests in the cycle must fail")

	gx.Unlock()
	gy.Unlock()
}

func TestReleaseGrantsParkedInArrivalOrder(t *testing.T) {
	m := NewManager(time.Second)
	g1, err := m.Acquire(context.Background(), 1, "n1", Write)
	require.NoError(t, err)

	order := make(chan uint64, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		g, err := m.Acquire(context.Background(), 2, "n1", Write)
		require.NoError(t, err)
		order <- 2
		g.Unlock()
	}()
	time.Sleep(10 * time.Millisecond)
	go func() {
		defer wg.Done()
		g, err := m.Acquire(context.Background(), 3, "n1", Write)
		require.NoError(t, err)
		order <- 3
		g.Unlock()
	}()
	time.Sleep(10 * time.Millisecond)

	g1.Unlock()
	wg.Wait()
	close(order)

	first := <-order
	require.Equal(t, uint64(2), first, "tx 2 parked before tx 3 and must be granted first")
}

func TestGuardUnlockIdempotent(t *testing.T) {
	m := NewManager(time.Second)
	g, err := m.Acquire(context.Background(), 1, "n1", Write)
	require.NoError(t, err)
	g.Unlock()
	g.Unlock() // must not panic or double-release
}
