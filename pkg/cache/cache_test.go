package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLayerLRUEviction(t *testing.T) {
	l := NewLayer("t", PolicyLRU, 3, 0, 0)
	require.NoError(t, l.Put("a", []byte("x")))
	require.NoError(t, l.Put("b", []byte("x")))
	require.NoError(t, l.Put("c", []byte("x")))

	// touch "a" so "b" becomes least recently used
	_, ok := l.Get("a")
	require.True(t, ok)

	require.NoError(t, l.Put("d", []byte("x")))
	_, ok = l.Get("b")
	require.False(t, ok, "b should have been evicted as LRU")
	_, ok = l.Get("a")
	require.True(t, ok)
}

func TestLayerRejectsOversizedEntry(t *testing.T) {
	l := NewLayer("t", PolicyLRU, 1024, 4, 0)
	err := l.Put("k", []byte("too-long"))
	require.Error(t, err)
	require.Equal(t, 0, l.Size())
	require.Equal(t, uint64(1), l.Stats().Rejected)
}

func TestLayerTTLExpiry(t *testing.T) {
	l := NewLayer("t", PolicyLRU, 1024, 0, 10*time.Millisecond)
	require.NoError(t, l.Put("k", []byte("v")))
	_, ok := l.Get("k")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = l.Get("k")
	require.False(t, ok)
	require.Equal(t, 0, l.Size())
}

func TestLayerInvalidatePattern(t *testing.T) {
	l := NewLayer("t", PolicyLRU, 1024, 0, 0)
	require.NoError(t, l.Put("node:1", []byte("x")))
	require.NoError(t, l.Put("node:2", []byte("x")))
	require.NoError(t, l.Put("rel:1", []byte("x")))

	n := l.InvalidatePattern("node:")
	require.Equal(t, 2, n)
	require.Equal(t, 1, l.Size())
	_, ok := l.Get("rel:1")
	require.True(t, ok)
}

func TestQueryCacheGatesOnMinExecTime(t *testing.T) {
	q := NewQueryCache(1024, time.Minute, 5*time.Millisecond)

	cached, err := q.PutIfSlow("plan1", []byte("fast"), 1*time.Millisecond)
	require.NoError(t, err)
	require.False(t, cached)
	_, ok := q.Get("plan1")
	require.False(t, ok)

	cached, err = q.PutIfSlow("plan2", []byte("slow"), 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, cached)
	v, ok := q.Get("plan2")
	require.True(t, ok)
	require.Equal(t, []byte("slow"), v)
}

func TestLayerFIFOEviction(t *testing.T) {
	l := NewLayer("t", PolicyFIFO, 2, 0, 0)
	require.NoError(t, l.Put("a", []byte("x")))
	require.NoError(t, l.Put("b", []byte("x")))
	// Even though "a" was just read, FIFO evicts by insertion order, not access.
	_, _ = l.Get("a")
	require.NoError(t, l.Put("c", []byte("x")))

	_, ok := l.Get("a")
	require.False(t, ok, "oldest inserted entry should be evicted under FIFO")
	_, ok = l.Get("b")
	require.True(t, ok)
}
