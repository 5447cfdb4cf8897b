package pagecache

import (
	"testing"

	"github.com/hivellm/nexus/pkg/nxerrors"
	"github.com/stretchr/testify/require"
)

func memoryCache(capacity int) (*Cache, map[uint64][]byte) {
	store := make(map[uint64][]byte)
	loader := func(id uint64) (*Page, error) {
		p := NewPage(id)
		if data, ok := store[id]; ok {
			copy(p.Data, data)
		}
		return p, nil
	}
	flusher := func(p *Page) error {
		data := make([]byte, len(p.Data))
		copy(data, p.Data)
		store[p.ID] = data
		return nil
	}
	return NewCache(capacity, loader, flusher), store
}

func TestChecksumRoundTrip(t *testing.T) {
	p := NewPage(1)
	p.Data[20] = 0xAB
	p.UpdateChecksum()
	ok, stored, actual := p.ValidateChecksum()
	require.True(t, ok)
	require.Equal(t, stored, actual)

	p.Data[20] = 0xFF // corrupt the body without refreshing the checksum
	ok, _, _ = p.ValidateChecksum()
	require.False(t, ok)
}

func TestEvictionUnderPin(t *testing.T) {
	// S3: capacity 3, load {1,2,3}, pin 2, load 4,5,6: page 2 survives.
	c, _ := memoryCache(3)

	for _, id := range []uint64{1, 2, 3} {
		_, err := c.GetPage(id)
		require.NoError(t, err)
	}
	require.NoError(t, c.PinPage(2))

	for _, id := range []uint64{4, 5, 6} {
		_, err := c.GetPage(id)
		require.NoError(t, err)
	}

	require.True(t, c.ContainsPage(2), "pinned page must never be evicted")
	require.Equal(t, 3, c.Stats().Resident)
}

func TestAllPinnedFailsEviction(t *testing.T) {
	c, _ := memoryCache(2)

	for _, id := range []uint64{1, 2} {
		_, err := c.GetPage(id)
		require.NoError(t, err)
		require.NoError(t, c.PinPage(id))
	}

	_, err := c.GetPage(3)
	require.Error(t, err)
	kind, ok := nxerrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, nxerrors.AllPinned, kind)
}

func TestDirtyPageFlushedBeforeEviction(t *testing.T) {
	c, store := memoryCache(1)

	p1, err := c.GetPage(1)
	require.NoError(t, err)
	p1.Data[4] = 0x42
	require.NoError(t, c.MarkDirty(1))

	_, err = c.GetPage(2)
	require.NoError(t, err)

	require.Contains(t, store, uint64(1))
	require.Equal(t, byte(0x42), store[1][4])
}

func TestFlushIdempotent(t *testing.T) {
	c, _ := memoryCache(2)
	_, err := c.GetPage(1)
	require.NoError(t, err)
	require.NoError(t, c.MarkDirty(1))

	require.NoError(t, c.Flush())
	require.NoError(t, c.Flush()) // second flush is a no-op, nothing dirty
}
