package txn

import (
	"testing"

	"github.com/hivellm/nexus/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestBeginReadPinsCurrentEpoch(t *testing.T) {
	m := NewManager()
	wtx := m.BeginWrite()
	m.Commit(wtx) // epoch -> 1

	rtx := m.BeginRead()
	require.Equal(t, uint64(1), rtx.Epoch)
	require.Equal(t, types.ModeRead, rtx.Mode)

	wtx2 := m.BeginWrite()
	m.Commit(wtx2) // epoch -> 2, must not affect rtx's fixed snapshot
	require.Equal(t, uint64(1), rtx.Epoch)
	require.Equal(t, uint64(2), m.CurrentEpoch())
}

func TestCommitIncrementsEpochMonotonically(t *testing.T) {
	m := NewManager()
	require.EqualValues(t, 0, m.CurrentEpoch())

	for i := uint64(1); i <= 3; i++ {
		tx := m.BeginWrite()
		got := m.Commit(tx)
		require.Equal(t, i, got)
	}
	require.EqualValues(t, 3, m.CurrentEpoch())
}

func TestAbortDoesNotAdvanceEpoch(t *testing.T) {
	m := NewManager()
	tx := m.BeginWrite()
	m.Abort(tx)
	require.EqualValues(t, 0, m.CurrentEpoch())

	// writeMu must be released by Abort, or this would deadlock.
	tx2 := m.BeginWrite()
	m.Commit(tx2)
	require.EqualValues(t, 1, m.CurrentEpoch())
}

func TestIsVisible(t *testing.T) {
	del := uint64(5)
	cases := []struct {
		name    string
		reader  uint64
		created uint64
		deleted *uint64
		want    bool
	}{
		{"created after reader", 2, 3, nil, false},
		{"never deleted, created before reader", 10, 3, nil, true},
		{"created exactly at reader epoch", 3, 3, nil, true},
		{"deleted before reader", 6, 1, &del, false},
		{"deleted exactly at reader epoch excludes", 5, 1, &del, false},
		{"deleted after reader", 4, 1, &del, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, IsVisible(c.reader, c.created, c.deleted))
		})
	}
}

func TestLowWaterMarkTracksOldestActiveReader(t *testing.T) {
	m := NewManager()
	for i := 0; i < 3; i++ {
		tx := m.BeginWrite()
		m.Commit(tx)
	}
	require.EqualValues(t, 3, m.CurrentEpoch())

	r1 := m.BeginRead() // epoch 3
	for i := 0; i < 2; i++ {
		tx := m.BeginWrite()
		m.Commit(tx)
	}
	require.EqualValues(t, 5, m.CurrentEpoch())
	r2 := m.BeginRead() // epoch 5

	require.EqualValues(t, 3, m.LowWaterMark())

	m.EndRead(r1)
	require.EqualValues(t, 5, m.LowWaterMark())

	m.EndRead(r2)
	require.EqualValues(t, 5, m.LowWaterMark())
}

func TestActiveReadersCount(t *testing.T) {
	m := NewManager()
	require.Equal(t, 0, m.ActiveReaders())

	r1 := m.BeginRead()
	r2 := m.BeginRead()
	require.Equal(t, 2, m.ActiveReaders())

	m.EndRead(r1)
	require.Equal(t, 1, m.ActiveReaders())
	m.EndRead(r2)
	require.Equal(t, 0, m.ActiveReaders())
}
