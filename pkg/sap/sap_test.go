package sap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindAcceptsThenRejectsSecondOwner(t *testing.T) {
	tbl := NewTable()

	mtu, err := tbl.Bind(3, "conn-a", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultMTU, mtu)

	_, err = tbl.Bind(3, "conn-b", 0, 0)
	assert.ErrorIs(t, err, ErrOccupied)
}

func TestBindRejectsOutOfRange(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Bind(16, "conn-a", 0, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = tbl.Bind(-1, "conn-a", 0, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestUnbindThenRebind(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Bind(3, "conn-a", 0, 0)
	require.NoError(t, err)

	require.NoError(t, tbl.Unbind(3, "conn-a"))

	mtu, err := tbl.Bind(3, "conn-b", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultMTU, mtu)
}

func TestUnbindWrongOwnerRejected(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Bind(3, "conn-a", 0, 0)
	require.NoError(t, err)

	err = tbl.Unbind(3, "conn-b")
	assert.ErrorIs(t, err, ErrOwnerMismatch)
}

func TestUnbindNotBound(t *testing.T) {
	tbl := NewTable()
	err := tbl.Unbind(3, "conn-a")
	assert.ErrorIs(t, err, ErrNotBound)
}

func TestLookupUnbound(t *testing.T) {
	tbl := NewTable()
	_, ok := tbl.Lookup(5)
	assert.False(t, ok)
}

func TestReleaseOwnerClearsBinding(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Bind(7, "conn-a", 0, 0)
	require.NoError(t, err)

	tbl.ReleaseOwner("conn-a")

	_, ok := tbl.Lookup(7)
	assert.False(t, ok)
}

func TestExclusivityAcrossAllSlots(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < Count; i++ {
		_, err := tbl.Bind(i, i, 0, 0)
		require.NoError(t, err)
	}
	snap := tbl.Snapshot()
	assert.Len(t, snap, Count)

	seen := map[int]bool{}
	for _, b := range snap {
		assert.False(t, seen[b.SAP], "sap %d bound more than once", b.SAP)
		seen[b.SAP] = true
	}
}

func TestLookupMTUReflectsBinding(t *testing.T) {
	tbl := NewTable()
	_, ok := tbl.LookupMTU(5)
	assert.False(t, ok)

	_, err := tbl.Bind(5, "conn", 0, 0)
	require.NoError(t, err)
	mtu, ok := tbl.LookupMTU(5)
	require.True(t, ok)
	assert.Equal(t, DefaultMTU, mtu)
}
