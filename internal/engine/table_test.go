package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTableSlotPartition exercises spec.md §8 property 1: every slot is
// on exactly one of outstanding/free at all times.
func TestTableSlotPartition(t *testing.T) {
	tbl := NewTable()
	assert.Equal(t, TableSize, tbl.NumFree())
	assert.Equal(t, 0, tbl.NumOutstanding())

	var allocated []*slot
	for i := 0; i < 100; i++ {
		s, err := tbl.Allocate()
		require.NoError(t, err)
		allocated = append(allocated, s)
	}
	assert.Equal(t, 100, tbl.NumOutstanding())
	assert.Equal(t, TableSize-100, tbl.NumFree())

	for _, s := range allocated {
		tbl.Release(s, toBack)
	}
	assert.Equal(t, 0, tbl.NumOutstanding())
	assert.Equal(t, TableSize, tbl.NumFree())
}

func TestTableExhaustion(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < TableSize; i++ {
		_, err := tbl.Allocate()
		require.NoError(t, err)
	}
	_, err := tbl.Allocate()
	assert.ErrorIs(t, err, ErrExhausted)
}

// TestTableSendTimeOrder exercises spec.md §8 property 2: Oldest always
// returns the longest-outstanding slot, preserved by toBack releases.
func TestTableSendTimeOrder(t *testing.T) {
	tbl := NewTable()
	s1, _ := tbl.Allocate()
	tbl.Commit(s1, 100)
	s2, _ := tbl.Allocate()
	tbl.Commit(s2, 200)
	s3, _ := tbl.Allocate()
	tbl.Commit(s3, 300)

	assert.Equal(t, s1, tbl.Oldest())
	tbl.Release(tbl.Oldest(), toBack)
	assert.Equal(t, s2, tbl.Oldest())
	tbl.Release(tbl.Oldest(), toBack)
	assert.Equal(t, s3, tbl.Oldest())
	tbl.Release(tbl.Oldest(), toBack)
	assert.Nil(t, tbl.Oldest())
}

func TestTableLookupByID(t *testing.T) {
	tbl := NewTable()
	s, err := tbl.Allocate()
	require.NoError(t, err)
	got := tbl.Lookup(s.id)
	assert.Same(t, s, got)
	assert.True(t, got.outstanding)
}
