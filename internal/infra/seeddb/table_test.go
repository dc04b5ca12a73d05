package seeddb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seednet/seednet/internal/domain"
)

func TestMemTable(t *testing.T) {
	tbl := NewMemTable()
	p, err := tbl.Get("peer00000001")
	require.NoError(t, err)
	assert.Nil(t, p)

	for _, n := range []int{3, 1, 2} {
		require.NoError(t, tbl.Put(testPeer(n)))
	}
	keys, err := tbl.Keys()
	require.NoError(t, err)
	assert.Equal(t, []domain.ID{"peer00000001", "peer00000002", "peer00000003"}, keys)

	// Stored records are copies.
	got, err := tbl.Get("peer00000001")
	require.NoError(t, err)
	got.Name = "mutated"
	again, _ := tbl.Get("peer00000001")
	assert.Equal(t, "node-1", again.Name)

	require.NoError(t, tbl.Delete("peer00000002"))
	assert.Equal(t, 2, tbl.Len())
	require.NoError(t, tbl.Clear())
	assert.Equal(t, 0, tbl.Len())
}

// countingTable counts reads that reach the backing table.
type countingTable struct {
	*MemTable
	gets int
}

func (t *countingTable) Get(id domain.ID) (*domain.Peer, error) {
	t.gets++
	return t.MemTable.Get(id)
}

func TestCachedTable(t *testing.T) {
	backing := &countingTable{MemTable: NewMemTable()}
	tbl, err := NewCachedTable(backing, 8)
	require.NoError(t, err)

	require.NoError(t, tbl.Put(testPeer(1)))
	for i := 0; i < 3; i++ {
		p, err := tbl.Get("peer00000001")
		require.NoError(t, err)
		assert.Equal(t, "node-1", p.Name)
	}
	assert.Equal(t, 0, backing.gets, "reads after Put are served from cache")

	require.NoError(t, tbl.Delete("peer00000001"))
	p, err := tbl.Get("peer00000001")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Equal(t, 1, backing.gets)

	require.NoError(t, backing.Put(testPeer(2)))
	_, _ = tbl.Get("peer00000002")
	_, _ = tbl.Get("peer00000002")
	assert.Equal(t, 2, backing.gets, "a miss populates the cache")

	require.NoError(t, tbl.Clear())
	assert.Equal(t, 0, tbl.Len())
}
