package seeddb

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seednet/seednet/internal/domain"
)

func testPeer(n int) *domain.Peer {
	return &domain.Peer{
		ID:        domain.ID(fmt.Sprintf("peer%08d", n)),
		Name:      fmt.Sprintf("node-%d", n),
		IP:        fmt.Sprintf("192.0.2.%d", n%250+1),
		Port:      8090,
		Class:     domain.ClassSenior,
		Version:   1.0,
		WordCount: int64(n * 10),
	}
}

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	return NewMemory(nil)
}

func membership(d *Directory, id domain.ID) []Partition {
	var in []Partition
	for _, part := range Partitions {
		if d.Contains(part, id) {
			in = append(in, part)
		}
	}
	return in
}

func TestDirectory_PartitionExclusivity(t *testing.T) {
	d := newTestDirectory(t)
	p := testPeer(1)

	moves := []func(*domain.Peer) error{
		d.AddConnected, d.AddDisconnected, d.AddPotential,
		d.AddConnected, d.AddPotential, d.AddDisconnected, d.AddDisconnected,
	}
	want := []Partition{Connected, Disconnected, Potential, Connected, Potential, Disconnected, Disconnected}
	for i, move := range moves {
		require.NoError(t, move(p))
		assert.Equal(t, []Partition{want[i]}, membership(d, p.ID), "after move %d", i)
	}
	assert.Equal(t, 0, d.Size(Connected))
	assert.Equal(t, 1, d.Size(Disconnected))
	assert.Equal(t, 0, d.Size(Potential))
}

func TestDirectory_RejectsImproper(t *testing.T) {
	d := newTestDirectory(t)
	p := testPeer(1)
	p.Port = 0
	assert.ErrorIs(t, d.AddConnected(p), domain.ErrNotProper)
	assert.ErrorIs(t, d.AddPotential(nil), domain.ErrNotProper)
	assert.Equal(t, 0, d.Size(Connected))
}

func TestDirectory_GetOrder(t *testing.T) {
	d := newTestDirectory(t)
	p := testPeer(3)
	require.NoError(t, d.AddPotential(p))

	got, part, ok := d.Lookup(p.ID)
	require.True(t, ok)
	assert.Equal(t, Potential, part)
	assert.Equal(t, p.Name, got.Name)

	assert.Nil(t, d.GetConnected(p.ID))
	assert.NotNil(t, d.GetPotential(p.ID))
	assert.Nil(t, d.Get("peer99999999"))
}

func TestDirectory_Self(t *testing.T) {
	d := newTestDirectory(t)
	assert.Nil(t, d.Self())
	assert.Panics(t, func() { d.MustSelf() })

	self := testPeer(7)
	require.NoError(t, d.AddConnected(self))
	require.NoError(t, d.SetSelf(self))

	// Installing self removes the id from every partition.
	assert.Empty(t, membership(d, self.ID))
	assert.Equal(t, 0, d.Size(Connected))

	got, part, ok := d.Lookup(self.ID)
	require.True(t, ok)
	assert.Equal(t, Partition(-1), part)
	assert.Equal(t, self.ID, got.ID)

	assert.ErrorIs(t, d.AddConnected(self), domain.ErrSelfReference)

	require.NoError(t, d.UpdateSelf(func(p *domain.Peer) {
		p.WordCount = 42
		p.ID = "hijack000000"
	}))
	assert.Equal(t, int64(42), d.Self().WordCount)
	assert.Equal(t, self.ID, d.SelfID())
}

type memSelfStore struct {
	saved *domain.Peer
	saves int
}

func (s *memSelfStore) LoadSelf() (*domain.Peer, error) { return s.saved.Clone(), nil }

func (s *memSelfStore) SaveSelf(p *domain.Peer) error {
	s.saved = p.Clone()
	s.saves++
	return nil
}

func TestDirectory_SelfPersisted(t *testing.T) {
	store := &memSelfStore{}
	d, err := New(DefaultConfig(), MemoryTables(), store, nil)
	require.NoError(t, err)
	require.NoError(t, d.SetSelf(testPeer(1)))
	require.NoError(t, d.UpdateSelf(func(p *domain.Peer) { p.URLCount = 5 }))
	assert.Equal(t, 2, store.saves)

	reopened, err := New(DefaultConfig(), MemoryTables(), store, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), reopened.Self().URLCount)
}

func TestDirectory_LookupByNameAndAddress(t *testing.T) {
	d := newTestDirectory(t)
	a, b := testPeer(1), testPeer(2)
	require.NoError(t, d.AddConnected(a))
	require.NoError(t, d.AddDisconnected(b))

	assert.Equal(t, a.ID, d.LookupByName("node-1").ID)
	assert.Equal(t, b.ID, d.LookupByName("node-2").ID)
	assert.Nil(t, d.LookupByName("node-2", Connected))
	assert.Nil(t, d.LookupByName(""))

	assert.Equal(t, a.ID, d.LookupByAddress(a.Address()).ID)
	assert.Nil(t, d.LookupByAddress(b.Address(), Connected))

	// A renamed peer must not be found under its old name through the cache.
	renamed := a.Clone()
	renamed.Name = "renamed"
	require.NoError(t, d.AddConnected(renamed))
	assert.Nil(t, d.LookupByName("node-1"))
	assert.Equal(t, a.ID, d.LookupByName("renamed").ID)

	assert.Len(t, d.LookupByIP(Connected, a.IP), 1)
}

func TestDirectory_SortedBy(t *testing.T) {
	d := newTestDirectory(t)
	for _, n := range []int{4, 1, 3, 2} {
		require.NoError(t, d.AddConnected(testPeer(n)))
	}
	tie := testPeer(5)
	tie.WordCount = 40
	require.NoError(t, d.AddConnected(tie))

	desc := d.SortedBy(Connected, domain.SortByWordCount, false)
	var ids []domain.ID
	for _, p := range desc {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []domain.ID{"peer00000005", "peer00000004", "peer00000003", "peer00000002", "peer00000001"}, ids)

	asc := d.SortedBy(Connected, domain.SortByWordCount, true)
	assert.Equal(t, domain.ID("peer00000001"), asc[0].ID)
	assert.Equal(t, domain.ID("peer00000005"), asc[4].ID)
}

// flakyTable fails reads once armed, the way a table with a corrupt row does.
type flakyTable struct {
	*MemTable
	broken bool
}

func (t *flakyTable) Get(id domain.ID) (*domain.Peer, error) {
	if t.broken {
		return nil, fmt.Errorf("%w: bad row %s", domain.ErrCorruptRecord, id)
	}
	return t.MemTable.Get(id)
}

func (t *flakyTable) Clear() error {
	t.broken = false
	return t.MemTable.Clear()
}

func newFlakyDirectory(t *testing.T) (*Directory, *flakyTable) {
	t.Helper()
	flaky := &flakyTable{MemTable: NewMemTable()}
	tables := MemoryTables()
	tables.Connected = flaky
	d, err := New(DefaultConfig(), tables, nil, nil)
	require.NoError(t, err)
	return d, flaky
}

func TestDirectory_CorruptionResets(t *testing.T) {
	d, flaky := newFlakyDirectory(t)
	for n := 1; n <= 3; n++ {
		require.NoError(t, d.AddConnected(testPeer(n)))
	}
	require.NoError(t, d.AddPotential(testPeer(9)))
	flaky.broken = true

	peers := d.SortedBy(Connected, domain.SortByName, true)
	assert.Empty(t, peers)
	assert.Equal(t, 0, d.Size(Connected))
	assert.Equal(t, int64(1), d.Resets(Connected))
	assert.Equal(t, int64(0), d.Resets(Potential))
	assert.Equal(t, 1, d.Size(Potential), "other partitions are untouched")

	// The partition is usable again after the reset.
	require.NoError(t, d.AddConnected(testPeer(1)))
	assert.NotNil(t, d.GetConnected("peer00000001"))
}

func TestDirectory_GetInResetsOnCorruption(t *testing.T) {
	d, flaky := newFlakyDirectory(t)
	require.NoError(t, d.AddConnected(testPeer(1)))
	flaky.broken = true

	assert.Nil(t, d.Get("peer00000001"))
	assert.Equal(t, int64(1), d.Stats().Resets)
}

func TestDirectory_Stats(t *testing.T) {
	d := newTestDirectory(t)
	require.NoError(t, d.AddConnected(testPeer(1)))
	require.NoError(t, d.AddConnected(testPeer(2)))
	require.NoError(t, d.AddDisconnected(testPeer(3)))

	s := d.Stats()
	assert.Equal(t, 2, s.Connected)
	assert.Equal(t, 1, s.Disconnected)
	assert.Equal(t, 0, s.Potential)
	assert.Equal(t, int64(30), s.WordCount)
}

func TestParsePartition(t *testing.T) {
	for _, part := range Partitions {
		got, err := ParsePartition(part.String())
		require.NoError(t, err)
		assert.Equal(t, part, got)
	}
	_, err := ParsePartition("lost")
	assert.Error(t, err)
}

type failingStore struct{}

func (failingStore) LoadSelf() (*domain.Peer, error) { return nil, errors.New("disk gone") }
func (failingStore) SaveSelf(*domain.Peer) error     { return errors.New("disk gone") }

func TestNew_SelfStoreFailure(t *testing.T) {
	_, err := New(DefaultConfig(), MemoryTables(), failingStore{}, nil)
	assert.Error(t, err)

	_, err = New(DefaultConfig(), Tables{}, nil, nil)
	assert.Error(t, err)
}

// fullTable refuses writes, the way a table on a full disk does.
type fullTable struct{ *MemTable }

func (fullTable) Put(*domain.Peer) error { return errors.New("disk full") }

func TestDirectory_FailedMoveKeepsPeer(t *testing.T) {
	tables := MemoryTables()
	tables.Disconnected = fullTable{NewMemTable()}
	d, err := New(DefaultConfig(), tables, nil, nil)
	require.NoError(t, err)

	p := testPeer(1)
	p.WordCount = 77
	require.NoError(t, d.AddConnected(p))

	err = d.AddDisconnected(testPeer(1))
	require.Error(t, err)
	assert.Equal(t, []Partition{Connected}, membership(d, p.ID))
	assert.Equal(t, int64(77), d.GetConnected(p.ID).WordCount)
}
