package seeddb

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/seednet/seednet/internal/domain"
)

// Table is the keyed storage behind one partition. Get returns (nil, nil)
// for absent ids; any other error means the stored row is unusable and is
// treated as corruption of the whole table.
type Table interface {
	Get(id domain.ID) (*domain.Peer, error)
	Put(p *domain.Peer) error
	Delete(id domain.ID) error
	// Keys returns every id in ascending order.
	Keys() ([]domain.ID, error)
	Len() int
	Clear() error
}

// ─── Memory Table ───────────────────────────────────────────────────────────

// MemTable is a Table held in memory.
type MemTable struct {
	mu   sync.RWMutex
	rows map[domain.ID]*domain.Peer
}

// NewMemTable creates an empty in-memory table.
func NewMemTable() *MemTable {
	return &MemTable{rows: make(map[domain.ID]*domain.Peer)}
}

func (t *MemTable) Get(id domain.ID) (*domain.Peer, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rows[id].Clone(), nil
}

func (t *MemTable) Put(p *domain.Peer) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[p.ID] = p.Clone()
	return nil
}

func (t *MemTable) Delete(id domain.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rows, id)
	return nil
}

func (t *MemTable) Keys() ([]domain.ID, error) {
	t.mu.RLock()
	keys := make([]domain.ID, 0, len(t.rows))
	for id := range t.rows {
		keys = append(keys, id)
	}
	t.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

func (t *MemTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

func (t *MemTable) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = make(map[domain.ID]*domain.Peer)
	return nil
}

// ─── Cached Table ───────────────────────────────────────────────────────────

// CachedTable keeps recently decoded records of a persistent table in an
// LRU so hot records are not parsed again on every read.
type CachedTable struct {
	Table
	cache *lru.Cache[domain.ID, *domain.Peer]
}

// NewCachedTable wraps t with a cache of size entries.
func NewCachedTable(t Table, size int) (*CachedTable, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New[domain.ID, *domain.Peer](size)
	if err != nil {
		return nil, err
	}
	return &CachedTable{Table: t, cache: c}, nil
}

func (t *CachedTable) Get(id domain.ID) (*domain.Peer, error) {
	if p, ok := t.cache.Get(id); ok {
		return p.Clone(), nil
	}
	p, err := t.Table.Get(id)
	if err != nil || p == nil {
		return p, err
	}
	t.cache.Add(id, p.Clone())
	return p, nil
}

func (t *CachedTable) Put(p *domain.Peer) error {
	if err := t.Table.Put(p); err != nil {
		t.cache.Remove(p.ID)
		return err
	}
	t.cache.Add(p.ID, p.Clone())
	return nil
}

func (t *CachedTable) Delete(id domain.ID) error {
	t.cache.Remove(id)
	return t.Table.Delete(id)
}

func (t *CachedTable) Clear() error {
	t.cache.Purge()
	return t.Table.Clear()
}
