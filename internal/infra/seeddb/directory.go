// Package seeddb is the peer directory: the local node's eventually
// consistent view of the network, split into connected, disconnected and
// potential partitions, plus the distinguished self record.
//
// A peer id lives in at most one partition. The directory is a rebuildable
// cache of gossip, so unreadable storage is answered by clearing the
// affected partition rather than by failing the caller.
package seeddb

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/seednet/seednet/internal/domain"
	"github.com/seednet/seednet/internal/infra/metrics"
)

// Partition selects one of the three peer collections.
type Partition int

const (
	Connected Partition = iota
	Disconnected
	Potential
)

// Partitions lists every partition in lookup order.
var Partitions = []Partition{Connected, Disconnected, Potential}

// String returns the partition name.
func (p Partition) String() string {
	switch p {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Potential:
		return "potential"
	}
	return "unknown"
}

// ParsePartition parses a partition name.
func ParsePartition(s string) (Partition, error) {
	for _, p := range Partitions {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown partition %q", s)
}

// SelfStore persists the local peer record.
type SelfStore interface {
	LoadSelf() (*domain.Peer, error)
	SaveSelf(p *domain.Peer) error
}

// Tables bundles the storage of the three partitions.
type Tables struct {
	Connected    Table
	Disconnected Table
	Potential    Table
}

// MemoryTables returns three empty in-memory tables.
func MemoryTables() Tables {
	return Tables{
		Connected:    NewMemTable(),
		Disconnected: NewMemTable(),
		Potential:    NewMemTable(),
	}
}

// Config configures the directory.
type Config struct {
	// LookupCacheSize bounds the name and address lookup caches.
	LookupCacheSize int
}

// DefaultConfig returns directory defaults.
func DefaultConfig() Config {
	return Config{LookupCacheSize: 1024}
}

// Directory holds the partitions and the self record. All mutations go
// through its methods.
type Directory struct {
	mu     sync.RWMutex
	tables [3]Table
	self   *domain.Peer
	store  SelfStore
	logger *zap.Logger

	names  *lru.Cache[string, domain.ID]
	addrs  *lru.Cache[string, domain.ID]
	resets [3]atomic.Int64
}

// New creates a directory over the given tables. store may be nil when the
// self record does not need to survive restarts.
func New(cfg Config, tables Tables, store SelfStore, logger *zap.Logger) (*Directory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LookupCacheSize <= 0 {
		cfg.LookupCacheSize = DefaultConfig().LookupCacheSize
	}
	names, err := lru.New[string, domain.ID](cfg.LookupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("name cache: %w", err)
	}
	addrs, err := lru.New[string, domain.ID](cfg.LookupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("address cache: %w", err)
	}
	d := &Directory{
		tables: [3]Table{tables.Connected, tables.Disconnected, tables.Potential},
		store:  store,
		logger: logger.Named("seeddb"),
		names:  names,
		addrs:  addrs,
	}
	for i, t := range d.tables {
		if t == nil {
			return nil, fmt.Errorf("missing %s table", Partition(i))
		}
	}
	if store != nil {
		self, err := store.LoadSelf()
		if err != nil {
			return nil, fmt.Errorf("load self: %w", err)
		}
		d.self = self
	}
	d.updateGauges()
	return d, nil
}

// NewMemory creates a directory backed entirely by memory.
func NewMemory(logger *zap.Logger) *Directory {
	d, err := New(DefaultConfig(), MemoryTables(), nil, logger)
	if err != nil {
		panic(err)
	}
	return d
}

// ─── Self ───────────────────────────────────────────────────────────────────

// SetSelf installs the local peer record and persists it.
func (d *Directory) SetSelf(p *domain.Peer) error {
	if err := p.ID.Validate(); err != nil {
		return fmt.Errorf("self: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.self = p.Clone()
	for _, t := range d.tables {
		_ = t.Delete(p.ID)
	}
	return d.saveSelfLocked()
}

// Self returns a copy of the local peer record, or nil before SetSelf.
func (d *Directory) Self() *domain.Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.self.Clone()
}

// MustSelf returns the self record and panics when it is missing; callers
// that need it cannot operate without it.
func (d *Directory) MustSelf() *domain.Peer {
	s := d.Self()
	if s == nil {
		panic(domain.ErrNoSelf)
	}
	return s
}

// SelfID returns the local peer id or "" before SetSelf.
func (d *Directory) SelfID() domain.ID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.self == nil {
		return ""
	}
	return d.self.ID
}

// UpdateSelf applies fn to the self record and persists the result.
func (d *Directory) UpdateSelf(fn func(p *domain.Peer)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.self == nil {
		return domain.ErrNoSelf
	}
	id := d.self.ID
	fn(d.self)
	d.self.ID = id
	return d.saveSelfLocked()
}

func (d *Directory) saveSelfLocked() error {
	if d.store == nil {
		return nil
	}
	if err := d.store.SaveSelf(d.self); err != nil {
		return fmt.Errorf("save self: %w", err)
	}
	return nil
}

// ─── Lookup ─────────────────────────────────────────────────────────────────

// Get looks id up in the connected, disconnected and potential partitions,
// in that order. The self record is addressable as well.
func (d *Directory) Get(id domain.ID) *domain.Peer {
	p, _, _ := d.Lookup(id)
	return p
}

// Lookup is Get that also reports where the record was found. For the self
// record ok is true and the partition is -1.
func (d *Directory) Lookup(id domain.ID) (p *domain.Peer, part Partition, ok bool) {
	if self := d.Self(); self != nil && self.ID == id {
		return self, -1, true
	}
	for _, part := range Partitions {
		if p := d.GetIn(part, id); p != nil {
			return p, part, true
		}
	}
	return nil, 0, false
}

// GetIn looks id up in a single partition.
func (d *Directory) GetIn(part Partition, id domain.ID) *domain.Peer {
	d.mu.RLock()
	p, err := d.tables[part].Get(id)
	d.mu.RUnlock()
	if err != nil {
		d.recover(part, err)
		return nil
	}
	return p
}

// GetConnected looks id up among connected peers.
func (d *Directory) GetConnected(id domain.ID) *domain.Peer { return d.GetIn(Connected, id) }

// GetDisconnected looks id up among disconnected peers.
func (d *Directory) GetDisconnected(id domain.ID) *domain.Peer { return d.GetIn(Disconnected, id) }

// GetPotential looks id up among potential peers.
func (d *Directory) GetPotential(id domain.ID) *domain.Peer { return d.GetIn(Potential, id) }

// Contains reports whether id is a member of part.
func (d *Directory) Contains(part Partition, id domain.ID) bool {
	return d.GetIn(part, id) != nil
}

// Size returns the number of members of part. The self record is never
// counted.
func (d *Directory) Size(part Partition) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tables[part].Len()
}

// LookupByName finds a peer by display name, searching the given
// partitions. The name cache is consulted first and verified against the
// stored record.
func (d *Directory) LookupByName(name string, parts ...Partition) *domain.Peer {
	if name == "" {
		return nil
	}
	if len(parts) == 0 {
		parts = Partitions
	}
	if self := d.Self(); self != nil && self.Name == name {
		return self
	}
	if id, ok := d.names.Get(name); ok {
		for _, part := range parts {
			if p := d.GetIn(part, id); p != nil && p.Name == name {
				return p
			}
		}
		d.names.Remove(name)
	}
	for _, part := range parts {
		if p := d.scan(part, func(p *domain.Peer) bool { return p.Name == name }); p != nil {
			d.names.Add(name, p.ID)
			return p
		}
	}
	return nil
}

// LookupByAddress finds a peer by ip:port among the given partitions.
func (d *Directory) LookupByAddress(addr string, parts ...Partition) *domain.Peer {
	if addr == "" {
		return nil
	}
	if len(parts) == 0 {
		parts = Partitions
	}
	if id, ok := d.addrs.Get(addr); ok {
		for _, part := range parts {
			if p := d.GetIn(part, id); p != nil && p.Address() == addr {
				return p
			}
		}
	}
	for _, part := range parts {
		if p := d.scan(part, func(p *domain.Peer) bool { return p.Address() == addr }); p != nil {
			d.addrs.Add(addr, p.ID)
			return p
		}
	}
	return nil
}

// LookupByIP returns every peer of part reachable at ip, on any port.
func (d *Directory) LookupByIP(part Partition, ip string) []*domain.Peer {
	var out []*domain.Peer
	for _, p := range d.List(part) {
		if p.IP == ip {
			out = append(out, p)
		}
	}
	return out
}

func (d *Directory) scan(part Partition, match func(p *domain.Peer) bool) *domain.Peer {
	for _, p := range d.List(part) {
		if match(p) {
			return p
		}
	}
	return nil
}

// List returns a snapshot of part ordered by id.
func (d *Directory) List(part Partition) []*domain.Peer {
	peers, _ := d.snapshot(part)
	return peers
}

// ─── Mutation ───────────────────────────────────────────────────────────────

// AddConnected moves p into the connected partition.
func (d *Directory) AddConnected(p *domain.Peer) error { return d.add(Connected, p) }

// AddDisconnected moves p into the disconnected partition.
func (d *Directory) AddDisconnected(p *domain.Peer) error { return d.add(Disconnected, p) }

// AddPotential moves p into the potential partition.
func (d *Directory) AddPotential(p *domain.Peer) error { return d.add(Potential, p) }

// add removes p.ID from the other partitions and stores p in target, all
// under the directory lock so no reader sees the id in two partitions. When
// the store fails the removed rows are put back, so a failed move leaves
// the peer where it was.
func (d *Directory) add(target Partition, p *domain.Peer) error {
	if err := p.IsProper(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.self != nil && d.self.ID == p.ID {
		return domain.ErrSelfReference
	}
	var removed []placed
	for _, part := range Partitions {
		if part == target {
			continue
		}
		if old, err := d.tables[part].Get(p.ID); err == nil && old != nil {
			removed = append(removed, placed{part, old})
		}
		if err := d.tables[part].Delete(p.ID); err != nil {
			d.restoreLocked(removed)
			return fmt.Errorf("remove from %s: %w", part, err)
		}
	}
	if err := d.tables[target].Put(p); err != nil {
		d.restoreLocked(removed)
		return fmt.Errorf("store in %s: %w", target, err)
	}
	if p.Name != "" {
		d.names.Add(p.Name, p.ID)
	}
	d.addrs.Add(p.Address(), p.ID)
	d.updateGaugesLocked()
	return nil
}

type placed struct {
	part Partition
	peer *domain.Peer
}

func (d *Directory) restoreLocked(rows []placed) {
	for _, r := range rows {
		if err := d.tables[r.part].Put(r.peer); err != nil {
			d.logger.Warn("restore failed",
				zap.String("peer", r.peer.ID.Short()), zap.Stringer("partition", r.part), zap.Error(err))
		}
	}
}

// ─── Iteration ──────────────────────────────────────────────────────────────

// snapshot reads every record of part in id order. A corrupt row resets the
// partition and the read is retried once against the now empty table.
func (d *Directory) snapshot(part Partition) ([]*domain.Peer, error) {
	for attempt := 0; ; attempt++ {
		peers, err := d.readAll(part)
		if err == nil {
			return peers, nil
		}
		d.recover(part, err)
		if attempt > 0 {
			return nil, err
		}
	}
}

func (d *Directory) readAll(part Partition) ([]*domain.Peer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys, err := d.tables[part].Keys()
	if err != nil {
		return nil, err
	}
	peers := make([]*domain.Peer, 0, len(keys))
	for _, id := range keys {
		p, err := d.tables[part].Get(id)
		if err != nil {
			return nil, err
		}
		if p != nil {
			peers = append(peers, p)
		}
	}
	return peers, nil
}

// SortedBy returns the members of part ordered by field. Ties are broken by
// id so the order is total.
func (d *Directory) SortedBy(part Partition, field domain.SortField, ascending bool) []*domain.Peer {
	peers, _ := d.snapshot(part)
	sort.Slice(peers, func(i, j int) bool {
		c := domain.CompareBy(field, peers[i], peers[j])
		if ascending {
			return c < 0
		}
		return c > 0
	})
	return peers
}

// Rotating starts a rotation over part at the first id >= start. See
// Rotation for the visiting rules.
func (d *Directory) Rotating(part Partition, start domain.ID, minVersion float64) *Rotation {
	d.mu.RLock()
	keys, err := d.tables[part].Keys()
	d.mu.RUnlock()
	if err != nil {
		d.recover(part, err)
		keys = nil
	}
	first := sort.Search(len(keys), func(i int) bool { return keys[i] >= start })
	if first == len(keys) {
		first = 0
	}
	return &Rotation{
		dir:        d,
		part:       part,
		keys:       keys,
		start:      first,
		remaining:  len(keys),
		minVersion: minVersion,
	}
}

// ─── Recovery ───────────────────────────────────────────────────────────────

// Reset clears part and records the reset.
func (d *Directory) Reset(part Partition) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names.Purge()
	d.addrs.Purge()
	d.resets[part].Add(1)
	metrics.DirectoryResets.WithLabelValues(part.String()).Inc()
	err := d.tables[part].Clear()
	d.updateGaugesLocked()
	return err
}

// Resets returns how often part was reset.
func (d *Directory) Resets(part Partition) int64 {
	return d.resets[part].Load()
}

// recover answers a storage error by resetting the partition.
func (d *Directory) recover(part Partition, cause error) {
	if errors.Is(cause, domain.ErrCorruptRecord) {
		d.logger.Warn("partition corrupt, resetting", zap.Stringer("partition", part), zap.Error(cause))
	} else {
		d.logger.Warn("partition unreadable, resetting", zap.Stringer("partition", part), zap.Error(cause))
	}
	if err := d.Reset(part); err != nil {
		d.logger.Error("partition reset failed", zap.Stringer("partition", part), zap.Error(err))
	}
}

// ─── Statistics ─────────────────────────────────────────────────────────────

// Stats summarises the directory.
type Stats struct {
	Connected    int   `json:"connected"`
	Disconnected int   `json:"disconnected"`
	Potential    int   `json:"potential"`
	Resets       int64 `json:"resets"`
	WordCount    int64 `json:"word_count"`
	URLCount     int64 `json:"url_count"`
}

// Stats counts partition sizes and sums the index sizes announced by
// connected peers.
func (d *Directory) Stats() Stats {
	s := Stats{
		Connected:    d.Size(Connected),
		Disconnected: d.Size(Disconnected),
		Potential:    d.Size(Potential),
	}
	for _, part := range Partitions {
		s.Resets += d.Resets(part)
	}
	for _, p := range d.List(Connected) {
		s.WordCount += p.WordCount
		s.URLCount += p.URLCount
	}
	return s
}

func (d *Directory) updateGauges() {
	d.mu.RLock()
	defer d.mu.RUnlock()
	d.updateGaugesLocked()
}

func (d *Directory) updateGaugesLocked() {
	for _, part := range Partitions {
		metrics.PeersKnown.WithLabelValues(part.String()).Set(float64(d.tables[part].Len()))
	}
}
