// Package dht ranks peers for content identifiers: who should hold a word,
// where to replicate index fragments and which peers to ask during a search.
//
// Ranking only reads the peer directory. Changes to peers flow through the
// lifecycle actions, which notify Ranking so it can recompute its
// responsibility threshold.
package dht

import (
	"iter"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/seednet/seednet/internal/domain"
	"github.com/seednet/seednet/internal/infra/metrics"
	"github.com/seednet/seednet/internal/infra/seeddb"
)

// Config holds the ranking parameters.
type Config struct {
	// Redundancy is how many peers hold each word.
	Redundancy int
	// PartitionExponent splits the ring into 2^exp vertical shards.
	PartitionExponent int
	// SmallNetworkThreshold disables DHT partitioning while the connected
	// set has at most this many peers.
	SmallNetworkThreshold int
	// ResponsibilityFactor is K in the threshold K / connected.
	ResponsibilityFactor float64
	// SearchDistanceGuard drops search candidates farther than this from a
	// word even when the rotation offered them.
	SearchDistanceGuard float64
	// MaxTargetLoops bounds the peers DHTTargets inspects.
	MaxTargetLoops int
	// MinVersionAcceptIndex is the lowest peer version that can take index.
	MinVersionAcceptIndex float64
	// RobinsonBurstCount is the word count above which a peer that refuses
	// remote index is still asked during searches.
	RobinsonBurstCount int64
}

// DefaultConfig returns the standard ranking parameters.
func DefaultConfig() Config {
	return Config{
		Redundancy:            3,
		PartitionExponent:     0,
		SmallNetworkThreshold: 32,
		ResponsibilityFactor:  16,
		SearchDistanceGuard:   0.2,
		MaxTargetLoops:        100,
		MinVersionAcceptIndex: 0.5,
		RobinsonBurstCount:    100000,
	}
}

// Directory is the read side of the peer directory used by Ranking.
type Directory interface {
	Self() *domain.Peer
	Size(part seeddb.Partition) int
	List(part seeddb.Partition) []*domain.Peer
	SortedBy(part seeddb.Partition, field domain.SortField, ascending bool) []*domain.Peer
	Rotating(part seeddb.Partition, start domain.ID, minVersion float64) *seeddb.Rotation
	GetConnected(id domain.ID) *domain.Peer
}

// Ranking selects peers by DHT position.
type Ranking struct {
	cfg    Config
	dir    Directory
	clock  clock.Clock
	logger *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	threshold atomic.Uint64 // math.Float64bits
}

// New creates a ranking over dir.
func New(cfg Config, dir Directory, clk clock.Clock, logger *zap.Logger) *Ranking {
	def := DefaultConfig()
	if cfg.Redundancy <= 0 {
		cfg.Redundancy = def.Redundancy
	}
	if cfg.PartitionExponent < 0 || cfg.PartitionExponent > domain.MaxPartitionExponent {
		cfg.PartitionExponent = def.PartitionExponent
	}
	if cfg.ResponsibilityFactor <= 0 {
		cfg.ResponsibilityFactor = def.ResponsibilityFactor
	}
	if cfg.SearchDistanceGuard <= 0 {
		cfg.SearchDistanceGuard = def.SearchDistanceGuard
	}
	if cfg.MaxTargetLoops <= 0 {
		cfg.MaxTargetLoops = def.MaxTargetLoops
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Ranking{
		cfg:    cfg,
		dir:    dir,
		clock:  clk,
		logger: logger.Named("dht"),
		rng:    rand.New(rand.NewSource(clk.Now().UnixNano())),
	}
	r.Refresh()
	return r
}

// Config returns the active parameters.
func (r *Ranking) Config() Config { return r.cfg }

// ─── Responsibility ─────────────────────────────────────────────────────────

// Refresh recomputes the responsibility threshold from the connected count.
func (r *Ranking) Refresh() {
	n := r.dir.Size(seeddb.Connected)
	t := 1.0
	if n > 0 {
		t = math.Min(1, r.cfg.ResponsibilityFactor/float64(n))
	}
	r.threshold.Store(math.Float64bits(t))
	if n <= r.cfg.SmallNetworkThreshold {
		metrics.DHTDisabled.Set(1)
	} else {
		metrics.DHTDisabled.Set(0)
	}
}

// OnPeerArrival keeps the threshold current as peers join.
func (r *Ranking) OnPeerArrival(*domain.Peer, bool) { r.Refresh() }

// OnPeerDeparture keeps the threshold current as peers leave.
func (r *Ranking) OnPeerDeparture(*domain.Peer) { r.Refresh() }

// Threshold returns the current responsibility threshold.
func (r *Ranking) Threshold() float64 {
	return math.Float64frombits(r.threshold.Load())
}

// NoDHTActivity reports whether the network is too small for partitioning,
// in which case every peer is a valid target for every word.
func (r *Ranking) NoDHTActivity() bool {
	return r.dir.Size(seeddb.Connected) <= r.cfg.SmallNetworkThreshold
}

// IsResponsible reports whether the local peer should index wordHash.
func (r *Ranking) IsResponsible(wordHash domain.ID) bool {
	if r.NoDHTActivity() {
		return true
	}
	self := r.dir.Self()
	if self == nil {
		panic(domain.ErrNoSelf)
	}
	return domain.Distance(self.ID, wordHash) <= r.Threshold()
}

// ─── Enumeration ────────────────────────────────────────────────────────────

// AcceptingIndexSeeds enumerates connected peers that accept remote index,
// starting at the first id >= start and wrapping around. Every peer is
// produced at most once.
func (r *Ranking) AcceptingIndexSeeds(start domain.ID) iter.Seq[*domain.Peer] {
	return r.acceptingSeeds(start, false)
}

// acceptingSeeds optionally merges the self record into the enumeration at
// its ring position, provided it accepts remote index itself.
func (r *Ranking) acceptingSeeds(start domain.ID, withSelf bool) iter.Seq[*domain.Peer] {
	return func(yield func(*domain.Peer) bool) {
		var self *domain.Peer
		if withSelf {
			if s := r.dir.Self(); s != nil && s.AcceptsRemoteIndex() {
				self = s
			}
		}
		rot := r.dir.Rotating(seeddb.Connected, start, r.cfg.MinVersionAcceptIndex)
		seen := make(map[domain.ID]struct{}, rot.Len())
		for {
			p, step := rot.Next()
			if step != seeddb.StepValue {
				break
			}
			if _, dup := seen[p.ID]; dup {
				break
			}
			seen[p.ID] = struct{}{}
			if !p.AcceptsRemoteIndex() {
				continue
			}
			if self != nil && ringBefore(start, self.ID, p.ID) {
				if !yield(self) {
					return
				}
				self = nil
			}
			if !yield(p) {
				return
			}
		}
		if self != nil {
			yield(self)
		}
	}
}

// ringBefore reports whether a comes before b when walking the ring from
// start.
func ringBefore(start, a, b domain.ID) bool {
	aw, bw := a < start, b < start
	if aw != bw {
		return !aw
	}
	return a < b
}

// ─── Target Selection ───────────────────────────────────────────────────────

// DHTTargets selects up to primary+reserve peers to receive the index
// fragment spanning firstKey..lastKey. Peers are taken in rotation order
// starting at lastKey and must lie within maxDistance of lastKey; the limit
// is lifted while the network is too small for partitioning. At most
// min(MaxTargetLoops, connected) peers are inspected.
func (r *Ranking) DHTTargets(primary, reserve int, firstKey, lastKey domain.ID, maxDistance float64) []*domain.Peer {
	want := primary + reserve
	if want <= 0 {
		return nil
	}
	loops := min(r.cfg.MaxTargetLoops, r.dir.Size(seeddb.Connected))
	unbounded := r.NoDHTActivity()
	var out []*domain.Peer
	selected := make(map[domain.ID]struct{})
	for p := range r.AcceptingIndexSeeds(lastKey) {
		if len(out) >= want || loops <= 0 {
			break
		}
		loops--
		first := domain.Distance(p.ID, firstKey)
		last := domain.Distance(p.ID, lastKey)
		if _, dup := selected[p.ID]; dup {
			continue
		}
		if !unbounded && last > maxDistance {
			r.logger.Debug("target too far",
				zap.String("peer", p.ID.Short()), zap.Float64("first", first), zap.Float64("last", last))
			continue
		}
		selected[p.ID] = struct{}{}
		out = append(out, p)
	}
	metrics.DHTTargets.WithLabelValues("transfer").Observe(float64(len(out)))
	return out
}

// SelectSearchTargets chooses the peers to ask for wordHashes. The result
// lists DHT ranked peers first (best score first), then robinson peers whose
// tags match the query together with peers younger than a day, then large
// robinson indexes.
func (r *Ranking) SelectSearchTargets(wordHashes []domain.ID, count int) []*domain.Peer {
	if r.NoDHTActivity() {
		all := r.dir.SortedBy(seeddb.Connected, domain.SortByWordCount, false)
		metrics.DHTTargets.WithLabelValues("search").Observe(float64(len(all)))
		return all
	}

	score := make(map[domain.ID]int)
	regular := make(map[domain.ID]*domain.Peer)

	// DHT position: the first Redundancy capable peers after each word.
	for _, w := range wordHashes {
		c := r.cfg.Redundancy
		for p := range r.AcceptingIndexSeeds(w) {
			if c <= 0 {
				break
			}
			if domain.Distance(p.ID, w) > r.cfg.SearchDistanceGuard {
				continue
			}
			score[p.ID] += c
			regular[p.ID] = p
			c--
		}
	}

	// Index size with jitter.
	c := min(r.dir.Size(seeddb.Connected), count)
	for _, p := range r.dir.SortedBy(seeddb.Connected, domain.SortByWordCount, false) {
		if c <= 0 {
			break
		}
		if !p.AcceptsRemoteIndex() {
			continue
		}
		score[p.ID] += int(math.Round(r.float() * float64(c/3+3)))
		regular[p.ID] = p
		c--
	}

	ranked := make([]*domain.Peer, 0, len(regular))
	for _, p := range regular {
		ranked = append(ranked, p)
	}
	sort.Slice(ranked, func(i, j int) bool {
		si, sj := score[ranked[i].ID], score[ranked[j].ID]
		if si != sj {
			return si > sj
		}
		return ranked[i].ID < ranked[j].ID
	})
	if len(ranked) > count {
		ranked = ranked[:max(count, 0)]
	}

	out := ranked
	taken := make(map[domain.ID]struct{}, len(out))
	for _, p := range out {
		taken[p.ID] = struct{}{}
	}
	add := func(p *domain.Peer) {
		if _, ok := taken[p.ID]; ok {
			return
		}
		taken[p.ID] = struct{}{}
		out = append(out, p)
	}

	// Robinson peers with matching tags and newcomers.
	now := r.clock.Now()
	for _, p := range r.dir.List(seeddb.Connected) {
		if p.MatchesTags(wordHashes) || p.IsNewcomer(now) {
			add(p)
		}
	}

	// Large robinson indexes.
	c = count
	for _, p := range r.dir.SortedBy(seeddb.Connected, domain.SortByWordCount, false) {
		if c <= 0 || p.WordCount <= r.cfg.RobinsonBurstCount {
			break
		}
		if p.AcceptsRemoteIndex() {
			continue
		}
		add(p)
		c--
	}

	metrics.DHTTargets.WithLabelValues("search").Observe(float64(len(out)))
	return out
}

// VerifyIsOwnWord reports whether the local peer is among the first
// Redundancy accepting peers at one of the vertical positions of wordHash.
// It checks responsibility by enumeration instead of by distance.
func (r *Ranking) VerifyIsOwnWord(wordHash domain.ID) bool {
	if r.NoDHTActivity() {
		return true
	}
	self := r.dir.Self()
	if self == nil {
		panic(domain.ErrNoSelf)
	}
	exp := r.cfg.PartitionExponent
	for i := 0; i < domain.Partitions(exp); i++ {
		pos := wordHash.VerticalPosition(exp, i)
		c := r.cfg.Redundancy
		for p := range r.acceptingSeeds(pos, true) {
			if c <= 0 {
				break
			}
			if p.ID == self.ID {
				return true
			}
			c--
		}
	}
	return false
}

// SelectClusterPeers returns the connected members of a closed cluster in
// the given order. Unknown and disconnected members are skipped.
func (r *Ranking) SelectClusterPeers(members []domain.ID) []*domain.Peer {
	var out []*domain.Peer
	seen := make(map[domain.ID]struct{}, len(members))
	for _, id := range members {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if p := r.dir.GetConnected(id); p != nil {
			out = append(out, p)
		}
	}
	return out
}

// SeedsByAge returns up to count connected peers ordered by last-seen time,
// most recent first when newest is set.
func (r *Ranking) SeedsByAge(newest bool, count int) []*domain.Peer {
	peers := r.dir.SortedBy(seeddb.Connected, domain.SortByLastSeen, !newest)
	if count >= 0 && len(peers) > count {
		peers = peers[:count]
	}
	return peers
}

// Shuffle returns peers in random order.
func (r *Ranking) Shuffle(peers []*domain.Peer) []*domain.Peer {
	out := append([]*domain.Peer(nil), peers...)
	r.rngMu.Lock()
	r.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	r.rngMu.Unlock()
	return out
}

func (r *Ranking) float() float64 {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return r.rng.Float64()
}
