// Package network owns one peer network context: the directory, the DHT
// ranking, the lifecycle actions and the news pool, plus the background
// cycles that keep them fresh.
//
// Several contexts can live in one process; nothing here is global.
package network

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/seednet/seednet/internal/app/dht"
	"github.com/seednet/seednet/internal/app/news"
	"github.com/seednet/seednet/internal/app/peeractions"
	"github.com/seednet/seednet/internal/app/search"
	"github.com/seednet/seednet/internal/domain"
	"github.com/seednet/seednet/internal/infra/metrics"
	"github.com/seednet/seednet/internal/infra/seeddb"
	"github.com/seednet/seednet/internal/infra/wire"
)

// Config configures a network context.
type Config struct {
	// Enabled turns on the publish cycle and bootstrap. A disabled network
	// still ages news and expires stale peers.
	Enabled bool
	// Bootstrap lists ip:port addresses contacted once at start.
	Bootstrap []string
	// PublishInterval is the period of the announce cycle.
	PublishInterval time.Duration
	// SweepInterval is the period of news aging and stale expiry.
	SweepInterval time.Duration
	// PublishTargets is how many peers one cycle announces to.
	PublishTargets int
	// SeedsWanted is how many seeds each announce asks for.
	SeedsWanted int
	// Concurrency bounds parallel remote calls in one cycle.
	Concurrency int
	// TransferMaxDistance bounds how far an index receiver may be from the
	// word it receives.
	TransferMaxDistance float64

	DHT       dht.Config
	News      news.Config
	Lifecycle peeractions.Config
	Search    search.Config
}

// DefaultConfig returns the standard network settings.
func DefaultConfig() Config {
	return Config{
		Enabled:             false,
		PublishInterval:     2 * time.Minute,
		SweepInterval:       time.Minute,
		PublishTargets:      8,
		SeedsWanted:         20,
		Concurrency:         8,
		TransferMaxDistance: 0.25,
		DHT:                 dht.DefaultConfig(),
		News:                news.DefaultConfig(),
		Lifecycle:           peeractions.DefaultConfig(),
		Search:              search.DefaultConfig(),
	}
}

// Status summarizes the context for diagnostics.
type Status struct {
	SelfID       domain.ID `json:"self_id"`
	Name         string    `json:"name"`
	Address      string    `json:"address"`
	Class        string    `json:"class"`
	Enabled      bool      `json:"enabled"`
	Uptime       string    `json:"uptime"`
	Connected    int       `json:"connected"`
	Disconnected int       `json:"disconnected"`
	Potential    int       `json:"potential"`
	Disconnects  int64     `json:"disconnects"`
	Threshold    float64   `json:"responsibility_threshold"`
	DHTDisabled  bool      `json:"dht_disabled"`
	LastPublish  time.Time `json:"last_publish,omitzero"`
	Publishes    int64     `json:"publishes"`
	IndexSent    int64     `json:"index_sent"`
	Resets       int64     `json:"resets"`
	URLCount     int64     `json:"url_count"`
	WordCount    int64     `json:"word_count"`
}

// Network is one explicitly constructed peer network context.
type Network struct {
	mu        sync.RWMutex
	cfg       Config
	dir       *seeddb.Directory
	ranking   *dht.Ranking
	actions   *peeractions.Actions
	pool      *news.Pool
	searcher  *search.Searcher
	transport domain.Transport
	clock     clock.Clock
	logger    *zap.Logger

	startedAt   time.Time
	stopped     bool
	lastPublish time.Time
	publishes   int64
}

// New builds a context over dir and newsStore. The ranking is registered
// as a lifecycle listener so its responsibility threshold follows the
// connected set.
func New(cfg Config, dir *seeddb.Directory, newsStore news.Store, transport domain.Transport, clk clock.Clock, logger *zap.Logger) *Network {
	def := DefaultConfig()
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = def.PublishInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.PublishTargets <= 0 {
		cfg.PublishTargets = def.PublishTargets
	}
	if cfg.SeedsWanted <= 0 {
		cfg.SeedsWanted = def.SeedsWanted
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.TransferMaxDistance <= 0 {
		cfg.TransferMaxDistance = def.TransferMaxDistance
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	n := &Network{
		cfg:       cfg,
		dir:       dir,
		transport: transport,
		clock:     clk,
		logger:    logger.Named("network"),
		startedAt: clk.Now(),
	}
	n.ranking = dht.New(cfg.DHT, dir, clk, logger)
	n.pool = news.NewPool(cfg.News, newsStore, dir, clk, logger)
	n.actions = peeractions.New(cfg.Lifecycle, dir, n.pool, clk, logger)
	n.actions.AddListener(n.ranking)
	n.searcher = search.New(cfg.Search, n.ranking, transport, logger)
	return n
}

// Directory returns the peer directory.
func (n *Network) Directory() *seeddb.Directory { return n.dir }

// Ranking returns the DHT ranking.
func (n *Network) Ranking() *dht.Ranking { return n.ranking }

// Actions returns the lifecycle actions.
func (n *Network) Actions() *peeractions.Actions { return n.actions }

// News returns the news pool.
func (n *Network) News() *news.Pool { return n.pool }

// Config returns the active configuration.
func (n *Network) Config() Config { return n.cfg }

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Run contacts the bootstrap peers and then drives the publish and sweep
// cycles until ctx is cancelled. A failed cycle is logged and the next one
// runs on schedule.
func (n *Network) Run(ctx context.Context) error {
	if n.dir.Self() == nil {
		return domain.ErrNoSelf
	}
	if !n.cfg.Enabled {
		n.logger.Info("network disabled, running in local-only mode")
	} else {
		self := n.dir.Self()
		n.logger.Info("network starting",
			zap.String("peer", self.ID.Short()), zap.String("name", self.Name), zap.Int("bootstrap", len(n.cfg.Bootstrap)))
		if learned := n.Bootstrap(ctx); learned == 0 && len(n.cfg.Bootstrap) > 0 {
			n.logger.Warn("bootstrap learned no peers")
		}
	}

	sweep := n.clock.Ticker(n.cfg.SweepInterval)
	defer sweep.Stop()
	var publish <-chan time.Time
	if n.cfg.Enabled {
		t := n.clock.Ticker(n.cfg.PublishInterval)
		defer t.Stop()
		publish = t.C
	}

	for {
		select {
		case <-ctx.Done():
			n.Stop()
			return nil
		case <-sweep.C:
			n.cycle("sweep", func() error {
				_, err := n.Sweep()
				return err
			})
		case <-publish:
			n.cycle("publish", func() error {
				_, err := n.PublishOnce(ctx)
				return err
			})
		}
	}
}

func (n *Network) cycle(task string, fn func() error) {
	if n.isStopped() {
		return
	}
	if err := fn(); err != nil {
		metrics.BackgroundCycles.WithLabelValues(task, "error").Inc()
		n.logger.Warn("cycle failed", zap.String("task", task), zap.Error(err))
		return
	}
	metrics.BackgroundCycles.WithLabelValues(task, "ok").Inc()
}

// Stop ends background work. Cycles already running finish.
func (n *Network) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return
	}
	n.stopped = true
	n.logger.Info("network stopped")
}

func (n *Network) isStopped() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.stopped
}

// Status returns the current summary.
func (n *Network) Status() Status {
	self := n.dir.Self()
	stats := n.dir.Stats()
	n.mu.RLock()
	defer n.mu.RUnlock()
	st := Status{
		Enabled:      n.cfg.Enabled,
		Uptime:       n.clock.Since(n.startedAt).Round(time.Second).String(),
		Connected:    stats.Connected,
		Disconnected: stats.Disconnected,
		Potential:    stats.Potential,
		Disconnects:  n.actions.Disconnects(),
		Threshold:    n.ranking.Threshold(),
		DHTDisabled:  n.ranking.NoDHTActivity(),
		LastPublish:  n.lastPublish,
		Publishes:    n.publishes,
		Resets:       stats.Resets,
		URLCount:     stats.URLCount,
		WordCount:    stats.WordCount,
	}
	if self != nil {
		st.SelfID = self.ID
		st.Name = self.Name
		st.Address = self.Address()
		st.Class = string(self.Class)
		st.IndexSent = self.IndexSent
	}
	return st
}

// Sweep ages the news queues and expires stale connected peers.
func (n *Network) Sweep() (SweepReport, error) {
	aged, err := n.pool.AutomaticProcess()
	expired := n.actions.ExpireStale()
	if aged > 0 || expired > 0 {
		n.logger.Debug("sweep", zap.Int("news_aged", aged), zap.Int("peers_expired", expired))
	}
	return SweepReport{NewsAged: aged, PeersExpired: expired}, err
}

// SweepReport is the outcome of one sweep.
type SweepReport struct {
	NewsAged     int `json:"news_aged"`
	PeersExpired int `json:"peers_expired"`
}

// ─── Announce ───────────────────────────────────────────────────────────────

// PublishReport is the outcome of one announce cycle.
type PublishReport struct {
	Targets   int    `json:"targets"`
	Responded int    `json:"responded"`
	Failed    int    `json:"failed"`
	Learned   int    `json:"learned"`
	NewsID    string `json:"news_id,omitempty"`
}

// PublishOnce announces the local peer to a set of connected peers: DHT
// neighbours of the local id first, then a random fill. Every responder is
// recorded as directly seen, the seeds it returns enter as gossip, and a
// peer that does not answer is disconnected. One outgoing news record rides
// along with the announcement.
func (n *Network) PublishOnce(ctx context.Context) (PublishReport, error) {
	self := n.dir.Self()
	if self == nil {
		return PublishReport{}, domain.ErrNoSelf
	}
	targets := n.publishTargets(self.ID)

	var rep PublishReport
	rep.Targets = len(targets)
	if len(targets) == 0 {
		n.markPublished()
		return rep, nil
	}

	rec, err := n.pool.MyPublication()
	if err != nil {
		n.logger.Warn("news publication failed", zap.Error(err))
	}
	if rec != nil {
		if self.News, err = wire.EncodeNews(rec); err != nil {
			return rep, fmt.Errorf("encode news: %w", err)
		}
		rep.NewsID = rec.ID()
	}
	self.LastSeen = n.clock.Now().UTC()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.cfg.Concurrency)
	for _, p := range targets {
		g.Go(func() error {
			learned, err := n.announce(gctx, p, self)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Failed++
				if ctx.Err() == nil {
					n.actions.PeerDeparture(p, peeractions.CauseContactFailed)
				}
				return nil
			}
			rep.Responded++
			rep.Learned += learned
			return nil
		})
	}
	_ = g.Wait()
	n.markPublished()

	n.logger.Debug("published",
		zap.Int("targets", rep.Targets), zap.Int("responded", rep.Responded),
		zap.Int("failed", rep.Failed), zap.Int("learned", rep.Learned))
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	return rep, nil
}

func (n *Network) markPublished() {
	n.mu.Lock()
	n.lastPublish = n.clock.Now()
	n.publishes++
	n.mu.Unlock()
}

func (n *Network) publishTargets(selfID domain.ID) []*domain.Peer {
	want := n.cfg.PublishTargets
	out := n.ranking.DHTTargets(want/2, 0, selfID, selfID, 1)
	chosen := make(map[domain.ID]struct{}, want)
	for _, p := range out {
		chosen[p.ID] = struct{}{}
	}
	pool := n.dir.List(seeddb.Connected)
	if len(pool) == 0 {
		// Without connected peers fall back to anything ever seen.
		pool = append(n.dir.List(seeddb.Potential), n.dir.List(seeddb.Disconnected)...)
	}
	for _, p := range n.ranking.Shuffle(pool) {
		if len(out) >= want {
			break
		}
		if _, dup := chosen[p.ID]; dup {
			continue
		}
		chosen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}

// announce sends self to target and applies what comes back. It returns
// how many returned seeds were accepted.
func (n *Network) announce(ctx context.Context, target, self *domain.Peer) (int, error) {
	key := uuid.NewString()
	seed, err := wire.EncodeSeed(self, key)
	if err != nil {
		return 0, fmt.Errorf("encode self: %w", err)
	}
	resp, err := n.transport.Hello(ctx, target, domain.HelloRequest{SessionKey: key, Seed: seed, Count: n.cfg.SeedsWanted})
	if err != nil {
		return 0, err
	}
	now := n.clock.Now().UTC()

	responder, err := wire.DecodeSeed(resp.Seed, key, now)
	if err != nil || (target.ID != "" && responder.ID != target.ID) {
		if target.ID == "" {
			return 0, fmt.Errorf("%w: responder at %s sent no usable seed", domain.ErrMalformedSeed, target.Address())
		}
		responder = target.Clone()
	}
	responder.IP, responder.Port = target.IP, target.Port
	n.actions.PeerArrival(responder, true)

	n.learnAddress(resp)

	learned := 0
	for _, s := range resp.Seeds {
		p, err := wire.DecodeSeed(s, key, now)
		if err != nil {
			n.logger.Debug("bad seed in reply", zap.String("peer", responder.ID.Short()), zap.Error(err))
			continue
		}
		if n.actions.PeerArrival(p, false).Accepted {
			learned++
		}
	}
	return learned, nil
}

// learnAddress adopts the address and class a responder observed for us.
func (n *Network) learnAddress(resp *domain.HelloResponse) {
	ip := net.ParseIP(resp.YourIP)
	if ip == nil && resp.YourClass == "" {
		return
	}
	err := n.dir.UpdateSelf(func(s *domain.Peer) {
		if ip != nil && !ip.IsLoopback() && !ip.IsUnspecified() {
			s.IP = ip.String()
		}
		if resp.YourClass != "" {
			s.Class = resp.YourClass
		}
		s.LastSeen = n.clock.Now().UTC()
	})
	if err != nil {
		n.logger.Warn("update self failed", zap.Error(err))
	}
}

// Bootstrap contacts every configured seed address once and returns how
// many peers were learned.
func (n *Network) Bootstrap(ctx context.Context) int {
	self := n.dir.Self()
	if self == nil {
		return 0
	}
	var mu sync.Mutex
	total := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.cfg.Concurrency)
	for _, addr := range n.cfg.Bootstrap {
		g.Go(func() error {
			target, err := addressPeer(addr)
			if err != nil {
				n.logger.Warn("bad bootstrap address", zap.String("addr", addr), zap.Error(err))
				return nil
			}
			learned, err := n.announce(gctx, target, self)
			if err != nil {
				n.logger.Warn("bootstrap failed", zap.String("addr", addr), zap.Error(err))
				return nil
			}
			mu.Lock()
			total += learned + 1
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return total
}

func addressPeer(addr string) (*domain.Peer, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return nil, fmt.Errorf("bad port %q", port)
	}
	return &domain.Peer{IP: host, Port: n}, nil
}

// ─── Index Distribution ─────────────────────────────────────────────────────

// DistributionReport is the outcome of DistributeIndex.
type DistributionReport struct {
	Words       int         `json:"words"`
	Transfers   int         `json:"transfers"`
	Accepted    int         `json:"accepted"`
	Failed      []domain.ID `json:"failed,omitempty"`
	Undelivered []domain.ID `json:"undelivered,omitempty"`
	UnknownURLs []domain.ID `json:"unknown_urls,omitempty"`
}

// DistributeIndex ships index entries to the peers responsible for their
// words. Each word goes to Redundancy peers in every vertical partition;
// when a primary receiver fails, the word moves to the next reserve peer.
func (n *Network) DistributeIndex(ctx context.Context, entries map[domain.ID][]domain.IndexEntry) (DistributionReport, error) {
	rep := DistributionReport{Words: len(entries)}
	redundancy := n.ranking.Config().Redundancy
	exp := n.ranking.Config().PartitionExponent

	type plan struct {
		word     domain.ID
		position domain.ID
		queue    []*domain.Peer
		needed   int
	}
	var plans []*plan
	for word := range entries {
		if err := word.Validate(); err != nil {
			return rep, err
		}
		for part := 0; part < domain.Partitions(exp); part++ {
			pos := word.VerticalPosition(exp, part)
			queue := n.ranking.DHTTargets(redundancy, redundancy, pos, pos, n.cfg.TransferMaxDistance)
			plans = append(plans, &plan{word: word, position: pos, queue: queue, needed: redundancy})
		}
	}

	failed := make(map[domain.ID]struct{})
	unknown := make(map[domain.ID]struct{})
	for round := 0; round <= redundancy; round++ {
		batch := make(map[domain.ID]*domain.TransferRequest)
		peers := make(map[domain.ID]*domain.Peer)
		assigned := make(map[domain.ID][]*plan)
		for _, pl := range plans {
			taken := 0
			for len(pl.queue) > 0 && taken < pl.needed {
				p := pl.queue[0]
				pl.queue = pl.queue[1:]
				if _, bad := failed[p.ID]; bad {
					continue
				}
				req := batch[p.ID]
				if req == nil {
					req = &domain.TransferRequest{Entries: make(map[domain.ID][]domain.IndexEntry)}
					batch[p.ID] = req
					peers[p.ID] = p
				}
				req.Entries[pl.word] = entries[pl.word]
				assigned[p.ID] = append(assigned[p.ID], pl)
				taken++
			}
			pl.needed -= taken
		}
		if len(batch) == 0 {
			break
		}

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(n.cfg.Concurrency)
		for id, req := range batch {
			p := peers[id]
			g.Go(func() error {
				resp, err := n.transport.TransferIndex(gctx, p, *req)
				mu.Lock()
				defer mu.Unlock()
				rep.Transfers++
				if err != nil {
					failed[id] = struct{}{}
					rep.Failed = append(rep.Failed, id)
					for _, pl := range assigned[id] {
						pl.needed++
					}
					if ctx.Err() == nil {
						n.actions.PeerDeparture(p, peeractions.CauseContactFailed)
					}
					return nil
				}
				rep.Accepted += resp.Accepted
				for _, u := range resp.UnknownURLs {
					unknown[u] = struct{}{}
				}
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return rep, err
		}
	}

	seen := make(map[domain.ID]struct{})
	for _, pl := range plans {
		if pl.needed > 0 {
			if _, dup := seen[pl.word]; !dup {
				seen[pl.word] = struct{}{}
				rep.Undelivered = append(rep.Undelivered, pl.word)
			}
		}
	}
	for u := range unknown {
		rep.UnknownURLs = append(rep.UnknownURLs, u)
	}
	if sent := int64(rep.Accepted); sent > 0 {
		if err := n.dir.UpdateSelf(func(s *domain.Peer) { s.IndexSent += sent }); err != nil {
			n.logger.Warn("update self failed", zap.Int64("index_sent", sent), zap.Error(err))
		}
	}
	return rep, nil
}

// ─── Search ─────────────────────────────────────────────────────────────────

// Search runs a remote search for words.
func (n *Network) Search(ctx context.Context, words []string) (*search.Result, error) {
	return n.searcher.Search(ctx, domain.WordHashes(words))
}
