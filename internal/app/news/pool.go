// Package news implements the news pool: a bounded epidemic broadcast of
// short announcements. Records travel incoming → processed and
// outgoing → published; every retransmission of an outgoing record bumps its
// distribution counter and the record retires once the counter reaches the
// configured maximum.
package news

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/seednet/seednet/internal/domain"
	"github.com/seednet/seednet/internal/infra/metrics"
)

// Config holds the pool limits.
type Config struct {
	// MaxDistribution is how often an outgoing record is handed out before
	// it moves to published.
	MaxDistribution int
	// MaxAge evicts any incoming record older than this.
	MaxAge time.Duration
	// Aging holds shorter, category specific windows.
	Aging map[domain.NewsCategory]time.Duration
	// MinCrawlSpeed is the index speed (pages per minute) below which an
	// aged crawl-start announcement is dropped.
	MinCrawlSpeed int
	// DenyHosts rejects records whose URL attributes point at one of these
	// hosts or their subdomains.
	DenyHosts []string
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		MaxDistribution: 30,
		MaxAge:          14 * 24 * time.Hour,
		Aging: map[domain.NewsCategory]time.Duration{
			domain.CategoryCrawlStart:    2 * 24 * time.Hour,
			domain.CategoryWikiUpdate:    3 * 24 * time.Hour,
			domain.CategoryBlogAdd:       3 * 24 * time.Hour,
			domain.CategoryProfileUpdate: 7 * 24 * time.Hour,
		},
		MinCrawlSpeed: 10,
	}
}

// PeerLookup resolves originators to their current record.
type PeerLookup interface {
	Get(id domain.ID) *domain.Peer
}

// Pool owns the news queues. All queue mutation goes through its methods.
type Pool struct {
	mu     sync.Mutex
	cfg    Config
	store  Store
	peers  PeerLookup
	clock  clock.Clock
	logger *zap.Logger
}

// NewPool creates a pool over store. peers may be nil, in which case every
// crawl-start originator counts as unknown.
func NewPool(cfg Config, store Store, peers PeerLookup, clk clock.Clock, logger *zap.Logger) *Pool {
	def := DefaultConfig()
	if cfg.MaxDistribution <= 0 {
		cfg.MaxDistribution = def.MaxDistribution
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.Aging == nil {
		cfg.Aging = def.Aging
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		cfg:    cfg,
		store:  store,
		peers:  peers,
		clock:  clk,
		logger: logger.Named("news"),
	}
	p.updateGauges()
	return p
}

// ─── Intake ─────────────────────────────────────────────────────────────────

// PublishMyNews originates a record from the local peer. It lands in
// incoming so the local node sees its own news and in outgoing for
// propagation.
func (p *Pool) PublishMyNews(originator domain.ID, category domain.NewsCategory, attrs map[string]string) (*domain.NewsRecord, error) {
	r := domain.NewNewsRecord(originator, category, p.clock.Now(), attrs)
	r.Received = r.Created
	if err := r.Validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	existing, err := p.store.GetNews(domain.QueueOutgoing, r.ID())
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateNews, r.ID())
	}
	if err := p.store.PutNews(domain.QueueIncoming, r); err != nil {
		return nil, fmt.Errorf("enqueue incoming: %w", err)
	}
	if err := p.store.PutNews(domain.QueueOutgoing, r); err != nil {
		return nil, fmt.Errorf("enqueue outgoing: %w", err)
	}
	p.updateGaugesLocked()
	p.logger.Info("news published", zap.String("id", r.ID()), zap.String("category", string(r.Category)))
	return r.Clone(), nil
}

// EnqueueIncoming accepts a record received from another peer. Records
// already known in incoming or processed are ignored. A rejected record
// changes nothing and the returned error names the reason.
func (p *Pool) EnqueueIncoming(r *domain.NewsRecord) error {
	if err := p.check(r); err != nil {
		metrics.NewsRejected.WithLabelValues(rejectReason(err)).Inc()
		p.logger.Debug("news rejected", zap.Error(err))
		return err
	}
	r = r.Clone()
	r.Received = p.clock.Now().UTC().Truncate(time.Second)

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, q := range []domain.NewsQueue{domain.QueueIncoming, domain.QueueProcessed} {
		known, err := p.store.GetNews(q, r.ID())
		if err != nil {
			return err
		}
		if known != nil {
			return nil
		}
	}
	if err := p.store.PutNews(domain.QueueIncoming, r); err != nil {
		return fmt.Errorf("enqueue incoming: %w", err)
	}
	p.updateGaugesLocked()
	return nil
}

func (p *Pool) check(r *domain.NewsRecord) error {
	if err := r.Validate(); err != nil {
		return err
	}
	for key, v := range r.Attributes {
		if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
			continue
		}
		u, err := url.Parse(v)
		if err != nil {
			return fmt.Errorf("%w: attribute %s: %v", domain.ErrMalformedNews, key, err)
		}
		if p.denied(u.Hostname()) {
			return fmt.Errorf("%w: %s", domain.ErrDeniedURL, u.Hostname())
		}
	}
	return nil
}

func (p *Pool) denied(host string) bool {
	host = strings.ToLower(host)
	for _, d := range p.cfg.DenyHosts {
		d = strings.ToLower(strings.TrimPrefix(d, "."))
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrDeniedURL):
		return "denied_url"
	case errors.Is(err, domain.ErrUnknownCategory):
		return "unknown_category"
	default:
		return "malformed"
	}
}

// ─── Publication ────────────────────────────────────────────────────────────

// MyPublication hands out the head of outgoing for attachment to the next
// announcement. The record's distribution counter is incremented; it goes
// back to the tail of outgoing while the counter is below the maximum and
// moves to published once it reaches it. It returns nil when outgoing is
// empty.
func (p *Pool) MyPublication() (*domain.NewsRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.store.HeadNews(domain.QueueOutgoing)
	if err != nil || r == nil {
		return nil, err
	}
	r.Distributed++
	if r.Distributed < p.cfg.MaxDistribution {
		if err := p.store.PutNews(domain.QueueOutgoing, r); err != nil {
			return nil, err
		}
	} else {
		if err := p.store.PutNews(domain.QueuePublished, r); err != nil {
			return nil, err
		}
		if _, err := p.store.RemoveNews(domain.QueueOutgoing, r.ID()); err != nil {
			return nil, err
		}
		p.logger.Debug("news retired", zap.String("id", r.ID()), zap.Int("distributed", r.Distributed))
	}
	p.updateGaugesLocked()
	return r, nil
}

// ─── Aging ──────────────────────────────────────────────────────────────────

// AutomaticProcess moves every incoming record that has aged out to
// processed and returns how many were moved. Candidates are collected
// first and moved afterwards.
func (p *Pool) AutomaticProcess() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	records, err := p.store.ListNews(domain.QueueIncoming)
	if err != nil {
		return 0, err
	}
	now := p.clock.Now()
	var expired []*domain.NewsRecord
	for _, r := range records {
		if p.expired(r, now) {
			expired = append(expired, r)
		}
	}
	for _, r := range expired {
		if err := p.moveLocked(r, domain.QueueIncoming, domain.QueueProcessed); err != nil {
			return 0, err
		}
	}
	p.updateGaugesLocked()
	if len(expired) > 0 {
		p.logger.Debug("news aged out", zap.Int("count", len(expired)))
	}
	return len(expired), nil
}

func (p *Pool) expired(r *domain.NewsRecord, now time.Time) bool {
	if r.Created.IsZero() {
		return true
	}
	age := now.Sub(r.Created)
	if age > p.cfg.MaxAge {
		return true
	}
	window, ok := p.cfg.Aging[r.Category]
	if !ok || age <= window {
		return false
	}
	if r.Category != domain.CategoryCrawlStart {
		return true
	}
	// An aged crawl start survives while its originator still crawls fast.
	if p.peers == nil {
		return true
	}
	origin := p.peers.Get(r.Originator)
	return origin == nil || origin.IndexSpeed < p.cfg.MinCrawlSpeed
}

// ─── Queue Access ───────────────────────────────────────────────────────────

// Get finds a record by id in any queue.
func (p *Pool) Get(id string) (*domain.NewsRecord, domain.NewsQueue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, q := range domain.NewsQueues() {
		r, err := p.store.GetNews(q, id)
		if err != nil {
			return nil, "", err
		}
		if r != nil {
			return r, q, nil
		}
	}
	return nil, "", fmt.Errorf("%w: %s", domain.ErrNewsNotFound, id)
}

// List returns the records of q in queue order.
func (p *Pool) List(q domain.NewsQueue) ([]*domain.NewsRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.ListNews(q)
}

// Size returns the number of records in q.
func (p *Pool) Size(q domain.NewsQueue) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.store.CountNews(q)
	if err != nil {
		return 0
	}
	return n
}

// MoveOff moves one record from one queue to another.
func (p *Pool) MoveOff(id string, from, to domain.NewsQueue) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.store.GetNews(from, id)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("%w: %s in %s", domain.ErrNewsNotFound, id, from)
	}
	if err := p.moveLocked(r, from, to); err != nil {
		return err
	}
	p.updateGaugesLocked()
	return nil
}

// MoveOffAll moves every record of from to to and returns the count.
func (p *Pool) MoveOffAll(from, to domain.NewsQueue) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	records, err := p.store.ListNews(from)
	if err != nil {
		return 0, err
	}
	for _, r := range records {
		if err := p.moveLocked(r, from, to); err != nil {
			return 0, err
		}
	}
	p.updateGaugesLocked()
	return len(records), nil
}

// moveLocked writes the destination first; a failure in between leaves the
// record in both queues.
func (p *Pool) moveLocked(r *domain.NewsRecord, from, to domain.NewsQueue) error {
	if err := p.store.PutNews(to, r); err != nil {
		return fmt.Errorf("move %s to %s: %w", r.ID(), to, err)
	}
	if _, err := p.store.RemoveNews(from, r.ID()); err != nil {
		return fmt.Errorf("remove %s from %s: %w", r.ID(), from, err)
	}
	return nil
}

func (p *Pool) updateGauges() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updateGaugesLocked()
}

func (p *Pool) updateGaugesLocked() {
	for _, q := range domain.NewsQueues() {
		if n, err := p.store.CountNews(q); err == nil {
			metrics.NewsQueueSize.WithLabelValues(string(q)).Set(float64(n))
		}
	}
}
