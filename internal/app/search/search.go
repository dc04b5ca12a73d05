// Package search fans a query out to remote peers and gathers their answers.
package search

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/seednet/seednet/internal/domain"
)

// Config bounds a remote search.
type Config struct {
	// Targets is how many peers are asked.
	Targets int
	// MaxResults is the per-peer result cap sent with the request.
	MaxResults int
	// Timeout bounds the whole fan-out.
	Timeout time.Duration
	// Enough stops the fan-out once this many distinct URLs are gathered.
	// Zero waits for every target.
	Enough int
	// Concurrency limits simultaneous requests. Zero means one per target.
	Concurrency int
}

// DefaultConfig returns the standard search limits.
func DefaultConfig() Config {
	return Config{
		Targets:    16,
		MaxResults: 10,
		Timeout:    60 * time.Second,
	}
}

// Selector picks the peers a query goes to.
type Selector interface {
	SelectSearchTargets(words []domain.ID, count int) []*domain.Peer
}

// Result aggregates a finished fan-out. Only answers that arrived before the
// fan-out stopped are counted.
type Result struct {
	Answers []*domain.SearchResult
	// URLs holds every distinct URL in arrival order.
	URLs []string
	// Targets is how many peers were asked.
	Targets int
	// Failed lists peers whose request returned an error.
	Failed []domain.ID
	// Interrupted counts requests cut off by the deadline or by Enough.
	Interrupted int
	Elapsed     time.Duration
}

// Searcher runs remote searches over a transport.
type Searcher struct {
	cfg       Config
	selector  Selector
	transport domain.Transport
	logger    *zap.Logger
}

// New creates a Searcher.
func New(cfg Config, selector Selector, transport domain.Transport, logger *zap.Logger) *Searcher {
	def := DefaultConfig()
	if cfg.Targets <= 0 {
		cfg.Targets = def.Targets
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{cfg: cfg, selector: selector, transport: transport, logger: logger.Named("search")}
}

// Search asks the selected targets for words and waits until every target
// has answered, the timeout passes, ctx is cancelled or Enough URLs arrived.
func (s *Searcher) Search(ctx context.Context, words []domain.ID) (*Result, error) {
	if len(words) == 0 {
		return nil, errors.New("search: no words")
	}
	for _, w := range words {
		if err := w.Validate(); err != nil {
			return nil, err
		}
	}
	targets := s.selector.SelectSearchTargets(words, s.cfg.Targets)
	return s.Fanout(ctx, targets, words)
}

// Fanout sends the query to the given targets.
func (s *Searcher) Fanout(ctx context.Context, targets []*domain.Peer, words []domain.ID) (*Result, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	agg := &aggregator{enough: s.cfg.Enough, stop: cancel, seen: make(map[string]struct{})}
	agg.res.Targets = len(targets)

	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.Concurrency > 0 {
		g.SetLimit(s.cfg.Concurrency)
	}
	req := domain.SearchRequest{Words: words, MaxResults: s.cfg.MaxResults, TimeBudget: s.cfg.Timeout}
	for _, p := range targets {
		g.Go(func() error {
			if gctx.Err() != nil {
				agg.interrupted()
				return nil
			}
			answer, err := s.transport.Search(gctx, p, req)
			agg.add(p, answer, err)
			return nil
		})
	}
	_ = g.Wait()

	res := agg.result()
	res.Elapsed = time.Since(start)
	s.logger.Debug("search finished",
		zap.Int("targets", res.Targets),
		zap.Int("answers", len(res.Answers)),
		zap.Int("urls", len(res.URLs)),
		zap.Int("failed", len(res.Failed)),
		zap.Int("interrupted", res.Interrupted),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

// aggregator is the shared state all fan-out tasks report into. Once it is
// closed no further answers are counted.
type aggregator struct {
	mu     sync.Mutex
	res    Result
	seen   map[string]struct{}
	enough int
	closed bool
	stop   context.CancelFunc
}

func (a *aggregator) add(p *domain.Peer, answer *domain.SearchResult, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.closed, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		a.res.Interrupted++
		return
	case err != nil:
		a.res.Failed = append(a.res.Failed, p.ID)
		return
	case answer == nil:
		return
	}
	a.res.Answers = append(a.res.Answers, answer)
	for _, u := range answer.URLs {
		if _, ok := a.seen[u]; ok {
			continue
		}
		a.seen[u] = struct{}{}
		a.res.URLs = append(a.res.URLs, u)
	}
	if a.enough > 0 && len(a.res.URLs) >= a.enough {
		a.closed = true
		a.stop()
	}
}

func (a *aggregator) interrupted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.res.Interrupted++
}

func (a *aggregator) result() *Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	r := a.res
	return &r
}
