// Package transport carries peer protocol requests over HTTP with JSON bodies.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seednet/seednet/internal/domain"
	"github.com/seednet/seednet/internal/infra/metrics"
)

// Paths served by every peer.
const (
	PathHello    = "/seed/hello"
	PathQuery    = "/seed/query"
	PathSearch   = "/seed/search"
	PathTransfer = "/seed/transfer"
	PathCrawl    = "/seed/crawl"
)

// RequestIDHeader correlates a call with the remote peer's logs.
const RequestIDHeader = "X-Request-Id"

// maxResponseBytes caps how much of a reply is decoded.
const maxResponseBytes = 8 << 20

// Config holds per-operation timeouts. Liveness probes are short, bulk
// transfers long.
type Config struct {
	PingTimeout     time.Duration
	QueryTimeout    time.Duration
	SearchTimeout   time.Duration
	TransferTimeout time.Duration
	UserAgent       string
}

// DefaultConfig returns the standard timeouts.
func DefaultConfig() Config {
	return Config{
		PingTimeout:     5 * time.Second,
		QueryTimeout:    30 * time.Second,
		SearchTimeout:   60 * time.Second,
		TransferTimeout: 300 * time.Second,
		UserAgent:       "seednet/0.1",
	}
}

// HTTP implements domain.Transport.
type HTTP struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

var _ domain.Transport = (*HTTP)(nil)

// New creates an HTTP transport. client may be nil.
func New(cfg Config, client *http.Client, logger *zap.Logger) *HTTP {
	def := DefaultConfig()
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = def.QueryTimeout
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = def.SearchTimeout
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = def.TransferTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{cfg: cfg, client: client, logger: logger.Named("transport")}
}

// Hello announces the local peer to target.
func (t *HTTP) Hello(ctx context.Context, target *domain.Peer, req domain.HelloRequest) (*domain.HelloResponse, error) {
	var out domain.HelloResponse
	if err := t.call(ctx, "hello", target, PathHello, t.cfg.PingTimeout, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Query asks target for a counter or a seed.
func (t *HTTP) Query(ctx context.Context, target *domain.Peer, req domain.QueryRequest) (*domain.QueryResponse, error) {
	var out domain.QueryResponse
	if err := t.call(ctx, "query", target, PathQuery, t.cfg.QueryTimeout, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search submits a search to target.
func (t *HTTP) Search(ctx context.Context, target *domain.Peer, req domain.SearchRequest) (*domain.SearchResult, error) {
	var out domain.SearchResult
	if err := t.call(ctx, "search", target, PathSearch, t.cfg.SearchTimeout, req, &out); err != nil {
		return nil, err
	}
	if out.Peer == "" {
		out.Peer = target.ID
	}
	return &out, nil
}

// TransferIndex ships index fragments to target.
func (t *HTTP) TransferIndex(ctx context.Context, target *domain.Peer, req domain.TransferRequest) (*domain.TransferResponse, error) {
	var out domain.TransferResponse
	if err := t.call(ctx, "transfer", target, PathTransfer, t.cfg.TransferTimeout, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Crawl delegates a fetch to target.
func (t *HTTP) Crawl(ctx context.Context, target *domain.Peer, order domain.CrawlOrder) (*domain.CrawlOrderResponse, error) {
	var out domain.CrawlOrderResponse
	if err := t.call(ctx, "crawl", target, PathCrawl, t.cfg.QueryTimeout, order, &out); err != nil {
		return nil, err
	}
	if _, err := domain.ParseCrawlReceipt(string(out.Receipt)); err != nil {
		return nil, fmt.Errorf("crawl %s: %w", target.ID.Short(), err)
	}
	return &out, nil
}

// call posts in to target and decodes the reply into out. Network failures
// and non-200 replies wrap domain.ErrPeerUnreachable.
func (t *HTTP) call(ctx context.Context, op string, target *domain.Peer, path string, timeout time.Duration, in, out any) error {
	if target == nil {
		return fmt.Errorf("%s: %w", op, domain.ErrNotProper)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}
	url := "http://" + target.Address() + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	rid := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", t.cfg.UserAgent)
	req.Header.Set(RequestIDHeader, rid)

	start := time.Now()
	resp, err := t.client.Do(req)
	metrics.RemoteLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RemoteFailures.WithLabelValues(op).Inc()
		t.logger.Debug("call failed",
			zap.String("op", op), zap.String("peer", target.ID.Short()), zap.String("request_id", rid), zap.Error(err))
		return fmt.Errorf("%w: %s %s: %w", domain.ErrPeerUnreachable, op, target.ID.Short(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RemoteFailures.WithLabelValues(op).Inc()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: HTTP %d: %s",
			domain.ErrPeerUnreachable, op, target.ID.Short(), resp.StatusCode, bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		metrics.RemoteFailures.WithLabelValues(op).Inc()
		return fmt.Errorf("decode %s reply from %s: %w", op, target.ID.Short(), err)
	}
	return nil
}
