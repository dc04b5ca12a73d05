package domain

import (
	"context"
	"time"
)

// ─── Remote Peer Protocol ───────────────────────────────────────────────────
// These shapes are exchanged with other peers. The transport that carries
// them is a collaborator; the coordination core only depends on Transport.

// HelloRequest announces the local peer to a remote one. Seed is the local
// record encoded with SessionKey.
type HelloRequest struct {
	SessionKey string `json:"key"`
	Seed       string `json:"seed"`
	Count      int    `json:"count"` // number of seeds wanted back
}

// HelloResponse carries what the remote peer observed about us plus a
// sample of other seeds, each encoded with the request's session key.
type HelloResponse struct {
	YourIP    string    `json:"your_ip"`
	YourClass PeerClass `json:"your_class"`
	Seed      string    `json:"seed"` // the responder's own record
	Seeds     []string  `json:"seeds"`
}

// QueryRequest asks a peer for a counter or for another peer's record.
type QueryRequest struct {
	Object string `json:"object"` // "rwicount", "lurlcount" or "seed"
	Target ID     `json:"target,omitempty"`
}

// QueryResponse answers a QueryRequest.
type QueryResponse struct {
	Count int64  `json:"count"`
	Seed  string `json:"seed,omitempty"`
}

// SearchRequest asks a peer to search its local index.
type SearchRequest struct {
	Words      []ID          `json:"words"`
	MaxResults int           `json:"max_results"`
	TimeBudget time.Duration `json:"time_budget"`
}

// SearchResult is a remote peer's answer to a search.
type SearchResult struct {
	Peer      ID       `json:"peer"`
	URLs      []string `json:"urls"`
	JoinCount int      `json:"join_count"`
	SearchMs  int64    `json:"search_ms"`
}

// IndexEntry references one URL indexed under a word.
type IndexEntry struct {
	URLHash ID     `json:"url_hash"`
	Payload string `json:"payload,omitempty"`
}

// TransferRequest ships index fragments keyed by word.
type TransferRequest struct {
	Entries map[ID][]IndexEntry `json:"entries"`
}

// TransferResponse acknowledges a transfer. UnknownURLs lists url hashes
// the receiver needs a follow-up URL transfer for.
type TransferResponse struct {
	Accepted    int  `json:"accepted"`
	UnknownURLs []ID `json:"unknown_urls,omitempty"`
}

// CrawlOrder delegates a fetch to a remote peer.
type CrawlOrder struct {
	URL      string `json:"url"`
	Referrer string `json:"referrer,omitempty"`
	Depth    int    `json:"depth"`
}

// CrawlOrderResponse reports the remote outcome.
type CrawlOrderResponse struct {
	Receipt CrawlReceipt `json:"receipt"`
	Reason  string       `json:"reason,omitempty"`
}

// Transport carries requests to remote peers. Every call is a blocking
// network round trip bounded by ctx.
type Transport interface {
	Hello(ctx context.Context, target *Peer, req HelloRequest) (*HelloResponse, error)
	Query(ctx context.Context, target *Peer, req QueryRequest) (*QueryResponse, error)
	Search(ctx context.Context, target *Peer, req SearchRequest) (*SearchResult, error)
	TransferIndex(ctx context.Context, target *Peer, req TransferRequest) (*TransferResponse, error)
	Crawl(ctx context.Context, target *Peer, order CrawlOrder) (*CrawlOrderResponse, error)
}
