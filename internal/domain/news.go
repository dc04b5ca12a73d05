package domain

import (
	"fmt"
	"time"
)

// NewsCategory classifies a news record. Categories are short fixed names.
type NewsCategory string

// MaxCategoryLength bounds the length of a category name.
const MaxCategoryLength = 8

const (
	CategoryCrawlStart    NewsCategory = "crwlstrt"
	CategoryProfileUpdate NewsCategory = "prfleupd"
	CategoryBookmarkAdd   NewsCategory = "bkmrkadd"
	CategoryBookmarkVote  NewsCategory = "bkmrkavt"
	CategoryWikiUpdate    NewsCategory = "wiki_upd"
	CategoryBlogAdd       NewsCategory = "blog_add"
	CategoryTipAdd        NewsCategory = "stippadd"
	CategoryTipVote       NewsCategory = "stippavt"
)

// AllCategories lists every category this node accepts.
func AllCategories() []NewsCategory {
	return []NewsCategory{
		CategoryCrawlStart, CategoryProfileUpdate, CategoryBookmarkAdd,
		CategoryBookmarkVote, CategoryWikiUpdate, CategoryBlogAdd,
		CategoryTipAdd, CategoryTipVote,
	}
}

// Known reports whether c is an accepted category.
func (c NewsCategory) Known() bool {
	for _, k := range AllCategories() {
		if c == k {
			return true
		}
	}
	return false
}

// NewsTimeLayout is the timestamp granularity used in news identities.
const NewsTimeLayout = "20060102150405"

// NewsIDLength is the length of a composite news id.
const NewsIDLength = len(NewsTimeLayout) + IDLength

// NewsRecord is one announcement travelling through the news queues.
type NewsRecord struct {
	Category    NewsCategory      `json:"category"`
	Originator  ID                `json:"originator"`
	Created     time.Time         `json:"created"`
	Received    time.Time         `json:"received,omitzero"`
	Distributed int               `json:"distributed"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// NewNewsRecord creates a record originated by originator at created.
// The creation time is truncated to the identity granularity.
func NewNewsRecord(originator ID, category NewsCategory, created time.Time, attrs map[string]string) *NewsRecord {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return &NewsRecord{
		Category:   category,
		Originator: originator,
		Created:    created.UTC().Truncate(time.Second),
		Attributes: attrs,
	}
}

// ID returns created-timestamp followed by originator id. One peer cannot
// emit two records within the same second under the same identity.
func (r *NewsRecord) ID() string {
	return r.Created.UTC().Format(NewsTimeLayout) + string(r.Originator)
}

// Attr returns an attribute or def when absent.
func (r *NewsRecord) Attr(key, def string) string {
	if v, ok := r.Attributes[key]; ok {
		return v
	}
	return def
}

// Clone returns a deep copy.
func (r *NewsRecord) Clone() *NewsRecord {
	c := *r
	c.Attributes = make(map[string]string, len(r.Attributes))
	for k, v := range r.Attributes {
		c.Attributes[k] = v
	}
	return &c
}

// Validate performs the structural checks applied to records received from
// other peers.
func (r *NewsRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrMalformedNews)
	}
	if err := r.Originator.Validate(); err != nil {
		return fmt.Errorf("%w: originator: %v", ErrMalformedNews, err)
	}
	if len(r.Category) == 0 || len(r.Category) > MaxCategoryLength {
		return fmt.Errorf("%w: category %q", ErrMalformedNews, r.Category)
	}
	if !r.Category.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, r.Category)
	}
	if r.Created.IsZero() || r.Created.Unix() == 0 {
		return fmt.Errorf("%w: zero creation time", ErrMalformedNews)
	}
	if len(r.ID()) != NewsIDLength {
		return fmt.Errorf("%w: id %q", ErrMalformedNews, r.ID())
	}
	return nil
}

// ─── Crawl Receipts ─────────────────────────────────────────────────────────

// CrawlReceipt classifies the outcome of a crawl order delegated to a peer.
type CrawlReceipt string

const (
	ReceiptUnavailable CrawlReceipt = "unavailable"
	ReceiptRobot       CrawlReceipt = "robot"
	ReceiptRejected    CrawlReceipt = "rejected"
	ReceiptDequeue     CrawlReceipt = "dequeue"
	ReceiptFill        CrawlReceipt = "fill"
	ReceiptUpdate      CrawlReceipt = "update"
	ReceiptKnown       CrawlReceipt = "known"
	ReceiptStale       CrawlReceipt = "stale"
)

// ParseCrawlReceipt parses a receipt name.
func ParseCrawlReceipt(s string) (CrawlReceipt, error) {
	switch r := CrawlReceipt(s); r {
	case ReceiptUnavailable, ReceiptRobot, ReceiptRejected, ReceiptDequeue,
		ReceiptFill, ReceiptUpdate, ReceiptKnown, ReceiptStale:
		return r, nil
	}
	return "", fmt.Errorf("unknown crawl receipt %q", s)
}

// Stored reports whether the receipt means the remote peer stored the page.
func (r CrawlReceipt) Stored() bool {
	return r == ReceiptFill || r == ReceiptUpdate
}

// ─── Queues ─────────────────────────────────────────────────────────────────

// NewsQueue names one of the four news queues.
type NewsQueue string

const (
	QueueIncoming  NewsQueue = "incoming"
	QueueProcessed NewsQueue = "processed"
	QueueOutgoing  NewsQueue = "outgoing"
	QueuePublished NewsQueue = "published"
)

// NewsQueues lists every queue.
func NewsQueues() []NewsQueue {
	return []NewsQueue{QueueIncoming, QueueProcessed, QueueOutgoing, QueuePublished}
}

// ParseNewsQueue validates a queue name.
func ParseNewsQueue(s string) (NewsQueue, error) {
	for _, q := range NewsQueues() {
		if string(q) == s {
			return q, nil
		}
	}
	return "", fmt.Errorf("unknown news queue %q", s)
}
