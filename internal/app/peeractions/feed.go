package peeractions

import (
	"sync"
	"time"

	"github.com/seednet/seednet/internal/domain"
)

// EventKind names a feed entry type.
type EventKind string

const (
	EventJoin  EventKind = "join"
	EventLeave EventKind = "leave"
	EventPing  EventKind = "ping"
	EventNews  EventKind = "news"
)

// Event is one best-effort notification about the network.
type Event struct {
	Time   time.Time `json:"time"`
	Kind   EventKind `json:"kind"`
	Peer   domain.ID `json:"peer"`
	Name   string    `json:"name,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Feed is a fixed-size ring of recent events.
type Feed struct {
	mu    sync.Mutex
	buf   []Event
	next  int
	total int64
}

// NewFeed creates a feed holding up to size events.
func NewFeed(size int) *Feed {
	if size <= 0 {
		size = 1
	}
	return &Feed{buf: make([]Event, 0, size)}
}

// Add appends e, evicting the oldest event when full.
func (f *Feed) Add(e Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.total++
	if len(f.buf) < cap(f.buf) {
		f.buf = append(f.buf, e)
		return
	}
	f.buf[f.next] = e
	f.next = (f.next + 1) % len(f.buf)
}

// Recent returns up to limit events, newest first. A limit <= 0 returns
// everything held.
func (f *Feed) Recent(limit int) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.buf)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Event, 0, limit)
	for i := 0; i < limit; i++ {
		// newest sits just before next once the ring has wrapped
		idx := (f.next - 1 - i + 2*n) % n
		out = append(out, f.buf[idx])
	}
	return out
}

// Total returns how many events were ever added.
func (f *Feed) Total() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}
