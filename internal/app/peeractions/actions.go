// Package peeractions applies inbound peer announcements to the directory.
// It decides whether an announcement is accepted, moves peers between the
// connected, disconnected and potential partitions, and tells interested
// components about arrivals and departures.
package peeractions

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/seednet/seednet/internal/domain"
	"github.com/seednet/seednet/internal/infra/metrics"
	"github.com/seednet/seednet/internal/infra/seeddb"
	"github.com/seednet/seednet/internal/infra/wire"
)

// Cause classifies why a peer left the connected set.
type Cause string

const (
	CauseContactFailed Cause = "contact_failed"
	CauseShutdown      Cause = "shutdown"
	CauseStale         Cause = "stale"
)

// Config holds lifecycle limits.
type Config struct {
	// StaleAfter rejects announcements whose last-seen time is older.
	StaleAfter time.Duration
	// FeedSize bounds the event feed.
	FeedSize int
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{StaleAfter: 24 * time.Hour, FeedSize: 200}
}

// Directory is the part of the peer directory the lifecycle mutates.
type Directory interface {
	SelfID() domain.ID
	GetConnected(id domain.ID) *domain.Peer
	GetDisconnected(id domain.ID) *domain.Peer
	LookupByAddress(addr string, parts ...seeddb.Partition) *domain.Peer
	List(part seeddb.Partition) []*domain.Peer
	AddConnected(p *domain.Peer) error
	AddDisconnected(p *domain.Peer) error
	AddPotential(p *domain.Peer) error
}

// Listener is told about committed transitions.
type Listener interface {
	OnPeerArrival(p *domain.Peer, direct bool)
	OnPeerDeparture(p *domain.Peer)
}

// NewsSink receives news records piggybacked on announcements.
type NewsSink interface {
	EnqueueIncoming(r *domain.NewsRecord) error
}

// Decision is the outcome of ConnectPeer. A rejection is a normal outcome,
// not a failure; Reason carries the sentinel explaining it.
type Decision struct {
	Accepted bool
	// New is set when the peer was not connected before.
	New    bool
	Reason error
	// Peer is the record as committed.
	Peer *domain.Peer
}

func reject(reason error) Decision { return Decision{Reason: reason} }

// Actions owns peer state transitions.
type Actions struct {
	mu     sync.Mutex
	cfg    Config
	dir    Directory
	news   NewsSink
	clock  clock.Clock
	logger *zap.Logger

	listeners   []Listener
	disconnects int64
	feed        *Feed
}

// New creates lifecycle actions over dir. news may be nil.
func New(cfg Config, dir Directory, news NewsSink, clk clock.Clock, logger *zap.Logger) *Actions {
	def := DefaultConfig()
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.FeedSize <= 0 {
		cfg.FeedSize = def.FeedSize
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Actions{
		cfg:    cfg,
		dir:    dir,
		news:   news,
		clock:  clk,
		logger: logger.Named("peeractions"),
		feed:   NewFeed(cfg.FeedSize),
	}
}

// AddListener registers l for arrival and departure notifications.
func (a *Actions) AddListener(l Listener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, l)
}

// ─── Admission ──────────────────────────────────────────────────────────────

// ConnectPeer decides whether an announcement enters the connected set and
// commits it when it does. direct is set when the record came from the
// peer itself rather than through gossip. The rules apply in order and the
// first match decides.
func (a *Actions) ConnectPeer(record *domain.Peer, direct bool) Decision {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.connectLocked(record, direct)
	a.count(d)
	return d
}

func (a *Actions) connectLocked(record *domain.Peer, direct bool) Decision {
	if record == nil {
		return reject(domain.ErrNotProper)
	}
	if err := record.IsProper(); err != nil {
		return reject(err)
	}
	if record.ID == a.dir.SelfID() {
		return reject(domain.ErrSelfReference)
	}
	if !record.Class.Qualified() {
		return reject(domain.ErrUnqualified)
	}
	if other := a.dir.LookupByAddress(record.Address(), seeddb.Connected); other != nil && other.ID != record.ID {
		return reject(domain.ErrAddressFraud)
	}

	p := record.Clone()
	now := a.clock.Now().UTC()
	if p.LastSeen.IsZero() || p.LastSeen.After(now) {
		p.LastSeen = now
	}
	if now.Sub(p.LastSeen) > a.cfg.StaleAfter {
		return reject(domain.ErrStale)
	}
	if !direct {
		if left := a.departedLocked(p.ID); !left.IsZero() && p.LastSeen.Before(left) {
			return reject(domain.ErrStaleIndirect)
		}
	}
	current := a.dir.GetConnected(p.ID)
	if current != nil && !direct && p.LastSeen.Before(current.LastSeen) {
		return reject(domain.ErrRegression)
	}

	if direct {
		p.LastSeen = now
	}
	p.Departed = time.Time{}
	if err := a.dir.AddConnected(p); err != nil {
		a.logger.Warn("connect failed", zap.String("peer", p.ID.Short()), zap.Error(err))
		return reject(err)
	}
	return Decision{Accepted: true, New: current == nil, Peer: p}
}

func (a *Actions) count(d Decision) {
	if d.Accepted {
		metrics.PeerDecisions.WithLabelValues("accepted", "").Inc()
		return
	}
	metrics.PeerDecisions.WithLabelValues("rejected", reasonLabel(d.Reason)).Inc()
}

func reasonLabel(err error) string {
	for _, r := range []struct {
		err   error
		label string
	}{
		{domain.ErrNotProper, "not_proper"},
		{domain.ErrSelfReference, "self"},
		{domain.ErrUnqualified, "unqualified"},
		{domain.ErrAddressFraud, "address_fraud"},
		{domain.ErrStale, "stale"},
		{domain.ErrStaleIndirect, "stale_indirect"},
		{domain.ErrRegression, "regression"},
	} {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "storage"
}

// PeerArrival runs ConnectPeer and, when the record is accepted, extracts
// its attached news. Listeners and the feed hear about peers that were not
// connected before.
func (a *Actions) PeerArrival(record *domain.Peer, direct bool) Decision {
	a.mu.Lock()
	d := a.connectLocked(record, direct)
	listeners := a.listeners
	a.mu.Unlock()
	a.count(d)

	if !d.Accepted {
		a.logger.Debug("peer rejected", zap.Stringp("peer", shortID(record)), zap.Error(d.Reason))
		return d
	}
	if d.New {
		a.logger.Info("peer connected",
			zap.String("peer", d.Peer.ID.Short()), zap.String("name", d.Peer.Name), zap.Bool("direct", direct))
		a.feed.Add(a.event(EventJoin, d.Peer, ""))
		for _, l := range listeners {
			l.OnPeerArrival(d.Peer, direct)
		}
	}
	a.extractNews(d.Peer)
	return d
}

// PeerDeparture moves p to the disconnected partition and stamps the
// departure time on the stored record. A peer that already departed is left
// alone, so repeated departures count once, across restarts too. It reports
// whether a transition happened.
func (a *Actions) PeerDeparture(p *domain.Peer, cause Cause) bool {
	if p == nil {
		return false
	}
	a.mu.Lock()
	if p.ID == a.dir.SelfID() {
		a.mu.Unlock()
		return false
	}
	if !a.departedLocked(p.ID).IsZero() {
		a.mu.Unlock()
		return false
	}
	record := a.dir.GetConnected(p.ID)
	if record == nil {
		record = p.Clone()
	}
	record.Departed = a.clock.Now().UTC().Truncate(time.Second)
	if err := a.dir.AddDisconnected(record); err != nil {
		a.mu.Unlock()
		a.logger.Debug("departure not recorded", zap.String("peer", p.ID.Short()), zap.Error(err))
		return false
	}
	a.disconnects++
	listeners := a.listeners
	a.mu.Unlock()

	metrics.PeerDepartures.WithLabelValues(string(cause)).Inc()
	a.logger.Info("peer disconnected",
		zap.String("peer", record.ID.Short()), zap.String("name", record.Name), zap.String("cause", string(cause)))
	a.feed.Add(a.event(EventLeave, record, string(cause)))
	for _, l := range listeners {
		l.OnPeerDeparture(record)
	}
	return true
}

// PeerPing records a low-trust sighting in the potential partition. A peer
// that is already connected stays connected. Attached news is extracted
// either way.
func (a *Actions) PeerPing(p *domain.Peer) error {
	if p == nil {
		return domain.ErrNotProper
	}
	a.mu.Lock()
	var err error
	switch {
	case p.ID == a.dir.SelfID():
		err = domain.ErrSelfReference
	case a.dir.GetConnected(p.ID) != nil:
	default:
		err = a.dir.AddPotential(p)
	}
	a.mu.Unlock()
	if err != nil {
		a.logger.Debug("ping ignored", zap.String("peer", p.ID.Short()), zap.Error(err))
		return err
	}
	a.feed.Add(a.event(EventPing, p, ""))
	a.extractNews(p)
	return nil
}

// ExpireStale disconnects every connected peer not seen within the stale
// window and returns how many were moved.
func (a *Actions) ExpireStale() int {
	cutoff := a.clock.Now().Add(-a.cfg.StaleAfter)
	n := 0
	for _, p := range a.dir.List(seeddb.Connected) {
		if p.LastSeen.Before(cutoff) && a.PeerDeparture(p, CauseStale) {
			n++
		}
	}
	return n
}

func (a *Actions) extractNews(p *domain.Peer) {
	if p.News == "" || a.news == nil {
		return
	}
	r, err := wire.DecodeNews(p.News)
	if err == nil {
		err = a.news.EnqueueIncoming(r)
	}
	if err != nil {
		a.logger.Debug("attached news dropped", zap.String("peer", p.ID.Short()), zap.Error(err))
		return
	}
	a.feed.Add(a.event(EventNews, p, string(r.Category)))
}

// ─── Diagnostics ────────────────────────────────────────────────────────────

// Disconnects returns how many distinct departures were recorded.
func (a *Actions) Disconnects() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.disconnects
}

// DepartedAt returns when id last left the connected set. It reports false
// unless id sits in the disconnected partition with a departure stamp.
func (a *Actions) DepartedAt(id domain.ID) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.departedLocked(id)
	return t, !t.IsZero()
}

func (a *Actions) departedLocked(id domain.ID) time.Time {
	if gone := a.dir.GetDisconnected(id); gone != nil {
		return gone.Departed
	}
	return time.Time{}
}

// Feed returns the event feed.
func (a *Actions) Feed() *Feed { return a.feed }

func (a *Actions) event(kind EventKind, p *domain.Peer, detail string) Event {
	return Event{
		Time:   a.clock.Now().UTC(),
		Kind:   kind,
		Peer:   p.ID,
		Name:   p.Name,
		Detail: detail,
	}
}

func shortID(p *domain.Peer) *string {
	if p == nil {
		return nil
	}
	s := p.ID.Short()
	return &s
}
