package peeractions

import (
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seednet/seednet/internal/domain"
	"github.com/seednet/seednet/internal/infra/seeddb"
	"github.com/seednet/seednet/internal/infra/wire"
)

var now = time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC)

const selfID = domain.ID("SELFSELFSELF")

func announcement(n int) *domain.Peer {
	return &domain.Peer{
		ID:       domain.ID(fmt.Sprintf("peer%08d", n)),
		Name:     fmt.Sprintf("node-%d", n),
		IP:       fmt.Sprintf("203.0.113.%d", n),
		Port:     8090,
		Class:    domain.ClassSenior,
		Version:  1.0,
		LastSeen: now.Add(-time.Minute),
	}
}

type recorder struct {
	arrivals   []domain.ID
	departures []domain.ID
}

func (r *recorder) OnPeerArrival(p *domain.Peer, _ bool) { r.arrivals = append(r.arrivals, p.ID) }
func (r *recorder) OnPeerDeparture(p *domain.Peer)       { r.departures = append(r.departures, p.ID) }

type newsBox struct{ got []*domain.NewsRecord }

func (b *newsBox) EnqueueIncoming(r *domain.NewsRecord) error {
	if err := r.Validate(); err != nil {
		return err
	}
	b.got = append(b.got, r)
	return nil
}

type fixture struct {
	actions *Actions
	dir     *seeddb.Directory
	clock   *clock.Mock
	events  *recorder
	news    *newsBox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := seeddb.NewMemory(nil)
	require.NoError(t, dir.SetSelf(&domain.Peer{ID: selfID, Name: "self", IP: "192.0.2.1", Port: 8090}))
	clk := clock.NewMock()
	clk.Set(now)
	news := &newsBox{}
	a := New(DefaultConfig(), dir, news, clk, nil)
	rec := &recorder{}
	a.AddListener(rec)
	return &fixture{actions: a, dir: dir, clock: clk, events: rec, news: news}
}

func partitionOf(d *seeddb.Directory, id domain.ID) string {
	_, part, ok := d.Lookup(id)
	if !ok {
		return "none"
	}
	return part.String()
}

// ─── Admission Rules ────────────────────────────────────────────────────────

func TestConnectPeer_Rules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *domain.Peer)
		want   error
	}{
		{"improper", func(p *domain.Peer) { p.IP = "" }, domain.ErrNotProper},
		{"self", func(p *domain.Peer) { p.ID = selfID }, domain.ErrSelfReference},
		{"virgin", func(p *domain.Peer) { p.Class = domain.ClassVirgin }, domain.ErrUnqualified},
		{"junior", func(p *domain.Peer) { p.Class = domain.ClassJunior }, domain.ErrUnqualified},
		{"stale", func(p *domain.Peer) { p.LastSeen = now.Add(-25 * time.Hour) }, domain.ErrStale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p := announcement(1)
			tt.mutate(p)
			d := f.actions.ConnectPeer(p, false)
			assert.False(t, d.Accepted)
			assert.ErrorIs(t, d.Reason, tt.want)
			assert.Equal(t, 0, f.dir.Size(seeddb.Connected))
		})
	}

	f := newFixture(t)
	assert.ErrorIs(t, f.actions.ConnectPeer(nil, true).Reason, domain.ErrNotProper)
}

func TestConnectPeer_StaleLeavesMembershipUnchanged(t *testing.T) {
	f := newFixture(t)
	p := announcement(1)
	require.NoError(t, f.actions.PeerPing(p))

	stale := announcement(1)
	stale.LastSeen = now.Add(-25 * time.Hour)
	d := f.actions.ConnectPeer(stale, false)
	assert.ErrorIs(t, d.Reason, domain.ErrStale)
	assert.Equal(t, "potential", partitionOf(f.dir, p.ID))
}

func TestConnectPeer_AddressFraud(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.actions.ConnectPeer(announcement(1), true).Accepted)

	impostor := announcement(2)
	impostor.IP = announcement(1).IP
	d := f.actions.ConnectPeer(impostor, true)
	assert.ErrorIs(t, d.Reason, domain.ErrAddressFraud)
	assert.Equal(t, "none", partitionOf(f.dir, impostor.ID))
}

func TestConnectPeer_RepairsTimestamps(t *testing.T) {
	f := newFixture(t)
	missing := announcement(1)
	missing.LastSeen = time.Time{}
	d := f.actions.ConnectPeer(missing, false)
	require.True(t, d.Accepted)
	assert.True(t, d.Peer.LastSeen.Equal(now))

	future := announcement(2)
	future.LastSeen = now.Add(3 * time.Hour)
	d = f.actions.ConnectPeer(future, false)
	require.True(t, d.Accepted)
	assert.True(t, f.dir.GetConnected(future.ID).LastSeen.Equal(now))
}

func TestConnectPeer_IndirectRegressionRejected(t *testing.T) {
	f := newFixture(t)
	p := announcement(1)
	p.LastSeen = now.Add(-time.Hour)
	p.WordCount = 10
	require.True(t, f.actions.ConnectPeer(p, false).Accepted)

	older := p.Clone()
	older.LastSeen = p.LastSeen.Add(-time.Second)
	older.WordCount = 99
	d := f.actions.ConnectPeer(older, false)
	assert.ErrorIs(t, d.Reason, domain.ErrRegression)

	stored := f.dir.GetConnected(p.ID)
	assert.Equal(t, int64(10), stored.WordCount)
	assert.True(t, stored.LastSeen.Equal(p.LastSeen))
}

func TestConnectPeer_IdempotentReannouncement(t *testing.T) {
	f := newFixture(t)
	p := announcement(1)
	first := f.actions.ConnectPeer(p, false)
	require.True(t, first.Accepted)
	assert.True(t, first.New)

	again := f.actions.ConnectPeer(p, false)
	require.True(t, again.Accepted)
	assert.False(t, again.New)

	older := p.Clone()
	older.LastSeen = p.LastSeen.Add(-time.Hour)
	older.WordCount = 5
	direct := f.actions.ConnectPeer(older, true)
	require.True(t, direct.Accepted)

	stored := f.dir.Get(p.ID)
	require.NotNil(t, stored)
	assert.Equal(t, int64(5), stored.WordCount)
	assert.True(t, stored.LastSeen.Equal(now), "direct contact refreshes last seen")
}

func TestConnectPeer_StaleIndirectAfterDeparture(t *testing.T) {
	f := newFixture(t)
	p := announcement(1)
	require.True(t, f.actions.ConnectPeer(p, true).Accepted)

	f.clock.Add(10 * time.Minute)
	require.True(t, f.actions.PeerDeparture(p, CauseContactFailed))

	gossip := p.Clone()
	gossip.LastSeen = now.Add(5 * time.Minute)
	d := f.actions.ConnectPeer(gossip, false)
	assert.ErrorIs(t, d.Reason, domain.ErrStaleIndirect)
	assert.Equal(t, "disconnected", partitionOf(f.dir, p.ID))

	// Fresher gossip or direct contact brings the peer back.
	gossip.LastSeen = now.Add(11 * time.Minute)
	f.clock.Add(2 * time.Minute)
	d = f.actions.ConnectPeer(gossip, false)
	require.True(t, d.Accepted)
	assert.True(t, d.New)
	assert.Equal(t, "connected", partitionOf(f.dir, p.ID))
	_, ok := f.actions.DepartedAt(p.ID)
	assert.False(t, ok)
}

func TestConnectPeer_DepartureSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	p := announcement(1)
	require.True(t, f.actions.ConnectPeer(p, true).Accepted)

	f.clock.Add(10 * time.Minute)
	require.True(t, f.actions.PeerDeparture(p, CauseContactFailed))

	// A second Actions over the same directory stands in for a restart.
	restarted := New(DefaultConfig(), f.dir, nil, f.clock, nil)
	left, ok := restarted.DepartedAt(p.ID)
	require.True(t, ok)
	assert.True(t, left.Equal(now.Add(10*time.Minute)))

	gossip := p.Clone()
	gossip.LastSeen = now.Add(5 * time.Minute)
	d := restarted.ConnectPeer(gossip, false)
	assert.ErrorIs(t, d.Reason, domain.ErrStaleIndirect)
	assert.Equal(t, "disconnected", partitionOf(f.dir, p.ID))

	assert.False(t, restarted.PeerDeparture(p, CauseShutdown))
	assert.Zero(t, restarted.Disconnects())

	require.True(t, restarted.ConnectPeer(p, true).Accepted)
	assert.Zero(t, f.dir.GetConnected(p.ID).Departed)
}

// ─── Arrival, Departure, Ping ───────────────────────────────────────────────

func TestPeerArrival_NotifiesOnlyNewPeers(t *testing.T) {
	f := newFixture(t)
	p := announcement(1)
	require.True(t, f.actions.PeerArrival(p, true).Accepted)
	require.True(t, f.actions.PeerArrival(p, true).Accepted)
	assert.Equal(t, []domain.ID{p.ID}, f.events.arrivals)

	events := f.actions.Feed().Recent(0)
	require.Len(t, events, 1)
	assert.Equal(t, EventJoin, events[0].Kind)
}

func TestPeerArrival_ExtractsNews(t *testing.T) {
	f := newFixture(t)
	r := domain.NewNewsRecord("peer00000001", domain.CategoryBlogAdd, now.Add(-time.Hour), map[string]string{"title": "x"})
	encoded, err := wire.EncodeNews(r)
	require.NoError(t, err)

	p := announcement(1)
	p.News = encoded
	require.True(t, f.actions.PeerArrival(p, false).Accepted)
	require.Len(t, f.news.got, 1)
	assert.Equal(t, r.ID(), f.news.got[0].ID())

	kinds := []EventKind{}
	for _, e := range f.actions.Feed().Recent(0) {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []EventKind{EventNews, EventJoin}, kinds)
}

func TestPeerDeparture_CountsOncePerID(t *testing.T) {
	f := newFixture(t)
	p := announcement(1)
	require.True(t, f.actions.PeerArrival(p, true).Accepted)

	assert.True(t, f.actions.PeerDeparture(p, CauseContactFailed))
	first, ok := f.actions.DepartedAt(p.ID)
	require.True(t, ok)

	f.clock.Add(time.Minute)
	assert.False(t, f.actions.PeerDeparture(p, CauseContactFailed))
	assert.False(t, f.actions.PeerDeparture(p, CauseShutdown))
	assert.Equal(t, int64(1), f.actions.Disconnects())
	again, _ := f.actions.DepartedAt(p.ID)
	assert.Equal(t, first, again)
	assert.Equal(t, []domain.ID{p.ID}, f.events.departures)

	// After reconnecting, a new departure counts again.
	require.True(t, f.actions.PeerArrival(p, true).Accepted)
	assert.True(t, f.actions.PeerDeparture(p, CauseShutdown))
	assert.Equal(t, int64(2), f.actions.Disconnects())

	assert.False(t, f.actions.PeerDeparture(&domain.Peer{ID: selfID}, CauseShutdown))
	assert.False(t, f.actions.PeerDeparture(nil, CauseShutdown))
}

func TestPeerPing(t *testing.T) {
	f := newFixture(t)
	junior := announcement(1)
	junior.Class = domain.ClassJunior
	require.NoError(t, f.actions.PeerPing(junior))
	assert.Equal(t, "potential", partitionOf(f.dir, junior.ID))
	assert.Empty(t, f.events.arrivals)

	connected := announcement(2)
	require.True(t, f.actions.PeerArrival(connected, true).Accepted)
	require.NoError(t, f.actions.PeerPing(connected))
	assert.Equal(t, "connected", partitionOf(f.dir, connected.ID))

	assert.ErrorIs(t, f.actions.PeerPing(&domain.Peer{ID: selfID, IP: "192.0.2.1", Port: 1}), domain.ErrSelfReference)
	assert.ErrorIs(t, f.actions.PeerPing(&domain.Peer{ID: "bad"}), domain.ErrNotProper)
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t)
	for n := 1; n <= 3; n++ {
		require.True(t, f.actions.PeerArrival(announcement(n), false).Accepted)
	}
	f.clock.Add(23 * time.Hour)
	fresh := announcement(2)
	fresh.LastSeen = f.clock.Now()
	require.True(t, f.actions.ConnectPeer(fresh, false).Accepted)

	f.clock.Add(2 * time.Hour)
	assert.Equal(t, 2, f.actions.ExpireStale())
	assert.Equal(t, 1, f.dir.Size(seeddb.Connected))
	assert.Equal(t, 2, f.dir.Size(seeddb.Disconnected))
}
