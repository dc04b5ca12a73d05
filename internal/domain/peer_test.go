package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func properPeer() *Peer {
	return &Peer{
		ID:    "AAAAAAAAAAAA",
		Name:  "alpha",
		IP:    "192.0.2.10",
		Port:  8090,
		Class: ClassSenior,
	}
}

func TestPeer_IsProper(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Peer)
		ok     bool
	}{
		{"proper", func(p *Peer) {}, true},
		{"bad id", func(p *Peer) { p.ID = "short" }, false},
		{"no ip", func(p *Peer) { p.IP = "" }, false},
		{"unspecified ip", func(p *Peer) { p.IP = "0.0.0.0" }, false},
		{"hostname", func(p *Peer) { p.IP = "example.org" }, false},
		{"zero port", func(p *Peer) { p.Port = 0 }, false},
		{"huge port", func(p *Peer) { p.Port = 70000 }, false},
		{"ipv6", func(p *Peer) { p.IP = "2001:db8::1" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := properPeer()
			tt.mutate(p)
			err := p.IsProper()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrNotProper)
			}
		})
	}
	var nilPeer *Peer
	assert.ErrorIs(t, nilPeer.IsProper(), ErrNotProper)
}

func TestPeer_Address(t *testing.T) {
	p := properPeer()
	assert.Equal(t, "192.0.2.10:8090", p.Address())
	p.IP = "2001:db8::1"
	assert.Equal(t, "[2001:db8::1]:8090", p.Address())
}

func TestPeerClass(t *testing.T) {
	assert.Equal(t, ClassPrincipal, ParsePeerClass("Principal"))
	assert.Equal(t, ClassVirgin, ParsePeerClass("nonsense"))
	assert.True(t, ClassSenior.Qualified())
	assert.False(t, ClassJunior.Qualified())
}

func TestFlags(t *testing.T) {
	var f Flags
	f = f.With(FlagAcceptRemoteIndex, true)
	assert.True(t, f.Has(FlagAcceptRemoteIndex))
	assert.False(t, f.Has(FlagAcceptRemoteCrawl))
	f = f.With(FlagAcceptRemoteIndex, false)
	assert.Equal(t, Flags(0), f)
}

func TestPeer_CloneIsDeep(t *testing.T) {
	p := properPeer()
	p.Tags = []string{"music"}
	c := p.Clone()
	c.Tags[0] = "films"
	c.Name = "beta"
	assert.Equal(t, "music", p.Tags[0])
	assert.Equal(t, "alpha", p.Name)
}

func TestPeer_AgeDays(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	p := properPeer()
	assert.Equal(t, -1, p.AgeDays(now))
	assert.False(t, p.IsNewcomer(now))
	p.BirthDate = now.Add(-49 * time.Hour)
	assert.Equal(t, 2, p.AgeDays(now))
	assert.False(t, p.IsNewcomer(now))
	p.BirthDate = now.Add(-3 * time.Hour)
	assert.True(t, p.IsNewcomer(now))
	p.BirthDate = now.Add(time.Hour)
	assert.Equal(t, 0, p.AgeDays(now))
}

func TestPeer_MatchesTags(t *testing.T) {
	p := properPeer()
	query := WordHashes([]string{"Jazz", "vinyl"})
	assert.False(t, p.MatchesTags(query))

	p.Tags = []string{"jazz"}
	assert.True(t, p.MatchesTags(query))

	p.Tags = []string{"rock"}
	assert.False(t, p.MatchesTags(query))

	p.Tags = []string{WildcardTag}
	assert.True(t, p.MatchesTags(query))
}

func TestCompareBy_TotalOrder(t *testing.T) {
	a := properPeer()
	b := properPeer()
	b.ID = "BBBBBBBBBBBB"
	a.WordCount, b.WordCount = 10, 10
	assert.Equal(t, -1, CompareBy(SortByWordCount, a, b))
	b.WordCount = 5
	assert.Equal(t, 1, CompareBy(SortByWordCount, a, b))
	assert.Equal(t, 0, CompareBy(SortByName, a, a))
}

func TestParseSortField(t *testing.T) {
	f, err := ParseSortField("url_count")
	assert.NoError(t, err)
	assert.Equal(t, SortByURLCount, f)
	_, err = ParseSortField("karma")
	assert.Error(t, err)
}
