package peeractions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/seednet/seednet/internal/domain"
)

func TestFeed_Ring(t *testing.T) {
	f := NewFeed(3)
	assert.Empty(t, f.Recent(0))

	for _, id := range []domain.ID{"a", "b", "c", "d", "e"} {
		f.Add(Event{Kind: EventJoin, Peer: id})
	}
	var got []domain.ID
	for _, e := range f.Recent(0) {
		got = append(got, e.Peer)
	}
	assert.Equal(t, []domain.ID{"e", "d", "c"}, got)
	assert.Len(t, f.Recent(2), 2)
	assert.Equal(t, int64(5), f.Total())
}
