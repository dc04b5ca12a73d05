package seeddb

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seednet/seednet/internal/domain"
)

func idsOf(peers []*domain.Peer) []domain.ID {
	out := make([]domain.ID, 0, len(peers))
	for _, p := range peers {
		out = append(out, p.ID)
	}
	return out
}

func TestRotation_WrapsFromStart(t *testing.T) {
	d := newTestDirectory(t)
	for n := 1; n <= 5; n++ {
		require.NoError(t, d.AddConnected(testPeer(n)))
	}

	got := idsOf(d.Rotating(Connected, "peer00000003", 0).Collect())
	assert.Equal(t, []domain.ID{
		"peer00000003", "peer00000004", "peer00000005", "peer00000001", "peer00000002",
	}, got)

	// A start id that is not a member begins at the next larger id.
	got = idsOf(d.Rotating(Connected, "peer00000003x", 0).Collect())
	assert.Equal(t, domain.ID("peer00000004"), got[0])

	// A start id above every member wraps to the smallest.
	got = idsOf(d.Rotating(Connected, "zzzzzzzzzzzz", 0).Collect())
	assert.Equal(t, domain.ID("peer00000001"), got[0])
}

func TestRotation_CompletenessForAnyStart(t *testing.T) {
	d := newTestDirectory(t)
	members := make(map[domain.ID]bool)
	rng := rand.New(rand.NewSource(7))
	for len(members) < 40 {
		p := testPeer(rng.Intn(100000))
		if members[p.ID] {
			continue
		}
		members[p.ID] = true
		require.NoError(t, d.AddConnected(p))
	}

	starts := []domain.ID{"------------", "zzzzzzzzzzzz", "peer00050000"}
	for id := range members {
		starts = append(starts, id)
	}
	for _, start := range starts {
		r := d.Rotating(Connected, start, 0)
		assert.Equal(t, len(members), r.Len())
		seen := make(map[domain.ID]bool)
		for p := range r.Peers() {
			assert.False(t, seen[p.ID], "start %s revisited %s", start, p.ID)
			seen[p.ID] = true
		}
		assert.Len(t, seen, len(members), "start %s", start)
		_, step := r.Next()
		assert.Equal(t, StepExhausted, step)
	}
}

func TestRotation_VersionFilter(t *testing.T) {
	d := newTestDirectory(t)
	versions := map[int]float64{1: 0.4, 2: 0, 3: 0.6, 4: 1.2}
	for n, v := range versions {
		p := testPeer(n)
		p.Version = v
		require.NoError(t, d.AddConnected(p))
	}

	got := idsOf(d.Rotating(Connected, "peer00000001", 0.5).Collect())
	assert.Equal(t, []domain.ID{"peer00000002", "peer00000003", "peer00000004"}, got)
}

func TestRotation_EmptyPartition(t *testing.T) {
	d := newTestDirectory(t)
	r := d.Rotating(Potential, "peer00000001", 0)
	p, step := r.Next()
	assert.Nil(t, p)
	assert.Equal(t, StepExhausted, step)
	assert.Equal(t, 0, r.Remaining())
}

func TestRotation_ConcurrentRemovalSkipped(t *testing.T) {
	d := newTestDirectory(t)
	for n := 1; n <= 4; n++ {
		require.NoError(t, d.AddConnected(testPeer(n)))
	}
	r := d.Rotating(Connected, "peer00000001", 0)
	first, step := r.Next()
	require.Equal(t, StepValue, step)
	assert.Equal(t, domain.ID("peer00000001"), first.ID)

	require.NoError(t, d.AddDisconnected(testPeer(2)))
	rest := idsOf(r.Collect())
	assert.Equal(t, []domain.ID{"peer00000003", "peer00000004"}, rest)
}

func TestRotation_ResetIsReported(t *testing.T) {
	d, flaky := newFlakyDirectory(t)
	for n := 1; n <= 3; n++ {
		require.NoError(t, d.AddConnected(testPeer(n)))
	}
	r := d.Rotating(Connected, "peer00000001", 0)
	flaky.broken = true

	p, step := r.Next()
	assert.Nil(t, p)
	assert.Equal(t, StepReset, step)
	_, step = r.Next()
	assert.Equal(t, StepReset, step)
	assert.Equal(t, int64(1), d.Resets(Connected))
	assert.Equal(t, 0, d.Size(Connected))
}

func TestStepString(t *testing.T) {
	assert.Equal(t, "value", StepValue.String())
	assert.Equal(t, "exhausted", StepExhausted.String())
	assert.Equal(t, "reset", StepReset.String())
}
