package domain

import (
	"math/big"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomID(r *rand.Rand) ID {
	var b strings.Builder
	for i := 0; i < IDLength; i++ {
		b.WriteByte(Alphabet[r.Intn(len(Alphabet))])
	}
	return ID(b.String())
}

// ─── Validation ─────────────────────────────────────────────────────────────

func TestParseID(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"AAAAAAAAAAAA", true},
		{"-_09azAZ-_09", true},
		{"AAAAAAAAAAA", false},
		{"AAAAAAAAAAAAA", false},
		{"AAAAAAAAAAA+", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := ParseID(tt.in)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidID)
			}
		})
	}
}

func TestAlphabetIsByteOrdered(t *testing.T) {
	for i := 1; i < len(Alphabet); i++ {
		assert.Less(t, Alphabet[i-1], Alphabet[i], "symbol %d", i)
	}
}

// ─── Cardinal ───────────────────────────────────────────────────────────────

func TestCardinal_Bounds(t *testing.T) {
	lo := ID(strings.Repeat("-", IDLength))
	hi := ID(strings.Repeat("z", IDLength))
	assert.Equal(t, int64(0), lo.Cardinal().Int64())

	want := MaxCardinal()
	want.Sub(want, bigOne())
	assert.Equal(t, 0, hi.Cardinal().Cmp(want))
}

func TestCardinal_OrderPreservingAndInjective(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	ids := make([]ID, 200)
	for i := range ids {
		ids[i] = randomID(r)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i := 1; i < len(ids); i++ {
		c := ids[i-1].Cardinal().Cmp(ids[i].Cardinal())
		if ids[i-1] == ids[i] {
			assert.Equal(t, 0, c)
		} else {
			assert.Equal(t, -1, c, "%s < %s", ids[i-1], ids[i])
		}
	}
}

func TestFromCardinal_RoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for i := 0; i < 100; i++ {
		id := randomID(r)
		assert.Equal(t, id, FromCardinal(id.Cardinal()))
	}
}

func TestCardinal_PanicsOnMalformed(t *testing.T) {
	assert.Panics(t, func() { ID("short").Cardinal() })
}

// ─── Distance ───────────────────────────────────────────────────────────────

func TestDistance_Self(t *testing.T) {
	id := ID("AbCdEfGhIjKl")
	assert.Equal(t, 1.0, Distance(id, id))
}

func TestDistance_RangeAndComplement(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		a, b := randomID(r), randomID(r)
		dab := Distance(a, b)
		dba := Distance(b, a)
		assert.Greater(t, dab, 0.0)
		assert.LessOrEqual(t, dab, 1.0)
		if a != b {
			assert.InDelta(t, 1.0, dab+dba, 1e-12, "%s %s", a, b)
		}
	}
}

func TestDistance_Adjacent(t *testing.T) {
	a := ID("AAAAAAAAAAAB")
	b := ID("AAAAAAAAAAAA")
	d := Distance(a, b)
	assert.Greater(t, d, 0.0)
	assert.Less(t, d, 1e-20)
	assert.InDelta(t, 1.0, Distance(b, a), 1e-12)
}

// Two peers P1, P2 with distinct ids: the two directions sum to one.
func TestDistance_TwoPeerScenario(t *testing.T) {
	p1 := ID("Kq3dJx0Pz_aB")
	p2 := ID("r-7mWn2Ye9Lc")
	assert.InDelta(t, 1.0, Distance(p1, p2)+Distance(p2, p1), 1e-9)
}

func TestDistance_LengthMismatchPanics(t *testing.T) {
	assert.Panics(t, func() { Distance("AAAAAAAAAAAA", "AAAA") })
}

// ─── Hashing & Partitions ───────────────────────────────────────────────────

func TestWordHash(t *testing.T) {
	h := WordHash("Linux")
	require.NoError(t, h.Validate())
	assert.Equal(t, h, WordHash(" linux "))
	assert.NotEqual(t, h, WordHash("bsd"))
}

func TestVerticalPosition(t *testing.T) {
	id := WordHash("search")
	assert.Equal(t, id, id.VerticalPosition(0, 0))

	seen := map[byte]bool{}
	for p := 0; p < Partitions(2); p++ {
		v := id.VerticalPosition(2, p)
		require.NoError(t, v.Validate())
		assert.Equal(t, id[1:], v[1:])
		seen[v[0]] = true
		// The partition lands in the top two bits of the leading symbol.
		assert.Equal(t, p, int(symbolIndex[v[0]])>>4)
	}
	assert.Len(t, seen, 4)
}

func TestVerticalPosition_OutOfRangePanics(t *testing.T) {
	id := WordHash("x")
	assert.Panics(t, func() { id.VerticalPosition(7, 0) })
	assert.Panics(t, func() { id.VerticalPosition(2, 4) })
}

func bigOne() *big.Int { return big.NewInt(1) }
