// Package domain holds the pure types shared by every layer: identifiers and
// the DHT distance metric, peer records, news records and sentinel errors.
package domain

import (
	"fmt"
	"math/big"
	"strings"

	"lukechampine.com/blake3"
)

// ─── Identifiers ────────────────────────────────────────────────────────────

// IDLength is the fixed length of every peer and content identifier.
const IDLength = 12

// symbolBits is the number of bits carried by one identifier symbol.
const symbolBits = 6

// Alphabet lists the 64 identifier symbols in ascending order. The symbols
// are arranged in byte order so that plain string comparison of two
// identifiers agrees with the comparison of their cardinals.
const Alphabet = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

// ID is a fixed-length opaque identifier for a peer or for a piece of
// content (a word hash).
type ID string

var (
	symbolIndex [256]int8
	maxCardinal = new(big.Int).Lsh(big.NewInt(1), symbolBits*IDLength)
	maxFloat    = new(big.Float).SetInt(maxCardinal)
)

func init() {
	for i := range symbolIndex {
		symbolIndex[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		symbolIndex[Alphabet[i]] = int8(i)
	}
}

// ParseID validates s and returns it as an ID.
func ParseID(s string) (ID, error) {
	id := ID(s)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// Validate reports whether the identifier has the network-wide length and
// only contains alphabet symbols.
func (id ID) Validate() error {
	if len(id) != IDLength {
		return fmt.Errorf("%w: length %d, want %d", ErrInvalidID, len(id), IDLength)
	}
	for i := 0; i < len(id); i++ {
		if symbolIndex[id[i]] < 0 {
			return fmt.Errorf("%w: symbol %q at %d", ErrInvalidID, id[i], i)
		}
	}
	return nil
}

// Valid is Validate as a predicate.
func (id ID) Valid() bool { return id.Validate() == nil }

// Short returns a prefix suitable for logs.
func (id ID) Short() string {
	if len(id) > 6 {
		return string(id[:6])
	}
	return string(id)
}

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// MustValid panics when id is malformed. Used where an invalid identifier can
// only be the result of a programming error.
func (id ID) MustValid() ID {
	if err := id.Validate(); err != nil {
		panic(err)
	}
	return id
}

// Cardinal decodes the identifier as a big-endian base-64 number. The mapping
// is injective over valid identifiers and preserves their order.
func (id ID) Cardinal() *big.Int {
	id.MustValid()
	c := new(big.Int)
	for i := 0; i < len(id); i++ {
		c.Lsh(c, symbolBits)
		c.Or(c, big.NewInt(int64(symbolIndex[id[i]])))
	}
	return c
}

// MaxCardinal returns 64^IDLength, the exclusive upper bound of Cardinal.
func MaxCardinal() *big.Int {
	return new(big.Int).Set(maxCardinal)
}

// FromCardinal renders c modulo MaxCardinal back into an identifier.
func FromCardinal(c *big.Int) ID {
	v := new(big.Int).Mod(c, maxCardinal)
	mask := big.NewInt(int64(len(Alphabet) - 1))
	buf := make([]byte, IDLength)
	for i := IDLength - 1; i >= 0; i-- {
		buf[i] = Alphabet[new(big.Int).And(v, mask).Int64()]
		v.Rsh(v, symbolBits)
	}
	return ID(buf)
}

// Distance returns the directional DHT distance from a to b in (0,1].
//
// Let d = (cardinal(a) - cardinal(b)) / MaxCardinal. The result is d when
// d > 0 and 1 + d otherwise, so Distance(a, a) == 1 and
// Distance(a, b) + Distance(b, a) == 1 for a != b. A peer p is responsible
// for content w when Distance(p, w) is small.
func Distance(a, b ID) float64 {
	if len(a) != len(b) {
		panic(fmt.Errorf("%w: %d vs %d", ErrIDLengthMismatch, len(a), len(b)))
	}
	diff := new(big.Int).Sub(a.Cardinal(), b.Cardinal())
	if diff.Sign() <= 0 {
		diff.Add(diff, maxCardinal)
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(diff), maxFloat).Float64()
	return f
}

// EncodeID renders the leading IDLength*6 bits of b as an identifier.
// b must carry at least 9 bytes.
func EncodeID(b []byte) ID {
	need := (IDLength*symbolBits + 7) / 8
	if len(b) < need {
		panic(fmt.Sprintf("domain: EncodeID needs %d bytes, got %d", need, len(b)))
	}
	c := new(big.Int).SetBytes(b[:need])
	c.Rsh(c, uint(need*8-IDLength*symbolBits))
	return FromCardinal(c)
}

// WordHash maps a word to its content identifier. Words are case-folded so
// that query terms and peer tags agree.
func WordHash(word string) ID {
	sum := blake3.Sum256([]byte(strings.ToLower(strings.TrimSpace(word))))
	return EncodeID(sum[:])
}

// WordHashes hashes every word of a query.
func WordHashes(words []string) []ID {
	out := make([]ID, 0, len(words))
	for _, w := range words {
		out = append(out, WordHash(w))
	}
	return out
}

// ─── Vertical Partitions ────────────────────────────────────────────────────

// MaxPartitionExponent bounds the vertical partitioning of the identifier
// space to the bits carried by the leading symbol.
const MaxPartitionExponent = symbolBits

// VerticalPosition returns the start position of one vertical shard of id.
// The leading exponent bits of the identifier are replaced by partition, the
// remaining bits are kept, so every word maps to 2^exponent positions spread
// evenly over the ring.
func (id ID) VerticalPosition(exponent, partition int) ID {
	id.MustValid()
	if exponent < 0 || exponent > MaxPartitionExponent {
		panic(fmt.Sprintf("domain: partition exponent %d out of range", exponent))
	}
	if exponent == 0 {
		return id
	}
	if partition < 0 || partition >= 1<<exponent {
		panic(fmt.Sprintf("domain: partition %d out of range for exponent %d", partition, exponent))
	}
	low := int(symbolIndex[id[0]]) & (1<<(symbolBits-exponent) - 1)
	lead := partition<<(symbolBits-exponent) | low
	return ID(string(Alphabet[lead]) + string(id[1:]))
}

// Partitions returns the number of vertical shards for exponent.
func Partitions(exponent int) int { return 1 << exponent }
