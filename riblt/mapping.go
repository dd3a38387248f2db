package riblt

import (
	"math"

	"github.com/zeebo/blake3"
)

// Symbol is the fixed-width set element riblt reconciles: a 16-byte OpRef
// in this module, though the package itself does not know that (spec.md
// §1 treats the codec as opaque to the tree-CRDT it sits above).
type Symbol [16]byte

// symbolSeed derives the 64-bit seed driving a symbol's index mapping,
// using the same domain-tagged-hash idiom as the bloom package's paired
// bit-position hashes (bloom/bloom4.go), adapted here to seed a PRNG
// instead of a bitset.
func symbolSeed(s Symbol) uint64 {
	h := blake3.New()
	_, _ = h.Write([]byte("treecrdt/riblt/mapping/v1"))
	_, _ = h.Write(s[:])
	sum := h.Sum(nil)
	var seed uint64
	for i := 0; i < 8; i++ {
		seed = seed<<8 | uint64(sum[i])
	}
	if seed == 0 {
		seed = 1
	}
	return seed
}

// checksum derives the integrity tag a coded cell carries for a symbol,
// used to distinguish a genuine singleton cell from a coincidental
// cancellation of several symbols' contributions.
func checksum(s Symbol) uint64 {
	h := blake3.New()
	_, _ = h.Write([]byte("treecrdt/riblt/checksum/v1"))
	_, _ = h.Write(s[:])
	sum := h.Sum(nil)
	var c uint64
	for i := 0; i < 8; i++ {
		c = c<<8 | uint64(sum[8+i])
	}
	return c
}

// mapping produces, for one symbol, the strictly increasing sequence of
// codeword indices it contributes to. Later indices are spaced
// geometrically further apart (via an xorshift64-derived uniform variate),
// so any prefix of codewords is dense in low indices and thins out as more
// codewords accumulate — this is what lets a decoder start trying to
// resolve the difference before the full "rateless" stream has arrived.
type mapping struct {
	prng    uint64
	lastIdx int64 // -1 before the first call to next()
}

func newMapping(seed uint64) *mapping {
	return &mapping{prng: seed, lastIdx: -1}
}

func (m *mapping) next() uint64 {
	// xorshift64
	x := m.prng
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	m.prng = x

	// Map the 64 random bits to a uniform variate in (0, 1].
	u := (float64(x>>11) + 1) / (float64(uint64(1)<<53) + 1)

	// A symbol's k-th index is its (k-1)-th plus a gap drawn so that the
	// expected density of symbols touching index i falls off like 1/i:
	// gap = ceil((lastIdx+1) * (1/sqrt(u) - 1)).
	base := float64(m.lastIdx + 1)
	gap := base * (1/math.Sqrt(u) - 1)
	next := m.lastIdx + 1 + int64(gap)
	if next <= m.lastIdx {
		next = m.lastIdx + 1
	}
	m.lastIdx = next
	return uint64(next)
}
