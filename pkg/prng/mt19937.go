// pkg/prng/mt19937.go
package prng

import "sort"

const (
	stateSize  = 624
	shiftSize  = 397
	matrixA    = 0x9908b0df
	upperMask  = 0x80000000
	lowerMask  = 0x7fffffff
	float53Div = 9007199254740992.0 // 2^53
)

// MT19937 is a 32-bit Mersenne Twister seeded with the reference
// init_genrand routine. A packet seed therefore maps to the same draw
// sequence that stored packets were originally generated with.
//
// An MT19937 is not safe for concurrent use; every encode/decode call
// builds its own instance from the packet seed.
type MT19937 struct {
	mt  [stateSize]uint32
	idx int
}

// New returns a generator seeded with seed.
func New(seed uint32) *MT19937 {
	r := &MT19937{}
	r.Seed(seed)
	return r
}

// SeedFrom folds a 64-bit packet seed into the 32-bit seed space.
// Seeds that fit in 32 bits are passed through unchanged.
func SeedFrom(seed uint64) uint32 {
	return uint32(seed) ^ uint32(seed>>32)
}

// Seed resets the generator state.
func (r *MT19937) Seed(seed uint32) {
	r.mt[0] = seed
	for i := 1; i < stateSize; i++ {
		prev := r.mt[i-1]
		r.mt[i] = 1812433253*(prev^(prev>>30)) + uint32(i)
	}
	r.idx = stateSize
}

func (r *MT19937) twist() {
	for i := 0; i < stateSize; i++ {
		y := (r.mt[i] & upperMask) | (r.mt[(i+1)%stateSize] & lowerMask)
		v := r.mt[(i+shiftSize)%stateSize] ^ (y >> 1)
		if y&1 != 0 {
			v ^= matrixA
		}
		r.mt[i] = v
	}
	r.idx = 0
}

// Uint32 returns the next tempered 32-bit output.
func (r *MT19937) Uint32() uint32 {
	if r.idx >= stateSize {
		r.twist()
	}
	y := r.mt[r.idx]
	r.idx++
	y ^= y >> 11
	y ^= (y << 7) & 0x9d2c5680
	y ^= (y << 15) & 0xefc60000
	y ^= y >> 18
	return y
}

// Uint64 combines two outputs, high word first.
func (r *MT19937) Uint64() uint64 {
	hi := uint64(r.Uint32())
	return hi<<32 | uint64(r.Uint32())
}

// Float64 returns a 53-bit float in [0, 1) built from two outputs.
func (r *MT19937) Float64() float64 {
	a := r.Uint32() >> 5
	b := r.Uint32() >> 6
	return (float64(a)*67108864.0 + float64(b)) / float53Div
}

// Intn returns a value in [0, n) using masked rejection sampling.
// Intn(1) consumes no output. It panics if n <= 0.
func (r *MT19937) Intn(n int) int {
	if n <= 0 {
		panic("prng: invalid argument to Intn")
	}
	max := uint64(n - 1)
	if max == 0 {
		return 0
	}
	mask := max
	mask |= mask >> 1
	mask |= mask >> 2
	mask |= mask >> 4
	mask |= mask >> 8
	mask |= mask >> 16
	mask |= mask >> 32
	if max <= 0xffffffff {
		for {
			if v := uint64(r.Uint32()) & mask; v <= max {
				return int(v)
			}
		}
	}
	for {
		if v := r.Uint64() & mask; v <= max {
			return int(v)
		}
	}
}

// Int31 returns a value in [0, 2^31-1).
func (r *MT19937) Int31() int {
	return r.Intn(1<<31 - 1)
}

// Choice draws one index from a cumulative distribution. cdf must be
// non-decreasing; it is scaled by its last entry, so it need not end at 1.
func (r *MT19937) Choice(cdf []float64) int {
	if len(cdf) == 0 {
		panic("prng: empty distribution")
	}
	u := r.Float64() * cdf[len(cdf)-1]
	i := sort.Search(len(cdf), func(i int) bool { return cdf[i] > u })
	if i >= len(cdf) {
		i = len(cdf) - 1
	}
	return i
}

// Shuffle permutes n elements with a Fisher-Yates walk from the back.
func (r *MT19937) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		swap(i, r.Intn(i+1))
	}
}
