// pkg/indexgen/precode.go
package indexgen

import (
	"math"
	"math/bits"

	"github.com/dattu/dna_fountain/pkg/prng"
)

// LDPCCompositions lists, per LDPC symbol, the source chunks it XORs.
// Every source chunk joins exactly three LDPC symbols.
func LDPCCompositions(k, s int) [][]int {
	comp := make([][]int, s)
	for i := 0; i < k; i++ {
		a := 1 + (i/s)%(s-1)
		b := i % s
		comp[b] = append(comp[b], i)
		b = (b + a) % s
		comp[b] = append(comp[b], i)
		b = (b + a) % s
		comp[b] = append(comp[b], i)
	}
	return comp
}

// HalfCompositions lists, per half symbol, the intermediate symbols in
// [0, k+s) it XORs. Membership follows a Gray sequence with ceil(h/2)
// bits set.
func HalfCompositions(k, s, h int) [][]int {
	seq := GraySequence(k+s, (h+1)/2)
	comp := make([][]int, h)
	for j, g := range seq {
		for i := 0; i < h; i++ {
			if g>>uint(i)&1 == 1 {
				comp[i] = append(comp[i], j)
			}
		}
	}
	return comp
}

// GraySequence returns the first n Gray codes with exactly setBits ones.
func GraySequence(n, setBits int) []uint64 {
	out := make([]uint64, 0, n)
	for x := uint64(0); len(out) < n; x++ {
		g := x ^ (x >> 1)
		if bits.OnesCount64(g) == setBits {
			out = append(out, g)
		}
	}
	return out
}

// AuxCount is the number of online-code auxiliary blocks for k chunks.
func AuxCount(k, quality int, eps float64) int {
	return int(math.Ceil(0.55 * float64(quality) * eps * float64(k)))
}

// OnlineAuxCompositions assigns every source chunk to quality auxiliary
// blocks drawn from a generator seeded with k.
func OnlineAuxCompositions(k, quality int, eps float64) [][]int {
	n := AuxCount(k, quality, eps)
	comp := make([][]int, n)
	if n == 0 {
		return comp
	}
	r := prng.New(uint32(k))
	for i := 0; i < k; i++ {
		for q := 0; q < quality; q++ {
			a := r.Intn(n)
			if last := len(comp[a]) - 1; last >= 0 && comp[a][last] == i {
				continue
			}
			comp[a] = append(comp[a], i)
		}
	}
	return comp
}
