// pkg/indexgen/raptor.go
package indexgen

import (
	"fmt"
	"math"
	"sort"

	"github.com/dattu/dna_fountain/pkg/distribution"
	"github.com/dattu/dna_fountain/pkg/prng"
)

const (
	primeSearchWindow = 1 << 16
	systematicModulus = 65521
	maxBinomialRow    = 62
)

// ErrNoPrime is returned when the bounded prime search is exhausted.
var ErrNoPrime = fmt.Errorf("%w: no prime in search window", ErrConfig)

// Params is the intermediate-symbol sizing for K source chunks.
type Params struct {
	K      int
	S      int // LDPC symbols
	H      int // half symbols
	L      int // K + S + H
	LPrime int // smallest prime >= L
}

// IntermediateSymbols sizes the precode for k source chunks.
func IntermediateSymbols(k int) (Params, error) {
	if k < 1 {
		return Params{}, fmt.Errorf("%w: %d source chunks", ErrConfig, k)
	}
	x := max(1, int(math.Floor(math.Sqrt(float64(2*k)))))
	for x*(x-1) < 2*k {
		x++
	}
	s, err := SmallestPrimeGreaterOrEqual(int(math.Ceil(0.01*float64(k))) + x)
	if err != nil {
		return Params{}, err
	}
	h := int(math.Floor(math.Log(float64(s+k)) / math.Log(4)))
	for {
		c, err := CenterBinomial(h)
		if err != nil {
			return Params{}, err
		}
		if c >= uint64(k+s) {
			break
		}
		h++
	}
	l := k + s + h
	lp, err := SmallestPrimeGreaterOrEqual(l)
	if err != nil {
		return Params{}, err
	}
	return Params{K: k, S: s, H: h, L: l, LPrime: lp}, nil
}

// SmallestPrimeGreaterOrEqual searches [n, n+window) for a prime.
func SmallestPrimeGreaterOrEqual(n int) (int, error) {
	if n <= 2 {
		return 2, nil
	}
	for c := n; c < n+primeSearchWindow; c++ {
		if isPrime(c) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: starting at %d", ErrNoPrime, n)
}

func isPrime(n int) bool {
	if n < 2 {
		return false
	}
	if n%2 == 0 {
		return n == 2
	}
	for d := 3; d*d <= n; d += 2 {
		if n%d == 0 {
			return false
		}
	}
	return true
}

// CenterBinomial returns C(h, ceil(h/2)).
func CenterBinomial(h int) (uint64, error) {
	if h < 0 || h > maxBinomialRow {
		return 0, fmt.Errorf("%w: binomial row %d", ErrConfig, h)
	}
	k := (h + 1) / 2
	var c uint64 = 1
	for i := 0; i < k; i++ {
		c = c * uint64(h-i) / uint64(i+1)
	}
	return c, nil
}

// Triple is the (degree, step, start) tuple an index set is walked from.
type Triple struct {
	D, A, B int
}

// RaptorTriple derives a non-systematic triple from a generator seeded
// with the packet seed.
func RaptorTriple(p Params, seed uint64) Triple {
	r := prng.New(prng.SeedFrom(seed))
	v := r.Int31() % distribution.DegreeRange
	a := 1 + r.Int31()%(p.LPrime-1)
	b := r.Int31() % p.LPrime
	return Triple{D: distribution.Deg(v), A: a, B: b}
}

// SystematicTriple derives the triple for systematic id x by linear
// congruence keyed off J(K) from t.
func SystematicTriple(t *Tables, p Params, x int) (Triple, error) {
	j, err := t.SystematicIndex(p.K)
	if err != nil {
		return Triple{}, err
	}
	a := (53591 + j*997) % systematicModulus
	b := 10267 * (j + 1) % systematicModulus
	y := (b + x*a) % systematicModulus
	v := t.Rand(y, 0, distribution.DegreeRange)
	return Triple{
		D: distribution.Deg(v),
		A: 1 + t.Rand(y, 1, p.LPrime-1),
		B: t.Rand(y, 2, p.LPrime),
	}, nil
}

// Indices walks b = (b + a) mod L' from the triple, skipping padding
// symbols >= L, and returns the distinct symbols in ascending order.
func Indices(p Params, t Triple) ([]int, error) {
	if t.A < 1 || t.A >= p.LPrime || t.B < 0 || t.B >= p.LPrime {
		return nil, fmt.Errorf("%w: triple %+v for L'=%d", ErrConfig, t, p.LPrime)
	}
	d := min(t.D, p.L)
	b := t.B
	for b >= p.L {
		b = (b + t.A) % p.LPrime
	}
	out := make([]int, 0, d)
	out = append(out, b)
	for len(out) < d {
		b = (b + t.A) % p.LPrime
		for b >= p.L {
			b = (b + t.A) % p.LPrime
		}
		out = append(out, b)
	}
	sort.Ints(out)
	return out, nil
}
