// pkg/distribution/distribution.go
package distribution

import (
	"errors"
	"fmt"

	"github.com/dattu/dna_fountain/pkg/prng"
)

var (
	// ErrConfig marks degenerate distribution parameters.
	ErrConfig = errors.New("distribution: invalid configuration")
	// ErrZeroSum is returned by Normalize when the weights cannot be scaled.
	ErrZeroSum = fmt.Errorf("%w: weights sum to zero", ErrConfig)
)

// Distribution maps a packet seed to a degree.
//
// DegreeFor must be a pure function of the seed and the current
// configuration: the decoder re-derives every degree from the seed alone.
type Distribution interface {
	DegreeFor(seed uint64) int
	// Update recomputes the distribution for a new chunk count.
	Update(n int) error
	// Probabilities returns a copy of the mass vector, aligned with Degrees.
	Probabilities() []float64
	Degrees() []int
	Size() int
	String() string
}

// Normalize divides every weight by their sum.
func Normalize(weights []float64) ([]float64, error) {
	var sum float64
	for _, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("%w: negative weight %g", ErrConfig, w)
		}
		sum += w
	}
	if sum <= 0 {
		return nil, ErrZeroSum
	}
	out := make([]float64, len(weights))
	for i, w := range weights {
		out[i] = w / sum
	}
	return out, nil
}

// table is an immutable snapshot of one configuration. Distributions swap
// the whole table on Update so S and the vector never disagree.
type table struct {
	size    int
	degrees []int
	probs   []float64
	cdf     []float64
}

func newTable(size int, degrees []int, weights []float64) (*table, error) {
	if len(degrees) != len(weights) {
		return nil, fmt.Errorf("%w: %d degrees for %d weights", ErrConfig, len(degrees), len(weights))
	}
	probs, err := Normalize(weights)
	if err != nil {
		return nil, err
	}
	cdf := make([]float64, len(probs))
	var acc float64
	for i, p := range probs {
		acc += p
		cdf[i] = acc
	}
	return &table{size: size, degrees: degrees, probs: probs, cdf: cdf}, nil
}

func (t *table) degreeFor(seed uint64) int {
	r := prng.New(prng.SeedFrom(seed))
	return t.degrees[r.Choice(t.cdf)]
}

func (t *table) probabilities() []float64 { return append([]float64(nil), t.probs...) }
func (t *table) degreeList() []int        { return append([]int(nil), t.degrees...) }

func rangeDegrees(lo, hi int) []int {
	out := make([]int, 0, hi-lo+1)
	for d := lo; d <= hi; d++ {
		out = append(out, d)
	}
	return out
}

// Params carries the shape parameters understood by New.
type Params struct {
	Spike   int
	C       float64
	Delta   float64
	Epsilon float64
	Weights []float64
}

// New builds a distribution by its configuration name for k chunks.
// Zero shape parameters fall back to the package defaults.
func New(name string, k int, p Params) (Distribution, error) {
	if p.C == 0 {
		p.C = DefaultC
	}
	if p.Delta == 0 {
		p.Delta = DefaultDelta
	}
	if p.Epsilon == 0 {
		p.Epsilon = DefaultEpsilon
	}
	switch name {
	case "ideal", "ideal_soliton":
		return NewIdealSoliton(k)
	case "robust", "robust_soliton":
		return NewRobustSoliton(k, p.Spike, p.C, p.Delta)
	case "erlich_zielinski", "ez":
		return NewErlichZielinski(k, p.C, p.Delta)
	case "online":
		return NewOnline(p.Epsilon, k)
	case "raptor":
		return NewRaptor(k)
	case "adaptable":
		return NewAdaptable(k, p.Weights)
	default:
		return nil, fmt.Errorf("%w: unknown distribution %q", ErrConfig, name)
	}
}
