// pkg/scheme/lt.go
package scheme

import (
	"fmt"

	"github.com/dattu/dna_fountain/pkg/bitkernel"
	"github.com/dattu/dna_fountain/pkg/distribution"
	"github.com/dattu/dna_fountain/pkg/indexgen"
)

// LT draws a degree from the distribution and that many distinct source
// chunks, both from the packet seed. There are no auxiliary symbols.
type LT struct {
	k    int
	dist distribution.Distribution
}

// NewLT uses the Erlich-Zielinski distribution when dist is nil.
func NewLT(k int, dist distribution.Distribution) (*LT, error) {
	if dist == nil {
		d, err := distribution.NewErlichZielinski(k, distribution.DefaultC, distribution.DefaultDelta)
		if err != nil {
			return nil, fmt.Errorf("default LT distribution: %w", err)
		}
		dist = d
	}
	return &LT{k: k, dist: dist}, nil
}

func (s *LT) Name() string                            { return "lt" }
func (s *LT) Chunks() int                             { return s.k }
func (s *LT) Size() int                               { return s.k }
func (s *LT) Distribution() distribution.Distribution { return s.dist }

func (s *LT) Indices(seed uint64) ([]int, error) {
	return indexgen.Sequence(s.k, min(s.dist.DegreeFor(seed), s.k), seed)
}

func (s *LT) Intermediate(chunks [][]byte, _ bitkernel.Kernel) [][]byte {
	return append([][]byte(nil), chunks...)
}

func (s *LT) Expand(indices []int) []int {
	return append([]int(nil), indices...)
}
