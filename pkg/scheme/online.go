// pkg/scheme/online.go
package scheme

import (
	"fmt"
	"math"

	"github.com/dattu/dna_fountain/pkg/bitkernel"
	"github.com/dattu/dna_fountain/pkg/distribution"
	"github.com/dattu/dna_fountain/pkg/indexgen"
)

// DefaultQuality is the number of auxiliary blocks each chunk joins.
const DefaultQuality = 3

// Online is the online code: an outer code of auxiliary blocks followed
// by LT-style packets over chunks and auxiliary blocks.
type Online struct {
	aux
	eps     float64
	quality int
	dist    distribution.Distribution
}

// NewOnline builds the outer code for k chunks. Zero eps or quality take
// the defaults; a nil dist becomes the online distribution for eps.
func NewOnline(k int, eps float64, quality int, dist distribution.Distribution) (*Online, error) {
	if eps == 0 {
		eps = distribution.DefaultEpsilon
	}
	if quality == 0 {
		quality = DefaultQuality
	}
	if eps < 0 || eps >= 1 || quality < 0 {
		return nil, fmt.Errorf("%w: online eps=%g quality=%d", ErrConfig, eps, quality)
	}
	s := &Online{
		aux:     aux{k: k, exp: indexgen.OnlineAuxCompositions(k, quality, eps)},
		eps:     eps,
		quality: quality,
		dist:    dist,
	}
	if s.dist == nil {
		d, err := distribution.NewOnline(eps, s.size())
		if err != nil {
			return nil, err
		}
		s.dist = d
	}
	return s, nil
}

func (s *Online) Name() string { return "online" }
func (s *Online) Chunks() int  { return s.k }
func (s *Online) Size() int    { return s.size() }

// AuxBlocks is the number of auxiliary blocks.
func (s *Online) AuxBlocks() int { return len(s.exp) }

// Needed estimates the packets required: (1+eps)·(K + aux).
func (s *Online) Needed() int {
	return int(math.Ceil(float64(s.size()) * (1 + s.eps)))
}

func (s *Online) Indices(seed uint64) ([]int, error) {
	n := s.size()
	return indexgen.Sequence(n, min(s.dist.DegreeFor(seed), n), seed)
}

func (s *Online) Intermediate(chunks [][]byte, k bitkernel.Kernel) [][]byte {
	return s.intermediate(chunks, k)
}

func (s *Online) Expand(indices []int) []int { return s.expand(indices) }
