// pkg/distribution/raptor.go
package distribution

import (
	"fmt"

	"github.com/dattu/dna_fountain/pkg/prng"
)

// DegreeRange is the domain of the Raptor degree lookup, 2^20.
const DegreeRange = 1 << 20

var (
	raptorCumulative = [...]int{0, 10241, 491582, 712794, 831695, 948446, 1032189, 1048576}
	raptorDegrees    = [...]int{1, 2, 3, 4, 10, 11, 40}
)

// Deg maps v in [0, 2^20) to a degree via the fixed cumulative table.
func Deg(v int) int {
	for j := 1; j < len(raptorCumulative); j++ {
		if v < raptorCumulative[j] {
			return raptorDegrees[j-1]
		}
	}
	return raptorDegrees[len(raptorDegrees)-1]
}

// Raptor is the table-driven distribution shared with the triple generator.
// Its first draw from a seed equals the v of the non-systematic triple.
type Raptor struct {
	chunks int
	probs  []float64
}

func NewRaptor(chunks int) (*Raptor, error) {
	d := &Raptor{}
	for j := 1; j < len(raptorCumulative); j++ {
		d.probs = append(d.probs, float64(raptorCumulative[j]-raptorCumulative[j-1])/DegreeRange)
	}
	if err := d.Update(chunks); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Raptor) Update(chunks int) error {
	if chunks < 1 {
		return fmt.Errorf("%w: raptor over %d chunks", ErrConfig, chunks)
	}
	d.chunks = chunks
	return nil
}

func (d *Raptor) DegreeFor(seed uint64) int {
	r := prng.New(prng.SeedFrom(seed))
	return Deg(r.Int31() % DegreeRange)
}

func (d *Raptor) Probabilities() []float64 { return append([]float64(nil), d.probs...) }
func (d *Raptor) Degrees() []int           { return append([]int(nil), raptorDegrees[:]...) }
func (d *Raptor) Size() int                { return d.chunks }
func (d *Raptor) String() string           { return fmt.Sprintf("Raptor_K=%d", d.chunks) }
