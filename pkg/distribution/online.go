// pkg/distribution/online.go
package distribution

import (
	"fmt"
	"math"
)

// DefaultEpsilon is the online-code residual failure target.
const DefaultEpsilon = 0.068

// Online is the online-code degree distribution. Its size depends only on
// epsilon; Update records the symbol count the degrees are drawn against.
type Online struct {
	t       *table
	eps     float64
	symbols int
}

// OnlineSize returns S = ceil(ln(eps²/4) / ln(1-eps/2)).
func OnlineSize(eps float64) int {
	return int(math.Ceil(math.Log(eps*eps/4) / math.Log(1-eps/2)))
}

func NewOnline(eps float64, symbols int) (*Online, error) {
	if eps <= 0 || eps >= 1 {
		return nil, fmt.Errorf("%w: epsilon %g outside (0,1)", ErrConfig, eps)
	}
	d := &Online{eps: eps}
	if err := d.Update(symbols); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Online) Update(symbols int) error {
	if symbols < 1 {
		return fmt.Errorf("%w: online code over %d symbols", ErrConfig, symbols)
	}
	s := OnlineSize(d.eps)
	if s < 2 {
		return fmt.Errorf("%w: epsilon %g gives size %d", ErrConfig, d.eps, s)
	}
	p1 := 1 - (1+1/float64(s))/(1+d.eps)
	w := make([]float64, s)
	w[0] = p1
	for i := 2; i <= s; i++ {
		w[i-1] = (1 - p1) * float64(s) / (float64(s-1) * float64(i) * float64(i-1))
	}
	t, err := newTable(s, rangeDegrees(1, s), w)
	if err != nil {
		return err
	}
	d.t, d.symbols = t, symbols
	return nil
}

func (d *Online) Epsilon() float64 { return d.eps }

// Symbols is the count passed to the last Update.
func (d *Online) Symbols() int { return d.symbols }

func (d *Online) DegreeFor(seed uint64) int { return d.t.degreeFor(seed) }
func (d *Online) Probabilities() []float64  { return d.t.probabilities() }
func (d *Online) Degrees() []int            { return d.t.degreeList() }
func (d *Online) Size() int                 { return d.t.size }
func (d *Online) String() string            { return fmt.Sprintf("Online_eps=%g", d.eps) }
