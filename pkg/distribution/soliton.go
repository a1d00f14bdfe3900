// pkg/distribution/soliton.go
package distribution

import (
	"fmt"
	"math"
)

const (
	// DefaultC and DefaultDelta are the Erlich-Zielinski tuning constants.
	DefaultC     = 0.025
	DefaultDelta = 0.001
)

// idealWeights returns the unnormalised ideal soliton mass for degrees 1..s-1.
func idealWeights(s int) []float64 {
	w := make([]float64, s-1)
	w[0] = 1 / float64(s)
	for d := 2; d < s; d++ {
		w[d-1] = 1 / float64(d*(d-1))
	}
	return w
}

func checkSize(s int) error {
	if s < 1 {
		return fmt.Errorf("%w: sample size %d < 1", ErrConfig, s)
	}
	return nil
}

// singleDegree is the distribution for one chunk: every packet has degree 1.
func singleDegree() *table {
	return &table{size: 1, degrees: []int{1}, probs: []float64{1}, cdf: []float64{1}}
}

/* ------------------------------------------------------------------------ */
/* ideal soliton                                                            */
/* ------------------------------------------------------------------------ */

type IdealSoliton struct {
	t *table
}

func NewIdealSoliton(s int) (*IdealSoliton, error) {
	d := &IdealSoliton{}
	if err := d.Update(s); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *IdealSoliton) Update(s int) error {
	if err := checkSize(s); err != nil {
		return err
	}
	if s == 1 {
		d.t = singleDegree()
		return nil
	}
	t, err := newTable(s, rangeDegrees(1, s-1), idealWeights(s))
	if err != nil {
		return err
	}
	d.t = t
	return nil
}

func (d *IdealSoliton) DegreeFor(seed uint64) int { return d.t.degreeFor(seed) }
func (d *IdealSoliton) Probabilities() []float64  { return d.t.probabilities() }
func (d *IdealSoliton) Degrees() []int            { return d.t.degreeList() }
func (d *IdealSoliton) Size() int                 { return d.t.size }
func (d *IdealSoliton) String() string            { return fmt.Sprintf("IdealSoliton_S=%d", d.t.size) }

/* ------------------------------------------------------------------------ */
/* robust soliton                                                           */
/* ------------------------------------------------------------------------ */

// RobustSoliton adds a spike at position Spike to the ideal soliton. When
// no spike is configured it is placed at S/R with R = c·ln(S/δ)·√S.
type RobustSoliton struct {
	t     *table
	spike int
	fixed bool
	c     float64
	delta float64
}

func NewRobustSoliton(s, spike int, c, delta float64) (*RobustSoliton, error) {
	if delta <= 0 || delta >= 1 {
		return nil, fmt.Errorf("%w: delta %g outside (0,1)", ErrConfig, delta)
	}
	if spike == 0 && c <= 0 {
		return nil, fmt.Errorf("%w: robust soliton needs a spike or c > 0", ErrConfig)
	}
	d := &RobustSoliton{spike: spike, fixed: spike > 0, c: c, delta: delta}
	if err := d.Update(s); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *RobustSoliton) Update(s int) error {
	if err := checkSize(s); err != nil {
		return err
	}
	if s == 1 {
		d.t, d.spike = singleDegree(), 1
		return nil
	}
	spike := d.spike
	if !d.fixed {
		r := d.c * math.Log(float64(s)/d.delta) * math.Sqrt(float64(s))
		spike = int(math.RoundToEven(float64(s) / r))
	}
	spike = max(1, min(spike, s-1))

	w := idealWeights(s)
	r := float64(s) / float64(spike)
	for deg := 1; deg < spike; deg++ {
		w[deg-1] += 1 / float64(deg*spike)
	}
	tail := math.Log(r/d.delta) / float64(spike)
	if tail < 0 {
		return fmt.Errorf("%w: negative spike mass (S=%d spike=%d delta=%g)", ErrConfig, s, spike, d.delta)
	}
	w[spike-1] += tail

	t, err := newTable(s, rangeDegrees(1, s-1), w)
	if err != nil {
		return err
	}
	d.t, d.spike = t, spike
	return nil
}

func (d *RobustSoliton) Spike() int                { return d.spike }
func (d *RobustSoliton) DegreeFor(seed uint64) int { return d.t.degreeFor(seed) }
func (d *RobustSoliton) Probabilities() []float64  { return d.t.probabilities() }
func (d *RobustSoliton) Degrees() []int            { return d.t.degreeList() }
func (d *RobustSoliton) Size() int                 { return d.t.size }
func (d *RobustSoliton) String() string {
	return fmt.Sprintf("RobustSoliton_S=%d_K=%d_delta=%g", d.t.size, d.spike, d.delta)
}

/* ------------------------------------------------------------------------ */
/* Erlich-Zielinski                                                         */
/* ------------------------------------------------------------------------ */

// ErlichZielinski is the robust soliton variant tuned for DNA Fountain:
// s = c·√K·ln²(K/δ) extra mass, spike at round(K/s).
type ErlichZielinski struct {
	t     *table
	limit int
	c     float64
	delta float64
}

func NewErlichZielinski(k int, c, delta float64) (*ErlichZielinski, error) {
	if c <= 0 || delta <= 0 {
		return nil, fmt.Errorf("%w: c=%g delta=%g must be positive", ErrConfig, c, delta)
	}
	d := &ErlichZielinski{c: c, delta: delta}
	if err := d.Update(k); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *ErlichZielinski) Update(k int) error {
	if err := checkSize(k); err != nil {
		return err
	}
	if k == 1 {
		d.t, d.limit = singleDegree(), 1
		return nil
	}
	kf := float64(k)
	ln := math.Log(kf / d.delta)
	s := d.c * math.Sqrt(kf) * ln * ln
	limit := int(math.RoundToEven(kf / s))
	limit = max(1, min(limit, k-1))

	w := idealWeights(k)
	for deg := 1; deg < limit; deg++ {
		w[deg-1] += s / (kf * float64(deg))
	}
	spike := s * math.Log(s/d.delta) / kf
	if spike < 0 {
		return fmt.Errorf("%w: negative spike mass (K=%d c=%g delta=%g)", ErrConfig, k, d.c, d.delta)
	}
	w[limit-1] += spike

	t, err := newTable(k, rangeDegrees(1, k-1), w)
	if err != nil {
		return err
	}
	d.t, d.limit = t, limit
	return nil
}

func (d *ErlichZielinski) DegreeFor(seed uint64) int { return d.t.degreeFor(seed) }
func (d *ErlichZielinski) Probabilities() []float64  { return d.t.probabilities() }
func (d *ErlichZielinski) Degrees() []int            { return d.t.degreeList() }
func (d *ErlichZielinski) Size() int                 { return d.t.size }
func (d *ErlichZielinski) String() string {
	return fmt.Sprintf("ErlichZielinski_k=%d_c=%g_delta=%g", d.t.size, d.c, d.delta)
}
