// pkg/distribution/adaptable.go
package distribution

import "fmt"

// Adaptable uses caller-supplied weights for degrees 1..len(weights),
// truncated to the chunk count on Update.
type Adaptable struct {
	t       *table
	weights []float64
}

func NewAdaptable(k int, weights []float64) (*Adaptable, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: no weights", ErrConfig)
	}
	d := &Adaptable{weights: append([]float64(nil), weights...)}
	if err := d.Update(k); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Adaptable) Update(k int) error {
	if k < 1 {
		return fmt.Errorf("%w: %d chunks", ErrConfig, k)
	}
	n := min(k, len(d.weights))
	t, err := newTable(k, rangeDegrees(1, n), d.weights[:n])
	if err != nil {
		return err
	}
	d.t = t
	return nil
}

func (d *Adaptable) DegreeFor(seed uint64) int { return d.t.degreeFor(seed) }
func (d *Adaptable) Probabilities() []float64  { return d.t.probabilities() }
func (d *Adaptable) Degrees() []int            { return d.t.degreeList() }
func (d *Adaptable) Size() int                 { return d.t.size }
func (d *Adaptable) String() string            { return fmt.Sprintf("Adaptable_S=%d", d.t.size) }
