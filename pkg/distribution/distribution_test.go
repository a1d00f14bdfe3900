package distribution

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var sizes = []int{5, 10, 50, 500}

func build(t *testing.T, name string, k int) Distribution {
	t.Helper()
	d, err := New(name, k, Params{Weights: []float64{0.1, 0.5, 0.2, 0.2}})
	require.NoError(t, err, "%s K=%d", name, k)
	return d
}

func TestProbabilitiesSumToOne(t *testing.T) {
	for _, name := range []string{"ideal", "robust", "erlich_zielinski", "online", "raptor", "adaptable"} {
		for _, k := range sizes {
			d := build(t, name, k)
			probs := d.Probabilities()
			require.Len(t, probs, len(d.Degrees()), "%s K=%d", name, k)
			var sum float64
			for _, p := range probs {
				require.GreaterOrEqual(t, p, 0.0, "%s K=%d", name, k)
				sum += p
			}
			assert.InDelta(t, 1.0, sum, 1e-9, "%s K=%d", name, k)
		}
	}
}

func TestDegreeForDeterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		name := rapid.SampledFrom([]string{"ideal", "robust", "erlich_zielinski", "online", "raptor"}).Draw(rt, "name")
		k := rapid.SampledFrom(sizes).Draw(rt, "k")
		seed := rapid.Uint64Range(0, math.MaxUint32).Draw(rt, "seed")

		a, err := New(name, k, Params{})
		if err != nil {
			rt.Fatalf("New: %v", err)
		}
		b, _ := New(name, k, Params{})
		d1, d2, d3 := a.DegreeFor(seed), a.DegreeFor(seed), b.DegreeFor(seed)
		if d1 != d2 || d1 != d3 {
			rt.Fatalf("seed %d gave %d, %d, %d", seed, d1, d2, d3)
		}
		degs := a.Degrees()
		if d1 < degs[0] || d1 > degs[len(degs)-1] {
			rt.Fatalf("degree %d outside [%d,%d]", d1, degs[0], degs[len(degs)-1])
		}
	})
}

func TestIdealSolitonShape(t *testing.T) {
	d, err := NewIdealSoliton(10)
	require.NoError(t, err)
	probs := d.Probabilities()
	require.Len(t, probs, 9)
	// degree 1 carries 1/S, degree d carries 1/(d(d-1)), before scaling
	assert.InDelta(t, 5.0, probs[1]/probs[0], 1e-9)
	assert.InDelta(t, 1.0/3, probs[2]/probs[1], 1e-9)
	assert.InDelta(t, 1.0/(9*8)/0.1, probs[8]/probs[0], 1e-9)
}

func TestRobustSpikePlacement(t *testing.T) {
	d, err := NewRobustSoliton(100, 20, 0, 0.05)
	require.NoError(t, err)
	probs := d.Probabilities()
	assert.Greater(t, probs[19], probs[18])
	assert.Greater(t, probs[19], probs[20])
	assert.Equal(t, 20, d.Spike())
}

func TestUpdateReplacesVector(t *testing.T) {
	d, err := NewErlichZielinski(10, DefaultC, DefaultDelta)
	require.NoError(t, err)
	require.NoError(t, d.Update(50))
	assert.Equal(t, 50, d.Size())
	assert.Len(t, d.Probabilities(), 49)

	// a failed update leaves the previous configuration in place
	require.Error(t, d.Update(0))
	assert.Equal(t, 50, d.Size())
	assert.Len(t, d.Probabilities(), 49)
}

func TestSingleChunkHasDegreeOne(t *testing.T) {
	ez, err := NewErlichZielinski(1, DefaultC, DefaultDelta)
	require.NoError(t, err)
	rs, err := NewRobustSoliton(1, 0, 0.1, 0.05)
	require.NoError(t, err)
	is, err := NewIdealSoliton(1)
	require.NoError(t, err)
	for _, d := range []Distribution{ez, rs, is} {
		assert.Equal(t, []int{1}, d.Degrees())
		assert.Equal(t, []float64{1}, d.Probabilities())
		for seed := uint64(0); seed < 20; seed++ {
			assert.Equal(t, 1, d.DegreeFor(seed))
		}
	}
}

func TestOnlineSize(t *testing.T) {
	d, err := NewOnline(0.1, 200)
	require.NoError(t, err)
	assert.Equal(t, 117, d.Size())
	assert.Equal(t, 117, len(d.Degrees()))
	require.NoError(t, d.Update(10))
	assert.Equal(t, 117, d.Size())
	assert.Equal(t, 10, d.Symbols())
}

func TestRaptorDeg(t *testing.T) {
	assert.Equal(t, 1, Deg(0))
	assert.Equal(t, 1, Deg(10240))
	assert.Equal(t, 2, Deg(10241))
	assert.Equal(t, 10, Deg(831695))
	assert.Equal(t, 40, Deg(1048575))
}

func TestNormalizeZeroSum(t *testing.T) {
	_, err := Normalize([]float64{0, 0})
	assert.True(t, errors.Is(err, ErrZeroSum))
	assert.True(t, errors.Is(err, ErrConfig))

	_, err = NewAdaptable(5, []float64{0, 0, 0})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestUnknownName(t *testing.T) {
	_, err := New("gaussian", 10, Params{})
	assert.ErrorIs(t, err, ErrConfig)
}
