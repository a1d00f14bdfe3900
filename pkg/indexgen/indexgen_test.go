package indexgen

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestIntermediateSymbols(t *testing.T) {
	p, err := IntermediateSymbols(10)
	require.NoError(t, err)
	assert.Equal(t, Params{K: 10, S: 7, H: 6, L: 23, LPrime: 23}, p)

	p, err = IntermediateSymbols(1)
	require.NoError(t, err)
	assert.Equal(t, Params{K: 1, S: 3, H: 4, L: 8, LPrime: 11}, p)

	_, err = IntermediateSymbols(0)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestSmallestPrime(t *testing.T) {
	for n, want := range map[int]int{0: 2, 2: 2, 3: 3, 24: 29, 97: 97, 1000: 1009} {
		got, err := SmallestPrimeGreaterOrEqual(n)
		require.NoError(t, err)
		assert.Equal(t, want, got, "n=%d", n)
	}
}

func TestCenterBinomial(t *testing.T) {
	for h, want := range map[int]uint64{0: 1, 1: 1, 4: 6, 5: 10, 6: 20, 20: 184756} {
		got, err := CenterBinomial(h)
		require.NoError(t, err)
		assert.Equal(t, want, got, "h=%d", h)
	}
	_, err := CenterBinomial(100)
	assert.ErrorIs(t, err, ErrConfig)
}

func checkAscending(t *rapid.T, idx []int, l, want int) {
	if len(idx) != want {
		t.Fatalf("got %d indices, want %d", len(idx), want)
	}
	for i, v := range idx {
		if v < 0 || v >= l {
			t.Fatalf("index %d outside [0,%d)", v, l)
		}
		if i > 0 && idx[i-1] >= v {
			t.Fatalf("not strictly ascending: %v", idx)
		}
	}
}

func TestRaptorIndicesProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		k := rapid.IntRange(1, 2000).Draw(rt, "k")
		seed := rapid.Uint32().Draw(rt, "seed")
		p, err := IntermediateSymbols(k)
		if err != nil {
			rt.Fatalf("IntermediateSymbols: %v", err)
		}
		tr := RaptorTriple(p, uint64(seed))
		idx, err := Indices(p, tr)
		if err != nil {
			rt.Fatalf("Indices: %v", err)
		}
		checkAscending(rt, idx, p.L, min(tr.D, p.L))

		if k < MinSystematicK {
			return
		}
		x := rapid.IntRange(0, k).Draw(rt, "x")
		st, err := SystematicTriple(Builtin(), p, x)
		if err != nil {
			rt.Fatalf("SystematicTriple: %v", err)
		}
		idx, err = Indices(p, st)
		if err != nil {
			rt.Fatalf("Indices(systematic): %v", err)
		}
		checkAscending(rt, idx, p.L, min(st.D, p.L))
	})
}

func TestIndicesClampsDegree(t *testing.T) {
	p, err := IntermediateSymbols(1)
	require.NoError(t, err)
	idx, err := Indices(p, Triple{D: 40, A: 3, B: 10})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, idx)
}

func TestIndicesRejectsBadTriple(t *testing.T) {
	p, _ := IntermediateSymbols(10)
	_, err := Indices(p, Triple{D: 2, A: 0, B: 1})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestRaptorTripleDeterministic(t *testing.T) {
	p, _ := IntermediateSymbols(100)
	assert.Equal(t, RaptorTriple(p, 77), RaptorTriple(p, 77))
	a, err := SystematicTriple(Builtin(), p, 5)
	require.NoError(t, err)
	b, _ := SystematicTriple(Builtin(), p, 5)
	assert.Equal(t, a, b)
}

func TestSystematicIndexRange(t *testing.T) {
	for _, k := range []int{MinSystematicK - 1, MaxSystematicK + 1} {
		_, err := Builtin().SystematicIndex(k)
		assert.ErrorIs(t, err, ErrConfig, "K=%d", k)
	}
	j, err := Builtin().SystematicIndex(MaxSystematicK)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, j, 18)

	p, _ := IntermediateSymbols(2)
	_, err = SystematicTriple(Builtin(), p, 1)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestLoadTables(t *testing.T) {
	var b strings.Builder
	b.WriteString("# custom tables\nV0\n")
	for i := 0; i < 256; i++ {
		fmt.Fprintf(&b, "%d,", i)
	}
	b.WriteString("\nV1:\n")
	for i := 0; i < 256; i++ {
		fmt.Fprintf(&b, "%d ", 1000+i)
	}
	b.WriteString("\nJ\n18 14 61\n")

	tab, err := LoadTables(strings.NewReader(b.String()))
	require.NoError(t, err)
	assert.Equal(t, uint32(255), tab.V0[255])
	assert.Equal(t, uint32(1000), tab.V1[0])
	j, err := tab.SystematicIndex(5)
	require.NoError(t, err)
	assert.Equal(t, 14, j)
	_, err = tab.SystematicIndex(7)
	assert.ErrorIs(t, err, ErrConfig)
	assert.Equal(t, int((3^1000)%7), tab.Rand(3, 0, 7))

	for _, bad := range []string{
		"1 2 3\n",
		"V0\n1 2\nV1\n1\nJ\n18\n",
		"V0\nx\n",
	} {
		_, err := LoadTables(strings.NewReader(bad))
		assert.ErrorIs(t, err, ErrConfig, "%q", bad)
	}
}

func TestSequence(t *testing.T) {
	a, err := Sequence(50, 7, 1234)
	require.NoError(t, err)
	b, _ := Sequence(50, 7, 1234)
	assert.Equal(t, a, b)
	assert.Len(t, a, 7)
	assert.True(t, sort.IntsAreSorted(a))

	full, err := Sequence(5, 5, 9)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, full)

	_, err = Sequence(5, 6, 9)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestGraySequence(t *testing.T) {
	assert.Equal(t, []uint64{1, 2, 4, 8, 16}, GraySequence(5, 1))
	for _, g := range GraySequence(20, 3) {
		n := 0
		for x := g; x != 0; x &= x - 1 {
			n++
		}
		assert.Equal(t, 3, n)
	}
}

func TestLDPCCompositions(t *testing.T) {
	p, _ := IntermediateSymbols(40)
	count := make(map[int]int)
	for _, comp := range LDPCCompositions(p.K, p.S) {
		assert.True(t, sort.IntsAreSorted(comp))
		for _, i := range comp {
			count[i]++
		}
	}
	require.Len(t, count, p.K)
	for i, c := range count {
		assert.Equal(t, 3, c, "chunk %d", i)
	}
}

func TestHalfCompositions(t *testing.T) {
	p, _ := IntermediateSymbols(40)
	comps := HalfCompositions(p.K, p.S, p.H)
	require.Len(t, comps, p.H)
	count := make(map[int]int)
	for _, comp := range comps {
		for _, j := range comp {
			require.Less(t, j, p.K+p.S)
			count[j]++
		}
	}
	require.Len(t, count, p.K+p.S)
	for j, c := range count {
		assert.Equal(t, (p.H+1)/2, c, "symbol %d", j)
	}
}

func TestOnlineAuxCompositions(t *testing.T) {
	comps := OnlineAuxCompositions(100, 3, 0.068)
	require.Len(t, comps, AuxCount(100, 3, 0.068))
	seen := make(map[int]bool)
	for _, comp := range comps {
		assert.True(t, sort.IntsAreSorted(comp))
		for i := 1; i < len(comp); i++ {
			assert.NotEqual(t, comp[i-1], comp[i])
		}
		for _, c := range comp {
			seen[c] = true
		}
	}
	assert.Len(t, seen, 100)
	assert.Equal(t, comps, OnlineAuxCompositions(100, 3, 0.068))
}
