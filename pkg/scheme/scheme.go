// pkg/scheme/scheme.go
package scheme

import (
	"errors"
	"fmt"

	"github.com/dattu/dna_fountain/pkg/bitkernel"
	"github.com/dattu/dna_fountain/pkg/distribution"
	"github.com/dattu/dna_fountain/pkg/indexgen"
)

var ErrConfig = errors.New("scheme: invalid configuration")

// Scheme is the coding scheme shared by encoder and decoder: it maps a
// packet seed to intermediate symbols and intermediate symbols back to
// source chunks.
type Scheme interface {
	Name() string
	// Chunks is the number of source chunks K.
	Chunks() int
	// Size is the number of intermediate symbols (K plus auxiliary symbols).
	Size() int
	// Indices regenerates the intermediate symbols a packet XORs.
	Indices(seed uint64) ([]int, error)
	// Intermediate appends the auxiliary symbols to the source chunks.
	Intermediate(chunks [][]byte, k bitkernel.Kernel) [][]byte
	// Expand rewrites intermediate indices as source-chunk indices.
	Expand(indices []int) []int
}

// Config selects and parameterises a scheme.
type Config struct {
	Name         string
	Chunks       int
	Distribution distribution.Distribution
	Epsilon      float64
	Quality      int
	Systematic   bool
	Tables       *indexgen.Tables
}

// New builds the scheme named by cfg.Name.
func New(cfg Config) (Scheme, error) {
	if cfg.Chunks < 1 {
		return nil, fmt.Errorf("%w: %d chunks", ErrConfig, cfg.Chunks)
	}
	switch cfg.Name {
	case "", "lt":
		return NewLT(cfg.Chunks, cfg.Distribution)
	case "online":
		return NewOnline(cfg.Chunks, cfg.Epsilon, cfg.Quality, cfg.Distribution)
	case "raptor", "ru10":
		return NewRaptorTables(cfg.Chunks, cfg.Systematic, cfg.Tables)
	default:
		return nil, fmt.Errorf("%w: unknown scheme %q", ErrConfig, cfg.Name)
	}
}

// Spec names a scheme independently of the chunk count, so encoder and
// decoder can build the same Scheme once K is known.
type Spec struct {
	Name         string
	Distribution string
	Params       distribution.Params
	Epsilon      float64
	Quality      int
	Systematic   bool
	Tables       *indexgen.Tables
}

// Build instantiates the spec for k chunks. An empty Distribution keeps
// the scheme's default.
func (sp Spec) Build(k int) (Scheme, error) {
	cfg := Config{
		Name:       sp.Name,
		Chunks:     k,
		Epsilon:    sp.Epsilon,
		Quality:    sp.Quality,
		Systematic: sp.Systematic,
		Tables:     sp.Tables,
	}
	if sp.Distribution != "" {
		d, err := distribution.New(sp.Distribution, k, sp.Params)
		if err != nil {
			return nil, err
		}
		cfg.Distribution = d
	}
	return New(cfg)
}

// aux holds auxiliary symbols as XOR combinations of source chunks.
// Auxiliary symbol j has intermediate index k+j.
type aux struct {
	k   int
	exp [][]int
}

func (a aux) size() int { return a.k + len(a.exp) }

func (a aux) intermediate(chunks [][]byte, kern bitkernel.Kernel) [][]byte {
	out := make([][]byte, 0, a.size())
	out = append(out, chunks...)
	if len(chunks) == 0 {
		return out
	}
	size := len(chunks[0])
	for _, members := range a.exp {
		sym := make([]byte, size)
		for _, c := range members {
			kern.XOR(sym, chunks[c])
		}
		out = append(out, sym)
	}
	return out
}

// expand resolves indices to source chunks. Chunks referenced an even
// number of times cancel.
func (a aux) expand(indices []int) []int {
	odd := make([]bool, a.k)
	toggle := func(c int) { odd[c] = !odd[c] }
	for _, i := range indices {
		if i < a.k {
			toggle(i)
			continue
		}
		for _, c := range a.exp[i-a.k] {
			toggle(c)
		}
	}
	out := make([]int, 0, len(indices))
	for c, on := range odd {
		if on {
			out = append(out, c)
		}
	}
	return out
}

// symmetricUnion XORs a list of member sets into one sorted set.
func symmetricUnion(k int, sets ...[]int) []int {
	return aux{k: k}.expand(flatten(sets))
}

func flatten(sets [][]int) []int {
	var out []int
	for _, s := range sets {
		out = append(out, s...)
	}
	return out
}
