// pkg/scheme/raptor.go
package scheme

import (
	"github.com/dattu/dna_fountain/pkg/bitkernel"
	"github.com/dattu/dna_fountain/pkg/indexgen"
)

// Raptor precodes K chunks with S LDPC and H half symbols and draws
// packets over the L intermediate symbols with the triple generator.
// In systematic mode ids below K use the systematic triple and id 0 is
// reserved for chunk 0, the header chunk.
type Raptor struct {
	aux
	p          indexgen.Params
	systematic bool
	tables     *indexgen.Tables
}

// NewRaptor uses the builtin tables.
func NewRaptor(k int, systematic bool) (*Raptor, error) {
	return NewRaptorTables(k, systematic, nil)
}

// NewRaptorTables draws systematic triples from t, or from the builtin
// tables when t is nil. Systematic mode needs J(K) for k.
func NewRaptorTables(k int, systematic bool, t *indexgen.Tables) (*Raptor, error) {
	p, err := indexgen.IntermediateSymbols(k)
	if err != nil {
		return nil, err
	}
	if t == nil {
		t = indexgen.Builtin()
	}
	if systematic {
		if _, err := t.SystematicIndex(k); err != nil {
			return nil, err
		}
	}
	ldpc := indexgen.LDPCCompositions(k, p.S)
	exp := make([][]int, 0, p.S+p.H)
	exp = append(exp, ldpc...)
	for _, members := range indexgen.HalfCompositions(k, p.S, p.H) {
		sets := make([][]int, len(members))
		for i, j := range members {
			if j < k {
				sets[i] = []int{j}
			} else {
				sets[i] = ldpc[j-k]
			}
		}
		exp = append(exp, symmetricUnion(k, sets...))
	}
	return &Raptor{aux: aux{k: k, exp: exp}, p: p, systematic: systematic, tables: t}, nil
}

func (s *Raptor) Name() string            { return "raptor" }
func (s *Raptor) Chunks() int             { return s.k }
func (s *Raptor) Size() int               { return s.p.L }
func (s *Raptor) Params() indexgen.Params { return s.p }
func (s *Raptor) Systematic() bool        { return s.systematic }

func (s *Raptor) Indices(seed uint64) ([]int, error) {
	if s.systematic && seed < uint64(s.k) {
		if seed == 0 {
			return []int{0}, nil
		}
		tr, err := indexgen.SystematicTriple(s.tables, s.p, int(seed))
		if err != nil {
			return nil, err
		}
		return indexgen.Indices(s.p, tr)
	}
	return indexgen.Indices(s.p, indexgen.RaptorTriple(s.p, seed))
}

func (s *Raptor) Intermediate(chunks [][]byte, k bitkernel.Kernel) [][]byte {
	return s.intermediate(chunks, k)
}

func (s *Raptor) Expand(indices []int) []int { return s.expand(indices) }
