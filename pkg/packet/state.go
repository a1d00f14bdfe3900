// pkg/packet/state.go
package packet

import (
	"fmt"
	"sort"

	"github.com/dattu/dna_fountain/pkg/bitkernel"
	"github.com/dattu/dna_fountain/pkg/ecc"
)

// Decoder-side packets move through three types:
//
//	Fresh     raw record, protection not yet checked
//	Verified  codec checked and header parsed, indices unknown
//	Reducible chunk indices bound, payload may be XOR-reduced
//
// A Reducible can only be obtained from a Verified record or from an
// in-memory Packet, so checksums are always checked before reduction.

// Fresh is a received record.
type Fresh struct {
	raw []byte
}

// Receive copies raw so the transport's buffer is never mutated.
func Receive(raw []byte) Fresh {
	return Fresh{raw: append([]byte(nil), raw...)}
}

// Verify strips and checks the codec, then parses the header.
func (f Fresh) Verify(c ecc.Codec, l Layout) (*Verified, error) {
	rec, err := c.Decode(f.raw)
	if err != nil {
		return nil, err
	}
	h, payload, err := l.Parse(rec)
	if err != nil {
		return nil, err
	}
	return &Verified{Header: h, payload: payload}, nil
}

// Verified is a record whose protection checked out.
type Verified struct {
	Header  Header
	payload []byte
}

func (v *Verified) PayloadLen() int { return len(v.payload) }

// Reduce binds the chunk indices regenerated from the header.
func (v *Verified) Reduce(indices []int) *Reducible {
	return newReducible(v.Header.Seed, indices, v.payload, 0)
}

// FromPacket copies an in-memory packet into a decoder-owned Reducible
// over the given chunk indices.
func FromPacket(p *Packet, indices []int) *Reducible {
	return newReducible(p.seed, indices, p.data, p.errorProb)
}

// Reducible is a decoder-owned packet. Its indices are sorted and unique.
type Reducible struct {
	seed      uint64
	indices   []int
	data      []byte
	errorProb float64
	dirty     bool
}

func newReducible(seed uint64, indices []int, data []byte, errorProb float64) *Reducible {
	idx := append([]int(nil), indices...)
	sort.Ints(idx)
	uniq := idx[:0]
	for i, v := range idx {
		if i == 0 || v != idx[i-1] {
			uniq = append(uniq, v)
		}
	}
	return &Reducible{
		seed:      seed,
		indices:   uniq,
		data:      append([]byte(nil), data...),
		errorProb: errorProb,
	}
}

func (r *Reducible) Seed() uint64       { return r.seed }
func (r *Reducible) Degree() int        { return len(r.indices) }
func (r *Reducible) Indices() []int     { return append([]int(nil), r.indices...) }
func (r *Reducible) Data() []byte       { return append([]byte(nil), r.data...) }
func (r *Reducible) ErrorProb() float64 { return r.errorProb }

// Dirty reports whether the payload was reduced since it was verified.
func (r *Reducible) Dirty() bool { return r.dirty }

// Solved returns the remaining index when exactly one is left.
func (r *Reducible) Solved() (int, bool) {
	if len(r.indices) != 1 {
		return 0, false
	}
	return r.indices[0], true
}

func (r *Reducible) position(i int) (int, bool) {
	pos := sort.SearchInts(r.indices, i)
	return pos, pos < len(r.indices) && r.indices[pos] == i
}

func (r *Reducible) Has(i int) bool {
	_, ok := r.position(i)
	return ok
}

// RemovePackets drops the given indices from the index set without
// touching the payload. The packet is marked dirty when an index goes.
func (r *Reducible) RemovePackets(drop []int) {
	if len(drop) == 0 {
		return
	}
	gone := make(map[int]struct{}, len(drop))
	for _, d := range drop {
		gone[d] = struct{}{}
	}
	kept := r.indices[:0]
	for _, i := range r.indices {
		if _, ok := gone[i]; !ok {
			kept = append(kept, i)
		}
	}
	if len(kept) != len(r.indices) {
		r.dirty = true
	}
	r.indices = kept
}

// XorAndRemovePacket cancels chunk i out of the payload and removes it
// from the index set. It is a no-op returning false when i is absent,
// so a second call with the same chunk never re-XORs.
func (r *Reducible) XorAndRemovePacket(i int, chunk []byte, k bitkernel.Kernel) bool {
	pos, ok := r.position(i)
	if !ok {
		return false
	}
	k.XOR(r.data, chunk)
	r.indices = append(r.indices[:pos], r.indices[pos+1:]...)
	r.dirty = true
	return true
}

// Clone returns an independent copy.
func (r *Reducible) Clone() *Reducible {
	c := *r
	c.indices = append([]int(nil), r.indices...)
	c.data = append([]byte(nil), r.data...)
	return &c
}

func (r *Reducible) String() string {
	return fmt.Sprintf("reducible(seed=%d degree=%d dirty=%t)", r.seed, len(r.indices), r.dirty)
}
