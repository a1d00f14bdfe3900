// pkg/packet/packet.go
package packet

import (
	"fmt"
	"sort"
)

// Packet is an encoder-side coded symbol. It is immutable once built:
// accessors hand out copies.
type Packet struct {
	seed      uint64
	indices   []int
	data      []byte
	chunks    int
	errorProb float64
}

// New copies indices (sorted) and data into a Packet over chunks
// source chunks.
func New(seed uint64, indices []int, data []byte, chunks int) *Packet {
	idx := append([]int(nil), indices...)
	sort.Ints(idx)
	return &Packet{
		seed:    seed,
		indices: idx,
		data:    append([]byte(nil), data...),
		chunks:  chunks,
	}
}

func (p *Packet) Seed() uint64        { return p.seed }
func (p *Packet) Degree() int         { return len(p.indices) }
func (p *Packet) NumberOfChunks() int { return p.chunks }
func (p *Packet) ErrorProb() float64  { return p.errorProb }
func (p *Packet) Indices() []int      { return append([]int(nil), p.indices...) }
func (p *Packet) Data() []byte        { return append([]byte(nil), p.data...) }
func (p *Packet) Len() int            { return len(p.data) }

// WithErrorProb returns a copy carrying a rule-engine score.
func (p *Packet) WithErrorProb(prob float64) *Packet {
	c := *p
	c.errorProb = prob
	return &c
}

func (p *Packet) String() string {
	return fmt.Sprintf("packet(seed=%d degree=%d len=%d)", p.seed, len(p.indices), len(p.data))
}
