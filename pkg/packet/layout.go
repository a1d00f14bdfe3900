// pkg/packet/layout.go
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	ErrMalformed = errors.New("packet: malformed record")
	ErrConfig    = errors.New("packet: invalid layout")
	ErrOverflow  = errors.New("packet: value does not fit its field")
)

// Layout describes the little-endian record header. Each field has an
// independent width in bytes; a zero width omits the field:
//
//	[chunks (ChunksWidth)] [degree (DegreeWidth)] [seed (SeedWidth)] payload
//
// ChunksWidth 0 means the chunk count is configured on both sides,
// DegreeWidth 0 is implicit mode (the degree is re-derived from the seed).
// LengthWidth sizes the record prefix used in concatenated containers.
type Layout struct {
	ChunksWidth int
	DegreeWidth int
	SeedWidth   int
	LengthWidth int
	Mask        bool
}

// DefaultLayout matches the stored-packet format: masked 4-byte chunk count
// and seed, implicit degree, 4-byte record lengths.
var DefaultLayout = Layout{ChunksWidth: 4, SeedWidth: 4, LengthWidth: 4, Mask: true}

// Header is the decoded record header.
type Header struct {
	Chunks int
	Degree int
	Seed   uint64
}

func validWidth(w int) bool {
	switch w {
	case 0, 1, 2, 4, 8:
		return true
	}
	return false
}

func (l Layout) Validate() error {
	for name, w := range map[string]int{
		"chunks": l.ChunksWidth, "degree": l.DegreeWidth, "seed": l.SeedWidth, "length": l.LengthWidth,
	} {
		if !validWidth(w) {
			return fmt.Errorf("%w: %s width %d", ErrConfig, name, w)
		}
	}
	if l.SeedWidth == 0 {
		return fmt.Errorf("%w: seed field is required", ErrConfig)
	}
	return nil
}

func (l Layout) HeaderSize() int {
	return l.ChunksWidth + l.DegreeWidth + l.SeedWidth
}

// MaxSeed is the largest seed the seed field can carry.
func (l Layout) MaxSeed() uint64 { return maxValue(l.SeedWidth) }

func maxValue(width int) uint64 {
	if width >= 8 {
		return math.MaxUint64
	}
	return 1<<(8*uint(width)) - 1
}

// fieldMask is the per-width XOR mask applied to header fields.
func fieldMask(width int) uint64 {
	switch width {
	case 2:
		return 0xF9C3
	case 4:
		return 0xF9C36F9C
	case 8:
		return 0xF9C36F9CF9C36F9C
	}
	return 0
}

func (l Layout) putField(buf []byte, width int, v uint64, name string) ([]byte, error) {
	if width == 0 {
		return buf, nil
	}
	if v > maxValue(width) {
		return nil, fmt.Errorf("%w: %s %d in %d bytes", ErrOverflow, name, v, width)
	}
	if l.Mask {
		v ^= fieldMask(width)
	}
	switch width {
	case 1:
		return append(buf, byte(v)), nil
	case 2:
		return binary.LittleEndian.AppendUint16(buf, uint16(v)), nil
	case 4:
		return binary.LittleEndian.AppendUint32(buf, uint32(v)), nil
	default:
		return binary.LittleEndian.AppendUint64(buf, v), nil
	}
}

func (l Layout) field(rec []byte, width int) uint64 {
	var v uint64
	switch width {
	case 0:
		return 0
	case 1:
		v = uint64(rec[0])
	case 2:
		v = uint64(binary.LittleEndian.Uint16(rec))
	case 4:
		v = uint64(binary.LittleEndian.Uint32(rec))
	default:
		v = binary.LittleEndian.Uint64(rec)
	}
	if l.Mask {
		v ^= fieldMask(width)
	}
	return v
}

// Marshal renders header and payload into an unprotected record.
func (l Layout) Marshal(h Header, payload []byte) ([]byte, error) {
	buf := make([]byte, 0, l.HeaderSize()+len(payload))
	var err error
	if buf, err = l.putField(buf, l.ChunksWidth, uint64(h.Chunks), "chunk count"); err != nil {
		return nil, err
	}
	if buf, err = l.putField(buf, l.DegreeWidth, uint64(h.Degree), "degree"); err != nil {
		return nil, err
	}
	if buf, err = l.putField(buf, l.SeedWidth, h.Seed, "seed"); err != nil {
		return nil, err
	}
	return append(buf, payload...), nil
}

// Parse splits an unprotected record into header and payload. The
// payload aliases rec.
func (l Layout) Parse(rec []byte) (Header, []byte, error) {
	if len(rec) <= l.HeaderSize() {
		return Header{}, nil, fmt.Errorf("%w: %d bytes for a %d byte header", ErrMalformed, len(rec), l.HeaderSize())
	}
	var h Header
	off := 0
	h.Chunks = int(l.field(rec[off:], l.ChunksWidth))
	off += l.ChunksWidth
	h.Degree = int(l.field(rec[off:], l.DegreeWidth))
	off += l.DegreeWidth
	h.Seed = l.field(rec[off:], l.SeedWidth)
	off += l.SeedWidth
	return h, rec[off:], nil
}

// Frame prefixes a protected record with its length.
func (l Layout) Frame(rec []byte) ([]byte, error) {
	if l.LengthWidth == 0 {
		return nil, fmt.Errorf("%w: framing needs a length width", ErrConfig)
	}
	buf, err := Layout{}.putField(make([]byte, 0, l.LengthWidth+len(rec)), l.LengthWidth, uint64(len(rec)), "record length")
	if err != nil {
		return nil, err
	}
	return append(buf, rec...), nil
}

// ReadFrame reads one length-prefixed record. It returns io.EOF at a clean
// end of stream and io.ErrUnexpectedEOF for a truncated record.
func (l Layout) ReadFrame(r io.Reader) ([]byte, error) {
	if l.LengthWidth == 0 {
		return nil, fmt.Errorf("%w: framing needs a length width", ErrConfig)
	}
	prefix := make([]byte, l.LengthWidth)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, err
	}
	n := Layout{}.field(prefix, l.LengthWidth)
	if n > math.MaxInt32 {
		return nil, fmt.Errorf("%w: record length %d", ErrMalformed, n)
	}
	rec := make([]byte, n)
	if _, err := io.ReadFull(r, rec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return rec, nil
}
