// pkg/packet/header.go
package packet

import (
	"bytes"
	"fmt"
)

// DefaultLengthWidth is the byte width of the last-chunk length field.
const DefaultLengthWidth = 4

// HeaderChunk is the metadata carried in chunk 0 when the encoder inserts
// a header: the unpadded length of the final chunk and the file name.
type HeaderChunk struct {
	LastChunkLength int
	FileName        string
}

// Encode renders the header into a chunk of exactly chunkSize bytes:
// length (little-endian, lengthWidth bytes) | file name | zero padding.
func (h HeaderChunk) Encode(chunkSize, lengthWidth int) ([]byte, error) {
	if !validWidth(lengthWidth) || lengthWidth == 0 {
		return nil, fmt.Errorf("%w: header length width %d", ErrConfig, lengthWidth)
	}
	if need := lengthWidth + len(h.FileName); need > chunkSize {
		return nil, fmt.Errorf("%w: header needs %d bytes, chunk holds %d", ErrOverflow, need, chunkSize)
	}
	buf, err := Layout{}.putField(make([]byte, 0, chunkSize), lengthWidth, uint64(h.LastChunkLength), "last chunk length")
	if err != nil {
		return nil, err
	}
	buf = append(buf, h.FileName...)
	return append(buf, make([]byte, chunkSize-len(buf))...), nil
}

// ParseHeaderChunk reads a header chunk. The file name ends at the first
// zero byte or at the end of the chunk.
func ParseHeaderChunk(chunk []byte, lengthWidth int) (HeaderChunk, error) {
	if !validWidth(lengthWidth) || lengthWidth == 0 {
		return HeaderChunk{}, fmt.Errorf("%w: header length width %d", ErrConfig, lengthWidth)
	}
	if len(chunk) < lengthWidth {
		return HeaderChunk{}, fmt.Errorf("%w: header chunk of %d bytes", ErrMalformed, len(chunk))
	}
	h := HeaderChunk{LastChunkLength: int(Layout{}.field(chunk, lengthWidth))}
	name := chunk[lengthWidth:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	h.FileName = string(name)
	return h, nil
}
