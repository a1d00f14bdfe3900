// pkg/ecc/crc.go
package ecc

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const crcSize = 4

// CRC32 appends the IEEE (zlib) checksum, little-endian.
type CRC32 struct{}

func (CRC32) Name() string { return "crc32" }

func (CRC32) Encode(record []byte) ([]byte, error) {
	out := make([]byte, len(record), len(record)+crcSize)
	copy(out, record)
	return binary.LittleEndian.AppendUint32(out, crc32.ChecksumIEEE(record)), nil
}

func (CRC32) Decode(protected []byte) ([]byte, error) {
	if len(protected) < crcSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than a checksum", ErrCorrupt, len(protected))
	}
	body := protected[:len(protected)-crcSize]
	want := binary.LittleEndian.Uint32(protected[len(protected)-crcSize:])
	if got := crc32.ChecksumIEEE(body); got != want {
		return nil, fmt.Errorf("%w: crc %08x, want %08x", ErrCorrupt, got, want)
	}
	return append([]byte(nil), body...), nil
}
