// pkg/ecc/reedsolomon.go
package ecc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// ReedSolomon shards a record into data+parity shards and concatenates
// them. The true record length travels as a uvarint inside the data shards.
type ReedSolomon struct {
	enc    reedsolomon.Encoder
	data   int
	parity int
}

// NewReedSolomon creates a codec with data data shards and parity parity
// shards. With two or more parity shards a single corrupted shard is
// located and repaired on Decode.
func NewReedSolomon(data, parity int) (*ReedSolomon, error) {
	if data <= 0 || parity <= 0 {
		return nil, fmt.Errorf("%w: invalid shard parameters: data=%d, parity=%d", ErrConfig, data, parity)
	}
	enc, err := reedsolomon.New(data, parity)
	if err != nil {
		return nil, fmt.Errorf("failed to create RS encoder: %w", err)
	}
	return &ReedSolomon{enc: enc, data: data, parity: parity}, nil
}

func (e *ReedSolomon) Name() string {
	return fmt.Sprintf("reedsolomon(%d,%d)", e.data, e.parity)
}

func (e *ReedSolomon) Encode(record []byte) ([]byte, error) {
	buf := binary.AppendUvarint(make([]byte, 0, len(record)+binary.MaxVarintLen64), uint64(len(record)))
	buf = append(buf, record...)
	shards, err := e.enc.Split(buf)
	if err != nil {
		return nil, fmt.Errorf("split record into shards: %w", err)
	}
	if err = e.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("encode parity shards: %w", err)
	}
	out := make([]byte, 0, len(shards)*len(shards[0]))
	for _, sh := range shards {
		out = append(out, sh...)
	}
	return out, nil
}

func (e *ReedSolomon) Decode(protected []byte) ([]byte, error) {
	total := e.data + e.parity
	if len(protected) == 0 || len(protected)%total != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not %d equal shards", ErrCorrupt, len(protected), total)
	}
	size := len(protected) / total
	raw := append([]byte(nil), protected...)
	shards := make([][]byte, total)
	for i := range shards {
		shards[i] = raw[i*size : (i+1)*size : (i+1)*size]
	}

	ok, err := e.enc.Verify(shards)
	if err != nil {
		return nil, fmt.Errorf("%w: verify shards: %v", ErrCorrupt, err)
	}
	if !ok {
		if shards, err = e.repair(shards); err != nil {
			return nil, err
		}
	}

	var joined bytes.Buffer
	if err := e.enc.Join(&joined, shards, size*e.data); err != nil {
		return nil, fmt.Errorf("%w: join shards: %v", ErrCorrupt, err)
	}
	body := joined.Bytes()
	n, k := binary.Uvarint(body)
	if k <= 0 || n > uint64(len(body)-k) {
		return nil, fmt.Errorf("%w: bad length prefix", ErrCorrupt)
	}
	return body[k : k+int(n)], nil
}

// repair erases each shard in turn and keeps the first reconstruction
// whose parity verifies.
func (e *ReedSolomon) repair(shards [][]byte) ([][]byte, error) {
	if e.parity < 2 {
		return nil, fmt.Errorf("%w: parity mismatch", ErrCorrupt)
	}
	for i := range shards {
		trial := make([][]byte, len(shards))
		copy(trial, shards)
		trial[i] = nil
		if err := e.enc.Reconstruct(trial); err != nil {
			continue
		}
		if ok, err := e.enc.Verify(trial); err == nil && ok {
			return trial, nil
		}
	}
	return nil, fmt.Errorf("%w: more than one shard damaged", ErrCorrupt)
}
