// pkg/ecc/fingerprint.go
package ecc

import (
	"encoding/binary"
	"fmt"
)

const fingerprintSize = 8

// Fingerprint appends a seeded polynomial hash of the record. Encoder and
// decoder must share the evaluation point.
type Fingerprint struct {
	r uint64
}

// NewFingerprint returns a Fingerprint evaluated at r.
func NewFingerprint(r uint64) *Fingerprint {
	return &Fingerprint{r: r}
}

// Seed returns the evaluation point.
func (f *Fingerprint) Seed() uint64 {
	return f.r
}

// Eval computes the fingerprint of data by Horner's rule:
//
//	result = data[0]*r^(n-1) + ... + data[n-1]
//
// using native uint64 overflow as modulo 2^64 arithmetic.
func (f *Fingerprint) Eval(data []byte) uint64 {
	var res uint64
	for _, b := range data {
		res = res*f.r + uint64(b)
	}
	return res
}

func (f *Fingerprint) Name() string { return "fingerprint" }

func (f *Fingerprint) Encode(record []byte) ([]byte, error) {
	out := make([]byte, len(record), len(record)+fingerprintSize)
	copy(out, record)
	return binary.LittleEndian.AppendUint64(out, f.Eval(record)), nil
}

func (f *Fingerprint) Decode(protected []byte) ([]byte, error) {
	if len(protected) < fingerprintSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than a fingerprint", ErrCorrupt, len(protected))
	}
	body := protected[:len(protected)-fingerprintSize]
	if f.Eval(body) != binary.LittleEndian.Uint64(protected[len(protected)-fingerprintSize:]) {
		return nil, fmt.Errorf("%w: fingerprint mismatch", ErrCorrupt)
	}
	return append([]byte(nil), body...), nil
}
