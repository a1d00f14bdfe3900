// pkg/storage/container.go
package storage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/dattu/dna_fountain/pkg/packet"
	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// WriteContainer concatenates length-prefixed records, optionally inside a
// zstd stream.
func WriteContainer(w io.Writer, l packet.Layout, recs [][]byte, compress bool) error {
	out := w
	var enc *zstd.Encoder
	if compress {
		var err error
		if enc, err = zstd.NewWriter(w); err != nil {
			return err
		}
		out = enc
	}
	bw := bufio.NewWriter(out)
	for i, rec := range recs {
		framed, err := l.Frame(rec)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if _, err := bw.Write(framed); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if enc != nil {
		return enc.Close()
	}
	return nil
}

// ReadContainer reads every record of a container written by
// WriteContainer. Compression is detected from the zstd magic number.
func ReadContainer(r io.Reader, l packet.Layout) ([][]byte, error) {
	br := bufio.NewReader(r)
	var in io.Reader = br
	if head, err := br.Peek(len(zstdMagic)); err == nil && bytes.Equal(head, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		in = dec
	}
	var out [][]byte
	for {
		rec, err := l.ReadFrame(in)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
}
