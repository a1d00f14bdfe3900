// pkg/decoder/elimination.go
package decoder

import (
	"bytes"
	"math/bits"
	"sort"

	"github.com/sirupsen/logrus"
)

// row is one pending packet as a GF(2) equation over the unknown chunks:
// bit c of mask is set when unknown column c is referenced.
type row struct {
	mask    []uint64
	payload []byte
}

func (r *row) has(c int) bool { return r.mask[c/64]&(1<<(uint(c)%64)) != 0 }

// single returns the only set column, if exactly one is set.
func (r *row) single(width int) (int, bool) {
	col := -1
	for w, word := range r.mask {
		if word == 0 {
			continue
		}
		if col >= 0 || word&(word-1) != 0 {
			return 0, false
		}
		col = w*64 + bits.TrailingZeros64(word)
	}
	return col, col >= 0 && col < width
}

// eliminate runs one Gauss-Jordan pass over the pending packets and
// commits every chunk whose row reduces to a single unknown. Peeling then
// resumes from the newly solved chunks.
func (d *Decoder) eliminate() {
	pend := d.pending()
	if len(pend) == 0 {
		return
	}

	// Columns are the unknown chunks the pending packets reference, in
	// ascending chunk order so the pivot is always the lowest unknown.
	colOf := make(map[int]int)
	var cols []int
	for _, r := range pend {
		for _, i := range r.Indices() {
			if _, ok := colOf[i]; !ok {
				colOf[i] = -1
				cols = append(cols, i)
			}
		}
	}
	sort.Ints(cols)
	for c, i := range cols {
		colOf[i] = c
	}

	missing := d.k - d.nsolved
	if !d.opts.Partial && len(pend) < missing {
		d.log.WithFields(logrus.Fields{"pending": len(pend), "missing": missing}).Debug("too few packets for elimination")
		return
	}

	words := (len(cols) + 63) / 64
	rows := make([]*row, len(pend))
	for n, r := range pend {
		rw := &row{mask: make([]uint64, words), payload: r.Data()}
		for _, i := range r.Indices() {
			c := colOf[i]
			rw.mask[c/64] |= 1 << (uint(c) % 64)
		}
		rows[n] = rw
	}

	d.passes++
	d.opts.Metrics.Pass()
	steps := 0
	pivot := 0
	for c := 0; c < len(cols) && pivot < len(rows); c++ {
		sel := -1
		for n := pivot; n < len(rows); n++ {
			if rows[n].has(c) {
				sel = n
				break
			}
		}
		if sel < 0 {
			continue
		}
		rows[pivot], rows[sel] = rows[sel], rows[pivot]
		p := rows[pivot]
		for n, rw := range rows {
			if n == pivot || !rw.has(c) {
				continue
			}
			d.kern.XORWords(rw.mask, p.mask)
			d.kern.XOR(rw.payload, p.payload)
			steps++
		}
		pivot++
	}
	d.steps += steps

	inconsistent := 0
	for _, rw := range rows {
		if c, ok := rw.single(len(cols)); ok {
			d.commit(cols[c], rw.payload)
			continue
		}
		if d.kern.PopCount(rw.mask) == 0 && !zero(rw.payload) {
			inconsistent++
		}
	}
	if inconsistent > 0 {
		d.conflicts += inconsistent
		d.log.WithField("rows", inconsistent).Warn("inconsistent rows after elimination")
	}
	d.log.WithFields(logrus.Fields{
		"rows":    len(rows),
		"columns": len(cols),
		"rank":    pivot,
		"steps":   steps,
	}).Debug("elimination pass")
	d.propagate()
}

func zero(b []byte) bool {
	return len(bytes.Trim(b, "\x00")) == 0
}
