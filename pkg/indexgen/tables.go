// pkg/indexgen/tables.go
package indexgen

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Systematic indices are defined for K in [MinSystematicK, MaxSystematicK].
const (
	MinSystematicK = 4
	MaxSystematicK = 8192
)

// Tables holds the lookup tables V0 and V1 behind Rand and the
// systematic index J(K), where J[0] is J(MinSystematicK). Encoder and
// decoder must use the same Tables.
type Tables struct {
	V0, V1 [256]uint32
	J      []int
}

var builtin = &Tables{
	V0: fillTable(0x5deece66d),
	V1: fillTable(0x2545f4914f6cdd1d),
	J:  fillIndex(),
}

// Builtin returns the tables generated at start-up from fixed constants.
// They are self-consistent but not the published RFC 5053 tables; load
// those with LoadTables when interoperating with other RFC 5053 codecs.
func Builtin() *Tables { return builtin }

func splitmix(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func fillTable(seed uint64) (t [256]uint32) {
	for i := range t {
		seed += 0x9e3779b97f4a7c15
		t[i] = uint32(splitmix(seed) >> 32)
	}
	return t
}

func fillIndex() []int {
	j := make([]int, MaxSystematicK-MinSystematicK+1)
	for i := range j {
		k := uint64(i + MinSystematicK)
		j[i] = 18 + int(splitmix(k+0x9e3779b97f4a7c15)%1003)
	}
	return j
}

// SystematicIndex returns J(K). K outside the table is a configuration
// error.
func (t *Tables) SystematicIndex(k int) (int, error) {
	i := k - MinSystematicK
	if i < 0 || i >= len(t.J) {
		return 0, fmt.Errorf("%w: no systematic index for K=%d (table covers %d..%d)",
			ErrConfig, k, MinSystematicK, MinSystematicK+len(t.J)-1)
	}
	return t.J[i], nil
}

// Rand is the table-driven generator used by systematic triples.
func (t *Tables) Rand(y, i, m int) int {
	return int((t.V0[(y+i)%256] ^ t.V1[(y/256+i)%256]) % uint32(m))
}

/* ------------------------------------------------------------------------ */
/* loading                                                                  */
/* ------------------------------------------------------------------------ */

// LoadTables reads tables from text with three sections, each opened by
// a line holding only its name:
//
//	V0
//	251291136 3952231631 ...
//	V1
//	...
//	J
//	18 14 61 ...
//
// Values are separated by whitespace or commas; '#' starts a comment.
// V0 and V1 need exactly 256 values, J one value per K starting at
// MinSystematicK and at most up to MaxSystematicK.
func LoadTables(r io.Reader) (*Tables, error) {
	var (
		section string
		v0, v1  []uint32
		j       []int
	)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text, _, _ := strings.Cut(sc.Text(), "#")
		text = strings.TrimSpace(text)
		switch strings.ToUpper(strings.TrimSuffix(text, ":")) {
		case "":
			continue
		case "V0", "V1", "J":
			section = strings.ToUpper(strings.TrimSuffix(text, ":"))
			continue
		}
		if section == "" {
			return nil, fmt.Errorf("%w: tables line %d: value before section", ErrConfig, line)
		}
		for _, f := range strings.FieldsFunc(text, func(c rune) bool { return c == ',' || c == ' ' || c == '\t' }) {
			n, err := strconv.ParseUint(f, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: tables line %d: %v", ErrConfig, line, err)
			}
			switch section {
			case "V0":
				v0 = append(v0, uint32(n))
			case "V1":
				v1 = append(v1, uint32(n))
			default:
				j = append(j, int(n))
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(v0) != 256 || len(v1) != 256 {
		return nil, fmt.Errorf("%w: tables need 256 V0 and V1 values, got %d and %d", ErrConfig, len(v0), len(v1))
	}
	if len(j) == 0 || len(j) > MaxSystematicK-MinSystematicK+1 {
		return nil, fmt.Errorf("%w: tables carry %d J(K) values", ErrConfig, len(j))
	}
	t := &Tables{J: j}
	copy(t.V0[:], v0)
	copy(t.V1[:], v1)
	return t, nil
}
