// pkg/indexgen/sequence.go
package indexgen

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dattu/dna_fountain/pkg/prng"
)

// ErrConfig marks parameters no index set can be generated for.
var ErrConfig = errors.New("indexgen: invalid configuration")

// Sequence draws degree distinct indices from [0, n) with a generator
// seeded from seed, and returns them ascending.
func Sequence(n, degree int, seed uint64) ([]int, error) {
	if n < 1 || degree < 1 || degree > n {
		return nil, fmt.Errorf("%w: degree %d over %d symbols", ErrConfig, degree, n)
	}
	r := prng.New(prng.SeedFrom(seed))
	seen := make(map[int]struct{}, degree)
	out := make([]int, 0, degree)
	for len(out) < degree {
		i := r.Intn(n)
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	sort.Ints(out)
	return out, nil
}
