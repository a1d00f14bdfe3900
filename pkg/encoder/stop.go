// pkg/encoder/stop.go
package encoder

import "math"

// Stop decides how many packets an Encode run emits.
type Stop struct {
	ratio float64
	count int
}

// Overhead emits ceil(ratio·K) packets.
func Overhead(ratio float64) Stop { return Stop{ratio: ratio} }

// Count emits exactly n packets.
func Count(n int) Stop { return Stop{count: n} }

func (s Stop) packets(k int) int {
	if s.count > 0 {
		return s.count
	}
	return int(math.Ceil(s.ratio * float64(k)))
}
