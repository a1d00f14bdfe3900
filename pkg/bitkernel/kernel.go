// pkg/bitkernel/kernel.go
package bitkernel

import (
	"crypto/subtle"
	"math/bits"

	"golang.org/x/sys/cpu"
)

// Kernel is the low-level XOR / population-count layer used by the
// encoder and the decoder. Both implementations produce identical results.
type Kernel interface {
	Name() string
	// XOR sets dst[i] ^= src[i] for i < min(len(dst), len(src)).
	XOR(dst, src []byte)
	// XORWords sets dst[i] ^= src[i] over 64-bit words.
	XORWords(dst, src []uint64)
	// PopCount returns the number of set bits across words.
	PopCount(words []uint64) int
}

// Default picks the vector kernel when the CPU has wide SIMD registers.
func Default() Kernel {
	if cpu.X86.HasAVX2 || cpu.ARM64.HasASIMD {
		return Vector{}
	}
	return Portable{}
}

// ByName returns the named kernel, or Default for "" and "auto".
func ByName(name string) Kernel {
	switch name {
	case "portable":
		return Portable{}
	case "vector":
		return Vector{}
	default:
		return Default()
	}
}

/* ------------------------------------------------------------------------ */
/* portable                                                                 */
/* ------------------------------------------------------------------------ */

// Portable is a byte-at-a-time kernel with no platform assumptions.
type Portable struct{}

func (Portable) Name() string { return "portable" }

func (Portable) XOR(dst, src []byte) {
	n := min(len(dst), len(src))
	for i := 0; i < n; i++ {
		dst[i] ^= src[i]
	}
}

func (Portable) XORWords(dst, src []uint64) {
	n := min(len(dst), len(src))
	for i := 0; i < n; i++ {
		dst[i] ^= src[i]
	}
}

func (Portable) PopCount(words []uint64) int {
	total := 0
	for _, x := range words {
		x -= (x >> 1) & 0x5555555555555555
		x = (x & 0x3333333333333333) + ((x >> 2) & 0x3333333333333333)
		x = (x + (x >> 4)) & 0x0f0f0f0f0f0f0f0f
		total += int((x * 0x0101010101010101) >> 56)
	}
	return total
}

/* ------------------------------------------------------------------------ */
/* vector                                                                   */
/* ------------------------------------------------------------------------ */

// Vector delegates to the runtime's SIMD XOR and the POPCNT intrinsic.
type Vector struct{}

func (Vector) Name() string { return "vector" }

func (Vector) XOR(dst, src []byte) {
	n := min(len(dst), len(src))
	if n == 0 {
		return
	}
	subtle.XORBytes(dst[:n], dst[:n], src[:n])
}

func (Vector) XORWords(dst, src []uint64) {
	n := min(len(dst), len(src))
	dst, src = dst[:n], src[:n]
	for i := range dst {
		dst[i] ^= src[i]
	}
}

func (Vector) PopCount(words []uint64) int {
	total := 0
	for _, w := range words {
		total += bits.OnesCount64(w)
	}
	return total
}
