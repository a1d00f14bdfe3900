package bitkernel

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestKernelsAgree(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.SliceOf(rapid.Byte()).Draw(t, "a")
		b := rapid.SliceOfN(rapid.Byte(), len(a), len(a)).Draw(t, "b")
		words := rapid.SliceOf(rapid.Uint64()).Draw(t, "words")

		p := append([]byte(nil), a...)
		v := append([]byte(nil), a...)
		Portable{}.XOR(p, b)
		Vector{}.XOR(v, b)
		if string(p) != string(v) {
			t.Fatalf("xor mismatch: %x vs %x", p, v)
		}
		if (Portable{}).PopCount(words) != (Vector{}).PopCount(words) {
			t.Fatalf("popcount mismatch for %v", words)
		}
	})
}

func TestXORShorterSource(t *testing.T) {
	for _, k := range []Kernel{Portable{}, Vector{}} {
		dst := []byte{0xff, 0xff, 0xff}
		k.XOR(dst, []byte{0x0f})
		require.Equal(t, []byte{0xf0, 0xff, 0xff}, dst, k.Name())
	}
}

func TestXORWordsSelfInverse(t *testing.T) {
	for _, k := range []Kernel{Portable{}, Vector{}} {
		dst := []uint64{1, 2, 3}
		src := []uint64{7, 7, 7}
		k.XORWords(dst, src)
		k.XORWords(dst, src)
		require.Equal(t, []uint64{1, 2, 3}, dst, k.Name())
	}
}

func TestByName(t *testing.T) {
	require.Equal(t, "portable", ByName("portable").Name())
	require.Equal(t, "vector", ByName("vector").Name())
	require.NotNil(t, ByName("auto"))
}
