package encoder

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dattu/dna_fountain/pkg/bitkernel"
	"github.com/dattu/dna_fountain/pkg/ecc"
	"github.com/dattu/dna_fountain/pkg/metrics"
	"github.com/dattu/dna_fountain/pkg/packet"
	"github.com/dattu/dna_fountain/pkg/scheme"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*13 + 5)
	}
	return b
}

func TestSplitWithHeader(t *testing.T) {
	data := sample(1001)
	e, err := New(data, Options{NumberOfChunks: 11, InsertHeader: true, FileName: "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, 11, e.NumberOfChunks())
	assert.Equal(t, 101, e.ChunkSize())

	chunks := e.Chunks()
	h, err := packet.ParseHeaderChunk(chunks[0], packet.DefaultLengthWidth)
	require.NoError(t, err)
	assert.Equal(t, packet.HeaderChunk{LastChunkLength: 92, FileName: "a.txt"}, h)
	assert.Equal(t, e.Header(), &h)

	joined := bytes.Join(chunks[1:], nil)
	assert.Equal(t, data, joined[:len(data)])
	assert.Equal(t, make([]byte, 101-92), joined[len(data):], "last chunk is zero padded")
}

func TestSplitByChunkSize(t *testing.T) {
	e, err := New(sample(100), Options{ChunkSize: 30})
	require.NoError(t, err)
	assert.Equal(t, 4, e.NumberOfChunks())
	assert.Nil(t, e.Header())
}

func TestConfigErrors(t *testing.T) {
	_, err := New(nil, Options{NumberOfChunks: 4})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = New(sample(10), Options{NumberOfChunks: 1, InsertHeader: true})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = New(sample(40), Options{NumberOfChunks: 5, InsertHeader: true, FileName: "a-rather-long-file-name.fastq"})
	assert.ErrorIs(t, err, ErrConfig, "file name does not fit the header chunk")

	_, err = New(sample(40), Options{NumberOfChunks: 4, RandomSeeds: true, Scheme: scheme.Spec{Name: "raptor", Systematic: true}})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = New(sample(40), Options{NumberOfChunks: 4, Layout: packet.Layout{SeedWidth: 3}})
	assert.ErrorIs(t, err, packet.ErrConfig)
}

func TestPacketPayloadIsXorOfIndices(t *testing.T) {
	for _, name := range []string{"lt", "online", "raptor"} {
		e, err := New(sample(640), Options{NumberOfChunks: 20, Scheme: scheme.Spec{Name: name}})
		require.NoError(t, err, name)
		chunks := e.Chunks()
		for seed := uint64(0); seed < 50; seed++ {
			p, err := e.CreatePacket(seed)
			require.NoError(t, err)
			want := make([]byte, e.ChunkSize())
			for _, c := range e.Scheme().Expand(p.Indices()) {
				bitkernel.Portable{}.XOR(want, chunks[c])
			}
			require.Equal(t, want, p.Data(), "%s seed %d", name, seed)
		}
	}
}

func TestSequentialSeedsAreDeterministic(t *testing.T) {
	opts := Options{NumberOfChunks: 12}
	a, err := New(sample(480), opts)
	require.NoError(t, err)
	b, err := New(sample(480), opts)
	require.NoError(t, err)

	pa, _, err := a.EncodeAll(Count(30))
	require.NoError(t, err)
	pb, _, err := b.EncodeAll(Count(30))
	require.NoError(t, err)
	require.Len(t, pa, 30)
	for i := range pa {
		assert.Equal(t, uint64(i), pa[i].Seed())
		assert.Equal(t, pa[i].Indices(), pb[i].Indices())
		assert.Equal(t, pa[i].Data(), pb[i].Data())
	}
}

func TestRandomSeedsAreDistinct(t *testing.T) {
	e, err := New(sample(480), Options{NumberOfChunks: 12, RandomSeeds: true, MasterSeed: 99})
	require.NoError(t, err)
	pkts, _, err := e.EncodeAll(Count(200))
	require.NoError(t, err)
	seen := map[uint64]bool{}
	for _, p := range pkts {
		require.False(t, seen[p.Seed()], "seed %d repeated", p.Seed())
		seen[p.Seed()] = true
	}
}

func TestOverheadStop(t *testing.T) {
	e, err := New(sample(500), Options{NumberOfChunks: 10})
	require.NoError(t, err)
	pkts, st, err := e.EncodeAll(Overhead(1.55))
	require.NoError(t, err)
	assert.Len(t, pkts, 16)
	assert.Equal(t, 16, st.Emitted)
}

func TestEnsureCoverage(t *testing.T) {
	e, err := New(sample(500), Options{NumberOfChunks: 10, EnsureCoverage: true, Scheme: scheme.Spec{Name: "raptor"}})
	require.NoError(t, err)
	_, st, err := e.EncodeAll(Overhead(0.1))
	require.NoError(t, err)
	assert.Zero(t, st.Uncovered)
	assert.GreaterOrEqual(t, st.Emitted, 1)
}

func TestScorerDropsPackets(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewEncoder(reg)
	odd := ScorerFunc(func(p *packet.Packet, _ []byte) float64 {
		if p.Seed()%2 == 1 {
			return 1
		}
		return 0.1
	})
	e, err := New(sample(200), Options{NumberOfChunks: 8, Scorer: odd, DropUpperBound: 0.5, Metrics: m})
	require.NoError(t, err)
	pkts, st, err := e.EncodeAll(Count(10))
	require.NoError(t, err)
	for _, p := range pkts {
		assert.Zero(t, p.Seed()%2)
		assert.InDelta(t, 0.1, p.ErrorProb(), 1e-12)
	}
	assert.Equal(t, 10, st.Emitted)
	assert.Equal(t, 9, st.Dropped)
	expected := `
# HELP fountain_packets_dropped_total Packets discarded by the rule-engine filter.
# TYPE fountain_packets_dropped_total counter
fountain_packets_dropped_total 9
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "fountain_packets_dropped_total"))
}

func TestTooManyDrops(t *testing.T) {
	never := ScorerFunc(func(*packet.Packet, []byte) float64 { return 1 })
	e, err := New(sample(200), Options{NumberOfChunks: 8, Scorer: never, DropUpperBound: 0.5, MaxDrops: 5})
	require.NoError(t, err)
	_, err = e.Next()
	assert.ErrorIs(t, err, ErrTooManyDrops)
}

func TestSeedSpaceExhaustion(t *testing.T) {
	layout := packet.Layout{ChunksWidth: 1, SeedWidth: 1}
	e, err := New(sample(64), Options{NumberOfChunks: 4, Layout: layout})
	require.NoError(t, err)
	_, st, err := e.EncodeAll(Count(256))
	require.NoError(t, err)
	assert.Equal(t, 256, st.Emitted)
	_, err = e.Next()
	assert.ErrorIs(t, err, ErrSeedSpace)

	r, err := New(sample(64), Options{NumberOfChunks: 4, Layout: layout, RandomSeeds: true})
	require.NoError(t, err)
	_, _, err = r.EncodeAll(Count(256))
	require.NoError(t, err)
	_, err = r.Next()
	assert.ErrorIs(t, err, ErrSeedSpace)
}

func TestMarshalParsesBack(t *testing.T) {
	codec := ecc.CRC32{}
	e, err := New(sample(300), Options{NumberOfChunks: 6, Codec: codec})
	require.NoError(t, err)
	p, err := e.Next()
	require.NoError(t, err)
	rec, err := e.Marshal(p)
	require.NoError(t, err)

	v, err := packet.Receive(rec).Verify(codec, e.Layout())
	require.NoError(t, err)
	assert.Equal(t, 6, v.Header.Chunks)
	assert.Equal(t, p.Seed(), v.Header.Seed)
	assert.Equal(t, p.Len(), v.PayloadLen())
}
