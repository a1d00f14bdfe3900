// pkg/encoder/encoder.go
package encoder

import (
	"errors"
	"fmt"
	"math"

	"github.com/dattu/dna_fountain/pkg/bitkernel"
	"github.com/dattu/dna_fountain/pkg/ecc"
	"github.com/dattu/dna_fountain/pkg/logging"
	"github.com/dattu/dna_fountain/pkg/metrics"
	"github.com/dattu/dna_fountain/pkg/packet"
	"github.com/dattu/dna_fountain/pkg/prng"
	"github.com/dattu/dna_fountain/pkg/scheme"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaxDrops   = 10000
	coverageExtension = 4
)

var (
	ErrConfig       = errors.New("encoder: invalid configuration")
	ErrSeedSpace    = errors.New("encoder: seed space exhausted")
	ErrTooManyDrops = errors.New("encoder: rule engine rejected too many packets in a row")
)

// Scorer is the rule-engine hook. It sees the packet and its wire record
// and returns an error probability; higher is worse.
type Scorer interface {
	Score(p *packet.Packet, record []byte) float64
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(p *packet.Packet, record []byte) float64

func (f ScorerFunc) Score(p *packet.Packet, record []byte) float64 { return f(p, record) }

// Options configures an Encoder. Either NumberOfChunks or ChunkSize must
// be set.
type Options struct {
	NumberOfChunks    int
	ChunkSize         int
	InsertHeader      bool
	FileName          string
	HeaderLengthWidth int

	Scheme scheme.Spec
	Codec  ecc.Codec
	Layout packet.Layout

	Scorer         Scorer
	DropUpperBound float64
	MaxDrops       int

	// RandomSeeds draws seeds from a generator seeded with MasterSeed
	// instead of counting up from zero.
	RandomSeeds    bool
	MasterSeed     uint32
	EnsureCoverage bool

	Kernel  bitkernel.Kernel
	Logger  logrus.FieldLogger
	Metrics *metrics.Encoder
}

// Stats summarises one Encode run.
type Stats struct {
	Emitted   int
	Dropped   int
	Uncovered int
}

// Encoder turns one file into a packet stream. It is not safe for
// concurrent use; run one Encoder per goroutine.
type Encoder struct {
	opts      Options
	scheme    scheme.Scheme
	chunkSize int
	chunks    [][]byte
	symbols   [][]byte
	header    *packet.HeaderChunk
	log       logrus.FieldLogger

	next      uint64
	exhausted bool
	rng       *prng.MT19937
	used      map[uint64]struct{}
	covered   []bool
	uncovered int
	emitted   int
	dropped   int
	streak    int
}

// New splits data into chunks and prepares the intermediate symbols.
func New(data []byte, opts Options) (*Encoder, error) {
	if opts.Layout == (packet.Layout{}) {
		opts.Layout = packet.DefaultLayout
	}
	if err := opts.Layout.Validate(); err != nil {
		return nil, err
	}
	if opts.Codec == nil {
		opts.Codec = ecc.NoCode{}
	}
	if opts.Kernel == nil {
		opts.Kernel = bitkernel.Default()
	}
	if opts.HeaderLengthWidth == 0 {
		opts.HeaderLengthWidth = packet.DefaultLengthWidth
	}
	if opts.MaxDrops == 0 {
		opts.MaxDrops = defaultMaxDrops
	}
	if opts.RandomSeeds && opts.Scheme.Systematic {
		return nil, fmt.Errorf("%w: systematic ids need sequential seeds", ErrConfig)
	}

	e := &Encoder{opts: opts, log: logging.OrDiscard(opts.Logger)}
	if err := e.split(data); err != nil {
		return nil, err
	}
	sch, err := opts.Scheme.Build(len(e.chunks))
	if err != nil {
		return nil, fmt.Errorf("build scheme: %w", err)
	}
	e.scheme = sch
	e.symbols = sch.Intermediate(e.chunks, opts.Kernel)
	e.covered = make([]bool, sch.Size())
	e.uncovered = sch.Size()
	if opts.RandomSeeds {
		e.rng = prng.New(opts.MasterSeed)
		e.used = make(map[uint64]struct{})
	}

	e.log.WithFields(logrus.Fields{
		"scheme":     sch.Name(),
		"chunks":     len(e.chunks),
		"chunk_size": e.chunkSize,
		"symbols":    sch.Size(),
		"codec":      opts.Codec.Name(),
		"kernel":     opts.Kernel.Name(),
	}).Debug("encoder ready")
	return e, nil
}

func (e *Encoder) split(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty input", ErrConfig)
	}
	size := e.opts.ChunkSize
	if size <= 0 {
		n := e.opts.NumberOfChunks
		if e.opts.InsertHeader {
			n--
		}
		if n < 1 {
			return fmt.Errorf("%w: need a chunk size or at least %d chunks", ErrConfig, 1+btoi(e.opts.InsertHeader))
		}
		size = (len(data) + n - 1) / n
	}

	var pieces [][]byte
	for off := 0; off < len(data); off += size {
		piece := make([]byte, size)
		copy(piece, data[off:])
		pieces = append(pieces, piece)
	}
	last := len(data) - (len(pieces)-1)*size

	if e.opts.InsertHeader {
		h := packet.HeaderChunk{LastChunkLength: last, FileName: e.opts.FileName}
		hb, err := h.Encode(size, e.opts.HeaderLengthWidth)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConfig, err)
		}
		e.header = &h
		pieces = append([][]byte{hb}, pieces...)
	}
	e.chunks, e.chunkSize = pieces, size
	return nil
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (e *Encoder) NumberOfChunks() int   { return len(e.chunks) }
func (e *Encoder) ChunkSize() int        { return e.chunkSize }
func (e *Encoder) Scheme() scheme.Scheme { return e.scheme }
func (e *Encoder) Layout() packet.Layout { return e.opts.Layout }

// Header returns the header chunk contents, or nil without a header.
func (e *Encoder) Header() *packet.HeaderChunk { return e.header }

// Chunks returns copies of the padded source chunks.
func (e *Encoder) Chunks() [][]byte {
	out := make([][]byte, len(e.chunks))
	for i, c := range e.chunks {
		out[i] = append([]byte(nil), c...)
	}
	return out
}

// CreatePacket builds the packet for seed without touching the stream
// state.
func (e *Encoder) CreatePacket(seed uint64) (*packet.Packet, error) {
	idx, err := e.scheme.Indices(seed)
	if err != nil {
		return nil, fmt.Errorf("indices for seed %d: %w", seed, err)
	}
	payload := make([]byte, e.chunkSize)
	for _, i := range idx {
		e.opts.Kernel.XOR(payload, e.symbols[i])
	}
	return packet.New(seed, idx, payload, len(e.chunks)), nil
}

func (e *Encoder) nextSeed() (uint64, error) {
	limit := e.opts.Layout.MaxSeed()
	if e.rng == nil {
		if e.exhausted {
			return 0, fmt.Errorf("%w: %d seeds used", ErrSeedSpace, e.emitted+e.dropped)
		}
		s := e.next
		if s == limit {
			e.exhausted = true
		} else {
			e.next++
		}
		return s, nil
	}
	bound := min(limit, math.MaxUint32)
	if uint64(len(e.used)) > bound {
		return 0, fmt.Errorf("%w: %d seeds used", ErrSeedSpace, len(e.used))
	}
	for {
		s := uint64(e.rng.Uint32()) % (bound + 1)
		if _, dup := e.used[s]; dup {
			continue
		}
		e.used[s] = struct{}{}
		return s, nil
	}
}

// Next returns the next packet that passes the rule-engine filter.
func (e *Encoder) Next() (*packet.Packet, error) {
	for {
		seed, err := e.nextSeed()
		if err != nil {
			return nil, err
		}
		p, err := e.CreatePacket(seed)
		if err != nil {
			return nil, err
		}
		if e.opts.Scorer != nil {
			rec, err := e.Marshal(p)
			if err != nil {
				return nil, err
			}
			score := e.opts.Scorer.Score(p, rec)
			p = p.WithErrorProb(score)
			if score > e.opts.DropUpperBound {
				e.dropped++
				e.streak++
				e.opts.Metrics.Dropped()
				e.log.WithFields(logrus.Fields{"seed": seed, "score": score}).Debug("packet dropped")
				if e.streak > e.opts.MaxDrops {
					return nil, fmt.Errorf("%w: %d", ErrTooManyDrops, e.streak)
				}
				continue
			}
		}
		e.streak = 0
		e.emitted++
		for _, i := range p.Indices() {
			if !e.covered[i] {
				e.covered[i] = true
				e.uncovered--
			}
		}
		e.opts.Metrics.Emitted()
		return p, nil
	}
}

// Encode emits packets until stop is reached. With EnsureCoverage and an
// overhead stop it keeps going until every intermediate symbol has been
// referenced, up to a bounded number of extra packets.
func (e *Encoder) Encode(stop Stop, emit func(*packet.Packet) error) (Stats, error) {
	start := e.emitted
	target := stop.packets(len(e.chunks))
	for e.emitted-start < target {
		if err := e.emitOne(emit); err != nil {
			return e.stats(), err
		}
	}
	if e.opts.EnsureCoverage && stop.count == 0 {
		extra := coverageExtension * e.scheme.Size()
		for i := 0; e.uncovered > 0 && i < extra; i++ {
			if err := e.emitOne(emit); err != nil {
				return e.stats(), err
			}
		}
		if e.uncovered > 0 {
			e.log.WithField("uncovered", e.uncovered).Warn("coverage not reached")
		}
	}
	e.log.WithFields(logrus.Fields{"emitted": e.emitted, "dropped": e.dropped}).Info("encoding finished")
	return e.stats(), nil
}

// EncodeAll collects the stream into a slice.
func (e *Encoder) EncodeAll(stop Stop) ([]*packet.Packet, Stats, error) {
	var out []*packet.Packet
	st, err := e.Encode(stop, func(p *packet.Packet) error {
		out = append(out, p)
		return nil
	})
	return out, st, err
}

func (e *Encoder) emitOne(emit func(*packet.Packet) error) error {
	p, err := e.Next()
	if err != nil {
		return err
	}
	return emit(p)
}

func (e *Encoder) stats() Stats {
	return Stats{Emitted: e.emitted, Dropped: e.dropped, Uncovered: e.uncovered}
}

// Marshal renders p as a protected wire record.
func (e *Encoder) Marshal(p *packet.Packet) ([]byte, error) {
	rec, err := e.opts.Layout.Marshal(packet.Header{
		Chunks: p.NumberOfChunks(),
		Degree: p.Degree(),
		Seed:   p.Seed(),
	}, p.Data())
	if err != nil {
		return nil, err
	}
	return e.opts.Codec.Encode(rec)
}
