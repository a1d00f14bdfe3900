// pkg/decoder/decoder.go
package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/dattu/dna_fountain/pkg/bitkernel"
	"github.com/dattu/dna_fountain/pkg/ecc"
	"github.com/dattu/dna_fountain/pkg/logging"
	"github.com/dattu/dna_fountain/pkg/metrics"
	"github.com/dattu/dna_fountain/pkg/packet"
	"github.com/dattu/dna_fountain/pkg/scheme"
	"github.com/sirupsen/logrus"
)

var (
	ErrConfig = errors.New("decoder: invalid configuration")
	// ErrPacketRejected wraps every per-packet failure. The session
	// continues after it.
	ErrPacketRejected = errors.New("decoder: packet rejected")
	// ErrDecodeIncomplete is matched by *IncompleteError.
	ErrDecodeIncomplete = errors.New("decoder: decode incomplete")
)

// DefaultMaxChunks bounds the chunk count a record may announce.
const DefaultMaxChunks = 1 << 16

// stashRecords caps the raw records kept for re-deciding the session
// shape.
const stashRecords = 1 << 14

// Options configures a Decoder. With NumberOfChunks zero the chunk count
// is learned from the records, which requires a chunk-count field in the
// layout.
type Options struct {
	NumberOfChunks    int
	MaxChunks         int
	Scheme            scheme.Spec
	Codec             ecc.Codec
	Layout            packet.Layout
	UseHeaderChunk    bool
	HeaderLengthWidth int
	// Partial runs elimination even with fewer pending packets than
	// unknown chunks, committing whatever becomes determined.
	Partial bool

	Kernel  bitkernel.Kernel
	Logger  logrus.FieldLogger
	Metrics *metrics.Decoder
}

// shape is what a record claims about its session: chunk count and
// chunk size.
type shape struct {
	k, size int
}

// session is the solver state for one shape.
type session struct {
	scheme    scheme.Scheme
	k         int
	chunkSize int
	solved    [][]byte
	nsolved   int
	byChunk   map[int]map[*packet.Reducible]struct{}
	queue     []int

	received  int
	redundant int
	conflicts int
	passes    int
	steps     int
}

func newSession(sch scheme.Scheme, k int) session {
	return session{
		scheme:  sch,
		k:       k,
		solved:  make([][]byte, k),
		byChunk: make(map[int]map[*packet.Reducible]struct{}),
	}
}

// Decoder owns the solved-chunk map and the pending-packet pool of one
// session. It is not safe for concurrent use; callers serialise ingestion.
//
// Until the file is complete every valid record votes for its shape, and
// the session switches to a shape once it has more votes than the current
// one. A single garbled record therefore cannot pin K or the chunk size.
type Decoder struct {
	opts Options
	kern bitkernel.Kernel
	log  logrus.FieldLogger

	session
	rejected int

	votes   map[shape]int
	stash   map[shape][][]byte
	stashed int
}

// New validates opts. Scheme construction waits for the chunk count.
func New(opts Options) (*Decoder, error) {
	if opts.Layout == (packet.Layout{}) {
		opts.Layout = packet.DefaultLayout
	}
	if err := opts.Layout.Validate(); err != nil {
		return nil, err
	}
	if opts.NumberOfChunks == 0 && opts.Layout.ChunksWidth == 0 {
		return nil, fmt.Errorf("%w: chunk count is neither configured nor carried in the header", ErrConfig)
	}
	if opts.NumberOfChunks < 0 || opts.MaxChunks < 0 {
		return nil, fmt.Errorf("%w: negative chunk count", ErrConfig)
	}
	if opts.MaxChunks == 0 {
		opts.MaxChunks = DefaultMaxChunks
	}
	opts.MaxChunks = max(opts.MaxChunks, opts.NumberOfChunks)
	if opts.Codec == nil {
		opts.Codec = ecc.NoCode{}
	}
	if opts.Kernel == nil {
		opts.Kernel = bitkernel.Default()
	}
	if opts.HeaderLengthWidth == 0 {
		opts.HeaderLengthWidth = packet.DefaultLengthWidth
	}
	d := &Decoder{
		opts:  opts,
		kern:  opts.Kernel,
		log:   logging.OrDiscard(opts.Logger),
		votes: make(map[shape]int),
		stash: make(map[shape][][]byte),
	}
	if opts.NumberOfChunks > 0 {
		sch, err := d.build(opts.NumberOfChunks)
		if err != nil {
			return nil, err
		}
		d.session = newSession(sch, opts.NumberOfChunks)
	}
	return d, nil
}

func (d *Decoder) build(k int) (scheme.Scheme, error) {
	sch, err := d.opts.Scheme.Build(k)
	if err != nil {
		return nil, fmt.Errorf("build scheme: %w", err)
	}
	d.log.WithFields(logrus.Fields{"scheme": sch.Name(), "chunks": k, "symbols": sch.Size()}).Debug("decoder ready")
	return sch, nil
}

func (d *Decoder) NumberOfChunks() int { return d.k }
func (d *Decoder) Solved() int         { return d.nsolved }
func (d *Decoder) Received() int       { return d.received }

// IsComplete reports whether every chunk is solved.
func (d *Decoder) IsComplete() bool { return d.k > 0 && d.nsolved == d.k }

/* ------------------------------------------------------------------------ */
/* ingestion                                                                */
/* ------------------------------------------------------------------------ */

func (d *Decoder) reject(err error) error {
	d.rejected++
	d.opts.Metrics.Rejected()
	d.log.WithError(err).Debug("packet rejected")
	return fmt.Errorf("%w: %w", ErrPacketRejected, err)
}

// shapeOf checks the chunk count a record announces against the
// configuration and the limit.
func (d *Decoder) shapeOf(chunks, size int) (shape, error) {
	k := d.opts.NumberOfChunks
	if d.opts.Layout.ChunksWidth > 0 {
		if k > 0 && chunks != k {
			return shape{}, fmt.Errorf("header announces %d chunks, session has %d", chunks, k)
		}
		k = chunks
	}
	if k < 1 || k > d.opts.MaxChunks {
		return shape{}, fmt.Errorf("header announces %d chunks, limit is %d", k, d.opts.MaxChunks)
	}
	if size < 1 {
		return shape{}, errors.New("empty payload")
	}
	return shape{k: k, size: size}, nil
}

// matches reports whether a record of shape sh belongs to the current
// session. Before the first payload any size matches a built scheme.
func (d *Decoder) matches(sh shape) bool {
	return d.scheme != nil && sh.k == d.k && (d.chunkSize == 0 || sh.size == d.chunkSize)
}

func (d *Decoder) current() shape { return shape{k: d.k, size: d.chunkSize} }

// IngestRaw verifies and parses one protected record and feeds it to the
// solver. It returns whether the file is complete; errors wrapping
// ErrPacketRejected leave the session usable.
func (d *Decoder) IngestRaw(raw []byte) (bool, error) {
	v, err := packet.Receive(raw).Verify(d.opts.Codec, d.opts.Layout)
	if err != nil {
		return d.IsComplete(), d.reject(err)
	}
	sh, err := d.shapeOf(v.Header.Chunks, v.PayloadLen())
	if err != nil {
		return d.IsComplete(), d.reject(err)
	}
	if d.matches(sh) {
		if err := d.feed(v); err != nil {
			return d.IsComplete(), d.reject(err)
		}
		d.vote(sh, raw)
		return d.IsComplete(), nil
	}
	if d.IsComplete() {
		return true, d.reject(fmt.Errorf("record for %d chunks of %d bytes, session has %d of %d", sh.k, sh.size, d.k, d.chunkSize))
	}
	d.vote(sh, raw)
	if d.scheme != nil && d.votes[sh] <= d.votes[d.current()] {
		return false, d.reject(fmt.Errorf("record for %d chunks of %d bytes, session has %d of %d", sh.k, sh.size, d.k, d.chunkSize))
	}
	if err := d.adopt(sh); err != nil {
		return d.IsComplete(), d.reject(err)
	}
	return d.IsComplete(), nil
}

// feed checks a verified record against the session scheme and passes it
// to the solver. Nothing is committed unless every check passes.
func (d *Decoder) feed(v *packet.Verified) error {
	h := v.Header
	idx, err := d.scheme.Indices(h.Seed)
	if err != nil {
		return err
	}
	if d.opts.Layout.DegreeWidth > 0 && h.Degree != len(idx) {
		return fmt.Errorf("seed %d: header degree %d, regenerated %d", h.Seed, h.Degree, len(idx))
	}
	if err := d.checkIndices(idx); err != nil {
		return err
	}
	if err := d.checkSize(v.PayloadLen()); err != nil {
		return err
	}
	d.received++
	d.opts.Metrics.Ingested()
	d.add(v.Reduce(d.scheme.Expand(idx)))
	return nil
}

// vote counts a valid record for its shape and keeps a copy for a later
// switch. Votes are dropped once the file is complete.
func (d *Decoder) vote(sh shape, raw []byte) {
	if d.IsComplete() {
		d.votes, d.stash, d.stashed = nil, nil, 0
		return
	}
	if d.votes == nil {
		return
	}
	d.votes[sh]++
	if d.stashed < stashRecords {
		d.stash[sh] = append(d.stash[sh], append([]byte(nil), raw...))
		d.stashed++
	}
}

// adopt starts a fresh session for sh and replays the records stashed for
// it. The current session stays when none of them is valid under sh.
func (d *Decoder) adopt(sh shape) error {
	sch := d.scheme
	if sch == nil || sh.k != d.k {
		var err error
		if sch, err = d.build(sh.k); err != nil {
			d.forget(sh)
			return err
		}
	}
	prev := d.session
	d.session = newSession(sch, sh.k)

	recs := d.stash[sh]
	var kept [][]byte
	var lastErr error
	for _, raw := range recs {
		v, err := packet.Receive(raw).Verify(d.opts.Codec, d.opts.Layout)
		if err == nil {
			err = d.feed(v)
		}
		if err != nil {
			lastErr = err
			continue
		}
		kept = append(kept, raw)
	}
	d.votes[sh] -= len(recs) - len(kept)
	d.stashed -= len(recs) - len(kept)
	d.stash[sh] = kept
	if len(kept) == 0 {
		d.session = prev
		d.forget(sh)
		return lastErr
	}
	if prev.scheme != nil {
		d.log.WithFields(logrus.Fields{
			"chunks":     sh.k,
			"chunk_size": sh.size,
			"votes":      d.votes[sh],
			"was_chunks": prev.k,
			"was_size":   prev.chunkSize,
		}).Warn("session switched to majority shape")
	}
	if d.IsComplete() {
		d.votes, d.stash, d.stashed = nil, nil, 0
	}
	return lastErr
}

func (d *Decoder) forget(sh shape) {
	d.stashed -= len(d.stash[sh])
	delete(d.stash, sh)
	delete(d.votes, sh)
}

// Ingest feeds an in-memory packet. The packet is copied; the caller's
// value is never mutated.
func (d *Decoder) Ingest(p *packet.Packet) (bool, error) {
	k := p.NumberOfChunks()
	if d.scheme == nil {
		if k < 1 || k > d.opts.MaxChunks {
			return false, d.reject(fmt.Errorf("packet announces %d chunks, limit is %d", k, d.opts.MaxChunks))
		}
		sch, err := d.build(k)
		if err != nil {
			return false, d.reject(err)
		}
		d.session = newSession(sch, k)
	}
	if k != 0 && k != d.k {
		return d.IsComplete(), d.reject(fmt.Errorf("packet announces %d chunks, session has %d", k, d.k))
	}
	idx := p.Indices()
	if err := d.checkIndices(idx); err != nil {
		return d.IsComplete(), d.reject(err)
	}
	if err := d.checkSize(p.Len()); err != nil {
		return d.IsComplete(), d.reject(err)
	}
	d.received++
	d.opts.Metrics.Ingested()
	d.add(packet.FromPacket(p, d.scheme.Expand(idx)))
	return d.IsComplete(), nil
}

// checkIndices requires every index to name an intermediate symbol.
func (d *Decoder) checkIndices(idx []int) error {
	n := d.scheme.Size()
	for _, i := range idx {
		if i < 0 || i >= n {
			return fmt.Errorf("index %d outside [0, %d)", i, n)
		}
	}
	return nil
}

// checkSize fixes the chunk size on the first payload.
func (d *Decoder) checkSize(n int) error {
	if n < 1 {
		return errors.New("empty payload")
	}
	if d.chunkSize == 0 {
		d.chunkSize = n
		return nil
	}
	if n != d.chunkSize {
		return fmt.Errorf("payload of %d bytes, chunks are %d", n, d.chunkSize)
	}
	return nil
}

/* ------------------------------------------------------------------------ */
/* peeling                                                                  */
/* ------------------------------------------------------------------------ */

// add reduces r by every solved chunk and then parks it, solves from it,
// or drops it as redundant.
func (d *Decoder) add(r *packet.Reducible) {
	for _, i := range r.Indices() {
		if d.solved[i] != nil {
			r.XorAndRemovePacket(i, d.solved[i], d.kern)
		}
	}
	switch r.Degree() {
	case 0:
		d.exhausted(r)
	case 1:
		i, _ := r.Solved()
		d.commit(i, r.Data())
	default:
		for _, i := range r.Indices() {
			set := d.byChunk[i]
			if set == nil {
				set = make(map[*packet.Reducible]struct{})
				d.byChunk[i] = set
			}
			set[r] = struct{}{}
		}
	}
	d.propagate()
}

// commit marks chunk i solved. A chunk is never overwritten; a differing
// re-solution is counted as a conflict.
func (d *Decoder) commit(i int, data []byte) {
	if prev := d.solved[i]; prev != nil {
		if !bytes.Equal(prev, data) {
			d.conflicts++
			d.opts.Metrics.Conflict()
			d.log.WithField("chunk", i).Warn("conflicting re-solution ignored")
		}
		return
	}
	d.solved[i] = append([]byte(nil), data...)
	d.nsolved++
	d.queue = append(d.queue, i)
	d.opts.Metrics.Solved()
}

// exhausted accounts for a packet with no unknowns left. A non-zero
// residue means it disagrees with the solved chunks.
func (d *Decoder) exhausted(r *packet.Reducible) {
	if zero(r.Data()) {
		d.redundant++
		return
	}
	d.conflicts++
	d.opts.Metrics.Conflict()
	d.log.WithField("seed", r.Seed()).Warn("packet disagrees with solved chunks")
}

// propagate reduces every pending packet that references a newly solved
// chunk until no new chunk is solved.
func (d *Decoder) propagate() {
	for len(d.queue) > 0 {
		i := d.queue[0]
		d.queue = d.queue[1:]
		for r := range d.byChunk[i] {
			r.XorAndRemovePacket(i, d.solved[i], d.kern)
			switch r.Degree() {
			case 0:
				d.exhausted(r)
			case 1:
				j, _ := r.Solved()
				delete(d.byChunk[j], r)
				d.commit(j, r.Data())
			}
		}
		delete(d.byChunk, i)
	}
}

// pending returns the distinct unsolved packets.
func (d *Decoder) pending() []*packet.Reducible {
	seen := make(map[*packet.Reducible]struct{})
	var out []*packet.Reducible
	for _, set := range d.byChunk {
		for r := range set {
			if _, ok := seen[r]; !ok {
				seen[r] = struct{}{}
				out = append(out, r)
			}
		}
	}
	return out
}

/* ------------------------------------------------------------------------ */
/* results                                                                  */
/* ------------------------------------------------------------------------ */

// Result is the structured outcome of Solve.
type Result struct {
	Complete          bool
	Solved            int
	Total             int
	Missing           []int
	Received          int
	Rejected          int
	Redundant         int
	Conflicts         int
	EliminationPasses int
	EliminationSteps  int
}

// Err returns an *IncompleteError when chunks remain unsolved.
func (r Result) Err() error {
	if r.Complete {
		return nil
	}
	return &IncompleteError{Solved: r.Solved, Total: r.Total, Missing: r.Missing}
}

// IncompleteError reports the chunks still missing. It matches
// ErrDecodeIncomplete.
type IncompleteError struct {
	Solved  int
	Total   int
	Missing []int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("decode incomplete: %d of %d chunks solved", e.Solved, e.Total)
}

func (e *IncompleteError) Is(target error) bool { return target == ErrDecodeIncomplete }

// Solve runs elimination if peeling has stalled and reports the state.
func (d *Decoder) Solve() Result {
	start := time.Now()
	defer d.opts.Metrics.ObserveSince(start)
	if d.k > 0 && !d.IsComplete() {
		d.eliminate()
	}
	return d.result()
}

func (d *Decoder) result() Result {
	res := Result{
		Complete:          d.IsComplete(),
		Solved:            d.nsolved,
		Total:             d.k,
		Received:          d.received,
		Rejected:          d.rejected,
		Redundant:         d.redundant,
		Conflicts:         d.conflicts,
		EliminationPasses: d.passes,
		EliminationSteps:  d.steps,
	}
	for i, c := range d.solved {
		if c == nil {
			res.Missing = append(res.Missing, i)
		}
	}
	return res
}

// Chunks returns copies of all chunks once decoding is complete.
func (d *Decoder) Chunks() ([][]byte, error) {
	if !d.IsComplete() {
		return nil, d.result().Err()
	}
	out := make([][]byte, d.k)
	for i, c := range d.solved {
		out[i] = append([]byte(nil), c...)
	}
	return out, nil
}

// Reassemble joins the chunks into the original file. With a header
// chunk, chunk 0 is parsed and the final chunk trimmed to its recorded
// length; the returned header is nil otherwise.
func (d *Decoder) Reassemble() ([]byte, *packet.HeaderChunk, error) {
	chunks, err := d.Chunks()
	if err != nil {
		return nil, nil, err
	}
	if !d.opts.UseHeaderChunk {
		return bytes.Join(chunks, nil), nil, nil
	}
	h, err := packet.ParseHeaderChunk(chunks[0], d.opts.HeaderLengthWidth)
	if err != nil {
		return nil, nil, err
	}
	body := chunks[1:]
	if n := len(body); n > 0 {
		if h.LastChunkLength < 0 || h.LastChunkLength > len(body[n-1]) {
			return nil, nil, fmt.Errorf("%w: last chunk length %d exceeds chunk size %d", packet.ErrMalformed, h.LastChunkLength, len(body[n-1]))
		}
		body[n-1] = body[n-1][:h.LastChunkLength]
	}
	return bytes.Join(body, nil), &h, nil
}
