// pkg/sweep/sweep.go
package sweep

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"

	"github.com/dattu/dna_fountain/pkg/decoder"
	"github.com/dattu/dna_fountain/pkg/encoder"
	"github.com/dattu/dna_fountain/pkg/logging"
	"github.com/dattu/dna_fountain/pkg/packet"
	"github.com/dattu/dna_fountain/pkg/prng"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
)

var ErrConfig = errors.New("sweep: invalid configuration")

// Options describes a minimum-packets experiment. Each trial encodes Data
// with its own seed, shuffles the stream, erases DropRate of it and
// counts how many of the surviving packets the decoder consumes before
// it completes.
type Options struct {
	Data    []byte
	Encoder encoder.Options
	Decoder decoder.Options

	Trials      int
	Workers     int
	BaseSeed    uint32
	MaxOverhead float64
	DropRate    float64

	Logger logrus.FieldLogger
}

// Trial is the outcome of one session.
type Trial struct {
	Index    int
	Seed     uint32
	Chunks   int
	Emitted  int
	Erased   int
	Needed   int
	Complete bool
}

// Summary aggregates the completed trials.
type Summary struct {
	Trials       int
	Failures     int
	MinNeeded    int
	MaxNeeded    int
	MeanNeeded   float64
	MeanOverhead float64
}

// Run executes the trials on a bounded worker pool. Sessions share no
// state; results are returned in trial order.
func Run(ctx context.Context, opts Options) ([]Trial, Summary, error) {
	if opts.Trials < 1 {
		return nil, Summary{}, fmt.Errorf("%w: %d trials", ErrConfig, opts.Trials)
	}
	if opts.DropRate < 0 || opts.DropRate >= 1 {
		return nil, Summary{}, fmt.Errorf("%w: drop rate %g", ErrConfig, opts.DropRate)
	}
	if opts.MaxOverhead <= 0 {
		opts.MaxOverhead = 3
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	log := logging.OrDiscard(opts.Logger)

	p := pool.NewWithResults[Trial]().
		WithContext(ctx).
		WithCancelOnError().
		WithMaxGoroutines(opts.Workers)
	for i := 0; i < opts.Trials; i++ {
		i := i
		p.Go(func(ctx context.Context) (Trial, error) {
			return runTrial(ctx, opts, i)
		})
	}
	trials, err := p.Wait()
	if err != nil {
		return nil, Summary{}, err
	}
	sort.Slice(trials, func(a, b int) bool { return trials[a].Index < trials[b].Index })

	sum := summarize(trials)
	log.WithFields(logrus.Fields{
		"trials":        sum.Trials,
		"failures":      sum.Failures,
		"mean_needed":   sum.MeanNeeded,
		"mean_overhead": sum.MeanOverhead,
	}).Info("sweep finished")
	return trials, sum, nil
}

func runTrial(ctx context.Context, opts Options, i int) (Trial, error) {
	seed := opts.BaseSeed + uint32(i)
	eo := opts.Encoder
	if !eo.Scheme.Systematic {
		eo.RandomSeeds, eo.MasterSeed = true, seed
	}
	enc, err := encoder.New(opts.Data, eo)
	if err != nil {
		return Trial{}, err
	}
	k := enc.NumberOfChunks()
	pkts, _, err := enc.EncodeAll(encoder.Count(int(math.Ceil(opts.MaxOverhead * float64(k)))))
	if err != nil {
		return Trial{}, fmt.Errorf("trial %d: %w", i, err)
	}

	rng := prng.New(seed)
	rng.Shuffle(len(pkts), func(a, b int) { pkts[a], pkts[b] = pkts[b], pkts[a] })
	erased := int(opts.DropRate * float64(len(pkts)))
	survivors := pkts[erased:]

	do := opts.Decoder
	do.NumberOfChunks = k
	dec, err := decoder.New(do)
	if err != nil {
		return Trial{}, err
	}
	t := Trial{Index: i, Seed: seed, Chunks: k, Emitted: len(pkts), Erased: erased}
	t.Needed, t.Complete, err = feed(ctx, dec, survivors)
	return t, err
}

// feed ingests packets until the decoder completes, running elimination
// once at least K packets are in.
func feed(ctx context.Context, dec *decoder.Decoder, pkts []*packet.Packet) (int, bool, error) {
	k := dec.NumberOfChunks()
	for n, p := range pkts {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}
		done, err := dec.Ingest(p)
		if err != nil {
			return 0, false, err
		}
		if !done && n+1 >= k {
			done = dec.Solve().Complete
		}
		if done {
			return n + 1, true, nil
		}
	}
	return len(pkts), false, nil
}

func summarize(trials []Trial) Summary {
	s := Summary{Trials: len(trials), MinNeeded: math.MaxInt}
	var needed, overhead float64
	ok := 0
	for _, t := range trials {
		if !t.Complete {
			s.Failures++
			continue
		}
		ok++
		s.MinNeeded = min(s.MinNeeded, t.Needed)
		s.MaxNeeded = max(s.MaxNeeded, t.Needed)
		needed += float64(t.Needed)
		overhead += float64(t.Needed) / float64(t.Chunks)
	}
	if ok == 0 {
		s.MinNeeded = 0
		return s
	}
	s.MeanNeeded = needed / float64(ok)
	s.MeanOverhead = overhead / float64(ok)
	return s
}
