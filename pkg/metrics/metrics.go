// pkg/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fountain"

/* ------------------------------------------------------------------------ */
/* encoder                                                                  */
/* ------------------------------------------------------------------------ */

// Encoder counts packet generation. A nil *Encoder records nothing.
type Encoder struct {
	emitted prometheus.Counter
	dropped prometheus.Counter
}

// NewEncoder registers the encoder collectors on reg (when non-nil).
func NewEncoder(reg prometheus.Registerer) *Encoder {
	m := &Encoder{
		emitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_emitted_total",
			Help:      "Packets handed out by encoders.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Packets discarded by the rule-engine filter.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.emitted, m.dropped)
	}
	return m
}

func (m *Encoder) Emitted() {
	if m != nil {
		m.emitted.Inc()
	}
}

func (m *Encoder) Dropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

/* ------------------------------------------------------------------------ */
/* decoder                                                                  */
/* ------------------------------------------------------------------------ */

// Decoder counts packet ingestion and solver work. A nil *Decoder records
// nothing.
type Decoder struct {
	ingested  prometheus.Counter
	rejected  prometheus.Counter
	solved    prometheus.Counter
	conflicts prometheus.Counter
	passes    prometheus.Counter
	duration  prometheus.Histogram
}

// NewDecoder registers the decoder collectors on reg (when non-nil).
func NewDecoder(reg prometheus.Registerer) *Decoder {
	m := &Decoder{
		ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_ingested_total",
			Help:      "Packets accepted by decoders.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_rejected_total",
			Help:      "Packets dropped for failed checks or malformed headers.",
		}),
		solved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_solved_total",
			Help:      "Chunks committed to solved state.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_conflicts_total",
			Help:      "Re-solutions that disagreed with the committed chunk.",
		}),
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "elimination_passes_total",
			Help:      "Gaussian elimination passes run after peeling stalled.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decode_duration_seconds",
			Help:      "Latency of Solve calls.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ingested, m.rejected, m.solved, m.conflicts, m.passes, m.duration)
	}
	return m
}

func (m *Decoder) Ingested() {
	if m != nil {
		m.ingested.Inc()
	}
}

func (m *Decoder) Rejected() {
	if m != nil {
		m.rejected.Inc()
	}
}

func (m *Decoder) Solved() {
	if m != nil {
		m.solved.Inc()
	}
}

func (m *Decoder) Conflict() {
	if m != nil {
		m.conflicts.Inc()
	}
}

func (m *Decoder) Pass() {
	if m != nil {
		m.passes.Inc()
	}
}

// ObserveSince records the time elapsed since start.
func (m *Decoder) ObserveSince(start time.Time) {
	if m != nil {
		m.duration.Observe(time.Since(start).Seconds())
	}
}
