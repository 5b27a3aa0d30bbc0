package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the recognition pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Frames processed by outcome: no_face, unmatched, matched
	FrameOutcome *prometheus.CounterVec

	// Registry entries the matcher could not score, by reason
	SkippedEntries *prometheus.CounterVec

	// Detector / extractor latency by stage
	StageLatency *prometheus.HistogramVec

	// Detector / extractor failures (errors and timeouts) by stage
	StageFailures *prometheus.CounterVec

	// Number of enrolled identities
	RegistrySize prometheus.Gauge
}

// New creates a Metrics instance registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FrameOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "facegate_frames_total",
			Help: "Frames processed by recognition outcome",
		}, []string{"outcome"}),

		SkippedEntries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "facegate_matcher_skipped_entries_total",
			Help: "Registry entries skipped during matching because they could not be scored",
		}, []string{"reason"}), // reason: "dimension_mismatch", "degenerate", "non_finite", "other"

		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "facegate_stage_duration_seconds",
			Help:    "Duration of external model calls by stage",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"stage"}), // stage: "detect", "embed"

		StageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "facegate_stage_failures_total",
			Help: "External model calls that failed or timed out, by stage",
		}, []string{"stage"}),

		RegistrySize: f.NewGauge(prometheus.GaugeOpts{
			Name: "facegate_registry_identities",
			Help: "Number of identities currently enrolled",
		}),
	}
}

// IncrementOutcome records the outcome of one frame.
func (m *Metrics) IncrementOutcome(outcome string) {
	if m != nil {
		m.FrameOutcome.WithLabelValues(outcome).Inc()
	}
}

// IncrementSkipped records a registry entry the matcher skipped.
func (m *Metrics) IncrementSkipped(reason string) {
	if m != nil {
		m.SkippedEntries.WithLabelValues(reason).Inc()
	}
}

// ObserveStage records the duration of a detector or extractor call.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m != nil {
		m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// IncrementStageFailure records a failed detector or extractor call.
func (m *Metrics) IncrementStageFailure(stage string) {
	if m != nil {
		m.StageFailures.WithLabelValues(stage).Inc()
	}
}

// SetRegistrySize publishes the current number of identities.
func (m *Metrics) SetRegistrySize(n int) {
	if m != nil {
		m.RegistrySize.Set(float64(n))
	}
}
