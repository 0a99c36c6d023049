package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tcbuild"

// Outcome labels a finished step.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// Recorder collects build metrics on its own registry so several builds in one
// process never share counters.
type Recorder struct {
	registry *prometheus.Registry

	stepDuration *prometheus.HistogramVec
	findings     *prometheus.CounterVec
	artifactSize *prometheus.GaugeVec
}

// NewRecorder returns a Recorder with every metric registered.
func NewRecorder() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of build steps in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"step", "outcome"},
	)
	r.findings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_findings_total",
			Help:      "Plugin descriptor validation findings",
		},
		[]string{"kind"},
	)
	r.artifactSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "artifact_size_bytes",
			Help:      "Size of the artifacts produced by the last build",
		},
		[]string{"kind"},
	)

	r.registry.MustRegister(r.stepDuration, r.findings, r.artifactSize)
	return r
}

// ObserveStep records how long a step took.
func (r *Recorder) ObserveStep(step string, outcome Outcome, d time.Duration) {
	if r == nil {
		return
	}
	r.stepDuration.WithLabelValues(step, string(outcome)).Observe(d.Seconds())
}

// AddFindings counts validation findings of one kind.
func (r *Recorder) AddFindings(kind string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.findings.WithLabelValues(kind).Add(float64(n))
}

// SetArtifactSize records the size of the latest artifact of kind.
func (r *Recorder) SetArtifactSize(kind string, size int64) {
	if r == nil {
		return
	}
	r.artifactSize.WithLabelValues(kind).Set(float64(size))
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes every metric in the text exposition format, for the
// node exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
