// Package monitoring exports generation metrics and raises alerts on poor
// split statistics.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
)

// Metrics counts sample attempts per split. Each Metrics owns its registry so
// that runs and tests do not share state.
type Metrics struct {
	registry   *prometheus.Registry
	attempts   *prometheus.CounterVec
	rejections *prometheus.CounterVec
	exhausted  *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates and registers the generator metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datagen_attempts_total",
			Help: "Sample attempts by split and outcome",
		}, []string{"split", "outcome"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datagen_rejections_total",
			Help: "Failed acceptance criteria by split and criterion",
		}, []string{"split", "criterion"}),
		exhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datagen_retries_exhausted_total",
			Help: "Samples that hit the rejection cap",
		}, []string{"split"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "datagen_attempt_duration_seconds",
			Help:    "Wall time of one sample attempt",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"split"}),
	}
	m.registry.MustRegister(m.attempts, m.rejections, m.exhausted, m.duration)
	return m
}

// Attempt records one finished attempt.
func (m *Metrics) Attempt(split, outcome string, d time.Duration) {
	m.attempts.WithLabelValues(split, outcome).Inc()
	m.duration.WithLabelValues(split).Observe(d.Seconds())
}

// Rejection records one failed criterion of a rejected attempt.
func (m *Metrics) Rejection(split, criterion string) {
	m.rejections.WithLabelValues(split, criterion).Inc()
}

// Exhausted records a sample that reached the rejection cap.
func (m *Metrics) Exhausted(split string) {
	m.exhausted.WithLabelValues(split).Inc()
}

// WriteTextfile writes the metrics in the node exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return eris.Wrapf(prometheus.WriteToTextfile(path, m.registry), "monitoring: write textfile %s", path)
}
