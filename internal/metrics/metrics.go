// Package metrics exposes Prometheus collectors for queries and index builds.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lits"

// Metrics holds the collectors.
type Metrics struct {
	queryLatency  *prometheus.HistogramVec
	queryResults  prometheus.Histogram
	builds        *prometheus.CounterVec
	buildDuration *prometheus.HistogramVec
	failedBatches prometheus.Counter
	indexSize     prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Query latency by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		queryResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_results",
			Help:      "Number of results returned per successful query.",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100},
		}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Index builds by mode and outcome.",
		}, []string{"mode", "status"}),
		buildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Index build duration by mode.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"mode"}),
		failedBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_batches_failed_total",
			Help:      "Embedding batches that failed during builds.",
		}),
		indexSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_vectors",
			Help:      "Vectors in the active snapshot.",
		}),
	}

	reg.MustRegister(
		m.queryLatency,
		m.queryResults,
		m.builds,
		m.buildDuration,
		m.failedBatches,
		m.indexSize,
	)
	return m
}

// ObserveQuery records one query.
func (m *Metrics) ObserveQuery(status string, d time.Duration, results int) {
	if m == nil {
		return
	}
	m.queryLatency.WithLabelValues(status).Observe(d.Seconds())
	if status == StatusOK {
		m.queryResults.Observe(float64(results))
	}
}

// ObserveBuild records one build attempt.
func (m *Metrics) ObserveBuild(mode, status string, d time.Duration, failedBatches int) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(mode, status).Inc()
	m.buildDuration.WithLabelValues(mode).Observe(d.Seconds())
	m.failedBatches.Add(float64(failedBatches))
}

// SetIndexSize records the active snapshot size.
func (m *Metrics) SetIndexSize(n int) {
	if m == nil {
		return
	}
	m.indexSize.Set(float64(n))
}

// Outcome labels.
const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusCancelled = "cancelled"
	StatusBusy      = "busy"
)
