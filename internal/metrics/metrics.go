// Package metrics exports import pipeline metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/finimport/internal/core"
)

const namespace = "finimport"

// Recorder implements core.Recorder on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	batchesTotal *prometheus.CounterVec
	rowsImported *prometheus.CounterVec
	rowsRejected *prometheus.CounterVec
	batchLatency *prometheus.HistogramVec
	corrections  *prometheus.CounterVec
	activeRuns   prometheus.Gauge
}

// New builds a Recorder. Go runtime and process collectors are registered
// alongside the import metrics.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		batchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Import batches by entity and result.",
		}, []string{"entity", "result"}),
		rowsImported: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_imported_total",
			Help:      "Rows committed to storage.",
		}, []string{"entity"}),
		rowsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_rejected_total",
			Help:      "Rows held back for correction, by reason.",
		}, []string{"entity", "reason"}),
		batchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time spent committing or rolling back one batch.",
			Buckets: []float64{
				0.005, 0.01, 0.025, 0.05,
				0.1, 0.25, 0.5,
				1, 2.5, 5, 10, 30,
			},
		}, []string{"entity", "result"}),
		corrections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrections_total",
			Help:      "Submitted corrections by outcome.",
		}, []string{"entity", "outcome"}),
		activeRuns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Runs currently holding candidates for correction.",
		}),
	}
}

func (r *Recorder) BatchCommitted(entity core.EntityKind, rows int, elapsed time.Duration) {
	r.batchesTotal.WithLabelValues(string(entity), "committed").Inc()
	r.rowsImported.WithLabelValues(string(entity)).Add(float64(rows))
	r.batchLatency.WithLabelValues(string(entity), "committed").Observe(elapsed.Seconds())
}

func (r *Recorder) BatchFailed(entity core.EntityKind, rows int, elapsed time.Duration) {
	r.batchesTotal.WithLabelValues(string(entity), "failed").Inc()
	r.batchLatency.WithLabelValues(string(entity), "failed").Observe(elapsed.Seconds())
}

func (r *Recorder) RowsRejected(entity core.EntityKind, reason string, n int) {
	if n <= 0 {
		return
	}
	r.rowsRejected.WithLabelValues(string(entity), reason).Add(float64(n))
}

func (r *Recorder) CorrectionSubmitted(entity core.EntityKind, outcome string) {
	r.corrections.WithLabelValues(string(entity), outcome).Inc()
}

func (r *Recorder) RunsActive(n int) {
	r.activeRuns.Set(float64(n))
}

// Registry exposes the underlying registry for tests and extra collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
