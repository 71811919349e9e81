// Package metrics publishes pipeline counters through Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder aggregates run outcomes. A nil *Recorder discards everything,
// so callers never need to check whether metrics are enabled.
type Recorder struct {
	reg         *prometheus.Registry
	rowsLoaded  *prometheus.CounterVec
	rowsUpdated *prometheus.CounterVec
	skipped     *prometheus.CounterVec
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		rowsLoaded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rmef",
			Name:      "rows_loaded_total",
			Help:      "Rows committed to the warehouse, by entity.",
		}, []string{"entity"}),
		rowsUpdated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rmef",
			Name:      "rows_updated_total",
			Help:      "Rows updated in place, by entity.",
		}, []string{"entity"}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rmef",
			Name:      "records_skipped_total",
			Help:      "Source records not loaded, by entity and reason.",
		}, []string{"entity", "reason"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rmef",
			Name:      "runs_total",
			Help:      "Pipeline runs, by kind and status.",
		}, []string{"kind", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rmef",
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"kind"}),
	}
}

func (r *Recorder) AddLoaded(entity string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.rowsLoaded.WithLabelValues(entity).Add(float64(n))
}

func (r *Recorder) AddUpdated(entity string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.rowsUpdated.WithLabelValues(entity).Add(float64(n))
}

func (r *Recorder) AddSkipped(entity, reason string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.skipped.WithLabelValues(entity, reason).Add(float64(n))
}

func (r *Recorder) ObserveRun(kind, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(kind, status).Inc()
	r.duration.WithLabelValues(kind).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
