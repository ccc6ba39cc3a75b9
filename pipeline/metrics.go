package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus-compatible metrics for pipeline execution.
//
// Metrics exposed (all namespaced with "steppipe_"):
//
//  1. steps_total (counter): completed step executions.
//     Labels: status (success/error).
//  2. step_duration_seconds (histogram): step execution duration.
//     Labels: step.
//  3. checkpoints_saved_total (counter): checkpoints written.
//  4. resumed_steps_skipped_total (counter): steps skipped because a
//     resumed ledger marked them complete.
//  5. inflight_steps (gauge): steps currently executing (0 or 1 for a
//     sequential runner; useful when several runners share a registry).
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := pipeline.NewMetrics(registry)
//	runner := pipeline.New(cfg, store, pipeline.WithMetrics(metrics))
//
//	// Expose via HTTP for Prometheus scraping:
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type Metrics struct {
	stepsTotal       *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	checkpointsSaved prometheus.Counter
	stepsSkipped     prometheus.Counter
	inflightSteps    prometheus.Gauge
}

// NewMetrics creates and registers all pipeline execution metrics with
// the provided Prometheus registry.
//
// Pass prometheus.DefaultRegisterer for the global registry, or a
// dedicated prometheus.NewRegistry() for isolation (recommended when
// multiple runners coexist in one process).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		stepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "steppipe",
			Name:      "steps_total",
			Help:      "Completed pipeline step executions by status.",
		}, []string{"status"}),

		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "steppipe",
			Name:      "step_duration_seconds",
			Help:      "Pipeline step execution duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"step"}),

		checkpointsSaved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "steppipe",
			Name:      "checkpoints_saved_total",
			Help:      "Checkpoints written to the store.",
		}),

		stepsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "steppipe",
			Name:      "resumed_steps_skipped_total",
			Help:      "Steps skipped on resume because the ledger marked them complete.",
		}),

		inflightSteps: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "steppipe",
			Name:      "inflight_steps",
			Help:      "Steps currently executing.",
		}),
	}
}

// All recording methods are nil-safe so the runner can treat metrics as
// optional without branching at every call site.

func (m *Metrics) stepStarted() {
	if m == nil {
		return
	}
	m.inflightSteps.Inc()
}

func (m *Metrics) stepFinished(step, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.inflightSteps.Dec()
	m.stepsTotal.WithLabelValues(status).Inc()
	m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (m *Metrics) checkpointSaved() {
	if m == nil {
		return
	}
	m.checkpointsSaved.Inc()
}

func (m *Metrics) stepSkipped() {
	if m == nil {
		return
	}
	m.stepsSkipped.Inc()
}
