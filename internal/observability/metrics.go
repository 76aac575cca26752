package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects decision and dispatch counters on a private
// prometheus registry.
type Metrics struct {
	registry         *prometheus.Registry
	policyDecisions  *prometheus.CounterVec
	actionDispatches *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	queueDepth       prometheus.Gauge
}

// NewMetrics creates a metrics collector with all counters registered.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	return &Metrics{
		registry: registry,
		policyDecisions: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "policy_decisions_total",
			Help: "Total number of policy decisions by outcome",
		}, []string{"outcome"}),
		actionDispatches: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "automation_dispatches_total",
			Help: "Total number of automation action dispatches by type and status",
		}, []string{"action_type", "status"}),
		dispatchDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "automation_dispatch_duration_seconds",
			Help:    "Time taken to dispatch one automation action",
			Buckets: prometheus.DefBuckets,
		}),
		queueDepth: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "automation_queue_pending",
			Help: "Pending actions seen by the most recent queue drain",
		}),
	}
}

// RecordDecision counts one policy decision.
func (m *Metrics) RecordDecision(allowed bool) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	m.policyDecisions.WithLabelValues(outcome).Inc()
}

// RecordDispatch counts one dispatch and its duration.
func (m *Metrics) RecordDispatch(actionType, status string, duration time.Duration) {
	m.actionDispatches.WithLabelValues(actionType, status).Inc()
	m.dispatchDuration.Observe(duration.Seconds())
}

// SetQueueDepth records the pending count observed by a queue drain.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
