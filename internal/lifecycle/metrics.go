package lifecycle

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for lifecycle operations.
type Metrics struct {
	operationsTotal    *prometheus.CounterVec
	validationsTotal   *prometheus.CounterVec
	validationDuration prometheus.Histogram
	registerer         prometheus.Registerer
}

// NewMetrics creates a new Metrics instance registered with
// prometheus.DefaultRegisterer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates a new Metrics instance with a custom
// registerer. This is useful for testing where a private registry is
// preferred.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "keygate"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		registerer: registerer,
	}

	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "operations_total",
			Help:      "Total number of key lifecycle operations",
		},
		[]string{"operation", "status"},
	)

	m.validationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "validations_total",
			Help:      "Total number of key validations",
		},
		[]string{"outcome", "reason"},
	)

	m.validationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "validation_duration_seconds",
			Help:      "Key validation duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// Register all metrics with the provided registerer, ignoring
	// duplicates. This is safe because the metric descriptors are
	// identical when re-registered.
	collectors := []prometheus.Collector{
		m.operationsTotal,
		m.validationsTotal,
		m.validationDuration,
	}
	for _, c := range collectors {
		_ = m.registerer.Register(c)
	}

	m.Init()

	return m
}

// Init pre-initializes common label combinations with zero values so
// that metrics appear in /metrics output immediately after startup.
// Prometheus *Vec types only emit metric lines after WithLabelValues()
// is called at least once. This method is idempotent and safe to call
// multiple times.
func (m *Metrics) Init() {
	operations := []string{"generate", "rotate", "complete_rotation", "revoke", "list"}
	statuses := []string{"success", "failure"}
	for _, op := range operations {
		for _, st := range statuses {
			m.operationsTotal.WithLabelValues(op, st)
		}
	}

	reasons := []string{"none", "not_found", "revoked", "expired", "origin", "rate_limited", "internal"}
	for _, reason := range reasons {
		m.validationsTotal.WithLabelValues("success", "none")
		m.validationsTotal.WithLabelValues("failure", reason)
	}
}

// RecordOperation records a lifecycle operation outcome.
func (m *Metrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordValidation records a validation outcome with its duration.
func (m *Metrics) RecordValidation(outcome, reason string, duration time.Duration) {
	m.validationsTotal.WithLabelValues(outcome, reason).Inc()
	m.validationDuration.Observe(duration.Seconds())
}
