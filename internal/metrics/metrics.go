package metrics

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Operation outcomes.
const (
	ResultOK       = "ok"
	ResultFailed   = "failed"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// Metrics records coordinator outcomes on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Operations *prometheus.CounterVec
	Steals     prometheus.Counter
	Duration   *prometheus.HistogramVec
}

// New creates the collectors and registers them.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leasekeeper_operations_total",
			Help: "Lease coordinator operations by outcome",
		}, []string{"operation", "result"}),

		Steals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leasekeeper_lease_steals_total",
			Help: "Leases taken from another live owner",
		}),

		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leasekeeper_operation_duration_seconds",
			Help:    "Lease coordinator operation latency",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"operation"}),
	}

	registry.MustRegister(m.Operations, m.Steals, m.Duration)
	return m
}

// Observe records one finished operation.
func (m *Metrics) Observe(operation, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, result).Inc()
	m.Duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// Steal records a forced takeover.
func (m *Metrics) Steal() {
	if m == nil {
		return
	}
	m.Steals.Inc()
}

// WriteText writes the current metric values in the text format.
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return nil
}
