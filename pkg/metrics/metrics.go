// Package metrics exposes Prometheus instrumentation for the lot service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	LifecycleOperations      *prometheus.CounterVec
	ReconciliationFindings   *prometheus.CounterVec
	SessionsFinalized        prometheus.Counter
	SessionsCancelled        prometheus.Counter
	AllocationSuggestions    prometheus.Counter
}

// New creates a Metrics instance backed by its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		LifecycleOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stocktrace",
			Name:      "lifecycle_operations_total",
			Help:      "Lot lifecycle operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		ReconciliationFindings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stocktrace",
			Name:      "reconciliation_findings_total",
			Help:      "Reconciliation findings by classification.",
		}, []string{"type"}),
		SessionsFinalized: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stocktrace",
			Name:      "inventory_sessions_finalized_total",
			Help:      "Inventory sessions finalized.",
		}),
		SessionsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stocktrace",
			Name:      "inventory_sessions_cancelled_total",
			Help:      "Inventory sessions cancelled.",
		}),
		AllocationSuggestions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stocktrace",
			Name:      "allocation_suggestions_total",
			Help:      "FEFO allocation suggestions computed.",
		}),
	}
}

// ObserveOperation records a lifecycle operation outcome.
func (m *Metrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.LifecycleOperations.WithLabelValues(operation, outcome).Inc()
}

// ObserveFinding records a reconciliation classification.
func (m *Metrics) ObserveFinding(findingType string) {
	if m == nil {
		return
	}
	m.ReconciliationFindings.WithLabelValues(findingType).Inc()
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
