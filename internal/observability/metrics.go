// Package observability provides metrics and monitoring capabilities for the application.
package observability

import (
	"fmt"

	"github.com/mkarjala/foewatch-go/internal/observability/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry  *prometheus.Registry
	Cascade   *metrics.CascadeMetrics
	Deterrent *metrics.DeterrentMetrics
	Scheduler *metrics.SchedulerMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric collectors.
// It returns an error if any metric collector fails to initialize.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	cascadeMetrics, err := metrics.NewCascadeMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create cascade metrics: %w", err)
	}

	deterrentMetrics, err := metrics.NewDeterrentMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create deterrent metrics: %w", err)
	}

	schedulerMetrics, err := metrics.NewSchedulerMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler metrics: %w", err)
	}

	return &Metrics{
		registry:  registry,
		Cascade:   cascadeMetrics,
		Deterrent: deterrentMetrics,
		Scheduler: schedulerMetrics,
	}, nil
}

// Registry returns the Prometheus registry backing all collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
