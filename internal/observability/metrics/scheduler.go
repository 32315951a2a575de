package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerMetrics contains all Prometheus metrics related to camera scheduling.
type SchedulerMetrics struct {
	Ticks                 *prometheus.CounterVec
	TickDuration          prometheus.Histogram
	DiagnosticEvents      *prometheus.CounterVec
	UnhealthyCameras      prometheus.Gauge
	ConcurrencyViolations prometheus.Counter
	registry              *prometheus.Registry
}

// NewSchedulerMetrics creates a new instance of SchedulerMetrics.
func NewSchedulerMetrics(registry *prometheus.Registry) (*SchedulerMetrics, error) {
	m := &SchedulerMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize scheduler metrics: %w", err)
	}
	return m, nil
}

func (m *SchedulerMetrics) initMetrics() error {
	m.Ticks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_ticks_total",
		Help: "Total number of camera ticks by result",
	}, []string{"camera", "result"})

	m.TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_tick_duration_seconds",
		Help:    "Duration of complete camera ticks",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	m.DiagnosticEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_diagnostic_events_total",
		Help: "Total number of diagnostic events by camera",
	}, []string{"camera"})

	m.UnhealthyCameras = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_unhealthy_cameras",
		Help: "Number of cameras currently marked unhealthy",
	})

	m.ConcurrencyViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_concurrency_violations_total",
		Help: "Ticks rejected because the camera was already mid-tick",
	})

	collectors := []prometheus.Collector{
		m.Ticks, m.TickDuration, m.DiagnosticEvents, m.UnhealthyCameras, m.ConcurrencyViolations,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}
