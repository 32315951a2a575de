package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DeterrentMetrics contains all Prometheus metrics related to deterrent
// selection and effectiveness tracking.
type DeterrentMetrics struct {
	AttemptsCreated prometheus.Counter
	Resolutions     *prometheus.CounterVec
	Selections      *prometheus.CounterVec
	PlaybackErrors  prometheus.Counter
	PendingAttempts prometheus.Gauge
	registry        *prometheus.Registry
}

// NewDeterrentMetrics creates a new instance of DeterrentMetrics.
func NewDeterrentMetrics(registry *prometheus.Registry) (*DeterrentMetrics, error) {
	m := &DeterrentMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize deterrent metrics: %w", err)
	}
	return m, nil
}

func (m *DeterrentMetrics) initMetrics() error {
	m.AttemptsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deterrent_attempts_created_total",
		Help: "Total number of deterrent attempts created in pending state",
	})

	m.Resolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deterrent_resolutions_total",
		Help: "Total number of deterrent attempt resolutions by outcome",
	}, []string{"outcome"})

	m.Selections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deterrent_selections_total",
		Help: "Total number of sound selections by strategy",
	}, []string{"strategy"})

	m.PlaybackErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deterrent_playback_errors_total",
		Help: "Total number of failed playback calls",
	})

	m.PendingAttempts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deterrent_pending_attempts",
		Help: "Number of deterrent attempts currently awaiting an outcome",
	})

	collectors := []prometheus.Collector{
		m.AttemptsCreated, m.Resolutions, m.Selections, m.PlaybackErrors, m.PendingAttempts,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}
