// Package metrics provides custom Prometheus metrics for the pipeline components.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// CascadeMetrics contains all Prometheus metrics related to the classification cascade.
type CascadeMetrics struct {
	FramesProcessed prometheus.Counter
	FramesSkipped   prometheus.Counter
	StageCalls      *prometheus.CounterVec
	StageFailures   *prometheus.CounterVec
	CloudCost       prometheus.Counter
	CacheHits       prometheus.Counter
	Inconclusive    prometheus.Counter
	Detections      *prometheus.CounterVec
	registry        *prometheus.Registry
}

// NewCascadeMetrics creates a new instance of CascadeMetrics.
func NewCascadeMetrics(registry *prometheus.Registry) (*CascadeMetrics, error) {
	m := &CascadeMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize cascade metrics: %w", err)
	}
	return m, nil
}

func (m *CascadeMetrics) initMetrics() error {
	m.FramesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cascade_frames_processed_total",
		Help: "Total number of frames that entered the classification cascade",
	})

	m.FramesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cascade_frames_skipped_total",
		Help: "Total number of frames skipped by the change filter",
	})

	m.StageCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_stage_calls_total",
		Help: "Total number of classifier stage invocations",
	}, []string{"stage"})

	m.StageFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_stage_failures_total",
		Help: "Total number of classifier stage failures",
	}, []string{"stage"})

	m.CloudCost = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cascade_cloud_cost_total",
		Help: "Accumulated monetary cost of cloud vision calls",
	})

	m.CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cascade_cloud_cache_hits_total",
		Help: "Cloud analyze results served from the perceptual hash cache",
	})

	m.Inconclusive = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cascade_inconclusive_total",
		Help: "Frames on which every cascade stage failed",
	})

	m.Detections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_detections_total",
		Help: "Total number of detections by resolved kind",
	}, []string{"kind"})

	collectors := []prometheus.Collector{
		m.FramesProcessed, m.FramesSkipped, m.StageCalls, m.StageFailures,
		m.CloudCost, m.CacheHits, m.Inconclusive, m.Detections,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}
