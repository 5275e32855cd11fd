package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tylp/nseqe/metric"
)

// engineMetrics holds Prometheus metrics for scenario orchestration.
type engineMetrics struct {
	scenariosTotal *prometheus.CounterVec // By outcome (completed/failed)
	nodesActive    prometheus.Gauge       // Current number of started nodes
}

// newEngineMetrics creates and registers engine metrics with the provided
// registry. A nil registry disables metrics.
func newEngineMetrics(registry *metric.MetricsRegistry) *engineMetrics {
	if registry == nil {
		return nil
	}

	m := &engineMetrics{
		scenariosTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nseqe",
			Subsystem: "engine",
			Name:      "scenarios_total",
			Help:      "Total number of scenarios run, by outcome",
		}, []string{"outcome"}),

		nodesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nseqe",
			Subsystem: "engine",
			Name:      "nodes_active",
			Help:      "Current number of started node runtimes",
		}),
	}

	// Registration only collides when two engines share a registry; the
	// first engine's metrics stay authoritative in that case.
	if err := registry.RegisterCounterVec("engine", "scenarios", m.scenariosTotal); err != nil {
		return nil
	}
	if err := registry.RegisterGauge("engine", "nodes_active", m.nodesActive); err != nil {
		return nil
	}

	return m
}
