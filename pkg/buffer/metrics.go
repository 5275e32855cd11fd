package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tylp/nseqe/metric"
)

// ringMetrics exposes buffer statistics as Prometheus metrics.
type ringMetrics struct {
	writes      prometheus.Counter
	drops       prometheus.Counter
	utilization prometheus.Gauge
}

func newRingMetrics(registry *metric.MetricsRegistry, prefix string) (*ringMetrics, error) {
	m := &ringMetrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nseqe",
			Subsystem: "buffer",
			Name:      prefix + "_writes_total",
			Help:      "Total items written to the buffer",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nseqe",
			Subsystem: "buffer",
			Name:      prefix + "_drops_total",
			Help:      "Items dropped due to overflow policy",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nseqe",
			Subsystem: "buffer",
			Name:      prefix + "_utilization_ratio",
			Help:      "Buffer usage (0-1) showing backpressure",
		}),
	}

	if err := registry.RegisterCounter("buffer", prefix+"_writes", m.writes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("buffer", prefix+"_drops", m.drops); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("buffer", prefix+"_utilization", m.utilization); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *ringMetrics) recordWrite(size, capacity int) {
	m.writes.Inc()
	m.updateSize(size, capacity)
}

func (m *ringMetrics) recordDrop() {
	m.drops.Inc()
}

func (m *ringMetrics) updateSize(size, capacity int) {
	if capacity > 0 {
		m.utilization.Set(float64(size) / float64(capacity))
	}
}
