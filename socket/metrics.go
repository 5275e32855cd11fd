package socket

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tylp/nseqe/metric"
)

// Metrics tracks socket-layer activity. A nil *Metrics disables recording, so
// every use is guarded by a nil check.
type Metrics struct {
	connectionsOpened   prometheus.Counter
	connectionsAccepted prometheus.Counter
	messagesReceived    prometheus.Counter
	bytesReceived       prometheus.Counter
	acceptErrors        prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		connectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nseqe",
			Subsystem: "socket",
			Name:      "connections_opened_total",
			Help:      "Outbound connections established",
		}),
		connectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nseqe",
			Subsystem: "socket",
			Name:      "connections_accepted_total",
			Help:      "Inbound TCP connections accepted",
		}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nseqe",
			Subsystem: "socket",
			Name:      "messages_received_total",
			Help:      "Inbound messages delivered to the sink",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nseqe",
			Subsystem: "socket",
			Name:      "bytes_received_total",
			Help:      "Inbound payload bytes",
		}),
		acceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nseqe",
			Subsystem: "socket",
			Name:      "accept_errors_total",
			Help:      "TCP accept failures",
		}),
	}

	// Registration conflicts only happen with duplicate layers sharing a
	// registry; metrics stay usable either way.
	_ = registry.RegisterCounter("socket", "connections_opened", m.connectionsOpened)
	_ = registry.RegisterCounter("socket", "connections_accepted", m.connectionsAccepted)
	_ = registry.RegisterCounter("socket", "messages_received", m.messagesReceived)
	_ = registry.RegisterCounter("socket", "bytes_received", m.bytesReceived)
	_ = registry.RegisterCounter("socket", "accept_errors", m.acceptErrors)

	return m
}
