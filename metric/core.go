package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all engine-level metrics (not component-specific)
type Metrics struct {
	// NodeStatus reports the sequence runner state per node
	// (0=idle, 1=running, 2=blocked, 3=completed, 4=failed)
	NodeStatus *prometheus.GaugeVec

	// ActionsTotal counts processed sequence actions by kind and outcome
	ActionsTotal *prometheus.CounterVec

	// ActionDuration measures action execution time
	ActionDuration *prometheus.HistogramVec

	// WaitsTotal counts resolved wait actions by kind and outcome
	// (completed, timed_out, cancelled)
	WaitsTotal *prometheus.CounterVec

	// TaskTicksTotal counts background task executions by task and status
	TaskTicksTotal *prometheus.CounterVec

	// InboxOverflows counts messages dropped from the per-node inbox
	InboxOverflows *prometheus.CounterVec

	// ErrorsTotal counts errors by component and class
	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all engine metrics
func NewMetrics() *Metrics {
	return &Metrics{
		NodeStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "nseqe",
				Subsystem: "node",
				Name:      "status",
				Help:      "Sequence runner state (0=idle, 1=running, 2=blocked, 3=completed, 4=failed)",
			},
			[]string{"node"},
		),

		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nseqe",
				Subsystem: "actions",
				Name:      "total",
				Help:      "Total number of sequence actions processed",
			},
			[]string{"node", "kind", "outcome"},
		),

		ActionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "nseqe",
				Subsystem: "actions",
				Name:      "duration_seconds",
				Help:      "Action execution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"node", "kind"},
		),

		WaitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nseqe",
				Subsystem: "waits",
				Name:      "total",
				Help:      "Total number of resolved wait actions",
			},
			[]string{"node", "kind", "outcome"},
		),

		TaskTicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nseqe",
				Subsystem: "tasks",
				Name:      "ticks_total",
				Help:      "Total number of background task executions",
			},
			[]string{"node", "task", "status"},
		),

		InboxOverflows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nseqe",
				Subsystem: "inbox",
				Name:      "overflows_total",
				Help:      "Messages dropped from the per-node inbox due to overflow",
			},
			[]string{"node"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nseqe",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by component and class",
			},
			[]string{"component", "class"},
		),
	}
}

// NodeStatusValue converts a runner state name to its gauge value
func NodeStatusValue(state string) float64 {
	switch state {
	case "idle":
		return 0
	case "running":
		return 1
	case "blocked":
		return 2
	case "completed":
		return 3
	case "failed":
		return 4
	default:
		return -1
	}
}
