package buffer

import (
	"github.com/tylp/nseqe/metric"
)

// Option configures buffer behavior using the functional options pattern.
type Option[T any] func(*options[T])

type options[T any] struct {
	overflowPolicy OverflowPolicy
	dropCallback   DropCallback[T]

	// metricsReg is optional; if provided, buffer stats are also exposed
	// as Prometheus metrics under metricsPrefix
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
}

// WithOverflowPolicy sets the overflow behavior for the buffer.
// Defaults to DropOldest if not specified.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(opts *options[T]) {
		opts.overflowPolicy = policy
	}
}

// WithMetrics enables Prometheus metrics export for buffer statistics.
// A nil registry or empty prefix leaves metrics disabled.
func WithMetrics[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(opts *options[T]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithDropCallback sets a callback invoked with each dropped item.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(opts *options[T]) {
		opts.dropCallback = callback
	}
}

func applyOptions[T any](opts ...Option[T]) *options[T] {
	o := &options[T]{
		overflowPolicy: DropOldest,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
