// Package buffer provides a generic, thread-safe bounded ring buffer with
// configurable overflow policies.
//
// Statistics (writes, reads, drops, overflows) are always collected for
// observability; Prometheus export is optional via WithMetrics().
package buffer

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item dropped by the overflow policy.
type DropCallback[T any] func(item T)

// Buffer is the interface satisfied by ring buffer implementations.
type Buffer[T any] interface {
	// Write adds an item to the buffer; behavior at capacity depends on
	// the overflow policy. Returns an error only when the buffer is closed.
	Write(item T) error

	// Read retrieves and removes the oldest item.
	// Returns the zero value and false when the buffer is empty.
	Read() (T, bool)

	// ReadBatch retrieves and removes up to max items in arrival order.
	ReadBatch(max int) []T

	// Snapshot returns a copy of the buffered items in arrival order
	// without removing them.
	Snapshot() []T

	// Size returns the current number of buffered items.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// Clear removes all items.
	Clear()

	// Stats returns buffer statistics.
	Stats() *Statistics

	// Close shuts down the buffer; subsequent writes fail.
	Close() error
}

// NewRing creates a new bounded ring buffer with the given capacity.
// Configuration beyond capacity is via functional options.
func NewRing[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newRing(capacity, opts)
}
