package buffer

import (
	"sync"

	"github.com/tylp/nseqe/errors"
)

// ring is a thread-safe bounded ring buffer.
type ring[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	metrics  *ringMetrics
	opts     *options[T]
	closed   bool
}

func newRing[T any](capacity int, opts *options[T]) (*ring[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *ringMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newRingMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newRing", "metrics registration")
		}
	}

	return &ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}, nil
}

// Write adds an item to the buffer according to the overflow policy. The
// drop callback runs after the lock is released, so it may safely re-enter
// the buffer.
func (r *ring[T]) Write(item T) error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write", "buffer closed")
	}

	var dropped T
	notifyDrop := false

	if r.size == r.capacity {
		switch r.opts.overflowPolicy {
		case DropOldest:
			dropped = r.items[r.tail]
			r.tail = (r.tail + 1) % r.capacity
			r.size--

			r.stats.Overflow()
			r.stats.Drop()
			if r.metrics != nil {
				r.metrics.recordDrop()
			}
			notifyDrop = r.opts.dropCallback != nil

		case DropNewest:
			r.stats.Overflow()
			r.stats.Drop()
			if r.metrics != nil {
				r.metrics.recordDrop()
			}
			notifyDrop = r.opts.dropCallback != nil
			r.mu.Unlock()
			if notifyDrop {
				r.opts.dropCallback(item)
			}
			return nil
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++

	r.stats.Write()
	r.stats.UpdateSize(int64(r.size))
	if r.metrics != nil {
		r.metrics.recordWrite(r.size, r.capacity)
	}

	r.mu.Unlock()
	if notifyDrop {
		r.opts.dropCallback(dropped)
	}
	return nil
}

// Read retrieves and removes the oldest item.
func (r *ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}

	item := r.items[r.tail]
	r.items[r.tail] = zero // clear for GC
	r.tail = (r.tail + 1) % r.capacity
	r.size--

	r.stats.Read()
	r.stats.UpdateSize(int64(r.size))
	if r.metrics != nil {
		r.metrics.updateSize(r.size, r.capacity)
	}

	return item, true
}

// ReadBatch retrieves and removes up to max items in arrival order.
func (r *ring[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return nil
	}

	count := max
	if count > r.size {
		count = r.size
	}

	result := make([]T, count)
	var zero T
	for i := 0; i < count; i++ {
		result[i] = r.items[r.tail]
		r.items[r.tail] = zero
		r.tail = (r.tail + 1) % r.capacity
		r.size--
		r.stats.Read()
	}

	r.stats.UpdateSize(int64(r.size))
	if r.metrics != nil {
		r.metrics.updateSize(r.size, r.capacity)
	}

	return result
}

// Snapshot returns a copy of buffered items in arrival order.
func (r *ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		result[i] = r.items[(r.tail+i)%r.capacity]
	}
	return result
}

// Size returns the current number of buffered items.
func (r *ring[T]) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Capacity returns the maximum number of items the buffer can hold.
func (r *ring[T]) Capacity() int {
	return r.capacity // immutable, no lock needed
}

// Clear removes all items.
func (r *ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := 0; i < r.capacity; i++ {
		r.items[i] = zero
	}
	r.head = 0
	r.tail = 0
	r.size = 0

	r.stats.UpdateSize(0)
	if r.metrics != nil {
		r.metrics.updateSize(0, r.capacity)
	}
}

// Stats returns buffer statistics.
func (r *ring[T]) Stats() *Statistics {
	return r.stats
}

// Close shuts down the buffer; subsequent writes fail.
func (r *ring[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
