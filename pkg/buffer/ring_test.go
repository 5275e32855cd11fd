package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tylp/nseqe/metric"
)

func TestRing_WriteRead(t *testing.T) {
	ring, err := NewRing[int](4)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, ring.Write(i))
	}
	assert.Equal(t, 3, ring.Size())

	v, ok := ring.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	got := ring.ReadBatch(10)
	assert.Equal(t, []int{2, 3}, got)

	_, ok = ring.Read()
	assert.False(t, ok)
}

func TestRing_DropOldest(t *testing.T) {
	var dropped []string
	ring, err := NewRing(2,
		WithOverflowPolicy[string](DropOldest),
		WithDropCallback[string](func(item string) { dropped = append(dropped, item) }),
	)
	require.NoError(t, err)

	require.NoError(t, ring.Write("a"))
	require.NoError(t, ring.Write("b"))
	require.NoError(t, ring.Write("c"))

	assert.Equal(t, []string{"b", "c"}, ring.Snapshot())
	assert.Equal(t, []string{"a"}, dropped)
	assert.Equal(t, int64(1), ring.Stats().Overflows())
	assert.Equal(t, int64(1), ring.Stats().Drops())
}

func TestRing_DropCallbackMayReenter(t *testing.T) {
	var ring Buffer[string]
	var seen []string
	var sizes []int

	ring, err := NewRing(2,
		WithOverflowPolicy[string](DropOldest),
		WithDropCallback[string](func(item string) {
			// Re-entering the buffer from the callback must not deadlock.
			seen = append(seen, item)
			sizes = append(sizes, len(ring.Snapshot()))
		}),
	)
	require.NoError(t, err)

	require.NoError(t, ring.Write("a"))
	require.NoError(t, ring.Write("b"))

	done := make(chan struct{})
	go func() {
		_ = ring.Write("c")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drop callback deadlocked against the buffer lock")
	}

	assert.Equal(t, []string{"a"}, seen)
	assert.Equal(t, []int{2}, sizes)
}

func TestRing_DropNewest(t *testing.T) {
	ring, err := NewRing(2, WithOverflowPolicy[string](DropNewest))
	require.NoError(t, err)

	require.NoError(t, ring.Write("a"))
	require.NoError(t, ring.Write("b"))
	require.NoError(t, ring.Write("c"))

	assert.Equal(t, []string{"a", "b"}, ring.Snapshot())
	assert.Equal(t, int64(1), ring.Stats().Drops())
}

func TestRing_Snapshot_DoesNotConsume(t *testing.T) {
	ring, err := NewRing[int](4)
	require.NoError(t, err)

	require.NoError(t, ring.Write(1))
	require.NoError(t, ring.Write(2))

	assert.Equal(t, []int{1, 2}, ring.Snapshot())
	assert.Equal(t, 2, ring.Size())
}

func TestRing_Clear(t *testing.T) {
	ring, err := NewRing[int](4)
	require.NoError(t, err)

	require.NoError(t, ring.Write(1))
	ring.Clear()
	assert.Equal(t, 0, ring.Size())
	_, ok := ring.Read()
	assert.False(t, ok)
}

func TestRing_ClosedWriteFails(t *testing.T) {
	ring, err := NewRing[int](4)
	require.NoError(t, err)

	require.NoError(t, ring.Close())
	assert.Error(t, ring.Write(1))
}

func TestRing_WrapAround(t *testing.T) {
	ring, err := NewRing[int](3)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, ring.Write(i))
	}
	// Drop-oldest keeps the newest three in order
	assert.Equal(t, []int{7, 8, 9}, ring.Snapshot())
}

func TestRing_ConcurrentAccess(t *testing.T) {
	ring, err := NewRing[int](128)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = ring.Write(base + i)
				ring.Read()
			}
		}(g * 1000)
	}
	wg.Wait()

	assert.Equal(t, int64(800), ring.Stats().Writes())
}

func TestRing_WithMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	ring, err := NewRing(2, WithMetrics[int](registry, "test_inbox"))
	require.NoError(t, err)

	require.NoError(t, ring.Write(1))
	require.NoError(t, ring.Write(2))
	require.NoError(t, ring.Write(3)) // overflow

	assert.Equal(t, int64(1), ring.Stats().Drops())
}
