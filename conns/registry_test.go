package conns

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tylp/nseqe/errors"
	"github.com/tylp/nseqe/script"
	"github.com/tylp/nseqe/socket"
)

type nopSink struct{}

func (nopSink) HandleMessage(socket.InboundMessage) {}
func (nopSink) HandleAccepted(*socket.Conn)         {}

// dialPair opens a UDP listener plus a logical connection to it and returns
// the connected socket.
func dialPair(t *testing.T, layer *socket.Layer) *socket.Conn {
	t.Helper()

	ln, err := layer.Bind(context.Background(), script.Endpoint{Address: "127.0.0.1", Port: 0}, script.UDP)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	conn, err := layer.Connect(context.Background(), ln.Local(), script.UDP, time.Second)
	require.NoError(t, err)
	return conn
}

func newTestLayer(t *testing.T) *socket.Layer {
	t.Helper()
	layer := socket.NewLayer(socket.LayerDeps{Sink: nopSink{}})
	t.Cleanup(func() { _ = layer.Shutdown(time.Second) })
	return layer
}

func TestRegistryInsertAndLookup(t *testing.T) {
	layer := newTestLayer(t)
	registry := NewRegistry(nil)
	defer registry.CloseAll()

	sock := dialPair(t, layer)
	conn, err := registry.Insert(sock)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, conn.State())
	assert.False(t, conn.Opened().IsZero())

	found, err := registry.Lookup(conn.Key())
	require.NoError(t, err)
	assert.Same(t, conn, found)
	assert.Equal(t, 1, registry.Len())
}

func TestRegistryDuplicateInsert(t *testing.T) {
	layer := newTestLayer(t)
	registry := NewRegistry(nil)
	defer registry.CloseAll()

	sock := dialPair(t, layer)
	_, err := registry.Insert(sock)
	require.NoError(t, err)

	// Same socket again carries the identical key triple.
	_, err = registry.Insert(sock)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDuplicateConnection)
	assert.Equal(t, 1, registry.Len())
}

func TestRegistryRemove(t *testing.T) {
	layer := newTestLayer(t)
	registry := NewRegistry(nil)
	defer registry.CloseAll()

	sock := dialPair(t, layer)
	conn, err := registry.Insert(sock)
	require.NoError(t, err)

	require.NoError(t, registry.Remove(conn.Key()))
	assert.Equal(t, StateClosed, conn.State())
	assert.Equal(t, 0, registry.Len())

	// Second remove misses.
	err = registry.Remove(conn.Key())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	// Sends after removal are rejected at the state check.
	assert.Error(t, conn.Send([]byte("late")))
}

func TestRegistryFindPortless(t *testing.T) {
	layer := newTestLayer(t)
	registry := NewRegistry(nil)
	defer registry.CloseAll()

	sock := dialPair(t, layer)
	conn, err := registry.Insert(sock)
	require.NoError(t, err)

	// Exact remote.
	found, err := registry.Find(script.Endpoint{}, conn.Key().Remote, script.UDP)
	require.NoError(t, err)
	assert.Same(t, conn, found)

	// Port 0 matches the remote address alone.
	portless := script.Endpoint{Address: conn.Key().Remote.Address}
	found, err = registry.Find(script.Endpoint{}, portless, script.UDP)
	require.NoError(t, err)
	assert.Same(t, conn, found)

	// Wrong protocol misses.
	_, err = registry.Find(script.Endpoint{}, conn.Key().Remote, script.TCP)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	// Wrong address misses.
	_, err = registry.Find(script.Endpoint{}, script.Endpoint{Address: "10.9.9.9"}, script.UDP)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestRegistryListeners(t *testing.T) {
	layer := newTestLayer(t)
	registry := NewRegistry(nil)
	defer registry.CloseAll()

	ln, err := layer.Bind(context.Background(), script.Endpoint{Address: "127.0.0.1", Port: 0}, script.UDP)
	require.NoError(t, err)
	require.NoError(t, registry.InsertListener(ln))

	found, err := registry.FindListener(ln.Local(), script.UDP)
	require.NoError(t, err)
	assert.Same(t, ln, found)

	// Portless listener lookup.
	found, err = registry.FindListener(script.Endpoint{Address: "127.0.0.1"}, script.UDP)
	require.NoError(t, err)
	assert.Same(t, ln, found)

	_, err = registry.FindListener(ln.Local(), script.TCP)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	registry.CloseAll()
	assert.True(t, ln.Closed())
}

func TestRegistryCloseAll(t *testing.T) {
	layer := newTestLayer(t)
	registry := NewRegistry(nil)

	first, err := registry.Insert(dialPair(t, layer))
	require.NoError(t, err)
	second, err := registry.Insert(dialPair(t, layer))
	require.NoError(t, err)

	registry.CloseAll()
	registry.CloseAll() // idempotent

	assert.Equal(t, 0, registry.Len())
	assert.Equal(t, StateClosed, first.State())
	assert.Equal(t, StateClosed, second.State())

	// Registry rejects new entries after close.
	_, err = registry.Insert(dialPair(t, layer))
	assert.ErrorIs(t, err, errors.ErrAlreadyStopped)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	layer := newTestLayer(t)
	registry := NewRegistry(nil)
	defer registry.CloseAll()

	const n = 16
	keys := make([]Key, n)
	for i := 0; i < n; i++ {
		conn, err := registry.Insert(dialPair(t, layer))
		require.NoError(t, err)
		keys[i] = conn.Key()
	}
	require.Equal(t, n, registry.Len())

	var wg sync.WaitGroup
	removed := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Two racing removals per key: exactly one wins.
			err1 := registry.Remove(keys[i])
			err2 := registry.Remove(keys[i])
			if err1 == nil && err2 == nil {
				removed[i] = assert.AnError
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.NoError(t, removed[i], "key %d removed twice", i)
	}
	assert.Equal(t, 0, registry.Len())
}
