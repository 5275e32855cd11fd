package socket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tylp/nseqe/script"
)

// testSink records everything the layer delivers.
type testSink struct {
	mu       sync.Mutex
	messages []InboundMessage
	accepted []*Conn

	msgArrived  chan struct{}
	connArrived chan struct{}
}

func newTestSink() *testSink {
	return &testSink{
		msgArrived:  make(chan struct{}, 64),
		connArrived: make(chan struct{}, 64),
	}
}

func (s *testSink) HandleMessage(msg InboundMessage) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.msgArrived <- struct{}{}
}

func (s *testSink) HandleAccepted(conn *Conn) {
	s.mu.Lock()
	s.accepted = append(s.accepted, conn)
	s.mu.Unlock()
	s.connArrived <- struct{}{}
}

func (s *testSink) lastMessage(t *testing.T) InboundMessage {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.messages)
	return s.messages[len(s.messages)-1]
}

func waitSignal(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestExpandSubnet(t *testing.T) {
	tests := []struct {
		name    string
		cidr    string
		count   int
		first   string
		last    string
		wantErr bool
	}{
		{name: "slash 24 excludes network and broadcast", cidr: "192.168.1.0/24", count: 254, first: "192.168.1.1", last: "192.168.1.254"},
		{name: "slash 30 has two hosts", cidr: "10.0.0.0/30", count: 2, first: "10.0.0.1", last: "10.0.0.2"},
		{name: "slash 31 keeps both addresses", cidr: "10.0.0.0/31", count: 2, first: "10.0.0.0", last: "10.0.0.1"},
		{name: "slash 32 is a single host", cidr: "10.0.0.5/32", count: 1, first: "10.0.0.5", last: "10.0.0.5"},
		{name: "unmasked prefix is normalized", cidr: "10.0.0.77/30", count: 2, first: "10.0.0.77", last: "10.0.0.78"},
		{name: "slash 16 sits at the width floor", cidr: "10.1.0.0/16", count: 65534, first: "10.1.0.1", last: "10.1.255.254"},
		{name: "invalid cidr", cidr: "not-a-subnet", wantErr: true},
		{name: "ipv6 rejected", cidr: "fd00::/64", wantErr: true},
		{name: "slash 8 too wide", cidr: "10.0.0.0/8", wantErr: true},
		{name: "slash 0 too wide", cidr: "0.0.0.0/0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hosts, err := ExpandSubnet(tt.cidr)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, hosts, tt.count)
			assert.Equal(t, tt.first, hosts[0])
			assert.Equal(t, tt.last, hosts[len(hosts)-1])
		})
	}
}

func TestLayerTCPConnectAndReceive(t *testing.T) {
	serverSink := newTestSink()
	server := NewLayer(LayerDeps{Sink: serverSink})
	defer func() { _ = server.Shutdown(time.Second) }()

	listener, err := server.Bind(context.Background(), script.Endpoint{Address: "127.0.0.1", Port: 0}, script.TCP)
	require.NoError(t, err)
	defer func() { _ = listener.Close() }()

	clientSink := newTestSink()
	client := NewLayer(LayerDeps{Sink: clientSink})
	defer func() { _ = client.Shutdown(time.Second) }()

	conn, err := client.Connect(context.Background(), listener.Local(), script.TCP, time.Second)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	waitSignal(t, serverSink.connArrived, "accepted connection")
	serverSink.mu.Lock()
	accepted := serverSink.accepted[0]
	serverSink.mu.Unlock()
	assert.True(t, accepted.Accepted())
	assert.Equal(t, script.TCP, accepted.Protocol())

	require.NoError(t, conn.Send([]byte("ping")))
	waitSignal(t, serverSink.msgArrived, "inbound message")

	msg := serverSink.lastMessage(t)
	assert.Equal(t, []byte("ping"), msg.Buffer)
	assert.Equal(t, script.TCP, msg.Protocol)
	assert.Equal(t, listener.Local(), msg.To)
	assert.False(t, msg.Arrived.IsZero())

	// Reply flows back through the accepted side's receive loop.
	require.NoError(t, accepted.Send([]byte("pong")))
	waitSignal(t, clientSink.msgArrived, "reply message")
	assert.Equal(t, []byte("pong"), clientSink.lastMessage(t).Buffer)
}

func TestLayerUDPLogicalConnect(t *testing.T) {
	serverSink := newTestSink()
	server := NewLayer(LayerDeps{Sink: serverSink})
	defer func() { _ = server.Shutdown(time.Second) }()

	listener, err := server.Bind(context.Background(), script.Endpoint{Address: "127.0.0.1", Port: 0}, script.UDP)
	require.NoError(t, err)
	defer func() { _ = listener.Close() }()

	clientSink := newTestSink()
	client := NewLayer(LayerDeps{Sink: clientSink})
	defer func() { _ = client.Shutdown(time.Second) }()

	// UDP connect performs no handshake; it records the peer on the socket.
	conn, err := client.Connect(context.Background(), listener.Local(), script.UDP, time.Second)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	assert.Equal(t, script.UDP, conn.Protocol())
	assert.Equal(t, listener.Local(), conn.Remote())

	require.NoError(t, conn.Send([]byte("datagram")))
	waitSignal(t, serverSink.msgArrived, "inbound datagram")

	msg := serverSink.lastMessage(t)
	assert.Equal(t, []byte("datagram"), msg.Buffer)
	assert.Equal(t, script.UDP, msg.Protocol)
	assert.Equal(t, conn.Local(), msg.From)
}

func TestListenerSendTo(t *testing.T) {
	aSink := newTestSink()
	a := NewLayer(LayerDeps{Sink: aSink})
	defer func() { _ = a.Shutdown(time.Second) }()

	bSink := newTestSink()
	b := NewLayer(LayerDeps{Sink: bSink})
	defer func() { _ = b.Shutdown(time.Second) }()

	lnA, err := a.Bind(context.Background(), script.Endpoint{Address: "127.0.0.1", Port: 0}, script.UDP)
	require.NoError(t, err)
	defer func() { _ = lnA.Close() }()

	lnB, err := b.Bind(context.Background(), script.Endpoint{Address: "127.0.0.1", Port: 0}, script.UDP)
	require.NoError(t, err)
	defer func() { _ = lnB.Close() }()

	require.NoError(t, lnA.SendTo(lnB.Local(), []byte("hello")))
	waitSignal(t, bSink.msgArrived, "datagram from bound socket")

	msg := bSink.lastMessage(t)
	assert.Equal(t, []byte("hello"), msg.Buffer)
	assert.Equal(t, lnA.Local(), msg.From)

	// SendTo on a TCP listener is a usage error.
	tcpLn, err := a.Bind(context.Background(), script.Endpoint{Address: "127.0.0.1", Port: 0}, script.TCP)
	require.NoError(t, err)
	defer func() { _ = tcpLn.Close() }()
	assert.Error(t, tcpLn.SendTo(lnB.Local(), []byte("nope")))
}

func TestBroadcastSingleHost(t *testing.T) {
	serverSink := newTestSink()
	server := NewLayer(LayerDeps{Sink: serverSink})
	defer func() { _ = server.Shutdown(time.Second) }()

	listener, err := server.Bind(context.Background(), script.Endpoint{Address: "127.0.0.1", Port: 0}, script.UDP)
	require.NoError(t, err)
	defer func() { _ = listener.Close() }()

	sender := NewLayer(LayerDeps{Sink: newTestSink()})
	defer func() { _ = sender.Shutdown(time.Second) }()

	report, err := sender.Broadcast(
		context.Background(), script.Endpoint{}, "127.0.0.1/32", listener.Local().Port, []byte("wake"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, 1, report.Delivered)
	assert.False(t, report.Failed())

	waitSignal(t, serverSink.msgArrived, "broadcast datagram")
	assert.Equal(t, []byte("wake"), serverSink.lastMessage(t).Buffer)
}

func TestConnSendAfterClose(t *testing.T) {
	serverSink := newTestSink()
	server := NewLayer(LayerDeps{Sink: serverSink})
	defer func() { _ = server.Shutdown(time.Second) }()

	listener, err := server.Bind(context.Background(), script.Endpoint{Address: "127.0.0.1", Port: 0}, script.UDP)
	require.NoError(t, err)
	defer func() { _ = listener.Close() }()

	client := NewLayer(LayerDeps{Sink: newTestSink()})
	defer func() { _ = client.Shutdown(time.Second) }()

	conn, err := client.Connect(context.Background(), listener.Local(), script.UDP, time.Second)
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close()) // idempotent
	assert.True(t, conn.Closed())
	assert.Error(t, conn.Send([]byte("late")))
}

func TestLayerRejectsAfterShutdown(t *testing.T) {
	layer := NewLayer(LayerDeps{Sink: newTestSink()})
	require.NoError(t, layer.Shutdown(time.Second))
	require.NoError(t, layer.Shutdown(time.Second)) // idempotent

	_, err := layer.Connect(context.Background(), script.Endpoint{Address: "127.0.0.1", Port: 1}, script.TCP, time.Second)
	assert.Error(t, err)
	_, err = layer.Bind(context.Background(), script.Endpoint{Address: "127.0.0.1", Port: 0}, script.UDP)
	assert.Error(t, err)
}
