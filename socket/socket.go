// Package socket provides the thin TCP/UDP abstraction used by the engine:
// connect, bind/listen, send, receive loops, close, and subnet expansion.
//
// The layer delivers inbound messages and accepted connections to an injected
// Sink without blocking tasks or unrelated connections; socket handles are
// owned by the connection registry, never closed here except on setup errors.
package socket

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tylp/nseqe/errors"
	"github.com/tylp/nseqe/metric"
	"github.com/tylp/nseqe/pkg/retry"
	"github.com/tylp/nseqe/script"
)

// readDeadline bounds blocking reads so loops can observe shutdown.
const readDeadline = 100 * time.Millisecond

// maxDatagram covers any UDP packet size.
const maxDatagram = 65536

// InboundMessage is one received datagram or TCP segment, as delivered to the
// event matcher or the per-node inbox.
type InboundMessage struct {
	From     script.Endpoint
	To       script.Endpoint
	Protocol script.Protocol
	Buffer   []byte
	Arrived  time.Time
}

// Sink receives inbound traffic from receive and accept loops. Both methods
// may be called concurrently and must not block.
type Sink interface {
	HandleMessage(msg InboundMessage)
	HandleAccepted(conn *Conn)
}

// LayerDeps holds runtime dependencies for the socket layer.
type LayerDeps struct {
	Sink            Sink
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
	RetryConfig     *retry.Config
}

// Layer implements socket operations for one node runtime. It spawns one
// receive loop per connection and one accept loop per TCP listener; all loops
// stop when their socket is closed or the layer shuts down.
type Layer struct {
	sink        Sink
	logger      *slog.Logger
	metrics     *Metrics
	retryConfig retry.Config

	shutdown chan struct{}
	closed   atomic.Bool
	wg       sync.WaitGroup
}

// NewLayer creates a socket layer.
func NewLayer(deps LayerDeps) *Layer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "socket")
	}

	retryConfig := retry.Quick()
	if deps.RetryConfig != nil {
		retryConfig = *deps.RetryConfig
	}

	return &Layer{
		sink:        deps.Sink,
		logger:      logger,
		metrics:     newMetrics(deps.MetricsRegistry),
		retryConfig: retryConfig,
		shutdown:    make(chan struct{}),
	}
}

// Connect establishes an outbound connection within timeout. For TCP this
// performs a handshake; for UDP it records a logical peer on a connected
// datagram socket. The receive loop for the new connection starts immediately.
func (l *Layer) Connect(
	ctx context.Context, to script.Endpoint, protocol script.Protocol, timeout time.Duration) (*Conn, error) {
	if l.closed.Load() {
		return nil, errors.WrapInvalid(errors.ErrAlreadyStopped, "socket", "Connect", "layer shut down")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	dial := func() (net.Conn, error) {
		d := net.Dialer{Timeout: timeout}
		return d.DialContext(ctx, string(protocol), to.HostPort())
	}

	raw, err := retry.DoWithResult(ctx, l.retryConfig, dial)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: dial %s %s: %v", errors.ErrConnection, protocol, to, err),
			"socket", "Connect", "dial")
	}

	conn := &Conn{
		local:    endpointFromAddr(raw.LocalAddr()),
		remote:   to,
		protocol: protocol,
		raw:      raw,
	}

	l.logger.Info("connected",
		"protocol", protocol,
		"local", conn.local.String(),
		"remote", to.String())
	if l.metrics != nil {
		l.metrics.connectionsOpened.Inc()
	}

	l.startReceiveLoop(conn)
	return conn, nil
}

// Bind opens a listening socket. TCP listeners accept connections
// asynchronously, each acceptance delivered to the sink; UDP binds open a
// receiving socket whose datagrams flow to the sink directly.
func (l *Layer) Bind(ctx context.Context, iface script.Endpoint, protocol script.Protocol) (*Listener, error) {
	if l.closed.Load() {
		return nil, errors.WrapInvalid(errors.ErrAlreadyStopped, "socket", "Bind", "layer shut down")
	}

	switch protocol {
	case script.TCP:
		return l.bindTCP(ctx, iface)
	case script.UDP:
		return l.bindUDP(ctx, iface)
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: unknown protocol %q", errors.ErrBind, protocol),
			"socket", "Bind", "protocol check")
	}
}

func (l *Layer) bindTCP(ctx context.Context, iface script.Endpoint) (*Listener, error) {
	lc := net.ListenConfig{Control: listenControl}

	ln, err := retry.DoWithResult(ctx, l.retryConfig, func() (net.Listener, error) {
		return lc.Listen(ctx, "tcp", iface.HostPort())
	})
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: listen tcp %s: %v", errors.ErrBind, iface, err),
			"socket", "Bind", "tcp listen")
	}

	listener := &Listener{
		local:    endpointFromAddr(ln.Addr()),
		protocol: script.TCP,
		tcp:      ln,
	}

	l.logger.Info("listening", "protocol", "tcp", "local", listener.local.String())
	l.startAcceptLoop(listener)
	return listener, nil
}

func (l *Layer) bindUDP(ctx context.Context, iface script.Endpoint) (*Listener, error) {
	lc := net.ListenConfig{Control: listenControl}

	pc, err := retry.DoWithResult(ctx, l.retryConfig, func() (net.PacketConn, error) {
		return lc.ListenPacket(ctx, "udp", iface.HostPort())
	})
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: listen udp %s: %v", errors.ErrBind, iface, err),
			"socket", "Bind", "udp listen")
	}

	udp, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, errors.WrapInvalid(errors.ErrBind, "socket", "Bind", "udp socket type")
	}

	// Grow the OS receive buffer; some systems cap it, which is fine.
	if err := udp.SetReadBuffer(2 * 1024 * 1024); err != nil {
		l.logger.Warn("could not set UDP read buffer", "local", iface.String(), "error", err)
	}

	listener := &Listener{
		local:    endpointFromAddr(udp.LocalAddr()),
		protocol: script.UDP,
		udp:      udp,
	}

	l.logger.Info("listening", "protocol", "udp", "local", listener.local.String())
	l.startDatagramLoop(listener)
	return listener, nil
}

// Shutdown stops all receive and accept loops and waits up to timeout for
// them to exit. Sockets themselves are closed by the connection registry.
func (l *Layer) Shutdown(timeout time.Duration) error {
	if l.closed.Swap(true) {
		return nil
	}
	close(l.shutdown)

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"socket", "Shutdown", "loop drain")
	}
}

// startReceiveLoop reads from a stream or connected datagram socket and
// forwards each segment to the sink.
func (l *Layer) startReceiveLoop(conn *Conn) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		buf := make([]byte, maxDatagram)
		for {
			select {
			case <-l.shutdown:
				return
			default:
			}
			if conn.Closed() {
				return
			}

			_ = conn.raw.SetReadDeadline(time.Now().Add(readDeadline))
			n, err := conn.raw.Read(buf)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				// EOF or closed socket ends the loop; anything else is logged
				if !conn.Closed() {
					l.logger.Debug("receive loop ended",
						"local", conn.local.String(),
						"remote", conn.remote.String(),
						"error", err)
				}
				return
			}
			if n == 0 {
				continue
			}

			data := make([]byte, n)
			copy(data, buf[:n])

			if l.metrics != nil {
				l.metrics.messagesReceived.Inc()
				l.metrics.bytesReceived.Add(float64(n))
			}

			l.sink.HandleMessage(InboundMessage{
				From:     conn.remote,
				To:       conn.local,
				Protocol: conn.protocol,
				Buffer:   data,
				Arrived:  time.Now(),
			})
		}
	}()
}

// startAcceptLoop accepts inbound TCP connections, starts a receive loop for
// each, and reports the acceptance to the sink.
func (l *Layer) startAcceptLoop(listener *Listener) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		for {
			select {
			case <-l.shutdown:
				return
			default:
			}
			if listener.Closed() {
				return
			}

			if tl, ok := listener.tcp.(*net.TCPListener); ok {
				_ = tl.SetDeadline(time.Now().Add(readDeadline))
			}
			raw, err := listener.tcp.Accept()
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if !listener.Closed() {
					l.logger.Error("accept failed", "local", listener.local.String(), "error", err)
					if l.metrics != nil {
						l.metrics.acceptErrors.Inc()
					}
				}
				return
			}

			conn := &Conn{
				local:    listener.local,
				remote:   endpointFromAddr(raw.RemoteAddr()),
				protocol: script.TCP,
				raw:      raw,
				accepted: true,
			}

			l.logger.Info("accepted connection",
				"local", conn.local.String(),
				"remote", conn.remote.String())
			if l.metrics != nil {
				l.metrics.connectionsAccepted.Inc()
			}

			l.startReceiveLoop(conn)
			l.sink.HandleAccepted(conn)
		}
	}()
}

// startDatagramLoop reads datagrams from a bound UDP socket and forwards each
// to the sink.
func (l *Layer) startDatagramLoop(listener *Listener) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		buf := make([]byte, maxDatagram)
		for {
			select {
			case <-l.shutdown:
				return
			default:
			}
			if listener.Closed() {
				return
			}

			_ = listener.udp.SetReadDeadline(time.Now().Add(readDeadline))
			n, from, err := listener.udp.ReadFromUDP(buf)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if !listener.Closed() {
					l.logger.Debug("datagram loop ended", "local", listener.local.String(), "error", err)
				}
				return
			}
			if n == 0 {
				continue
			}

			data := make([]byte, n)
			copy(data, buf[:n])

			if l.metrics != nil {
				l.metrics.messagesReceived.Inc()
				l.metrics.bytesReceived.Add(float64(n))
			}

			l.sink.HandleMessage(InboundMessage{
				From:     endpointFromAddr(from),
				To:       listener.local,
				Protocol: script.UDP,
				Buffer:   data,
				Arrived:  time.Now(),
			})
		}
	}()
}

// endpointFromAddr converts a net.Addr into a script.Endpoint.
func endpointFromAddr(addr net.Addr) script.Endpoint {
	if addr == nil {
		return script.Endpoint{}
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return script.Endpoint{Address: addr.String()}
	}
	port, _ := strconv.Atoi(portStr)
	return script.Endpoint{Address: host, Port: port}
}
