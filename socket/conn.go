package socket

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/tylp/nseqe/errors"
	"github.com/tylp/nseqe/script"
)

// Conn is one established connection: a TCP stream or a connected (logical
// peer) UDP socket. The connection registry owns the handle; other components
// reference it only through the registry.
type Conn struct {
	local    script.Endpoint
	remote   script.Endpoint
	protocol script.Protocol
	raw      net.Conn
	accepted bool
	closed   atomic.Bool
}

// Local returns the local endpoint.
func (c *Conn) Local() script.Endpoint { return c.local }

// Remote returns the remote endpoint.
func (c *Conn) Remote() script.Endpoint { return c.remote }

// Protocol returns the transport protocol.
func (c *Conn) Protocol() script.Protocol { return c.protocol }

// Accepted reports whether the connection was accepted inbound rather than
// dialed.
func (c *Conn) Accepted() bool { return c.accepted }

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool { return c.closed.Load() }

// Send writes the buffer to the peer. For TCP the write returning without
// error is the socket-level delivery acknowledgement; for UDP it confirms the
// datagram was handed to the stack.
func (c *Conn) Send(buf []byte) error {
	if c.closed.Load() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: connection %s->%s closed", errors.ErrSend, c.local, c.remote),
			"Conn", "Send", "closed check")
	}

	if _, err := c.raw.Write(buf); err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: write to %s: %v", errors.ErrSend, c.remote, err),
			"Conn", "Send", "write")
	}
	return nil
}

// Close shuts the socket down. Idempotent; only the connection registry
// should call this.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.raw.Close()
}

// Listener is one bound socket: a TCP listener accepting connections
// asynchronously, or a UDP receiving socket.
type Listener struct {
	local    script.Endpoint
	protocol script.Protocol
	tcp      net.Listener
	udp      *net.UDPConn
	closed   atomic.Bool
}

// Local returns the bound endpoint.
func (ln *Listener) Local() script.Endpoint { return ln.local }

// Protocol returns the transport protocol.
func (ln *Listener) Protocol() script.Protocol { return ln.protocol }

// Closed reports whether Close has been called.
func (ln *Listener) Closed() bool { return ln.closed.Load() }

// SendTo sends a datagram from a bound UDP socket to an explicit target.
func (ln *Listener) SendTo(target script.Endpoint, buf []byte) error {
	if ln.closed.Load() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: listener %s closed", errors.ErrSend, ln.local),
			"Listener", "SendTo", "closed check")
	}
	if ln.udp == nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: listener %s is not a datagram socket", errors.ErrSend, ln.local),
			"Listener", "SendTo", "protocol check")
	}

	addr, err := net.ResolveUDPAddr("udp", target.HostPort())
	if err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: resolve %s: %v", errors.ErrSend, target, err),
			"Listener", "SendTo", "resolve")
	}
	if _, err := ln.udp.WriteToUDP(buf, addr); err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: write to %s: %v", errors.ErrSend, target, err),
			"Listener", "SendTo", "write")
	}
	return nil
}

// Close shuts the socket down. Idempotent; only the connection registry
// should call this.
func (ln *Listener) Close() error {
	if ln.closed.Swap(true) {
		return nil
	}
	if ln.tcp != nil {
		return ln.tcp.Close()
	}
	if ln.udp != nil {
		return ln.udp.Close()
	}
	return nil
}
