// Package conns tracks the live connections and bound listeners of one node
// runtime. The registry is the sole owner of socket handles: inserting hands
// ownership over, removing closes the underlying socket, and nothing else in
// the engine closes sockets directly.
package conns

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tylp/nseqe/errors"
	"github.com/tylp/nseqe/script"
	"github.com/tylp/nseqe/socket"
)

// State is the lifecycle state of a registered connection.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Key identifies a connection. The registry enforces uniqueness over the full
// triple.
type Key struct {
	Local    script.Endpoint
	Remote   script.Endpoint
	Protocol script.Protocol
}

// String returns "protocol local->remote".
func (k Key) String() string {
	return fmt.Sprintf("%s %s->%s", k.Protocol, k.Local, k.Remote)
}

// Connection is one registered connection with its state and socket handle.
type Connection struct {
	key    Key
	sock   *socket.Conn
	opened time.Time

	mu    sync.Mutex
	state State
}

// Key returns the registry key.
func (c *Connection) Key() Key { return c.key }

// Opened returns when the connection was registered.
func (c *Connection) Opened() time.Time { return c.opened }

// Accepted reports whether the connection arrived inbound.
func (c *Connection) Accepted() bool { return c.sock.Accepted() }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Send writes a buffer on the connection. Only Open connections accept
// sends.
func (c *Connection) Send(buf []byte) error {
	if s := c.State(); s != StateOpen {
		return errors.WrapInvalid(
			fmt.Errorf("%w: connection %s is %s", errors.ErrSend, c.key, s),
			"Connection", "Send", "state check")
	}
	return c.sock.Send(buf)
}

// listenerKey identifies a bound listener.
type listenerKey struct {
	Local    script.Endpoint
	Protocol script.Protocol
}

// Registry holds the connection table and the bound listeners of one node.
// All methods are safe for concurrent use by the runner and task supervisor.
type Registry struct {
	logger *slog.Logger

	mu        sync.Mutex
	conns     map[Key]*Connection
	listeners map[listenerKey]*socket.Listener
	closed    bool
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default().With("component", "conns")
	}
	return &Registry{
		logger:    logger,
		conns:     make(map[Key]*Connection),
		listeners: make(map[listenerKey]*socket.Listener),
	}
}

// Insert registers an established socket and takes ownership of it. A second
// connection with the same (local, remote, protocol) triple is rejected with
// ErrDuplicateConnection and the new socket is closed.
func (r *Registry) Insert(sock *socket.Conn) (*Connection, error) {
	key := Key{Local: sock.Local(), Remote: sock.Remote(), Protocol: sock.Protocol()}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		_ = sock.Close()
		return nil, errors.WrapInvalid(errors.ErrAlreadyStopped, "Registry", "Insert", "registry closed")
	}
	if _, exists := r.conns[key]; exists {
		_ = sock.Close()
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrDuplicateConnection, key),
			"Registry", "Insert", "uniqueness check")
	}

	conn := &Connection{
		key:    key,
		sock:   sock,
		opened: time.Now(),
		state:  StateOpen,
	}
	r.conns[key] = conn

	r.logger.Debug("connection registered", "key", key.String(), "accepted", sock.Accepted())
	return conn, nil
}

// Remove closes the connection's socket and deletes it from the table.
// A missing key yields ErrNotFound.
func (r *Registry) Remove(key Key) error {
	r.mu.Lock()
	conn, exists := r.conns[key]
	if exists {
		delete(r.conns, key)
	}
	r.mu.Unlock()

	if !exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrNotFound, key),
			"Registry", "Remove", "lookup")
	}

	conn.setState(StateClosing)
	err := conn.sock.Close()
	conn.setState(StateClosed)

	r.logger.Debug("connection removed", "key", key.String())
	if err != nil {
		return errors.Wrap(err, "Registry", "Remove", "socket close")
	}
	return nil
}

// Lookup returns the connection for an exact key, or ErrNotFound.
func (r *Registry) Lookup(key Key) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[key]
	if !exists {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrNotFound, key),
			"Registry", "Lookup", "lookup")
	}
	return conn, nil
}

// Find returns the first Open connection matching the given endpoints and
// protocol. A zero `from` matches any local endpoint; port 0 on either side
// matches on address alone.
func (r *Registry) Find(from, to script.Endpoint, protocol script.Protocol) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, conn := range r.conns {
		if key.Protocol != protocol {
			continue
		}
		if !from.IsZero() && !from.Matches(key.Local) {
			continue
		}
		if !to.Matches(key.Remote) {
			continue
		}
		if conn.State() != StateOpen {
			continue
		}
		return conn, nil
	}
	return nil, errors.WrapInvalid(
		fmt.Errorf("%w: no open %s connection %s->%s", errors.ErrNotFound, protocol, from, to),
		"Registry", "Find", "scan")
}

// InsertListener registers a bound listener and takes ownership of it.
func (r *Registry) InsertListener(ln *socket.Listener) error {
	key := listenerKey{Local: ln.Local(), Protocol: ln.Protocol()}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		_ = ln.Close()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Registry", "InsertListener", "registry closed")
	}
	if _, exists := r.listeners[key]; exists {
		_ = ln.Close()
		return errors.WrapInvalid(
			fmt.Errorf("%w: listener %s %s", errors.ErrDuplicateConnection, key.Protocol, key.Local),
			"Registry", "InsertListener", "uniqueness check")
	}

	r.listeners[key] = ln
	r.logger.Debug("listener registered", "protocol", string(key.Protocol), "local", key.Local.String())
	return nil
}

// FindListener returns the first bound listener matching the endpoint and
// protocol, honoring portless endpoint matching.
func (r *Registry) FindListener(local script.Endpoint, protocol script.Protocol) (*socket.Listener, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, ln := range r.listeners {
		if key.Protocol == protocol && local.Matches(key.Local) {
			return ln, nil
		}
	}
	return nil, errors.WrapInvalid(
		fmt.Errorf("%w: no %s listener on %s", errors.ErrNotFound, protocol, local),
		"Registry", "FindListener", "scan")
}

// Connections returns a snapshot of all registered connections.
func (r *Registry) Connections() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, conn)
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll closes every connection and listener and empties the registry.
// Further inserts are rejected. Idempotent.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	listeners := r.listeners
	r.conns = make(map[Key]*Connection)
	r.listeners = make(map[listenerKey]*socket.Listener)
	alreadyClosed := r.closed
	r.closed = true
	r.mu.Unlock()

	if alreadyClosed {
		return
	}

	for key, conn := range conns {
		conn.setState(StateClosing)
		if err := conn.sock.Close(); err != nil {
			r.logger.Warn("close failed", "key", key.String(), "error", err)
		}
		conn.setState(StateClosed)
	}
	for key, ln := range listeners {
		if err := ln.Close(); err != nil {
			r.logger.Warn("listener close failed", "local", key.Local.String(), "error", err)
		}
	}

	r.logger.Debug("registry closed", "connections", len(conns), "listeners", len(listeners))
}
