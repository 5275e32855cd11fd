// Package script defines the validated action model consumed by the engine:
// endpoints, actions, wait events, background tasks, and nodes.
//
// Instances are produced by an external configuration parser and are immutable
// once a sequence begins. The engine assumes all required fields are present
// and well-typed; it re-checks only runtime feasibility (e.g., duplicate
// connections).
package script

import (
	"fmt"
	"net"
	"strconv"
)

// Protocol identifies the transport protocol of a connection or message.
type Protocol string

// Supported protocols
const (
	TCP Protocol = "tcp"
	UDP Protocol = "udp"
)

// Endpoint is an address/port pair. Port 0 means "unspecified" and matches
// any port in wait expectations (e.g., an ephemeral sender port).
type Endpoint struct {
	Address string `json:"address"`
	Port    int    `json:"port,omitempty"`
}

// NewEndpoint creates an endpoint from an address and port.
func NewEndpoint(address string, port int) Endpoint {
	return Endpoint{Address: address, Port: port}
}

// ParseEndpoint parses "host:port" into an Endpoint.
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint port %q: %w", portStr, err)
	}
	return Endpoint{Address: host, Port: port}, nil
}

// String returns the endpoint in "host:port" form.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

// HostPort returns the endpoint formatted for net.Dial / net.Listen.
func (e Endpoint) HostPort() string {
	return e.String()
}

// IsZero reports whether the endpoint is unset.
func (e Endpoint) IsZero() bool {
	return e.Address == "" && e.Port == 0
}

// Matches reports whether an observed endpoint satisfies this expected one.
// An expected port of 0 matches on address alone.
func (e Endpoint) Matches(observed Endpoint) bool {
	if e.Port == 0 {
		return e.Address == observed.Address
	}
	return e == observed
}

// SendMode selects between a single explicit target and an expanded subnet.
type SendMode string

// Send modes
const (
	Unicast   SendMode = "unicast"
	Broadcast SendMode = "broadcast"
)
