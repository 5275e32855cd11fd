package socket

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/tylp/nseqe/errors"
	"github.com/tylp/nseqe/script"
)

// minSubnetBits caps a broadcast fan-out at 65534 hosts. Anything wider is
// a scenario mistake, not a send target.
const minSubnetBits = 16

// ExpandSubnet lists the usable host addresses of an IPv4 CIDR block. For
// prefixes shorter than /31 the network and broadcast addresses are excluded;
// a /31 yields both addresses and a /32 yields the single address. Prefixes
// wider than /16 are rejected.
func ExpandSubnet(cidr string) ([]string, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: parse subnet %q: %v", errors.ErrSend, cidr, err),
			"socket", "ExpandSubnet", "parse")
	}
	if !prefix.Addr().Is4() {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: subnet %q is not IPv4", errors.ErrSend, cidr),
			"socket", "ExpandSubnet", "family check")
	}

	prefix = prefix.Masked()
	bits := prefix.Bits()
	if bits < minSubnetBits {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: subnet %q is wider than /%d", errors.ErrSend, cidr, minSubnetBits),
			"socket", "ExpandSubnet", "width check")
	}
	total := 1 << (32 - bits)

	hosts := make([]string, 0, total)
	addr := prefix.Addr()
	for i := 0; i < total; i++ {
		if bits >= 31 || (i != 0 && i != total-1) {
			hosts = append(hosts, addr.String())
		}
		addr = addr.Next()
	}
	return hosts, nil
}

// SendReport summarizes a broadcast across a subnet. Per-host failures do not
// abort the fan-out; callers decide whether a partial delivery is acceptable.
type SendReport struct {
	Attempted int
	Delivered int
	Failures  map[string]error
}

// Failed reports whether every attempted delivery failed.
func (r SendReport) Failed() bool {
	return r.Attempted > 0 && r.Delivered == 0
}

// Broadcast sends the buffer once to every usable host of the target subnet
// on the given port, as UDP datagrams from a socket bound to `from`. A zero
// `from` endpoint uses an ephemeral local address.
func (l *Layer) Broadcast(
	ctx context.Context, from script.Endpoint, subnet string, port int, buf []byte) (SendReport, error) {
	var report SendReport
	if l.closed.Load() {
		return report, errors.WrapInvalid(errors.ErrAlreadyStopped, "socket", "Broadcast", "layer shut down")
	}

	hosts, err := ExpandSubnet(subnet)
	if err != nil {
		return report, err
	}

	local := ":0"
	if !from.IsZero() {
		local = from.HostPort()
	}
	lc := net.ListenConfig{Control: listenControl}
	pc, err := lc.ListenPacket(ctx, "udp", local)
	if err != nil {
		return report, errors.WrapTransient(
			fmt.Errorf("%w: open broadcast socket on %s: %v", errors.ErrSend, local, err),
			"socket", "Broadcast", "listen")
	}
	defer func() { _ = pc.Close() }()

	report.Failures = make(map[string]error)
	for _, host := range hosts {
		report.Attempted++
		target := script.Endpoint{Address: host, Port: port}

		addr, err := net.ResolveUDPAddr("udp", target.HostPort())
		if err != nil {
			report.Failures[host] = err
			continue
		}
		if _, err := pc.WriteTo(buf, addr); err != nil {
			report.Failures[host] = err
			continue
		}
		report.Delivered++
	}

	l.logger.Info("broadcast sent",
		"subnet", subnet,
		"port", port,
		"attempted", report.Attempted,
		"delivered", report.Delivered)

	if report.Failed() {
		return report, errors.WrapTransient(
			fmt.Errorf("%w: broadcast to %s reached no hosts", errors.ErrSend, subnet),
			"socket", "Broadcast", "fan-out")
	}
	return report, nil
}
