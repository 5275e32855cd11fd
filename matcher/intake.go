// Package matcher implements the event matcher: a per-node intake of inbound
// messages and connection arrivals, plus the wait operations that consume
// them — connection waits, ordered and unordered message waits, and sleeps.
//
// The intake holds unconsumed arrivals in a bounded drop-oldest inbox so a
// wait can still match traffic that arrived before it started. Every wait
// terminates in exactly one of completed, timed out, or cancelled.
package matcher

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tylp/nseqe/codec"
	"github.com/tylp/nseqe/diag"
	"github.com/tylp/nseqe/metric"
	"github.com/tylp/nseqe/script"
	"github.com/tylp/nseqe/socket"
)

// defaultInboxSize bounds retained unconsumed messages per node.
const defaultInboxSize = 1024

// Arrival records one connection becoming established, inbound or outbound.
type Arrival struct {
	From     script.Endpoint
	To       script.Endpoint
	Protocol script.Protocol
	Accepted bool
	At       time.Time
}

// IntakeDeps holds runtime dependencies for an intake.
type IntakeDeps struct {
	Node            string
	Logger          *slog.Logger
	Codec           codec.Codec
	Clock           Clock
	Diag            *diag.Stream
	MetricsRegistry *metric.MetricsRegistry
	InboxSize       int
}

// Intake buffers inbound traffic for one node and wakes blocked waits on
// every new event. Offer methods never block; they are called from socket
// receive loops.
type Intake struct {
	node   string
	logger *slog.Logger
	codec  codec.Codec
	clock  Clock
	diag   *diag.Stream
	core   *metric.Metrics

	mu        sync.Mutex
	inbox     []socket.InboundMessage
	arrivals  []Arrival
	inboxCap  int
	overflows uint64
	wake      chan struct{}
	closed    bool
}

// NewIntake creates an intake for one node.
func NewIntake(deps IntakeDeps) *Intake {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "matcher")
	}
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock
	}
	size := deps.InboxSize
	if size <= 0 {
		size = defaultInboxSize
	}

	var core *metric.Metrics
	if deps.MetricsRegistry != nil {
		core = deps.MetricsRegistry.CoreMetrics()
	}

	return &Intake{
		node:     deps.Node,
		logger:   logger,
		codec:    deps.Codec,
		clock:    clock,
		diag:     deps.Diag,
		core:     core,
		inboxCap: size,
		wake:     make(chan struct{}),
	}
}

// OfferMessage appends an inbound message to the inbox, dropping the oldest
// entry on overflow, and wakes blocked waits.
func (in *Intake) OfferMessage(msg socket.InboundMessage) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}

	dropped := false
	if len(in.inbox) >= in.inboxCap {
		in.inbox = in.inbox[1:]
		in.overflows++
		dropped = true
		if in.core != nil {
			in.core.InboxOverflows.WithLabelValues(in.node).Inc()
		}
	}
	in.inbox = append(in.inbox, msg)
	in.notifyLocked()
	in.mu.Unlock()

	if dropped && in.diag != nil {
		in.diag.InboxOverflow(in.node, "dropped oldest inbound message")
	}
}

// OfferConnection records a connection arrival and wakes blocked waits.
func (in *Intake) OfferConnection(a Arrival) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}

	dropped := false
	if len(in.arrivals) >= in.inboxCap {
		in.arrivals = in.arrivals[1:]
		in.overflows++
		dropped = true
		if in.core != nil {
			in.core.InboxOverflows.WithLabelValues(in.node).Inc()
		}
	}
	in.arrivals = append(in.arrivals, a)
	in.notifyLocked()
	in.mu.Unlock()

	if dropped && in.diag != nil {
		in.diag.InboxOverflow(in.node, "dropped oldest connection arrival")
	}
}

// Overflows returns how many retained events were dropped to stay within the
// inbox bound.
func (in *Intake) Overflows() uint64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.overflows
}

// Pending returns the number of retained unconsumed messages.
func (in *Intake) Pending() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.inbox)
}

// Close cancels every blocked wait and rejects further events. Idempotent.
func (in *Intake) Close() {
	in.mu.Lock()
	if !in.closed {
		in.closed = true
		in.notifyLocked()
	}
	in.mu.Unlock()
}

// notifyLocked wakes every wait blocked on the current wake channel. Callers
// hold in.mu.
func (in *Intake) notifyLocked() {
	close(in.wake)
	in.wake = make(chan struct{})
}
