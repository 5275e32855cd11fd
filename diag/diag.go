// Package diag provides the diagnostics stream: an append-only feed of engine
// events (actions starting and resolving, task ticks, inbox overflows,
// connection arrivals, sends) decoupled from control flow.
//
// Recent events are retained in a bounded ring; consumers attach channel
// subscribers for live delivery, and events can optionally be forwarded to a
// NATS subject for off-host collection. A slow subscriber loses events rather
// than stalling the engine.
package diag

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/tylp/nseqe/metric"
	"github.com/tylp/nseqe/pkg/buffer"
)

// EventKind identifies a diagnostics event.
type EventKind string

// Diagnostics event kinds
const (
	EventActionStarted      EventKind = "action_started"
	EventActionCompleted    EventKind = "action_completed"
	EventActionFailed       EventKind = "action_failed"
	EventTaskTick           EventKind = "task_tick"
	EventInboxOverflow      EventKind = "inbox_overflow"
	EventConnectionAccepted EventKind = "connection_accepted"
	EventMessageSent        EventKind = "message_sent"
	EventSendFailed         EventKind = "send_failed"
)

// Event is one diagnostics record.
type Event struct {
	ID     string    `json:"id"`
	Node   string    `json:"node"`
	Kind   EventKind `json:"kind"`
	At     time.Time `json:"at"`
	Action string    `json:"action,omitempty"`
	Index  int       `json:"index,omitempty"`
	Task   string    `json:"task,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// defaultRetention bounds the number of retained events.
const defaultRetention = 512

// StreamDeps holds runtime dependencies for a diagnostics stream.
type StreamDeps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
	Retention       int

	// NATSConn enables forwarding each event to Subject. Nil disables
	// forwarding.
	NATSConn *nats.Conn
	Subject  string
}

// Stream is the append-only diagnostics feed for one engine instance.
type Stream struct {
	logger  *slog.Logger
	ring    buffer.Buffer[Event]
	nc      *nats.Conn
	subject string

	mu          sync.Mutex
	subscribers map[int]chan Event
	nextSub     int
	closed      bool
}

// NewStream creates a diagnostics stream.
func NewStream(deps StreamDeps) (*Stream, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "diag")
	}
	retention := deps.Retention
	if retention <= 0 {
		retention = defaultRetention
	}

	opts := []buffer.Option[Event]{buffer.WithOverflowPolicy[Event](buffer.DropOldest)}
	if deps.MetricsRegistry != nil {
		opts = append(opts, buffer.WithMetrics[Event](deps.MetricsRegistry, "diag_events"))
	}
	ring, err := buffer.NewRing(retention, opts...)
	if err != nil {
		return nil, err
	}

	subject := deps.Subject
	if subject == "" {
		subject = "nseqe.diag"
	}

	return &Stream{
		logger:      logger,
		ring:        ring,
		nc:          deps.NATSConn,
		subject:     subject,
		subscribers: make(map[int]chan Event),
	}, nil
}

// Publish appends an event to the stream, delivers it to subscribers without
// blocking, and forwards it to NATS when configured. Missing ID and timestamp
// fields are filled in.
func (s *Stream) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	_ = s.ring.Write(evt)
	for _, sub := range s.subscribers {
		select {
		case sub <- evt:
		default:
			// Slow subscriber; the ring still holds the event.
		}
	}
	s.mu.Unlock()

	if s.nc != nil {
		data, err := json.Marshal(evt)
		if err != nil {
			s.logger.Error("could not marshal diagnostics event", "kind", string(evt.Kind), "error", err)
			return
		}
		if err := s.nc.Publish(s.subject, data); err != nil {
			s.logger.Warn("could not forward diagnostics event", "subject", s.subject, "error", err)
		}
	}
}

// Subscribe registers a live event channel with the given buffer size and
// returns it with a cancel function. Events published while the channel is
// full are not delivered to it.
func (s *Stream) Subscribe(size int) (<-chan Event, func()) {
	if size <= 0 {
		size = 64
	}
	ch := make(chan Event, size)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Recent returns up to n retained events, oldest first.
func (s *Stream) Recent(n int) []Event {
	events := s.ring.Snapshot()
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events
}

// Close stops the stream and closes all subscriber channels. Idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, sub := range s.subscribers {
		delete(s.subscribers, id)
		close(sub)
	}
	s.mu.Unlock()

	s.ring.Close()
}

// ActionStarted records a sequence action beginning.
func (s *Stream) ActionStarted(node, action string, index int) {
	s.Publish(Event{Node: node, Kind: EventActionStarted, Action: action, Index: index})
}

// ActionCompleted records a sequence action resolving successfully.
func (s *Stream) ActionCompleted(node, action string, index int) {
	s.Publish(Event{Node: node, Kind: EventActionCompleted, Action: action, Index: index})
}

// ActionFailed records a sequence action resolving with an error.
func (s *Stream) ActionFailed(node, action string, index int, err error) {
	evt := Event{Node: node, Kind: EventActionFailed, Action: action, Index: index}
	if err != nil {
		evt.Error = err.Error()
	}
	s.Publish(evt)
}

// TaskTick records one background task execution.
func (s *Stream) TaskTick(node, task string, err error) {
	evt := Event{Node: node, Kind: EventTaskTick, Task: task}
	if err != nil {
		evt.Error = err.Error()
	}
	s.Publish(evt)
}

// InboxOverflow records dropped inbox messages.
func (s *Stream) InboxOverflow(node string, detail string) {
	s.Publish(Event{Node: node, Kind: EventInboxOverflow, Detail: detail})
}

// ConnectionAccepted records an inbound connection arrival.
func (s *Stream) ConnectionAccepted(node, detail string) {
	s.Publish(Event{Node: node, Kind: EventConnectionAccepted, Detail: detail})
}

// MessageSent records an outbound send.
func (s *Stream) MessageSent(node, detail string) {
	s.Publish(Event{Node: node, Kind: EventMessageSent, Detail: detail})
}

// SendFailed records a delivery that could not reach its target.
func (s *Stream) SendFailed(node, detail string, err error) {
	evt := Event{Node: node, Kind: EventSendFailed, Detail: detail}
	if err != nil {
		evt.Error = err.Error()
	}
	s.Publish(evt)
}
