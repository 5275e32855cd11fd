package script

import (
	"time"
)

// WaitKind names a wait event variant.
type WaitKind string

// Wait event kinds
const (
	WaitSleep      WaitKind = "sleep"
	WaitConnection WaitKind = "connection"
	WaitMessages   WaitKind = "messages"
)

// Order selects whether expected messages must arrive in their listed
// relative order or in any order.
type Order string

// Matching orders
const (
	Ordered   Order = "ordered"
	Unordered Order = "unordered"
)

// WaitEvent is the condition that unblocks a Wait action. The variant set is
// closed, like Action.
type WaitEvent interface {
	WaitKind() WaitKind
	isWaitEvent()
}

// SleepEvent resolves unconditionally after the duration elapses; it can only
// fail by external cancellation.
type SleepEvent struct {
	Duration time.Duration `json:"duration"`
}

// WaitKind implements WaitEvent.
func (SleepEvent) WaitKind() WaitKind { return WaitSleep }
func (SleepEvent) isWaitEvent()       {}

// ConnectionEvent resolves when every listed inbound connection has arrived,
// or fails with a timeout while specs remain pending.
type ConnectionEvent struct {
	Specs   []ConnectionSpec `json:"specs"`
	Timeout time.Duration    `json:"timeout"`
}

// WaitKind implements WaitEvent.
func (ConnectionEvent) WaitKind() WaitKind { return WaitConnection }
func (ConnectionEvent) isWaitEvent()       {}

// MessagesEvent resolves when every listed message has been observed,
// honoring the ordering mode, or fails with a timeout.
type MessagesEvent struct {
	Order   Order          `json:"order"`
	Matches []MessageMatch `json:"matches"`
	Timeout time.Duration  `json:"timeout"`
}

// WaitKind implements WaitEvent.
func (MessagesEvent) WaitKind() WaitKind { return WaitMessages }
func (MessagesEvent) isWaitEvent()       {}

// ConnectionSpec describes an expected inbound connection by its origin,
// destination, and protocol. A From port of 0 matches any source port.
type ConnectionSpec struct {
	From     Endpoint `json:"from"`
	To       Endpoint `json:"to"`
	Protocol Protocol `json:"protocol"`
}

// MessageMatch describes one expected message. Equality against an arrived
// message is defined by protocol, endpoints, and exact buffer bytes; when a
// codec is configured, Message holds the expected decoded form instead and
// comparison happens on decoded values.
type MessageMatch struct {
	From           Endpoint `json:"from"`
	To             Endpoint `json:"to"`
	Protocol       Protocol `json:"protocol"`
	Buffer         []byte   `json:"buffer,omitempty"`
	Message        any      `json:"message,omitempty"`
	ExpectResponse bool     `json:"expect_response,omitempty"`
}
