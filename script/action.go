package script

import (
	"time"
)

// ActionKind names an action variant for dispatch, status, and diagnostics.
type ActionKind string

// Action kinds
const (
	KindConnect    ActionKind = "connect"
	KindDisconnect ActionKind = "disconnect"
	KindBind       ActionKind = "bind"
	KindSend       ActionKind = "send"
	KindSleep      ActionKind = "sleep"
	KindWait       ActionKind = "wait"
)

// Action is one step of a node's sequence or of a background task.
//
// The variant set is closed: the sequence runner dispatches exhaustively over
// Connect, Disconnect, Bind, Send, Sleep, and Wait. External packages cannot
// add variants.
type Action interface {
	Kind() ActionKind
	isAction()
}

// Connect establishes an outbound connection (TCP) or records a logical peer
// (UDP) within the given timeout.
type Connect struct {
	To       Endpoint      `json:"to"`
	Protocol Protocol      `json:"protocol"`
	Timeout  time.Duration `json:"timeout"`
}

// Kind implements Action.
func (Connect) Kind() ActionKind { return KindConnect }
func (Connect) isAction()        {}

// Disconnect removes a previously established connection. Targeting a
// non-existent connection is a reportable error, not fatal to the node.
type Disconnect struct {
	Target   Endpoint `json:"target"`
	Protocol Protocol `json:"protocol"`
}

// Kind implements Action.
func (Disconnect) Kind() ActionKind { return KindDisconnect }
func (Disconnect) isAction()        {}

// Bind opens a listening socket on the given interface. TCP listeners accept
// incoming connections asynchronously; UDP binds open a receiving socket.
type Bind struct {
	Interface Endpoint `json:"interface"`
	Protocol  Protocol `json:"protocol"`
}

// Kind implements Action.
func (Bind) Kind() ActionKind { return KindBind }
func (Bind) isAction()        {}

// Send delivers a buffer to one explicit target (unicast, over a pre-existing
// connection) or to every usable host of a subnet (broadcast).
//
// For broadcast, To holds the subnet in CIDR notation in the Address field
// and the destination port in the Port field.
type Send struct {
	Mode          SendMode   `json:"mode"`
	From          Endpoint   `json:"from"`
	To            []Endpoint `json:"to"`
	Buffer        []byte     `json:"buffer"`
	Protocol      Protocol   `json:"protocol"`
	FireAndForget bool       `json:"fire_and_forget,omitempty"`
}

// Kind implements Action.
func (Send) Kind() ActionKind { return KindSend }
func (Send) isAction()        {}

// Sleep suspends the sequence runner (not the whole node) for a duration.
type Sleep struct {
	Duration time.Duration `json:"duration"`
}

// Kind implements Action.
func (Sleep) Kind() ActionKind { return KindSleep }
func (Sleep) isAction()        {}

// Wait blocks the sequence runner until an event occurs or its deadline
// elapses.
type Wait struct {
	Event WaitEvent `json:"event"`
}

// Kind implements Action.
func (Wait) Kind() ActionKind { return KindWait }
func (Wait) isAction()        {}
