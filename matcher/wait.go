package matcher

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/tylp/nseqe/errors"
	"github.com/tylp/nseqe/script"
	"github.com/tylp/nseqe/socket"
)

// Outcome is the terminal state of a wait.
type Outcome int

const (
	Completed Outcome = iota
	TimedOut
	Cancelled
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (in *Intake) recordWait(kind string, outcome Outcome) {
	if in.core != nil {
		in.core.WaitsTotal.WithLabelValues(in.node, kind, outcome.String()).Inc()
	}
}

// WaitSleep blocks for the duration. It completes unconditionally unless the
// context is cancelled or the intake closes first.
func (in *Intake) WaitSleep(ctx context.Context, d time.Duration) (Outcome, error) {
	timer := in.clock.After(d)
	for {
		in.mu.Lock()
		if in.closed {
			in.mu.Unlock()
			in.recordWait("sleep", Cancelled)
			return Cancelled, errors.WrapInvalid(errors.ErrWaitCancelled, "Intake", "WaitSleep", "intake closed")
		}
		wake := in.wake
		in.mu.Unlock()

		select {
		case <-timer:
			in.recordWait("sleep", Completed)
			return Completed, nil
		case <-ctx.Done():
			in.recordWait("sleep", Cancelled)
			return Cancelled, errors.WrapInvalid(errors.ErrWaitCancelled, "Intake", "WaitSleep", "context cancelled")
		case <-wake:
			// New event or close; re-check the closed flag.
		}
	}
}

// WaitConnection blocks until every spec has consumed one connection arrival,
// honoring portless matching. Arrivals retained in the intake before the wait
// started are eligible.
func (in *Intake) WaitConnection(
	ctx context.Context, specs []script.ConnectionSpec, timeout time.Duration) (Outcome, error) {
	pending := make([]script.ConnectionSpec, len(specs))
	copy(pending, specs)

	var deadline <-chan time.Time
	if timeout > 0 {
		deadline = in.clock.After(timeout)
	}

	for {
		in.mu.Lock()
		if in.closed {
			in.mu.Unlock()
			in.recordWait("connection", Cancelled)
			return Cancelled, errors.WrapInvalid(errors.ErrWaitCancelled, "Intake", "WaitConnection", "intake closed")
		}

		pending = in.consumeArrivalsLocked(pending)
		if len(pending) == 0 {
			in.mu.Unlock()
			in.recordWait("connection", Completed)
			return Completed, nil
		}
		wake := in.wake
		in.mu.Unlock()

		select {
		case <-deadline:
			in.recordWait("connection", TimedOut)
			return TimedOut, errors.WrapTransient(
				fmt.Errorf("%w: %d connection(s) still pending after %v",
					errors.ErrWaitTimeout, len(pending), timeout),
				"Intake", "WaitConnection", "deadline")
		case <-ctx.Done():
			in.recordWait("connection", Cancelled)
			return Cancelled, errors.WrapInvalid(errors.ErrWaitCancelled, "Intake", "WaitConnection", "context cancelled")
		case <-wake:
		}
	}
}

// consumeArrivalsLocked matches pending specs against retained arrivals,
// consuming each matched arrival, and returns the specs still unmet. Callers
// hold in.mu.
func (in *Intake) consumeArrivalsLocked(pending []script.ConnectionSpec) []script.ConnectionSpec {
	remaining := pending[:0]
	for _, spec := range pending {
		matched := -1
		for i, a := range in.arrivals {
			if arrivalMatches(spec, a) {
				matched = i
				break
			}
		}
		if matched < 0 {
			remaining = append(remaining, spec)
			continue
		}
		in.arrivals = append(in.arrivals[:matched], in.arrivals[matched+1:]...)
		in.logger.Debug("connection arrival matched",
			"from", spec.From.String(), "to", spec.To.String(), "protocol", string(spec.Protocol))
	}
	return remaining
}

func arrivalMatches(spec script.ConnectionSpec, a Arrival) bool {
	if spec.Protocol != "" && spec.Protocol != a.Protocol {
		return false
	}
	if !spec.From.IsZero() && !spec.From.Matches(a.From) {
		return false
	}
	return spec.To.Matches(a.To)
}

// WaitMessages blocks until the match list is satisfied in the requested
// order mode. Matched messages are consumed from the inbox; strangers stay
// retained for later waits and never abort the wait.
func (in *Intake) WaitMessages(
	ctx context.Context, order script.Order, matches []script.MessageMatch, timeout time.Duration) (Outcome, error) {
	kind := "messages_" + string(order)

	// Unordered state survives across wake-ups: the multiset only ever
	// shrinks. Ordered matching re-scans the whole inbox each wake-up so
	// completion depends on relative arrival order, not on when the wait
	// happened to observe each message.
	remaining := make([]script.MessageMatch, len(matches))
	copy(remaining, matches)

	var deadline <-chan time.Time
	if timeout > 0 {
		deadline = in.clock.After(timeout)
	}

	for {
		in.mu.Lock()
		if in.closed {
			in.mu.Unlock()
			in.recordWait(kind, Cancelled)
			return Cancelled, errors.WrapInvalid(errors.ErrWaitCancelled, "Intake", "WaitMessages", "intake closed")
		}

		var done bool
		if order == script.Ordered {
			done = in.consumeOrderedLocked(matches)
		} else {
			remaining = in.consumeUnorderedLocked(remaining)
			done = len(remaining) == 0
		}
		if done {
			in.mu.Unlock()
			in.recordWait(kind, Completed)
			return Completed, nil
		}
		wake := in.wake
		in.mu.Unlock()

		select {
		case <-deadline:
			in.recordWait(kind, TimedOut)
			outstanding := len(remaining)
			if order == script.Ordered {
				in.mu.Lock()
				outstanding = len(matches) - in.orderedPrefixLocked(matches)
				in.mu.Unlock()
			}
			return TimedOut, errors.WrapTransient(
				fmt.Errorf("%w: %d message(s) still expected after %v",
					errors.ErrWaitTimeout, outstanding, timeout),
				"Intake", "WaitMessages", "deadline")
		case <-ctx.Done():
			in.recordWait(kind, Cancelled)
			return Cancelled, errors.WrapInvalid(errors.ErrWaitCancelled, "Intake", "WaitMessages", "context cancelled")
		case <-wake:
		}
	}
}

// consumeOrderedLocked looks for the full match list as an in-order chain
// through the inbox. Interleaved strangers are skipped over without aborting
// or resetting the search. On success the chain's messages are consumed and
// strangers stay retained; without a full chain nothing is consumed. Callers
// hold in.mu.
func (in *Intake) consumeOrderedLocked(matches []script.MessageMatch) bool {
	chain := make([]int, 0, len(matches))
	next := 0
	for _, m := range matches {
		found := -1
		for i := next; i < len(in.inbox); i++ {
			if in.messageMatches(m, in.inbox[i]) {
				found = i
				break
			}
		}
		if found < 0 {
			return false
		}
		chain = append(chain, found)
		next = found + 1
	}

	kept := in.inbox[:0]
	chained := make(map[int]bool, len(chain))
	for _, i := range chain {
		chained[i] = true
	}
	for i, msg := range in.inbox {
		if !chained[i] {
			kept = append(kept, msg)
		}
	}
	in.inbox = kept
	return true
}

// orderedPrefixLocked reports how many leading matches currently have an
// in-order chain through the inbox, for timeout diagnostics. Callers hold
// in.mu.
func (in *Intake) orderedPrefixLocked(matches []script.MessageMatch) int {
	next := 0
	matched := 0
	for _, m := range matches {
		found := -1
		for i := next; i < len(in.inbox); i++ {
			if in.messageMatches(m, in.inbox[i]) {
				found = i
				break
			}
		}
		if found < 0 {
			break
		}
		matched++
		next = found + 1
	}
	return matched
}

// consumeUnorderedLocked removes one multiset occurrence per matching inbox
// message and returns the matches still outstanding. Callers hold in.mu.
func (in *Intake) consumeUnorderedLocked(remaining []script.MessageMatch) []script.MessageMatch {
	kept := in.inbox[:0]
	for _, msg := range in.inbox {
		matched := -1
		for i, m := range remaining {
			if in.messageMatches(m, msg) {
				matched = i
				break
			}
		}
		if matched < 0 {
			kept = append(kept, msg)
			continue
		}
		remaining = append(remaining[:matched], remaining[matched+1:]...)
	}
	in.inbox = kept
	return remaining
}

// messageMatches compares one expectation against one arrived message.
// Endpoint comparison honors portless matching; when the expectation carries
// a decoded form, the configured codec decodes the buffer and a decode
// failure is a non-match.
func (in *Intake) messageMatches(m script.MessageMatch, msg socket.InboundMessage) bool {
	if m.Protocol != "" && m.Protocol != msg.Protocol {
		return false
	}
	if !m.From.IsZero() && !m.From.Matches(msg.From) {
		return false
	}
	if !m.To.IsZero() && !m.To.Matches(msg.To) {
		return false
	}

	if m.Message != nil {
		if in.codec == nil {
			return false
		}
		decoded, err := in.codec.Decode(msg.Buffer)
		if err != nil {
			in.logger.Debug("decode failed, treating as non-match",
				"from", msg.From.String(), "error", err)
			return false
		}
		return reflect.DeepEqual(decoded, m.Message)
	}
	return bytes.Equal(m.Buffer, msg.Buffer)
}
