// Package runner drives one node's ordered action sequence and provides the
// action executor shared with the task supervisor.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tylp/nseqe/conns"
	"github.com/tylp/nseqe/diag"
	"github.com/tylp/nseqe/errors"
	"github.com/tylp/nseqe/matcher"
	"github.com/tylp/nseqe/metric"
	"github.com/tylp/nseqe/script"
	"github.com/tylp/nseqe/socket"
)

// ExecutorDeps holds the collaborators an executor drives.
type ExecutorDeps struct {
	Node            string
	Logger          *slog.Logger
	Sockets         *socket.Layer
	Registry        *conns.Registry
	Intake          *matcher.Intake
	Diag            *diag.Stream
	MetricsRegistry *metric.MetricsRegistry
}

// Executor performs single actions against the socket layer, connection
// registry, and event matcher. It is shared by the sequence runner and the
// task supervisor and is safe for concurrent use.
type Executor struct {
	node     string
	logger   *slog.Logger
	sockets  *socket.Layer
	registry *conns.Registry
	intake   *matcher.Intake
	diag     *diag.Stream
	core     *metric.Metrics
}

// NewExecutor creates an executor.
func NewExecutor(deps ExecutorDeps) *Executor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "executor", "node", deps.Node)
	}
	var core *metric.Metrics
	if deps.MetricsRegistry != nil {
		core = deps.MetricsRegistry.CoreMetrics()
	}
	return &Executor{
		node:     deps.Node,
		logger:   logger,
		sockets:  deps.Sockets,
		registry: deps.Registry,
		intake:   deps.Intake,
		diag:     deps.Diag,
		core:     core,
	}
}

// Execute performs one action to completion, blocking for sleeps and waits.
func (e *Executor) Execute(ctx context.Context, action script.Action) error {
	start := time.Now()
	err := e.dispatch(ctx, action)

	if e.core != nil {
		outcome := "completed"
		if err != nil {
			outcome = "failed"
			e.core.ErrorsTotal.WithLabelValues("runner", errors.Classify(err).String()).Inc()
		}
		e.core.ActionsTotal.WithLabelValues(e.node, string(action.Kind()), outcome).Inc()
		e.core.ActionDuration.WithLabelValues(e.node, string(action.Kind())).Observe(time.Since(start).Seconds())
	}
	return err
}

func (e *Executor) dispatch(ctx context.Context, action script.Action) error {
	switch a := action.(type) {
	case script.Connect:
		return e.connect(ctx, a)
	case script.Disconnect:
		return e.disconnect(a)
	case script.Bind:
		return e.bind(ctx, a)
	case script.Send:
		return e.send(ctx, a)
	case script.Sleep:
		_, err := e.intake.WaitSleep(ctx, a.Duration)
		return err
	case script.Wait:
		return e.wait(ctx, a.Event)
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown action kind %q", action.Kind()),
			"Executor", "Execute", "dispatch")
	}
}

func (e *Executor) connect(ctx context.Context, a script.Connect) error {
	sock, err := e.sockets.Connect(ctx, a.To, a.Protocol, a.Timeout)
	if err != nil {
		return err
	}

	conn, err := e.registry.Insert(sock)
	if err != nil {
		return err
	}

	// Outbound establishment is a connection arrival too, so a local
	// wait:connection can observe it.
	e.intake.OfferConnection(matcher.Arrival{
		From:     conn.Key().Local,
		To:       conn.Key().Remote,
		Protocol: a.Protocol,
		At:       time.Now(),
	})
	return nil
}

func (e *Executor) disconnect(a script.Disconnect) error {
	conn, err := e.registry.Find(script.Endpoint{}, a.Target, a.Protocol)
	if err != nil {
		return err
	}
	return e.registry.Remove(conn.Key())
}

func (e *Executor) bind(ctx context.Context, a script.Bind) error {
	ln, err := e.sockets.Bind(ctx, a.Interface, a.Protocol)
	if err != nil {
		return err
	}
	return e.registry.InsertListener(ln)
}

// send delivers the buffer per the action's mode. Multi-target sends are
// per-target independent: the action fails only when every target fails.
func (e *Executor) send(ctx context.Context, a script.Send) error {
	if a.Mode == script.Broadcast {
		return e.sendBroadcast(ctx, a)
	}
	return e.sendUnicast(a)
}

func (e *Executor) sendUnicast(a script.Send) error {
	if len(a.To) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: unicast send with no targets", errors.ErrSend),
			"Executor", "Execute", "send")
	}

	var delivered int
	var lastErr error
	for _, target := range a.To {
		if err := e.sendToTarget(a, target); err != nil {
			lastErr = err
			e.logger.Warn("unicast target failed", "to", target.String(), "error", err)
			if e.diag != nil {
				e.diag.SendFailed(e.node, fmt.Sprintf("%s to %s", a.Protocol, target), err)
			}
			continue
		}
		delivered++
		if e.diag != nil {
			e.diag.MessageSent(e.node, fmt.Sprintf("%s %d bytes to %s", a.Protocol, len(a.Buffer), target))
		}
	}

	if delivered == 0 && !a.FireAndForget {
		return errors.Wrap(lastErr, "Executor", "Execute", "unicast send")
	}
	return nil
}

// sendToTarget sends over a registered connection, falling back to a bound
// UDP socket for datagram targets with no logical connection.
func (e *Executor) sendToTarget(a script.Send, target script.Endpoint) error {
	conn, err := e.registry.Find(a.From, target, a.Protocol)
	if err == nil {
		return conn.Send(a.Buffer)
	}

	if a.Protocol == script.UDP && !a.From.IsZero() {
		if ln, lnErr := e.registry.FindListener(a.From, script.UDP); lnErr == nil {
			return ln.SendTo(target, a.Buffer)
		}
	}
	return err
}

func (e *Executor) sendBroadcast(ctx context.Context, a script.Send) error {
	if a.Protocol != script.UDP {
		return errors.WrapInvalid(
			fmt.Errorf("%w: broadcast requires udp, got %q", errors.ErrSend, a.Protocol),
			"Executor", "Execute", "broadcast")
	}
	if len(a.To) != 1 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: broadcast takes exactly one subnet target", errors.ErrSend),
			"Executor", "Execute", "broadcast")
	}

	subnet := a.To[0]
	report, err := e.sockets.Broadcast(ctx, a.From, subnet.Address, subnet.Port, a.Buffer)
	if err != nil && !a.FireAndForget {
		return err
	}

	if e.diag != nil {
		e.diag.MessageSent(e.node, fmt.Sprintf(
			"broadcast %d bytes to %s port %d (%d/%d delivered)",
			len(a.Buffer), subnet.Address, subnet.Port, report.Delivered, report.Attempted))
	}
	return nil
}

func (e *Executor) wait(ctx context.Context, event script.WaitEvent) error {
	switch ev := event.(type) {
	case script.SleepEvent:
		_, err := e.intake.WaitSleep(ctx, ev.Duration)
		return err
	case script.ConnectionEvent:
		_, err := e.intake.WaitConnection(ctx, ev.Specs, ev.Timeout)
		return err
	case script.MessagesEvent:
		_, err := e.intake.WaitMessages(ctx, ev.Order, ev.Matches, ev.Timeout)
		return err
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown wait event kind %q", event.WaitKind()),
			"Executor", "Execute", "wait dispatch")
	}
}
