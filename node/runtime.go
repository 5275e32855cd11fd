// Package node composes the engine components into one runnable node: socket
// layer, connection registry, event matcher intake, task supervisor, and
// sequence runner, behind a single lifecycle.
//
// A runtime goes through Initialize, Start, Stop. Start launches the
// background tasks and the sequence; Stop cancels in-flight waits, stops task
// schedules after their current tick, closes every registered connection and
// listener, and is idempotent.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tylp/nseqe/codec"
	"github.com/tylp/nseqe/conns"
	"github.com/tylp/nseqe/diag"
	"github.com/tylp/nseqe/errors"
	"github.com/tylp/nseqe/matcher"
	"github.com/tylp/nseqe/metric"
	"github.com/tylp/nseqe/pkg/retry"
	"github.com/tylp/nseqe/runner"
	"github.com/tylp/nseqe/script"
	"github.com/tylp/nseqe/socket"
	"github.com/tylp/nseqe/task"
)

// RuntimeDeps holds everything a node runtime needs. Node is required;
// every other field has a working default.
type RuntimeDeps struct {
	Node   script.Node
	Logger *slog.Logger

	// Codec decodes inbound payloads for decoded-form message matching.
	// Nil treats buffers as opaque bytes.
	Codec codec.Codec

	// Registry defaults to a fresh private registry. Injecting one is
	// only useful for inspection; the runtime still owns its lifecycle.
	Registry *conns.Registry

	// Diag defaults to a private stream. An injected stream is shared:
	// the runtime publishes to it but does not close it.
	Diag *diag.Stream

	MetricsRegistry *metric.MetricsRegistry
	Clock           matcher.Clock
	RetryConfig     *retry.Config
	InboxSize       int
}

// Runtime is one node's running instance.
type Runtime struct {
	id     string
	name   string
	model  script.Node
	logger *slog.Logger

	sockets    *socket.Layer
	registry   *conns.Registry
	intake     *matcher.Intake
	supervisor *task.Supervisor
	runner     *runner.Runner
	diag       *diag.Stream
	ownsDiag   bool

	deps        RuntimeDeps
	initialized atomic.Bool
	running     atomic.Bool
	stopped     atomic.Bool
	cancel      context.CancelFunc
	seqDone     chan struct{}
}

// Status is a point-in-time snapshot of a whole node.
type Status struct {
	ID   string
	Name string

	// Sequence reports the runner: Idle, Running, Blocked (with the
	// blocking action), Completed, or Failed (with the reason).
	Sequence runner.Status

	// Tasks reports every background task.
	Tasks []task.TaskStatus

	Connections    int
	InboxPending   int
	InboxOverflows uint64
}

// NewRuntime creates a runtime handle for one node model.
func NewRuntime(deps RuntimeDeps) (*Runtime, error) {
	if deps.Node.Name == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("node model has no name"), "Runtime", "NewRuntime", "validation")
	}

	id := uuid.NewString()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "node", "node", deps.Node.Name, "id", id)

	return &Runtime{
		id:     id,
		name:   deps.Node.Name,
		model:  deps.Node,
		logger: logger,
		deps:   deps,
	}, nil
}

// ID returns the runtime's unique handle.
func (r *Runtime) ID() string { return r.id }

// Name returns the node name from the model.
func (r *Runtime) Name() string { return r.name }

// Initialize builds the component graph. It must be called once before
// Start.
func (r *Runtime) Initialize() error {
	if r.initialized.Swap(true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Runtime", "Initialize", "state check")
	}

	r.diag = r.deps.Diag
	if r.diag == nil {
		stream, err := diag.NewStream(diag.StreamDeps{
			Logger:          r.logger,
			MetricsRegistry: r.deps.MetricsRegistry,
		})
		if err != nil {
			return errors.Wrap(err, "Runtime", "Initialize", "diagnostics stream")
		}
		r.diag = stream
		r.ownsDiag = true
	}

	r.intake = matcher.NewIntake(matcher.IntakeDeps{
		Node:            r.name,
		Logger:          r.logger,
		Codec:           r.deps.Codec,
		Clock:           r.deps.Clock,
		Diag:            r.diag,
		MetricsRegistry: r.deps.MetricsRegistry,
		InboxSize:       r.deps.InboxSize,
	})

	r.registry = r.deps.Registry
	if r.registry == nil {
		r.registry = conns.NewRegistry(r.logger)
	}

	r.sockets = socket.NewLayer(socket.LayerDeps{
		Sink:            r,
		Logger:          r.logger,
		MetricsRegistry: r.deps.MetricsRegistry,
		RetryConfig:     r.deps.RetryConfig,
	})

	exec := runner.NewExecutor(runner.ExecutorDeps{
		Node:            r.name,
		Logger:          r.logger,
		Sockets:         r.sockets,
		Registry:        r.registry,
		Intake:          r.intake,
		Diag:            r.diag,
		MetricsRegistry: r.deps.MetricsRegistry,
	})

	r.runner = runner.NewRunner(runner.RunnerDeps{
		Node:            r.name,
		Logger:          r.logger,
		Executor:        exec,
		Diag:            r.diag,
		MetricsRegistry: r.deps.MetricsRegistry,
	})

	r.supervisor = task.NewSupervisor(task.SupervisorDeps{
		Node:            r.name,
		Logger:          r.logger,
		Executor:        exec,
		Diag:            r.diag,
		MetricsRegistry: r.deps.MetricsRegistry,
	})

	r.logger.Info("runtime initialized",
		"tasks", len(r.model.Tasks), "actions", len(r.model.Sequence))
	return nil
}

// Start launches the background tasks and the sequence. The sequence runs on
// its own goroutine; Start returns immediately.
func (r *Runtime) Start(ctx context.Context) error {
	if !r.initialized.Load() {
		return errors.WrapInvalid(errors.ErrNotStarted, "Runtime", "Start", "not initialized")
	}
	if r.running.Swap(true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Runtime", "Start", "state check")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	if err := r.supervisor.Start(runCtx, r.model.Tasks); err != nil {
		cancel()
		r.running.Store(false)
		return err
	}

	r.seqDone = make(chan struct{})
	go func() {
		defer close(r.seqDone)
		r.runner.Run(runCtx, r.model.Sequence)
	}()

	r.logger.Info("runtime started")
	return nil
}

// Stop tears the node down: in-flight waits resolve as cancelled, task
// schedules stop after their current tick, and every owned connection and
// listener is closed. Stop is idempotent and safe to call on a node whose
// sequence already finished.
func (r *Runtime) Stop(timeout time.Duration) error {
	if !r.running.Load() || r.stopped.Swap(true) {
		return nil
	}

	r.logger.Info("runtime stopping")

	// Cancel waits first so the runner goroutine can exit.
	r.intake.Close()
	r.cancel()

	var firstErr error
	if err := r.supervisor.Stop(timeout); err != nil {
		firstErr = err
	}

	select {
	case <-r.seqDone:
	case <-time.After(timeout):
		if firstErr == nil {
			firstErr = errors.WrapTransient(
				fmt.Errorf("sequence did not stop within %v", timeout),
				"Runtime", "Stop", "sequence drain")
		}
	}

	r.registry.CloseAll()
	if err := r.sockets.Shutdown(timeout); err != nil && firstErr == nil {
		firstErr = err
	}

	if r.ownsDiag {
		r.diag.Close()
	}

	r.running.Store(false)
	r.logger.Info("runtime stopped")
	return firstErr
}

// Status returns a snapshot of the sequence, tasks, and resources.
func (r *Runtime) Status() Status {
	st := Status{ID: r.id, Name: r.name}
	if !r.initialized.Load() {
		st.Sequence = runner.Status{State: runner.StateIdle, ActionIndex: -1}
		return st
	}

	st.Sequence = r.runner.Status()
	st.Tasks = r.supervisor.Statuses()
	st.Connections = r.registry.Len()
	st.InboxPending = r.intake.Pending()
	st.InboxOverflows = r.intake.Overflows()
	return st
}

// HandleMessage implements socket.Sink: inbound traffic flows to the intake.
func (r *Runtime) HandleMessage(msg socket.InboundMessage) {
	r.intake.OfferMessage(msg)
}

// HandleAccepted implements socket.Sink: an accepted connection is registered
// and offered to pending connection waits.
func (r *Runtime) HandleAccepted(conn *socket.Conn) {
	registered, err := r.registry.Insert(conn)
	if err != nil {
		r.logger.Warn("could not register accepted connection",
			"remote", conn.Remote().String(), "error", err)
		return
	}

	r.intake.OfferConnection(matcher.Arrival{
		From:     registered.Key().Remote,
		To:       registered.Key().Local,
		Protocol: registered.Key().Protocol,
		Accepted: true,
		At:       time.Now(),
	})
	r.diag.ConnectionAccepted(r.name, fmt.Sprintf("%s from %s", registered.Key().Protocol, registered.Key().Remote))
}

var _ socket.Sink = (*Runtime)(nil)
