// Package engine orchestrates a scenario: it validates the node models,
// builds one runtime per node, starts them together, and tracks them to a
// terminal state.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tylp/nseqe/codec"
	"github.com/tylp/nseqe/diag"
	"github.com/tylp/nseqe/errors"
	"github.com/tylp/nseqe/health"
	"github.com/tylp/nseqe/metric"
	"github.com/tylp/nseqe/node"
	"github.com/tylp/nseqe/runner"
	"github.com/tylp/nseqe/script"
)

// Deps holds shared infrastructure injected into every node runtime.
type Deps struct {
	Logger          *slog.Logger
	Codec           codec.Codec
	Diag            *diag.Stream
	MetricsRegistry *metric.MetricsRegistry

	// Health receives per-node status updates while the engine runs.
	// Nil disables health reporting.
	Health *health.Monitor
}

// Engine runs one scenario's node runtimes as a unit.
type Engine struct {
	logger  *slog.Logger
	deps    Deps
	metrics *engineMetrics

	runtimes []*node.Runtime
	started  atomic.Bool
	stopped  atomic.Bool
}

// New creates an engine.
func New(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "engine")
	}
	return &Engine{
		logger:  logger,
		deps:    deps,
		metrics: newEngineMetrics(deps.MetricsRegistry),
	}
}

// Load validates the models and builds one runtime per node. It must be
// called before Start and fails without building anything if any model is
// invalid.
func (e *Engine) Load(models []script.Node) error {
	if e.started.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Engine", "Load", "state check")
	}

	result := ValidateScenario(models)
	if !result.Valid {
		return errors.WrapInvalid(
			fmt.Errorf("scenario validation: %w", result.Errors[0]),
			"Engine", "Load", "validation")
	}

	runtimes := make([]*node.Runtime, 0, len(models))
	for _, model := range models {
		rt, err := node.NewRuntime(node.RuntimeDeps{
			Node:            model,
			Logger:          e.logger,
			Codec:           e.deps.Codec,
			Diag:            e.deps.Diag,
			MetricsRegistry: e.deps.MetricsRegistry,
		})
		if err != nil {
			return errors.Wrap(err, "Engine", "Load", "runtime build")
		}
		runtimes = append(runtimes, rt)
	}

	e.runtimes = runtimes
	e.logger.Info("scenario loaded", "nodes", len(runtimes))
	return nil
}

// Start initializes and starts every runtime. All nodes initialize before any
// starts, so no node misses another's early traffic because its sockets were
// not up yet.
func (e *Engine) Start(ctx context.Context) error {
	if len(e.runtimes) == 0 {
		return errors.WrapInvalid(errors.ErrNotStarted, "Engine", "Start", "nothing loaded")
	}
	if e.started.Swap(true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Engine", "Start", "state check")
	}

	for _, rt := range e.runtimes {
		if err := rt.Initialize(); err != nil {
			return err
		}
	}
	for _, rt := range e.runtimes {
		if err := rt.Start(ctx); err != nil {
			return err
		}
	}

	if e.metrics != nil {
		e.metrics.nodesActive.Set(float64(len(e.runtimes)))
	}
	e.logger.Info("scenario started", "nodes", len(e.runtimes))
	return nil
}

// Await blocks until every sequence reaches a terminal state or the context
// is cancelled, reporting node health along the way. It returns an error when
// any sequence failed.
func (e *Engine) Await(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.reportHealth()
			done, failed := e.progress()
			if !done {
				continue
			}

			if e.metrics != nil {
				outcome := "completed"
				if failed > 0 {
					outcome = "failed"
				}
				e.metrics.scenariosTotal.WithLabelValues(outcome).Inc()
			}
			if failed > 0 {
				return errors.WrapTransient(
					fmt.Errorf("%d node(s) failed", failed),
					"Engine", "Await", "scenario")
			}
			e.logger.Info("scenario completed")
			return nil
		}
	}
}

// progress reports whether every sequence is terminal and how many failed.
func (e *Engine) progress() (done bool, failed int) {
	done = true
	for _, rt := range e.runtimes {
		switch rt.Status().Sequence.State {
		case runner.StateCompleted:
		case runner.StateFailed:
			failed++
		default:
			done = false
		}
	}
	return done, failed
}

func (e *Engine) reportHealth() {
	if e.deps.Health == nil {
		return
	}
	for _, rt := range e.runtimes {
		e.deps.Health.Update(rt.Name(), nodeHealth(rt.Status()))
	}
}

// nodeHealth maps a node status onto the health model: a failed sequence
// degrades the node (its tasks keep running), everything else is healthy.
func nodeHealth(st node.Status) health.Status {
	switch st.Sequence.State {
	case runner.StateFailed:
		return health.NewDegraded(st.Name, "sequence failed: "+st.Sequence.Reason)
	default:
		return health.NewHealthy(st.Name, "sequence "+string(st.Sequence.State))
	}
}

// Statuses returns a snapshot of every node.
func (e *Engine) Statuses() []node.Status {
	out := make([]node.Status, 0, len(e.runtimes))
	for _, rt := range e.runtimes {
		out = append(out, rt.Status())
	}
	return out
}

// Stop tears every runtime down. Idempotent; the caller's timeout applies
// per node.
func (e *Engine) Stop(timeout time.Duration) error {
	if e.stopped.Swap(true) {
		return nil
	}

	var firstErr error
	for _, rt := range e.runtimes {
		if err := rt.Stop(timeout); err != nil {
			e.logger.Warn("node stop reported an error", "node", rt.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
		if e.deps.Health != nil {
			e.deps.Health.Update(rt.Name(), health.NewUnhealthy(rt.Name(), "stopped"))
		}
	}

	if e.metrics != nil {
		e.metrics.nodesActive.Set(0)
	}
	e.logger.Info("scenario stopped")
	return firstErr
}
