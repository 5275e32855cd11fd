package runner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tylp/nseqe/diag"
	"github.com/tylp/nseqe/metric"
	"github.com/tylp/nseqe/script"
)

// State is the sequence runner's lifecycle state.
type State string

// Runner states
const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateBlocked   State = "blocked"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Status is a point-in-time snapshot of the runner.
type Status struct {
	State State

	// ActionIndex and ActionKind identify the current or blocking action
	// while the runner is Running or Blocked.
	ActionIndex int
	ActionKind  script.ActionKind

	// Reason carries the failure cause when State is Failed.
	Reason string
}

// RunnerDeps holds runtime dependencies for a sequence runner.
type RunnerDeps struct {
	Node            string
	Logger          *slog.Logger
	Executor        *Executor
	Diag            *diag.Stream
	MetricsRegistry *metric.MetricsRegistry
}

// Runner executes one node's ordered sequence, one action at a time.
// Terminal states are Completed and Failed; a failed action stops all
// sequence advancement but never tears the node down.
type Runner struct {
	node   string
	logger *slog.Logger
	exec   *Executor
	diag   *diag.Stream
	core   *metric.Metrics

	mu     sync.Mutex
	status Status
}

// NewRunner creates a sequence runner in the Idle state.
func NewRunner(deps RunnerDeps) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "runner", "node", deps.Node)
	}
	var core *metric.Metrics
	if deps.MetricsRegistry != nil {
		core = deps.MetricsRegistry.CoreMetrics()
	}
	return &Runner{
		node:   deps.Node,
		logger: logger,
		exec:   deps.Executor,
		diag:   deps.Diag,
		core:   core,
		status: Status{State: StateIdle, ActionIndex: -1},
	}
}

// Status returns the current snapshot.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Runner) setStatus(s Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()

	if r.core != nil {
		r.core.NodeStatus.WithLabelValues(r.node).Set(metric.NodeStatusValue(string(s.State)))
	}
}

// blocking reports whether an action suspends the runner while it executes.
func blocking(action script.Action) bool {
	switch action.Kind() {
	case script.KindSleep, script.KindWait:
		return true
	default:
		return false
	}
}

// Run executes the sequence to a terminal state. It blocks until the
// sequence completes, an action fails, or the context is cancelled; the node
// runtime calls it on a dedicated goroutine.
func (r *Runner) Run(ctx context.Context, sequence []script.Action) {
	r.logger.Info("sequence starting", "actions", len(sequence))

	for i, action := range sequence {
		state := StateRunning
		if blocking(action) {
			state = StateBlocked
		}
		r.setStatus(Status{State: state, ActionIndex: i, ActionKind: action.Kind()})

		if r.diag != nil {
			r.diag.ActionStarted(r.node, string(action.Kind()), i)
		}

		if err := r.exec.Execute(ctx, action); err != nil {
			r.logger.Error("action failed",
				"index", i, "kind", string(action.Kind()), "error", err)
			if r.diag != nil {
				r.diag.ActionFailed(r.node, string(action.Kind()), i, err)
			}
			r.setStatus(Status{
				State:       StateFailed,
				ActionIndex: i,
				ActionKind:  action.Kind(),
				Reason:      err.Error(),
			})
			return
		}

		if r.diag != nil {
			r.diag.ActionCompleted(r.node, string(action.Kind()), i)
		}
	}

	r.logger.Info("sequence completed", "actions", len(sequence))
	r.setStatus(Status{State: StateCompleted, ActionIndex: -1})
}
