// Package task runs a node's background tasks, each on its own ticker for
// the node's whole lifetime. A tick that fails is reported to diagnostics
// and never halts the schedule; tasks outlive sequence completion and
// failure and stop only at node teardown.
package task

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tylp/nseqe/diag"
	"github.com/tylp/nseqe/errors"
	"github.com/tylp/nseqe/metric"
	"github.com/tylp/nseqe/script"
)

// Executor performs one action. The sequence runner's executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, action script.Action) error
}

// TaskStatus is a point-in-time snapshot of one background task.
type TaskStatus struct {
	Name      string
	Running   bool
	Ticks     uint64
	Errors    uint64
	LastError string
}

// SupervisorDeps holds runtime dependencies for a task supervisor.
type SupervisorDeps struct {
	Node            string
	Logger          *slog.Logger
	Executor        Executor
	Diag            *diag.Stream
	MetricsRegistry *metric.MetricsRegistry
}

// Supervisor owns the ticker goroutines of one node's tasks.
type Supervisor struct {
	node   string
	logger *slog.Logger
	exec   Executor
	diag   *diag.Stream
	core   *metric.Metrics

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	statuses map[string]*TaskStatus
}

// NewSupervisor creates a task supervisor.
func NewSupervisor(deps SupervisorDeps) *Supervisor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "task", "node", deps.Node)
	}
	var core *metric.Metrics
	if deps.MetricsRegistry != nil {
		core = deps.MetricsRegistry.CoreMetrics()
	}
	return &Supervisor{
		node:     deps.Node,
		logger:   logger,
		exec:     deps.Executor,
		diag:     deps.Diag,
		core:     core,
		statuses: make(map[string]*TaskStatus),
	}
}

// Start launches one ticker goroutine per task. Tasks with a non-positive
// interval are rejected at start rather than spinning.
func (s *Supervisor) Start(ctx context.Context, tasks []script.Task) error {
	if s.running.Swap(true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Supervisor", "Start", "state check")
	}

	for _, t := range tasks {
		if t.Interval <= 0 {
			s.running.Store(false)
			return errors.WrapInvalid(errors.ErrTask, "Supervisor", "Start",
				"task "+t.Name+" has no interval")
		}
	}

	taskCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, t := range tasks {
		status := &TaskStatus{Name: t.Name, Running: true}
		s.mu.Lock()
		s.statuses[t.Name] = status
		s.mu.Unlock()

		s.wg.Add(1)
		go s.run(taskCtx, t, status)
	}

	s.logger.Info("tasks started", "count", len(tasks))
	return nil
}

// run ticks one task until the supervisor stops. The current tick always
// finishes; only the schedule is interrupted.
func (s *Supervisor) run(ctx context.Context, t script.Task, status *TaskStatus) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			status.Running = false
			s.mu.Unlock()
			return
		case <-ticker.C:
			s.tick(ctx, t, status)
		}
	}
}

func (s *Supervisor) tick(ctx context.Context, t script.Task, status *TaskStatus) {
	var tickErr error
	for _, action := range t.Actions {
		if err := s.exec.Execute(ctx, action); err != nil {
			tickErr = err
			break
		}
	}

	s.mu.Lock()
	status.Ticks++
	if tickErr != nil {
		status.Errors++
		status.LastError = tickErr.Error()
	}
	s.mu.Unlock()

	result := "ok"
	if tickErr != nil {
		result = "error"
		s.logger.Warn("task tick failed", "task", t.Name, "error", tickErr)
	}
	if s.core != nil {
		s.core.TaskTicksTotal.WithLabelValues(s.node, t.Name, result).Inc()
	}
	if s.diag != nil {
		s.diag.TaskTick(s.node, t.Name, tickErr)
	}
}

// Statuses returns a snapshot of every task's state.
func (s *Supervisor) Statuses() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, *st)
	}
	return out
}

// Stop interrupts all task schedules and waits up to timeout for in-flight
// ticks to finish. Idempotent.
func (s *Supervisor) Stop(timeout time.Duration) error {
	if !s.running.Swap(false) {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("tasks stopped")
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrTask, "Supervisor", "Stop", "tick drain timeout")
	}
}
