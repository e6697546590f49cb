// Package runner is the single-writer execution loop for one project:
// it selects the next actionable task of the active phase, dispatches it
// to an adapter under supervision, applies the recovery policy on
// failure, and advances the phase through its GitOps lifecycle.
package runner

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/ixado/ixado/internal/config"
	"github.com/ixado/ixado/internal/control"
	"github.com/ixado/ixado/internal/events"
	"github.com/ixado/ixado/internal/gitops"
	"github.com/ixado/ixado/internal/metrics"
	"github.com/ixado/ixado/internal/prompt"
	"github.com/ixado/ixado/internal/state"
	"github.com/ixado/ixado/internal/supervisor"
)

// ErrStopped marks a loop exit caused by Stop.
var ErrStopped = errors.New("runner stopped")

// ErrBlocked marks a phase that cannot make progress: no startable task
// remains and the phase is not complete (failed tasks need attention).
var ErrBlocked = errors.New("no actionable task; phase is blocked")

// Runner drives the execution loop for one project.
type Runner struct {
	center   *control.Center
	sup      *supervisor.Supervisor
	bus      *events.Bus
	settings *config.Settings
	git      *gitops.Git
	gh       *gitops.GH
	composer *prompt.Composer
	metrics  *metrics.Metrics
	logger   *zap.Logger

	projectName string
	rootDir     string

	mu            sync.Mutex
	stopped       bool
	activeAgentID string
	activeTaskID  string
	inFlight      sync.WaitGroup
}

// Deps bundles the runner's collaborators.
type Deps struct {
	Center   *control.Center
	Sup      *supervisor.Supervisor
	Bus      *events.Bus
	Settings *config.Settings
	Git      *gitops.Git
	GH       *gitops.GH
	Composer *prompt.Composer
	Metrics  *metrics.Metrics
	Logger   *zap.Logger

	ProjectName string
	RootDir     string
}

// New builds a Runner and registers it as the control center's
// dispatcher.
func New(d Deps) (*Runner, error) {
	if d.Composer == nil {
		var err error
		d.Composer, err = prompt.NewComposer(nil)
		if err != nil {
			return nil, err
		}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	r := &Runner{
		center:      d.Center,
		sup:         d.Sup,
		bus:         d.Bus,
		settings:    d.Settings,
		git:         d.Git,
		gh:          d.GH,
		composer:    d.Composer,
		metrics:     d.Metrics,
		logger:      d.Logger,
		projectName: d.ProjectName,
		rootDir:     d.RootDir,
	}
	d.Center.SetDispatcher(r)
	return r, nil
}

// ReconcileStartup clears stale rows left by a crashed controller: dead
// RUNNING agents become STOPPED, orphaned IN_PROGRESS tasks go back to
// TODO. Returns both counts.
func (r *Runner) ReconcileStartup() (agents int, tasks int, err error) {
	agents, err = r.sup.ReconcileRunningAgentsWhere(func(rec *supervisor.AgentRecord) bool {
		return !supervisor.PIDAlive(rec.PID)
	})
	if err != nil {
		return 0, 0, err
	}
	tasks, err = r.center.ReconcileInProgressTasks()
	if err != nil {
		return agents, 0, err
	}
	if agents > 0 || tasks > 0 {
		r.logger.Info("startup reconciliation",
			zap.Int("staleAgents", agents),
			zap.Int("staleTasks", tasks))
	}
	return agents, tasks, nil
}

// Run steps the loop until the active phase reaches READY_FOR_REVIEW or
// DONE, the phase blocks, or Stop is called.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if r.isStopped() {
			return ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := r.Step(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// Step performs one loop iteration. done is true when the active phase
// needs no further work from the loop.
func (r *Runner) Step(ctx context.Context) (done bool, err error) {
	st, err := r.center.GetState()
	if err != nil {
		return false, err
	}
	phase, err := r.preflight(ctx, st)
	if err != nil {
		return false, err
	}

	switch phase.Status {
	case state.PhasePlanning:
		return false, r.setPhaseStatus(phase, state.PhaseBranching, "")

	case state.PhaseBranching:
		if err := r.ensureBranch(ctx, phase); err != nil {
			return false, err
		}
		return false, r.setPhaseStatus(phase, state.PhaseCoding, "")

	case state.PhaseCoding:
		task, ok := selectNextTask(phase)
		if ok {
			return false, r.dispatch(ctx, phase, task)
		}
		if allTasksDone(phase) {
			next := state.PhaseReadyForReview
			if r.settings.CI.Enabled {
				next = state.PhaseCreatingPR
			}
			return false, r.setPhaseStatus(phase, next, "")
		}
		return false, ErrBlocked

	case state.PhaseCreatingPR:
		return false, r.createPR(ctx, phase)

	case state.PhaseAwaitingCI:
		return false, r.awaitCI(ctx, phase)

	case state.PhaseCIFailed:
		return false, r.fanOutFixTasks(ctx, phase)

	case state.PhaseReadyForReview, state.PhaseDone:
		return true, nil
	}
	return false, errors.New("unreachable phase status " + string(phase.Status))
}

// Stop kills the active agent, waits for the in-flight dispatch to
// settle, and resets the killed task back to TODO.
func (r *Runner) Stop() error {
	r.mu.Lock()
	r.stopped = true
	agentID := r.activeAgentID
	taskID := r.activeTaskID
	r.mu.Unlock()

	if agentID != "" {
		if _, err := r.sup.Kill(agentID); err != nil && !errors.Is(err, supervisor.ErrAgentNotFound) {
			r.logger.Warn("stop: kill failed", zap.String("agentId", agentID), zap.Error(err))
		}
	}
	r.inFlight.Wait()

	if taskID != "" {
		if err := r.center.ResetTaskToTodo(taskID); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *Runner) setPhaseStatus(phase *state.Phase, status state.PhaseStatus, kind state.FailureKind) error {
	return r.center.SetPhaseStatus(phase.ID, status, kind)
}

func (r *Runner) publish(ev events.Event) {
	if r.bus != nil {
		r.bus.Publish(ev)
	}
	if r.metrics != nil {
		r.metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	}
}
