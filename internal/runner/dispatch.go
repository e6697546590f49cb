package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ixado/ixado/internal/adapter"
	"github.com/ixado/ixado/internal/config"
	"github.com/ixado/ixado/internal/control"
	"github.com/ixado/ixado/internal/events"
	"github.com/ixado/ixado/internal/prompt"
	"github.com/ixado/ixado/internal/recovery"
	"github.com/ixado/ixado/internal/state"
	"github.com/ixado/ixado/internal/supervisor"
)

// archetypeFor infers the worker archetype from the task. CI_FIX tasks
// always run the fixer; otherwise the title prefix decides.
func archetypeFor(task *state.Task) prompt.Archetype {
	if task.Status == state.TaskCIFix {
		return prompt.ArchetypeFixer
	}
	title := strings.ToLower(task.Title)
	switch {
	case strings.HasPrefix(title, "review"):
		return prompt.ArchetypeReviewer
	case strings.HasPrefix(title, "test"):
		return prompt.ArchetypeTester
	default:
		return prompt.ArchetypeCoder
	}
}

func (r *Runner) adapterSettings(id state.AdapterID) config.AdapterSettings {
	s := r.settings.Adapters[string(id)]
	if s.TimeoutMs == 0 {
		s.TimeoutMs = config.DefaultAdapterTimeoutMs
	}
	if s.StartupSilenceTimeoutMs == 0 {
		s.StartupSilenceTimeoutMs = config.DefaultStartupSilenceTimeoutMs
	}
	return s
}

// dispatch runs one task to completion, including outcome handling and
// the recovery policy.
func (r *Runner) dispatch(ctx context.Context, phase *state.Phase, task *state.Task) error {
	assignee := task.Assignee
	if assignee == state.AdapterUnassigned || assignee == "" {
		if r.settings.DefaultAssignee == "" {
			return control.Validation(
				fmt.Sprintf("task %q has no assignee and no defaultAssignee is configured", task.Title),
				"assign the task or set defaultAssignee in settings")
		}
		assignee = state.AdapterID(r.settings.DefaultAssignee)
	}

	cfg := r.adapterSettings(assignee)
	ad, err := adapter.Get(assignee, adapter.Config{
		Command: cfg.Command,
		Args:    cfg.Args,
		Model:   cfg.Model,
	})
	if err != nil {
		return err
	}
	if err := ad.Validate(); err != nil {
		return fmt.Errorf("adapter %s: %w", assignee, err)
	}

	composed, err := r.composePrompt(ctx, phase, task)
	if err != nil {
		return err
	}

	wasResume := task.Status == state.TaskCIFix
	inProgress := state.TaskInProgress
	if _, err := r.center.UpdateTask(task.ID, control.UpdateTaskInput{Status: &inProgress}); err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.TaskTransitions.WithLabelValues(string(state.TaskInProgress)).Inc()
		r.metrics.AdapterSpawns.WithLabelValues(string(assignee)).Inc()
	}

	evCtx := events.Context{
		ProjectName: r.projectName,
		PhaseID:     phase.ID,
		PhaseName:   phase.Name,
		TaskID:      task.ID,
		TaskTitle:   task.Title,
		TaskNumber:  phase.TaskNumber(task.ID),
		AdapterID:   assignee,
	}
	r.publish(events.NewTaskStart(events.SourcePhaseRunner, evCtx, events.TaskStartPayload{
		Assignee: assignee,
		Resume:   wasResume,
		Message:  "dispatching " + task.Title,
	}))

	inv := adapter.Invocation{Prompt: composed, WorkDir: r.rootDir}
	spec := supervisor.Spec{
		Name:                  string(assignee),
		AdapterID:             assignee,
		Command:               ad.Command(),
		Args:                  ad.BuildArgs(inv),
		Env:                   ad.BuildEnv(inv),
		Stdin:                 ad.StdinPayload(inv),
		Cwd:                   r.rootDir,
		ProjectName:           r.projectName,
		PhaseID:               phase.ID,
		TaskID:                task.ID,
		ApprovedAdapterSpawn:  true,
		Timeout:               cfg.Timeout(),
		StartupSilenceTimeout: cfg.StartupSilenceTimeout(),
	}

	r.inFlight.Add(1)
	defer r.inFlight.Done()

	r.setActive("", task.ID)
	res, runErr := r.runUnderSupervision(ctx, spec)
	r.setActive("", "")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	if r.isStopped() {
		// Stop resets the task; nothing more to record here.
		return ErrStopped
	}

	outcome := ad.ParseOutcome(res.ExitCode, res.Stdout, res.Stderr)
	return r.handleOutcome(ctx, phase, task, assignee, evCtx, res, outcome)
}

// runUnderSupervision starts the spawn spec and tracks the live agent id
// so Stop can kill it.
func (r *Runner) runUnderSupervision(ctx context.Context, spec supervisor.Spec) (supervisor.Result, error) {
	rec, err := r.sup.Start(ctx, spec)
	if err != nil {
		return supervisor.Result{}, err
	}
	r.setActive(rec.ID, spec.TaskID)
	return r.sup.Await(ctx, rec.ID)
}

func (r *Runner) handleOutcome(ctx context.Context, phase *state.Phase, task *state.Task,
	assignee state.AdapterID, evCtx events.Context, res supervisor.Result, outcome adapter.Outcome) error {

	if res.ExitCode == 0 && outcome.Success {
		result := outcome.Summary
		if result == "" {
			result = adapter.LastMeaningfulLine(res.Stdout)
		}
		if err := r.center.CompleteTask(task.ID, result); err != nil {
			return err
		}
		if r.metrics != nil {
			r.metrics.TaskTransitions.WithLabelValues(string(state.TaskDone)).Inc()
		}
		r.publish(events.NewTaskFinish(events.SourcePhaseRunner, evCtx, events.TaskFinishPayload{
			Status:  state.TaskDone,
			Message: outcome.Summary,
		}))
		return nil
	}

	failure := recovery.Failure{
		PhaseID:       phase.ID,
		TaskID:        task.ID,
		ExitCode:      res.ExitCode,
		Message:       failureMessage(res, outcome),
		AttemptNumber: len(task.RecoveryAttempts) + 1,
	}
	policy := r.newRecoveryPolicy(phase, task, assignee)
	category := policy.Classify(ctx, failure)

	if err := r.center.FailTaskIfInProgress(task.ID, res.Stderr+res.Stdout, category); err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.TaskTransitions.WithLabelValues(string(state.TaskFailed)).Inc()
	}
	r.publish(events.NewTaskFinish(events.SourcePhaseRunner, evCtx, events.TaskFinishPayload{
		Status:  state.TaskFailed,
		Message: failure.Message,
	}))

	failure.Category = category
	attempt := policy.Recover(ctx, failure)
	if r.metrics != nil {
		r.metrics.RecoveryAttempts.WithLabelValues(
			string(attempt.Exception.Category), string(attempt.Result.Status)).Inc()
	}
	// Worktree remediations commit to the phase branch, so those attempts
	// are recorded on the phase as well as the task.
	phaseLevel := category == state.CategoryDirtyWorktree || category == state.CategoryMissingCommit
	if err := r.center.RecordRecoveryAttempt(task.ID, attempt, phaseLevel); err != nil {
		return err
	}
	if attempt.Result.Status == state.RecoveryFixed {
		// Fixed: the task goes back to TODO for the next loop iteration.
		return r.center.ResetTaskToTodo(task.ID)
	}
	r.logger.Warn("task failed and recovery was unfixable",
		zap.String("taskId", task.ID),
		zap.String("category", string(attempt.Exception.Category)),
		zap.String("reasoning", attempt.Result.Reasoning))
	return nil
}

func failureMessage(res supervisor.Result, outcome adapter.Outcome) string {
	if outcome.Summary != "" {
		return outcome.Summary
	}
	if line := adapter.LastMeaningfulLine(res.Stderr); line != "" {
		return line
	}
	return fmt.Sprintf("adapter exited with code %d", res.ExitCode)
}

// newRecoveryPolicy binds the policy to this dispatch. The respawn
// remediation only resets the task to TODO; the loop re-dispatches it on
// the same adapter, and the recorded attempt count caps the retries.
func (r *Runner) newRecoveryPolicy(phase *state.Phase, task *state.Task, assignee state.AdapterID) *recovery.Policy {
	respawn := func(ctx context.Context) error {
		r.logger.Info("recovery: queueing respawn",
			zap.String("taskId", task.ID),
			zap.String("adapter", string(assignee)))
		return nil
	}
	return recovery.NewPolicy(r.settings.ExceptionRecovery.Attempts(), r.git, respawn, r.bus, r.logger)
}

func (r *Runner) composePrompt(ctx context.Context, phase *state.Phase, task *state.Task) (string, error) {
	arch := archetypeFor(task)

	var diff string
	if arch == prompt.ArchetypeReviewer {
		var err error
		diff, err = r.git.Diff(ctx)
		if err != nil {
			return "", err
		}
	}

	var depResults []string
	for _, dep := range task.Dependencies {
		if depTask, ok := phase.FindTaskInPhase(dep); ok && depTask.ResultContext != "" {
			depResults = append(depResults, depTask.ResultContext)
		}
	}

	instructions, err := prompt.LoadProjectInstructions(r.rootDir)
	if err != nil {
		return "", err
	}

	return r.composer.Compose(prompt.Input{
		Archetype:           arch,
		ProjectName:         r.projectName,
		PhaseName:           phase.Name,
		TaskTitle:           task.Title,
		TaskDescription:     task.Description,
		DependencyResults:   depResults,
		Diff:                diff,
		ProjectInstructions: instructions,
	})
}

func (r *Runner) setActive(agentID, taskID string) {
	r.mu.Lock()
	r.activeAgentID = agentID
	r.activeTaskID = taskID
	r.mu.Unlock()
}

// Dispatch implements control.Dispatcher: start the task asynchronously.
func (r *Runner) Dispatch(ctx context.Context, phaseID, taskID string) error {
	st, err := r.center.GetState()
	if err != nil {
		return err
	}
	phase, task, ok := st.FindTask(taskID)
	if !ok || phase.ID != phaseID {
		return control.Validation(fmt.Sprintf("task %s not found in phase %s", taskID, phaseID),
			"list tasks with the status command")
	}
	go func() {
		if err := r.dispatch(context.WithoutCancel(ctx), phase.Clone(), task.Clone()); err != nil {
			r.logger.Warn("async dispatch failed", zap.String("taskId", taskID), zap.Error(err))
		}
	}()
	return nil
}

// DispatchAndWait implements control.Dispatcher: run the task and return
// its terminal state.
func (r *Runner) DispatchAndWait(ctx context.Context, phaseID, taskID string) (*state.Task, error) {
	st, err := r.center.GetState()
	if err != nil {
		return nil, err
	}
	phase, task, ok := st.FindTask(taskID)
	if !ok || phase.ID != phaseID {
		return nil, control.Validation(fmt.Sprintf("task %s not found in phase %s", taskID, phaseID),
			"list tasks with the status command")
	}
	if err := r.dispatch(ctx, phase.Clone(), task.Clone()); err != nil {
		return nil, err
	}
	final, err := r.center.GetState()
	if err != nil {
		return nil, err
	}
	_, finalTask, ok := final.FindTask(taskID)
	if !ok {
		return nil, fmt.Errorf("task %s vanished after dispatch", taskID)
	}
	return finalTask.Clone(), nil
}

// RunInternal implements control.Dispatcher: one prompt, one adapter,
// result returned without touching any task.
func (r *Runner) RunInternal(ctx context.Context, assignee state.AdapterID, rawPrompt string) (string, error) {
	cfg := r.adapterSettings(assignee)
	ad, err := adapter.Get(assignee, adapter.Config{Command: cfg.Command, Args: cfg.Args, Model: cfg.Model})
	if err != nil {
		return "", err
	}
	if err := ad.Validate(); err != nil {
		return "", err
	}

	inv := adapter.Invocation{Prompt: rawPrompt, WorkDir: r.rootDir}
	res, err := r.sup.RunToCompletion(ctx, supervisor.Spec{
		Name:                  string(assignee),
		AdapterID:             assignee,
		Command:               ad.Command(),
		Args:                  ad.BuildArgs(inv),
		Env:                   ad.BuildEnv(inv),
		Stdin:                 ad.StdinPayload(inv),
		Cwd:                   r.rootDir,
		ProjectName:           r.projectName,
		ApprovedAdapterSpawn:  true,
		Timeout:               cfg.Timeout(),
		StartupSilenceTimeout: cfg.StartupSilenceTimeout(),
	})
	if err != nil {
		return "", err
	}
	outcome := ad.ParseOutcome(res.ExitCode, res.Stdout, res.Stderr)
	if !outcome.Success {
		return "", fmt.Errorf("internal work failed: %s", failureMessage(res, outcome))
	}
	if outcome.Summary != "" {
		return state.TruncateCapture(outcome.Summary), nil
	}
	return state.TruncateCapture(res.Stdout), nil
}
