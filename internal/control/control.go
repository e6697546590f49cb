// Package control is the single entry point CLI, web, and Telegram use
// to mutate project state. Every mutation is a transaction: read,
// modify, atomic write, serialized by a per-project lock.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ixado/ixado/internal/events"
	"github.com/ixado/ixado/internal/state"
)

// ValidationError carries a user-facing message plus a hint; CLI
// boundaries render it with Usage and exit code 1, the web API returns
// it as a 400.
type ValidationError struct {
	Msg  string
	Hint string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validation builds a ValidationError.
func Validation(msg, hint string) error {
	return &ValidationError{Msg: msg, Hint: hint}
}

// Dispatcher runs tasks through the execution pipeline. The runner
// registers itself here so startTask and runInternalWork can delegate.
type Dispatcher interface {
	// Dispatch starts the task asynchronously.
	Dispatch(ctx context.Context, phaseID, taskID string) error
	// DispatchAndWait starts the task and blocks until its terminal state.
	DispatchAndWait(ctx context.Context, phaseID, taskID string) (*state.Task, error)
	// RunInternal executes one prompt on an adapter and returns the
	// captured result without committing it to any task.
	RunInternal(ctx context.Context, assignee state.AdapterID, prompt string) (string, error)
}

// Center is the control-center façade for one project.
type Center struct {
	store  *state.Store
	bus    *events.Bus
	logger *zap.Logger

	mu         sync.Mutex
	dispatcher Dispatcher
}

// New creates a Center over the given store. bus may be nil.
func New(store *state.Store, bus *events.Bus, logger *zap.Logger) *Center {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Center{store: store, bus: bus, logger: logger}
}

// SetDispatcher wires the execution pipeline in after construction; the
// runner depends on the Center, so the hookup runs this way around.
func (c *Center) SetDispatcher(d Dispatcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatcher = d
}

// EnsureInitialized returns the current state, creating an empty
// document when none exists yet.
func (c *Center) EnsureInitialized(projectName, rootDir string) (*state.ProjectState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.store.Read()
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, state.ErrFileNotFound) {
		return nil, err
	}
	c.logger.Info("initializing project state",
		zap.String("project", projectName),
		zap.String("path", c.store.Path()))
	return c.store.Initialize(projectName, rootDir)
}

// GetState returns the current document.
func (c *Center) GetState() (*state.ProjectState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Read()
}

// mutate is the transaction core: read, apply, write, under the lock.
func (c *Center) mutate(fn func(*state.ProjectState) error) (*state.ProjectState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.store.Read()
	if err != nil {
		return nil, err
	}
	if err := fn(st); err != nil {
		return nil, err
	}
	return c.store.Write(st)
}

// CreatePhaseInput names the new phase.
type CreatePhaseInput struct {
	Name       string
	BranchName string
}

// CreatePhase appends a phase in PLANNING.
func (c *Center) CreatePhase(in CreatePhaseInput) (*state.Phase, error) {
	if in.Name == "" {
		return nil, Validation("phase name must not be empty", "pass a short descriptive name, e.g. \"auth-endpoints\"")
	}
	if in.BranchName == "" {
		return nil, Validation("phase branchName must not be empty", "pass the feature branch the phase will push to")
	}

	phase := state.Phase{
		ID:         uuid.NewString(),
		Name:       in.Name,
		BranchName: in.BranchName,
		Status:     state.PhasePlanning,
		Tasks:      []state.Task{},
	}
	_, err := c.mutate(func(st *state.ProjectState) error {
		st.Phases = append(st.Phases, phase)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &phase, nil
}

// SetActivePhase points activePhaseId at an existing phase.
func (c *Center) SetActivePhase(phaseID string) error {
	_, err := c.mutate(func(st *state.ProjectState) error {
		if _, ok := st.FindPhase(phaseID); !ok {
			return Validation(fmt.Sprintf("phase %s not found", phaseID), "list phases with the status command")
		}
		st.ActivePhaseID = phaseID
		return nil
	})
	return err
}

// SetPhaseStatus transitions a phase. failureKind is recorded only for
// failure statuses and cleared on every other transition.
func (c *Center) SetPhaseStatus(phaseID string, status state.PhaseStatus, failureKind state.FailureKind) error {
	var phaseName string
	_, err := c.mutate(func(st *state.ProjectState) error {
		phase, ok := st.FindPhase(phaseID)
		if !ok {
			return Validation(fmt.Sprintf("phase %s not found", phaseID), "list phases with the status command")
		}
		phase.Status = status
		if status.IsFailure() {
			phase.FailureKind = failureKind
		} else {
			phase.FailureKind = ""
		}
		phaseName = phase.Name
		return nil
	})
	if err != nil {
		return err
	}
	c.publish(events.NewPhaseUpdate(events.SourcePhaseRunner, events.Context{
		PhaseID:   phaseID,
		PhaseName: phaseName,
	}, events.PhaseUpdatePayload{Status: status}))
	return nil
}

// IncrementCIFixDepth bumps the phase's CI_FIX cycle counter and
// returns the new depth.
func (c *Center) IncrementCIFixDepth(phaseID string) (int, error) {
	depth := 0
	_, err := c.mutate(func(st *state.ProjectState) error {
		phase, ok := st.FindPhase(phaseID)
		if !ok {
			return Validation(fmt.Sprintf("phase %s not found", phaseID), "list phases with the status command")
		}
		phase.CIFixDepth++
		depth = phase.CIFixDepth
		return nil
	})
	return depth, err
}

// SetPhaseCIStatusContext persists the CI polling position so a
// restarted controller resumes the consecutive-reading count.
func (c *Center) SetPhaseCIStatusContext(phaseID string, ciCtx *state.CIStatusContext) error {
	_, err := c.mutate(func(st *state.ProjectState) error {
		phase, ok := st.FindPhase(phaseID)
		if !ok {
			return Validation(fmt.Sprintf("phase %s not found", phaseID), "list phases with the status command")
		}
		phase.CIStatusContext = ciCtx
		return nil
	})
	return err
}

// SetPhasePrUrl records the opened PR on the phase.
func (c *Center) SetPhasePrUrl(phaseID, prURL string) error {
	_, err := c.mutate(func(st *state.ProjectState) error {
		phase, ok := st.FindPhase(phaseID)
		if !ok {
			return Validation(fmt.Sprintf("phase %s not found", phaseID), "list phases with the status command")
		}
		phase.PrURL = prURL
		return nil
	})
	return err
}

// CreateTaskInput describes the new task.
type CreateTaskInput struct {
	PhaseID      string
	Title        string
	Description  string
	Assignee     state.AdapterID
	Dependencies []string
	Status       state.TaskStatus // defaults to TODO
}

// CreateTask appends a task to a phase.
func (c *Center) CreateTask(in CreateTaskInput) (*state.Task, error) {
	if in.Title == "" {
		return nil, Validation("task title must not be empty", "pass a short imperative title")
	}
	if in.Assignee == "" {
		in.Assignee = state.AdapterUnassigned
	}
	if !state.IsKnownAdapterID(string(in.Assignee)) {
		return nil, Validation(fmt.Sprintf("unknown assignee %q", in.Assignee),
			"use one of CODEX_CLI, CLAUDE_CLI, GEMINI_CLI, MOCK_CLI, UNASSIGNED")
	}
	status := in.Status
	if status == "" {
		status = state.TaskTodo
	}

	task := state.Task{
		ID:           uuid.NewString(),
		Title:        in.Title,
		Description:  in.Description,
		Status:       status,
		Assignee:     in.Assignee,
		Dependencies: in.Dependencies,
	}
	_, err := c.mutate(func(st *state.ProjectState) error {
		phase, ok := st.FindPhase(in.PhaseID)
		if !ok {
			return Validation(fmt.Sprintf("phase %s not found", in.PhaseID), "create the phase first")
		}
		for _, dep := range in.Dependencies {
			if _, ok := phase.FindTaskInPhase(dep); !ok {
				return Validation(fmt.Sprintf("dependency %s not found in phase", dep),
					"dependencies must reference tasks in the same phase")
			}
		}
		phase.Tasks = append(phase.Tasks, task)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateTaskInput holds partial task updates; nil fields are untouched.
type UpdateTaskInput struct {
	Title         *string
	Description   *string
	Assignee      *state.AdapterID
	Status        *state.TaskStatus
	ResultContext *string
	ErrorLogs     *string
	ErrorCategory *state.ExceptionCategory
}

// UpdateTask applies a partial update. Captures are truncated at the
// persistence cap.
func (c *Center) UpdateTask(taskID string, in UpdateTaskInput) (*state.Task, error) {
	if in.Assignee != nil && !state.IsKnownAdapterID(string(*in.Assignee)) {
		return nil, Validation(fmt.Sprintf("unknown assignee %q", *in.Assignee),
			"use one of CODEX_CLI, CLAUDE_CLI, GEMINI_CLI, MOCK_CLI, UNASSIGNED")
	}

	var updated state.Task
	_, err := c.mutate(func(st *state.ProjectState) error {
		_, task, ok := st.FindTask(taskID)
		if !ok {
			return Validation(fmt.Sprintf("task %s not found", taskID), "list tasks with the status command")
		}
		if in.Title != nil {
			task.Title = *in.Title
		}
		if in.Description != nil {
			task.Description = *in.Description
		}
		if in.Assignee != nil {
			task.Assignee = *in.Assignee
		}
		if in.Status != nil {
			task.Status = *in.Status
		}
		if in.ResultContext != nil {
			task.ResultContext = state.TruncateCapture(*in.ResultContext)
		}
		if in.ErrorLogs != nil {
			task.ErrorLogs = state.TruncateCapture(*in.ErrorLogs)
		}
		if in.ErrorCategory != nil {
			task.ErrorCategory = *in.ErrorCategory
		}
		updated = *task.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// StartTask validates startability and hands the task to the dispatcher.
func (c *Center) StartTask(ctx context.Context, taskID string) error {
	phaseID, err := c.checkStartable(taskID)
	if err != nil {
		return err
	}
	d := c.currentDispatcher()
	if d == nil {
		return Validation("no dispatcher is running", "start the controller with the run or serve command")
	}
	return d.Dispatch(ctx, phaseID, taskID)
}

// StartTaskAndWait is StartTask blocking until the terminal task state.
func (c *Center) StartTaskAndWait(ctx context.Context, taskID string) (*state.Task, error) {
	phaseID, err := c.checkStartable(taskID)
	if err != nil {
		return nil, err
	}
	d := c.currentDispatcher()
	if d == nil {
		return nil, Validation("no dispatcher is running", "start the controller with the run or serve command")
	}
	return d.DispatchAndWait(ctx, phaseID, taskID)
}

// RunInternalWork executes one prompt through the adapter pipeline; the
// result is returned, never committed to a task.
func (c *Center) RunInternalWork(ctx context.Context, assignee state.AdapterID, prompt string) (string, error) {
	if !state.IsKnownAdapterID(string(assignee)) || assignee == state.AdapterUnassigned {
		return "", Validation(fmt.Sprintf("unknown assignee %q", assignee),
			"use one of CODEX_CLI, CLAUDE_CLI, GEMINI_CLI, MOCK_CLI")
	}
	if prompt == "" {
		return "", Validation("prompt must not be empty", "pass the work description as the prompt")
	}
	d := c.currentDispatcher()
	if d == nil {
		return "", Validation("no dispatcher is running", "start the controller with the run or serve command")
	}
	return d.RunInternal(ctx, assignee, prompt)
}

func (c *Center) currentDispatcher() Dispatcher {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dispatcher
}

func (c *Center) checkStartable(taskID string) (string, error) {
	st, err := c.GetState()
	if err != nil {
		return "", err
	}
	phase, task, ok := st.FindTask(taskID)
	if !ok {
		return "", Validation(fmt.Sprintf("task %s not found", taskID), "list tasks with the status command")
	}
	if !task.Status.IsStartable() {
		return "", Validation(fmt.Sprintf("task %s is %s, not startable", taskID, task.Status),
			"only TODO and CI_FIX tasks can be started")
	}
	for _, dep := range task.Dependencies {
		depTask, ok := phase.FindTaskInPhase(dep)
		if !ok || depTask.Status != state.TaskDone {
			return "", Validation(fmt.Sprintf("task %s has unmet dependency %s", taskID, dep),
				"dependencies must be DONE before the task starts")
		}
	}
	return phase.ID, nil
}

// ResetTaskToTodo puts a task back to TODO and clears its diagnostic
// scratch fields. Recovery history is kept.
func (c *Center) ResetTaskToTodo(taskID string) error {
	_, err := c.mutate(func(st *state.ProjectState) error {
		_, task, ok := st.FindTask(taskID)
		if !ok {
			return Validation(fmt.Sprintf("task %s not found", taskID), "list tasks with the status command")
		}
		resetTask(task)
		return nil
	})
	if err != nil {
		return err
	}
	c.publishTaskFinish(taskID, state.TaskTodo, "task reset to TODO")
	return nil
}

// FailTaskIfInProgress marks an IN_PROGRESS task FAILED with its error
// capture; any other status is left alone.
func (c *Center) FailTaskIfInProgress(taskID, errorLogs string, category state.ExceptionCategory) error {
	failed := false
	_, err := c.mutate(func(st *state.ProjectState) error {
		_, task, ok := st.FindTask(taskID)
		if !ok {
			return Validation(fmt.Sprintf("task %s not found", taskID), "list tasks with the status command")
		}
		if task.Status != state.TaskInProgress {
			return nil
		}
		task.Status = state.TaskFailed
		task.ErrorLogs = state.TruncateCapture(errorLogs)
		task.ErrorCategory = category
		failed = true
		return nil
	})
	if err != nil {
		return err
	}
	if failed {
		c.publishTaskFinish(taskID, state.TaskFailed, "task failed")
	}
	return nil
}

// ReconcileInProgressTaskToTodo resets one stale IN_PROGRESS task.
// Idempotent: a task not IN_PROGRESS is untouched.
func (c *Center) ReconcileInProgressTaskToTodo(taskID string) error {
	_, err := c.mutate(func(st *state.ProjectState) error {
		_, task, ok := st.FindTask(taskID)
		if !ok {
			return Validation(fmt.Sprintf("task %s not found", taskID), "list tasks with the status command")
		}
		if task.Status == state.TaskInProgress {
			resetTask(task)
		}
		return nil
	})
	return err
}

// ReconcileInProgressTasks resets every stale IN_PROGRESS task across
// all phases and returns the count.
func (c *Center) ReconcileInProgressTasks() (int, error) {
	count := 0
	_, err := c.mutate(func(st *state.ProjectState) error {
		for i := range st.Phases {
			for j := range st.Phases[i].Tasks {
				task := &st.Phases[i].Tasks[j]
				if task.Status == state.TaskInProgress {
					resetTask(task)
					count++
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// resetTask clears the diagnostic scratch fields; recovery history
// stays.
func resetTask(task *state.Task) {
	task.Status = state.TaskTodo
	task.ResultContext = ""
	task.ErrorLogs = ""
	task.ErrorCategory = ""
}

// CompleteTask marks a task DONE with its truncated result capture.
func (c *Center) CompleteTask(taskID, resultContext string) error {
	_, err := c.mutate(func(st *state.ProjectState) error {
		_, task, ok := st.FindTask(taskID)
		if !ok {
			return Validation(fmt.Sprintf("task %s not found", taskID), "list tasks with the status command")
		}
		task.Status = state.TaskDone
		task.ResultContext = state.TruncateCapture(resultContext)
		task.ErrorLogs = ""
		task.ErrorCategory = ""
		return nil
	})
	if err != nil {
		return err
	}
	c.publishTaskFinish(taskID, state.TaskDone, "task done")
	return nil
}

// RecordRecoveryAttempt appends the attempt to the task; phaseLevel
// failures are mirrored onto the phase.
func (c *Center) RecordRecoveryAttempt(taskID string, rec state.RecoveryAttemptRecord, phaseLevel bool) error {
	_, err := c.mutate(func(st *state.ProjectState) error {
		phase, task, ok := st.FindTask(taskID)
		if !ok {
			return Validation(fmt.Sprintf("task %s not found", taskID), "list tasks with the status command")
		}
		task.RecoveryAttempts = append(task.RecoveryAttempts, rec)
		if phaseLevel {
			phase.RecoveryAttempts = append(phase.RecoveryAttempts, rec)
		}
		return nil
	})
	return err
}

func (c *Center) publishTaskFinish(taskID string, status state.TaskStatus, message string) {
	c.publish(events.NewTaskFinish(events.SourcePhaseRunner, events.Context{
		TaskID: taskID,
	}, events.TaskFinishPayload{Status: status, Message: message}))
}

func (c *Center) publish(ev events.Event) {
	if c.bus != nil {
		c.bus.Publish(ev)
	}
}
