package control

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ixado/ixado/internal/state"
)

func newTestCenter(t *testing.T) *Center {
	t.Helper()
	store := state.NewStore(filepath.Join(t.TempDir(), "state.json"), nil)
	c := New(store, nil, nil)
	_, err := c.EnsureInitialized("demo", t.TempDir())
	require.NoError(t, err)
	return c
}

func seedPhaseWithTask(t *testing.T, c *Center) (*state.Phase, *state.Task) {
	t.Helper()
	phase, err := c.CreatePhase(CreatePhaseInput{Name: "P1", BranchName: "phase-1"})
	require.NoError(t, err)
	task, err := c.CreateTask(CreateTaskInput{
		PhaseID:  phase.ID,
		Title:    "T1",
		Assignee: state.AdapterMock,
	})
	require.NoError(t, err)
	return phase, task
}

func TestEnsureInitializedIsIdempotent(t *testing.T) {
	store := state.NewStore(filepath.Join(t.TempDir(), "state.json"), nil)
	c := New(store, nil, nil)

	first, err := c.EnsureInitialized("demo", "/srv/demo")
	require.NoError(t, err)
	assert.Equal(t, "demo", first.ProjectName)

	again, err := c.EnsureInitialized("other-name", "/elsewhere")
	require.NoError(t, err)
	assert.Equal(t, "demo", again.ProjectName, "existing state wins")
}

func TestCreatePhaseValidation(t *testing.T) {
	c := newTestCenter(t)

	_, err := c.CreatePhase(CreatePhaseInput{BranchName: "b"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.Hint)

	_, err = c.CreatePhase(CreatePhaseInput{Name: "P1"})
	require.ErrorAs(t, err, &verr)
}

func TestSetActivePhase(t *testing.T) {
	c := newTestCenter(t)
	phase, _ := seedPhaseWithTask(t, c)

	require.NoError(t, c.SetActivePhase(phase.ID))
	st, err := c.GetState()
	require.NoError(t, err)
	assert.Equal(t, phase.ID, st.ActivePhaseID)

	err = c.SetActivePhase("nope")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestSetPhaseStatusClearsFailureKind(t *testing.T) {
	c := newTestCenter(t)
	phase, _ := seedPhaseWithTask(t, c)

	require.NoError(t, c.SetPhaseStatus(phase.ID, state.PhaseCIFailed, state.FailureRemoteCI))
	st, _ := c.GetState()
	got, _ := st.FindPhase(phase.ID)
	assert.Equal(t, state.FailureRemoteCI, got.FailureKind)

	require.NoError(t, c.SetPhaseStatus(phase.ID, state.PhaseCoding, ""))
	st, _ = c.GetState()
	got, _ = st.FindPhase(phase.ID)
	assert.Empty(t, got.FailureKind, "non-failure transition clears failureKind")
}

func TestCreateTaskValidation(t *testing.T) {
	c := newTestCenter(t)
	phase, task := seedPhaseWithTask(t, c)

	_, err := c.CreateTask(CreateTaskInput{PhaseID: phase.ID})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = c.CreateTask(CreateTaskInput{PhaseID: phase.ID, Title: "x", Assignee: "ROBOT"})
	require.ErrorAs(t, err, &verr)

	_, err = c.CreateTask(CreateTaskInput{PhaseID: "nope", Title: "x"})
	require.ErrorAs(t, err, &verr)

	_, err = c.CreateTask(CreateTaskInput{PhaseID: phase.ID, Title: "x", Dependencies: []string{"ghost"}})
	require.ErrorAs(t, err, &verr)

	dep, err := c.CreateTask(CreateTaskInput{PhaseID: phase.ID, Title: "depends", Dependencies: []string{task.ID}})
	require.NoError(t, err)
	assert.Equal(t, []string{task.ID}, dep.Dependencies)
}

func TestUpdateTaskTruncatesCaptures(t *testing.T) {
	c := newTestCenter(t)
	_, task := seedPhaseWithTask(t, c)

	long := strings.Repeat("x", state.MaxCaptureChars+100)
	updated, err := c.UpdateTask(task.ID, UpdateTaskInput{ResultContext: &long})
	require.NoError(t, err)
	assert.Len(t, updated.ResultContext, state.MaxCaptureChars)
	assert.True(t, strings.HasSuffix(updated.ResultContext, state.TruncationSuffix))
}

func TestStartTaskRequiresDispatcher(t *testing.T) {
	c := newTestCenter(t)
	_, task := seedPhaseWithTask(t, c)

	err := c.StartTask(context.Background(), task.ID)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Msg, "dispatcher")
}

type fakeDispatcher struct {
	dispatched []string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _, taskID string) error {
	f.dispatched = append(f.dispatched, taskID)
	return nil
}

func (f *fakeDispatcher) DispatchAndWait(_ context.Context, _, taskID string) (*state.Task, error) {
	f.dispatched = append(f.dispatched, taskID)
	return &state.Task{ID: taskID, Status: state.TaskDone}, nil
}

func (f *fakeDispatcher) RunInternal(_ context.Context, _ state.AdapterID, prompt string) (string, error) {
	return "ran: " + prompt, nil
}

func TestStartTaskChecksDependencies(t *testing.T) {
	c := newTestCenter(t)
	phase, task := seedPhaseWithTask(t, c)
	d := &fakeDispatcher{}
	c.SetDispatcher(d)

	blocked, err := c.CreateTask(CreateTaskInput{
		PhaseID: phase.ID, Title: "blocked", Dependencies: []string{task.ID},
	})
	require.NoError(t, err)

	err = c.StartTask(context.Background(), blocked.ID)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Msg, "unmet dependency")

	require.NoError(t, c.CompleteTask(task.ID, "done"))
	require.NoError(t, c.StartTask(context.Background(), blocked.ID))
	assert.Equal(t, []string{blocked.ID}, d.dispatched)
}

func TestStartTaskRejectsNonStartable(t *testing.T) {
	c := newTestCenter(t)
	_, task := seedPhaseWithTask(t, c)
	c.SetDispatcher(&fakeDispatcher{})

	require.NoError(t, c.CompleteTask(task.ID, "done"))
	err := c.StartTask(context.Background(), task.ID)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestStartTaskAndWait(t *testing.T) {
	c := newTestCenter(t)
	_, task := seedPhaseWithTask(t, c)
	c.SetDispatcher(&fakeDispatcher{})

	final, err := c.StartTaskAndWait(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskDone, final.Status)
}

func TestRunInternalWork(t *testing.T) {
	c := newTestCenter(t)
	c.SetDispatcher(&fakeDispatcher{})

	out, err := c.RunInternalWork(context.Background(), state.AdapterMock, "summarize")
	require.NoError(t, err)
	assert.Equal(t, "ran: summarize", out)

	_, err = c.RunInternalWork(context.Background(), state.AdapterUnassigned, "x")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = c.RunInternalWork(context.Background(), state.AdapterMock, "")
	require.ErrorAs(t, err, &verr)
}

func TestResetTaskToTodoClearsScratch(t *testing.T) {
	c := newTestCenter(t)
	_, task := seedPhaseWithTask(t, c)

	status := state.TaskFailed
	logs := "boom"
	cat := state.CategoryAgentFailure
	_, err := c.UpdateTask(task.ID, UpdateTaskInput{Status: &status, ErrorLogs: &logs, ErrorCategory: &cat})
	require.NoError(t, err)

	require.NoError(t, c.ResetTaskToTodo(task.ID))
	st, _ := c.GetState()
	_, got, _ := st.FindTask(task.ID)
	assert.Equal(t, state.TaskTodo, got.Status)
	assert.Empty(t, got.ResultContext)
	assert.Empty(t, got.ErrorLogs)
	assert.Empty(t, got.ErrorCategory)
}

func TestFailTaskIfInProgress(t *testing.T) {
	c := newTestCenter(t)
	_, task := seedPhaseWithTask(t, c)

	// Not in progress: no-op.
	require.NoError(t, c.FailTaskIfInProgress(task.ID, "boom", state.CategoryUnknown))
	st, _ := c.GetState()
	_, got, _ := st.FindTask(task.ID)
	assert.Equal(t, state.TaskTodo, got.Status)

	inProgress := state.TaskInProgress
	_, err := c.UpdateTask(task.ID, UpdateTaskInput{Status: &inProgress})
	require.NoError(t, err)

	require.NoError(t, c.FailTaskIfInProgress(task.ID, "boom", state.CategoryAgentFailure))
	st, _ = c.GetState()
	_, got, _ = st.FindTask(task.ID)
	assert.Equal(t, state.TaskFailed, got.Status)
	assert.Equal(t, "boom", got.ErrorLogs)
	assert.Equal(t, state.CategoryAgentFailure, got.ErrorCategory)
}

func TestReconcileInProgressTaskToTodoIsIdempotent(t *testing.T) {
	c := newTestCenter(t)
	_, task := seedPhaseWithTask(t, c)

	inProgress := state.TaskInProgress
	logs := "stale"
	_, err := c.UpdateTask(task.ID, UpdateTaskInput{Status: &inProgress, ErrorLogs: &logs})
	require.NoError(t, err)

	require.NoError(t, c.ReconcileInProgressTaskToTodo(task.ID))
	require.NoError(t, c.ReconcileInProgressTaskToTodo(task.ID))

	st, _ := c.GetState()
	_, got, _ := st.FindTask(task.ID)
	assert.Equal(t, state.TaskTodo, got.Status)
	assert.Empty(t, got.ErrorLogs)
}

func TestReconcileInProgressTasksCountsAcrossPhases(t *testing.T) {
	c := newTestCenter(t)
	p1, t1 := seedPhaseWithTask(t, c)
	_ = p1

	p2, err := c.CreatePhase(CreatePhaseInput{Name: "P2", BranchName: "phase-2"})
	require.NoError(t, err)
	t2, err := c.CreateTask(CreateTaskInput{PhaseID: p2.ID, Title: "T2"})
	require.NoError(t, err)

	inProgress := state.TaskInProgress
	for _, id := range []string{t1.ID, t2.ID} {
		_, err := c.UpdateTask(id, UpdateTaskInput{Status: &inProgress})
		require.NoError(t, err)
	}

	count, err := c.ReconcileInProgressTasks()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = c.ReconcileInProgressTasks()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSetPhasePrUrl(t *testing.T) {
	c := newTestCenter(t)
	phase, _ := seedPhaseWithTask(t, c)

	require.NoError(t, c.SetPhasePrUrl(phase.ID, "https://github.com/acme/demo/pull/7"))
	st, _ := c.GetState()
	got, _ := st.FindPhase(phase.ID)
	assert.Equal(t, "https://github.com/acme/demo/pull/7", got.PrURL)
}

func TestIncrementCIFixDepth(t *testing.T) {
	c := newTestCenter(t)
	phase, _ := seedPhaseWithTask(t, c)

	depth, err := c.IncrementCIFixDepth(phase.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
	depth, err = c.IncrementCIFixDepth(phase.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

func TestSetPhaseCIStatusContext(t *testing.T) {
	c := newTestCenter(t)
	phase, _ := seedPhaseWithTask(t, c)

	require.NoError(t, c.SetPhaseCIStatusContext(phase.ID, &state.CIStatusContext{
		LastOverall: "SUCCESS", ConsecutiveCount: 1, PollCount: 4,
	}))
	st, _ := c.GetState()
	got, _ := st.FindPhase(phase.ID)
	require.NotNil(t, got.CIStatusContext)
	assert.Equal(t, 4, got.CIStatusContext.PollCount)

	require.NoError(t, c.SetPhaseCIStatusContext(phase.ID, nil))
	st, _ = c.GetState()
	got, _ = st.FindPhase(phase.ID)
	assert.Nil(t, got.CIStatusContext)
}

func TestRecordRecoveryAttempt(t *testing.T) {
	c := newTestCenter(t)
	_, task := seedPhaseWithTask(t, c)

	rec := state.RecoveryAttemptRecord{
		ID:            "r1",
		AttemptNumber: 1,
		Exception:     state.RecoveryException{Category: state.CategoryDirtyWorktree, Message: "dirty"},
		Result:        state.RecoveryResult{Status: state.RecoveryFixed, Reasoning: "committed residuals"},
	}
	require.NoError(t, c.RecordRecoveryAttempt(task.ID, rec, true))

	st, _ := c.GetState()
	phase, got, _ := st.FindTask(task.ID)
	require.Len(t, got.RecoveryAttempts, 1)
	require.Len(t, phase.RecoveryAttempts, 1)
	assert.Equal(t, state.RecoveryFixed, got.RecoveryAttempts[0].Result.Status)
}
