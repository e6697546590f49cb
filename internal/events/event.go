// Package events defines the typed runtime event union and the in-process
// bus that fans events out to the CLI, web SSE, and Telegram consumers.
// Every event carries an id, a timestamp, a source, and routing context;
// the payload is discriminated by Type with exactly one payload field set.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/ixado/ixado/internal/state"
)

// Version is the current event schema version.
const Version = 1

// Source identifies the component that emitted an event.
type Source string

const (
	SourcePhaseRunner     Source = "PHASE_RUNNER"
	SourceAgentSupervisor Source = "AGENT_SUPERVISOR"
	SourceWebAPI          Source = "WEB_API"
	SourceCLI             Source = "CLI"
	SourceTelegram        Source = "TELEGRAM"
)

// Type discriminates the event union.
type Type string

const (
	// TypeTaskStart marks a task entering IN_PROGRESS.
	TypeTaskStart Type = "task.lifecycle.start"
	// TypeTaskProgress is free-form progress narration from the runner.
	TypeTaskProgress Type = "task.lifecycle.progress"
	// TypePhaseUpdate marks a phase status transition.
	TypePhaseUpdate Type = "task.lifecycle.phase-update"
	// TypeTaskFinish marks a task reaching DONE, FAILED, or TODO (reset).
	TypeTaskFinish Type = "task.lifecycle.finish"
	// TypeAdapterOutput is one captured stdout/stderr line.
	TypeAdapterOutput Type = "adapter.output"
	// TypeTesterActivity narrates local test runs.
	TypeTesterActivity Type = "tester.activity"
	// TypeRecoveryActivity narrates exception-recovery attempts.
	TypeRecoveryActivity Type = "recovery.activity"
	// TypePRActivity narrates branch push and PR creation.
	TypePRActivity Type = "pr.activity"
	// TypeCIActivity narrates CI polling and the fix fanout.
	TypeCIActivity Type = "ci.activity"
	// TypeTerminalOutcome is the final word on one agent run.
	TypeTerminalOutcome Type = "terminal.outcome"
)

// Stage values used inside tester/recovery/pr/ci payloads.
const (
	StageStarted            = "started"
	StagePassed             = "passed"
	StageFailed             = "failed"
	StageAttemptStarted     = "attempt-started"
	StageAttemptFixed       = "attempt-fixed"
	StageAttemptFailed      = "attempt-failed"
	StagePush               = "push"
	StageCreated            = "created"
	StagePoll               = "poll"
	StagePollTransition     = "poll-transition"
	StageSucceeded          = "succeeded"
	StageValidationMaxRetry = "validation-max-retries"
)

// Context is the routing envelope shared by all event types.
type Context struct {
	ProjectName string          `json:"projectName,omitempty"`
	PhaseID     string          `json:"phaseId,omitempty"`
	PhaseName   string          `json:"phaseName,omitempty"`
	TaskID      string          `json:"taskId,omitempty"`
	TaskTitle   string          `json:"taskTitle,omitempty"`
	TaskNumber  int             `json:"taskNumber,omitempty"`
	AgentID     string          `json:"agentId,omitempty"`
	AdapterID   state.AdapterID `json:"adapterId,omitempty"`
}

// TaskStartPayload accompanies TypeTaskStart.
type TaskStartPayload struct {
	Assignee state.AdapterID `json:"assignee"`
	Resume   bool            `json:"resume,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// TaskProgressPayload accompanies TypeTaskProgress.
type TaskProgressPayload struct {
	Message string `json:"message"`
}

// PhaseUpdatePayload accompanies TypePhaseUpdate.
type PhaseUpdatePayload struct {
	Status  state.PhaseStatus `json:"status"`
	Message string            `json:"message,omitempty"`
}

// TaskFinishPayload accompanies TypeTaskFinish.
type TaskFinishPayload struct {
	Status  state.TaskStatus `json:"status"`
	Message string           `json:"message,omitempty"`
}

// AdapterOutputPayload accompanies TypeAdapterOutput.
type AdapterOutputPayload struct {
	Stream       string            `json:"stream"` // stdout, stderr, or system
	Line         string            `json:"line"`
	IsDiagnostic bool              `json:"isDiagnostic,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// TesterActivityPayload accompanies TypeTesterActivity.
type TesterActivityPayload struct {
	Stage         string                  `json:"stage"`
	Summary       string                  `json:"summary"`
	AttemptNumber int                     `json:"attemptNumber,omitempty"`
	Category      state.ExceptionCategory `json:"category,omitempty"`
}

// RecoveryActivityPayload accompanies TypeRecoveryActivity.
type RecoveryActivityPayload struct {
	Stage         string                  `json:"stage"`
	Summary       string                  `json:"summary"`
	AttemptNumber int                     `json:"attemptNumber,omitempty"`
	Category      state.ExceptionCategory `json:"category,omitempty"`
}

// PRActivityPayload accompanies TypePRActivity.
type PRActivityPayload struct {
	Stage    string `json:"stage"`
	Summary  string `json:"summary"`
	PrURL    string `json:"prUrl,omitempty"`
	PrNumber int    `json:"prNumber,omitempty"`
}

// CIActivityPayload accompanies TypeCIActivity.
type CIActivityPayload struct {
	Stage               string `json:"stage"`
	Summary             string `json:"summary"`
	Overall             string `json:"overall,omitempty"`
	PollCount           int    `json:"pollCount,omitempty"`
	CreatedFixTaskCount int    `json:"createdFixTaskCount,omitempty"`
	PrURL               string `json:"prUrl,omitempty"`
}

// TerminalOutcome values.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeCancelled = "cancelled"
)

// TerminalOutcomePayload accompanies TypeTerminalOutcome.
type TerminalOutcomePayload struct {
	Outcome     string `json:"outcome"`
	Summary     string `json:"summary"`
	AgentStatus string `json:"agentStatus,omitempty"`
	ExitCode    *int   `json:"exitCode,omitempty"`
}

// Event is one element of the runtime stream. Exactly one payload pointer
// is non-nil, matching Type.
type Event struct {
	Version    int       `json:"version"`
	EventID    string    `json:"eventId"`
	Type       Type      `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Source     Source    `json:"source"`
	Context    Context   `json:"context"`

	TaskStart        *TaskStartPayload        `json:"taskStart,omitempty"`
	TaskProgress     *TaskProgressPayload     `json:"taskProgress,omitempty"`
	PhaseUpdate      *PhaseUpdatePayload      `json:"phaseUpdate,omitempty"`
	TaskFinish       *TaskFinishPayload       `json:"taskFinish,omitempty"`
	AdapterOutput    *AdapterOutputPayload    `json:"adapterOutput,omitempty"`
	TesterActivity   *TesterActivityPayload   `json:"testerActivity,omitempty"`
	RecoveryActivity *RecoveryActivityPayload `json:"recoveryActivity,omitempty"`
	PRActivity       *PRActivityPayload       `json:"prActivity,omitempty"`
	CIActivity       *CIActivityPayload       `json:"ciActivity,omitempty"`
	TerminalOutcome  *TerminalOutcomePayload  `json:"terminalOutcome,omitempty"`
}

// IsTerminal reports whether the event ends an agent's stream.
func (e Event) IsTerminal() bool {
	return e.Type == TypeTerminalOutcome
}

func newEvent(t Type, src Source, ctx Context) Event {
	return Event{
		Version:    Version,
		EventID:    uuid.NewString(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Source:     src,
		Context:    ctx,
	}
}

// NewTaskStart builds a task.lifecycle.start event.
func NewTaskStart(src Source, ctx Context, p TaskStartPayload) Event {
	ev := newEvent(TypeTaskStart, src, ctx)
	ev.TaskStart = &p
	return ev
}

// NewTaskProgress builds a task.lifecycle.progress event.
func NewTaskProgress(src Source, ctx Context, p TaskProgressPayload) Event {
	ev := newEvent(TypeTaskProgress, src, ctx)
	ev.TaskProgress = &p
	return ev
}

// NewPhaseUpdate builds a task.lifecycle.phase-update event.
func NewPhaseUpdate(src Source, ctx Context, p PhaseUpdatePayload) Event {
	ev := newEvent(TypePhaseUpdate, src, ctx)
	ev.PhaseUpdate = &p
	return ev
}

// NewTaskFinish builds a task.lifecycle.finish event.
func NewTaskFinish(src Source, ctx Context, p TaskFinishPayload) Event {
	ev := newEvent(TypeTaskFinish, src, ctx)
	ev.TaskFinish = &p
	return ev
}

// NewAdapterOutput builds an adapter.output event.
func NewAdapterOutput(src Source, ctx Context, p AdapterOutputPayload) Event {
	ev := newEvent(TypeAdapterOutput, src, ctx)
	ev.AdapterOutput = &p
	return ev
}

// NewTesterActivity builds a tester.activity event.
func NewTesterActivity(src Source, ctx Context, p TesterActivityPayload) Event {
	ev := newEvent(TypeTesterActivity, src, ctx)
	ev.TesterActivity = &p
	return ev
}

// NewRecoveryActivity builds a recovery.activity event.
func NewRecoveryActivity(src Source, ctx Context, p RecoveryActivityPayload) Event {
	ev := newEvent(TypeRecoveryActivity, src, ctx)
	ev.RecoveryActivity = &p
	return ev
}

// NewPRActivity builds a pr.activity event.
func NewPRActivity(src Source, ctx Context, p PRActivityPayload) Event {
	ev := newEvent(TypePRActivity, src, ctx)
	ev.PRActivity = &p
	return ev
}

// NewCIActivity builds a ci.activity event.
func NewCIActivity(src Source, ctx Context, p CIActivityPayload) Event {
	ev := newEvent(TypeCIActivity, src, ctx)
	ev.CIActivity = &p
	return ev
}

// NewTerminalOutcome builds a terminal.outcome event.
func NewTerminalOutcome(src Source, ctx Context, p TerminalOutcomePayload) Event {
	ev := newEvent(TypeTerminalOutcome, src, ctx)
	ev.TerminalOutcome = &p
	return ev
}
