// Package state owns the persisted project document: the phase/task tree,
// its schema, and the atomic file store it lives in.
package state

import (
	"time"
)

// PhaseStatus is the lifecycle position of a phase.
type PhaseStatus string

const (
	PhasePlanning       PhaseStatus = "PLANNING"
	PhaseBranching      PhaseStatus = "BRANCHING"
	PhaseCoding         PhaseStatus = "CODING"
	PhaseCreatingPR     PhaseStatus = "CREATING_PR"
	PhaseAwaitingCI     PhaseStatus = "AWAITING_CI"
	PhaseCIFailed       PhaseStatus = "CI_FAILED"
	PhaseReadyForReview PhaseStatus = "READY_FOR_REVIEW"
	PhaseDone           PhaseStatus = "DONE"
)

// IsFailure reports whether the status carries a failureKind.
func (s PhaseStatus) IsFailure() bool {
	return s == PhaseCIFailed
}

// TaskStatus is the lifecycle position of a task.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "TODO"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskDone       TaskStatus = "DONE"
	TaskFailed     TaskStatus = "FAILED"
	TaskCIFix      TaskStatus = "CI_FIX"
)

// IsStartable reports whether the execution loop may pick this task up.
func (s TaskStatus) IsStartable() bool {
	return s == TaskTodo || s == TaskCIFix
}

// AdapterID names a coding CLI an agent task can be assigned to.
type AdapterID string

const (
	AdapterCodex      AdapterID = "CODEX_CLI"
	AdapterClaude     AdapterID = "CLAUDE_CLI"
	AdapterGemini     AdapterID = "GEMINI_CLI"
	AdapterMock       AdapterID = "MOCK_CLI"
	AdapterUnassigned AdapterID = "UNASSIGNED"
)

// KnownAdapterIDs returns the adapter identifiers accepted at boundaries.
func KnownAdapterIDs() []AdapterID {
	return []AdapterID{AdapterCodex, AdapterClaude, AdapterGemini, AdapterMock, AdapterUnassigned}
}

// IsKnownAdapterID checks the given string against the adapter enum.
func IsKnownAdapterID(s string) bool {
	for _, id := range KnownAdapterIDs() {
		if string(id) == s {
			return true
		}
	}
	return false
}

// FailureKind classifies why a phase entered a failure status.
type FailureKind string

const (
	FailureLocalTester  FailureKind = "LOCAL_TESTER"
	FailureRemoteCI     FailureKind = "REMOTE_CI"
	FailureAgentFailure FailureKind = "AGENT_FAILURE"
)

// ExceptionCategory classifies a failed task for the recovery policy.
type ExceptionCategory string

const (
	CategoryDirtyWorktree ExceptionCategory = "DIRTY_WORKTREE"
	CategoryMissingCommit ExceptionCategory = "MISSING_COMMIT"
	CategoryAgentFailure  ExceptionCategory = "AGENT_FAILURE"
	CategoryUnknown       ExceptionCategory = "UNKNOWN"
)

// RecoveryStatus is the outcome of one recovery attempt.
type RecoveryStatus string

const (
	RecoveryFixed     RecoveryStatus = "fixed"
	RecoveryUnfixable RecoveryStatus = "unfixable"
)

// RecoveryException describes the failure a recovery attempt addressed.
type RecoveryException struct {
	Category ExceptionCategory `json:"category"`
	Message  string            `json:"message"`
	PhaseID  string            `json:"phaseId,omitempty"`
	TaskID   string            `json:"taskId,omitempty"`
}

// RecoveryResult is the strict outcome record of a recovery attempt.
// Unknown keys fail schema validation.
type RecoveryResult struct {
	Status       RecoveryStatus `json:"status"`
	Reasoning    string         `json:"reasoning"`
	ActionsTaken []string       `json:"actionsTaken,omitempty"`
	FilesTouched []string       `json:"filesTouched,omitempty"`
}

// RecoveryAttemptRecord is one remediation cycle, persisted on the task
// (and on the phase for phase-level failures).
type RecoveryAttemptRecord struct {
	ID            string            `json:"id"`
	OccurredAt    time.Time         `json:"occurredAt"`
	AttemptNumber int               `json:"attemptNumber"`
	Exception     RecoveryException `json:"exception"`
	Result        RecoveryResult    `json:"result"`
}

// CIStatusContext carries the CI polling position between loop iterations
// so terminal observations can require consecutive identical readings.
type CIStatusContext struct {
	LastOverall      string    `json:"lastOverall,omitempty"`
	ConsecutiveCount int       `json:"consecutiveCount,omitempty"`
	PollCount        int       `json:"pollCount,omitempty"`
	LastCheckedAt    time.Time `json:"lastCheckedAt,omitempty"`
}

// Task is an atomic assignment to an adapter.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Status       TaskStatus `json:"status"`
	Assignee     AdapterID  `json:"assignee"`
	Dependencies []string   `json:"dependencies,omitempty"`

	// Captured adapter output, each hard-capped at MaxCaptureChars.
	ResultContext string            `json:"resultContext,omitempty"`
	ErrorLogs     string            `json:"errorLogs,omitempty"`
	ErrorCategory ExceptionCategory `json:"errorCategory,omitempty"`

	RecoveryAttempts []RecoveryAttemptRecord `json:"recoveryAttempts,omitempty"`
}

// Phase is a bounded unit of work producing at most one pull request.
type Phase struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	BranchName string      `json:"branchName"`
	Status     PhaseStatus `json:"status"`
	Tasks      []Task      `json:"tasks"`

	PrURL           string           `json:"prUrl,omitempty"`
	CIStatusContext *CIStatusContext `json:"ciStatusContext,omitempty"`

	// FailureKind is present iff Status is a failure status.
	FailureKind FailureKind `json:"failureKind,omitempty"`

	// CIFixDepth counts CI_FIX fanout rounds performed for this phase.
	CIFixDepth int `json:"ciFixDepth,omitempty"`

	RecoveryAttempts []RecoveryAttemptRecord `json:"recoveryAttempts,omitempty"`
}

// ProjectState is the root aggregate, persisted as a single JSON document.
type ProjectState struct {
	ProjectName   string    `json:"projectName"`
	RootDir       string    `json:"rootDir"`
	Phases        []Phase   `json:"phases"`
	ActivePhaseID string    `json:"activePhaseId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// FindPhase returns a pointer into s.Phases for the given id.
func (s *ProjectState) FindPhase(phaseID string) (*Phase, bool) {
	for i := range s.Phases {
		if s.Phases[i].ID == phaseID {
			return &s.Phases[i], true
		}
	}
	return nil, false
}

// FindTask locates a task anywhere in the phase tree.
func (s *ProjectState) FindTask(taskID string) (*Phase, *Task, bool) {
	for i := range s.Phases {
		for j := range s.Phases[i].Tasks {
			if s.Phases[i].Tasks[j].ID == taskID {
				return &s.Phases[i], &s.Phases[i].Tasks[j], true
			}
		}
	}
	return nil, nil, false
}

// FindTaskInPhase returns a pointer into p.Tasks for the given id.
func (p *Phase) FindTaskInPhase(taskID string) (*Task, bool) {
	for i := range p.Tasks {
		if p.Tasks[i].ID == taskID {
			return &p.Tasks[i], true
		}
	}
	return nil, false
}

// TaskNumber is the 1-based position of the task within its phase, used as
// human-facing context in events. Zero when the task is absent.
func (p *Phase) TaskNumber(taskID string) int {
	for i := range p.Tasks {
		if p.Tasks[i].ID == taskID {
			return i + 1
		}
	}
	return 0
}

// Clone returns a deep copy safe to mutate independently.
func (s *ProjectState) Clone() *ProjectState {
	if s == nil {
		return nil
	}
	out := *s
	out.Phases = make([]Phase, len(s.Phases))
	for i := range s.Phases {
		out.Phases[i] = *s.Phases[i].Clone()
	}
	return &out
}

// Clone returns a deep copy of the phase.
func (p *Phase) Clone() *Phase {
	out := *p
	out.Tasks = make([]Task, len(p.Tasks))
	for i := range p.Tasks {
		out.Tasks[i] = *p.Tasks[i].Clone()
	}
	if p.CIStatusContext != nil {
		ctx := *p.CIStatusContext
		out.CIStatusContext = &ctx
	}
	out.RecoveryAttempts = cloneAttempts(p.RecoveryAttempts)
	return &out
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	out := *t
	out.Dependencies = append([]string(nil), t.Dependencies...)
	out.RecoveryAttempts = cloneAttempts(t.RecoveryAttempts)
	return &out
}

func cloneAttempts(in []RecoveryAttemptRecord) []RecoveryAttemptRecord {
	if in == nil {
		return nil
	}
	out := make([]RecoveryAttemptRecord, len(in))
	for i, rec := range in {
		out[i] = rec
		out[i].Result.ActionsTaken = append([]string(nil), rec.Result.ActionsTaken...)
		out[i].Result.FilesTouched = append([]string(nil), rec.Result.FilesTouched...)
	}
	return out
}
