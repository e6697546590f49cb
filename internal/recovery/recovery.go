// Package recovery classifies failed task runs and applies the capped
// remediation policy before a failure is surfaced as final.
package recovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ixado/ixado/internal/events"
	"github.com/ixado/ixado/internal/state"
)

// Worktree is the slice of the git surface the policy needs.
type Worktree interface {
	StageAll(ctx context.Context) error
	StagedFiles(ctx context.Context) ([]string, error)
	Commit(ctx context.Context, message string) error
	Diff(ctx context.Context) (string, error)
}

// RespawnFunc re-dispatches the failed task on the same adapter.
type RespawnFunc func(ctx context.Context) error

// Failure describes one failed run handed to the policy.
type Failure struct {
	PhaseID  string
	TaskID   string
	ExitCode int
	Message  string

	// AttemptNumber is 1-based; callers pass len(recoveryAttempts)+1.
	AttemptNumber int

	// Category, when already known, skips classification.
	Category state.ExceptionCategory
}

// Policy applies category-specific remediation with a bounded budget.
type Policy struct {
	maxAttempts int
	git         Worktree
	respawn     RespawnFunc
	bus         *events.Bus
	logger      *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewPolicy builds a Policy. maxAttempts outside 0..10 is clamped. bus
// and respawn may be nil.
func NewPolicy(maxAttempts int, git Worktree, respawn RespawnFunc, bus *events.Bus, logger *zap.Logger) *Policy {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	if maxAttempts > 10 {
		maxAttempts = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		maxAttempts: maxAttempts,
		git:         git,
		respawn:     respawn,
		bus:         bus,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// Classify inspects the worktree and the failure to pick a category.
// Staged-but-uncommitted changes point at MISSING_COMMIT; any other
// residual diff is DIRTY_WORKTREE; a bare non-zero exit is
// AGENT_FAILURE.
func (p *Policy) Classify(ctx context.Context, f Failure) state.ExceptionCategory {
	if f.Category != "" {
		return f.Category
	}
	if p.git != nil {
		if staged, err := p.git.StagedFiles(ctx); err == nil && len(staged) > 0 {
			return state.CategoryMissingCommit
		}
		if diff, err := p.git.Diff(ctx); err == nil && strings.TrimSpace(diff) != "" {
			return state.CategoryDirtyWorktree
		}
	}
	if f.ExitCode != 0 {
		return state.CategoryAgentFailure
	}
	return state.CategoryUnknown
}

// Recover runs one remediation attempt and returns the strict attempt
// record. The returned record is complete either way; callers append it
// to the task (and phase, for phase-level failures) and re-dispatch only
// when result.status is fixed.
func (p *Policy) Recover(ctx context.Context, f Failure) state.RecoveryAttemptRecord {
	category := p.Classify(ctx, f)
	rec := state.RecoveryAttemptRecord{
		ID:            p.newID(),
		OccurredAt:    p.now(),
		AttemptNumber: f.AttemptNumber,
		Exception: state.RecoveryException{
			Category: category,
			Message:  f.Message,
			PhaseID:  f.PhaseID,
			TaskID:   f.TaskID,
		},
	}

	if f.AttemptNumber > p.maxAttempts {
		rec.Result = state.RecoveryResult{
			Status:    state.RecoveryUnfixable,
			Reasoning: fmt.Sprintf("recovery budget exhausted: attempt %d exceeds maxAttempts %d", f.AttemptNumber, p.maxAttempts),
		}
		p.publish(events.StageAttemptFailed, rec)
		return rec
	}

	p.publish(events.StageAttemptStarted, rec)
	rec.Result = p.remediate(ctx, category)

	stage := events.StageAttemptFixed
	if rec.Result.Status != state.RecoveryFixed {
		stage = events.StageAttemptFailed
	}
	p.publish(stage, rec)

	p.logger.Info("recovery attempt finished",
		zap.String("taskId", f.TaskID),
		zap.String("category", string(category)),
		zap.String("status", string(rec.Result.Status)),
		zap.Int("attempt", f.AttemptNumber))
	return rec
}

func (p *Policy) remediate(ctx context.Context, category state.ExceptionCategory) state.RecoveryResult {
	switch category {
	case state.CategoryDirtyWorktree:
		return p.commitResiduals(ctx, true)
	case state.CategoryMissingCommit:
		return p.commitResiduals(ctx, false)
	case state.CategoryAgentFailure:
		if p.respawn == nil {
			return state.RecoveryResult{
				Status:    state.RecoveryUnfixable,
				Reasoning: "agent failure with no respawn handler configured",
			}
		}
		if err := p.respawn(ctx); err != nil {
			return state.RecoveryResult{
				Status:    state.RecoveryUnfixable,
				Reasoning: fmt.Sprintf("respawn failed: %v", err),
			}
		}
		return state.RecoveryResult{
			Status:       state.RecoveryFixed,
			Reasoning:    "re-spawned the same adapter once",
			ActionsTaken: []string{"respawn"},
		}
	default:
		return state.RecoveryResult{
			Status:    state.RecoveryUnfixable,
			Reasoning: "no remediation known for this failure",
		}
	}
}

// commitResiduals commits what the failed run left behind. stageFirst
// distinguishes DIRTY_WORKTREE (stage everything, then commit) from
// MISSING_COMMIT (commit what is already staged).
func (p *Policy) commitResiduals(ctx context.Context, stageFirst bool) state.RecoveryResult {
	if p.git == nil {
		return state.RecoveryResult{Status: state.RecoveryUnfixable, Reasoning: "no git worktree configured"}
	}
	var actions []string
	if stageFirst {
		if err := p.git.StageAll(ctx); err != nil {
			return state.RecoveryResult{Status: state.RecoveryUnfixable, Reasoning: fmt.Sprintf("stage residuals: %v", err)}
		}
		actions = append(actions, "git add --all")
	}
	files, err := p.git.StagedFiles(ctx)
	if err != nil {
		return state.RecoveryResult{Status: state.RecoveryUnfixable, Reasoning: fmt.Sprintf("list staged files: %v", err)}
	}
	if len(files) == 0 {
		return state.RecoveryResult{Status: state.RecoveryUnfixable, Reasoning: "nothing staged to commit"}
	}
	message := "commit residual changes left by failed task run"
	if !stageFirst {
		message = "commit staged changes left by failed task run"
	}
	if err := p.git.Commit(ctx, message); err != nil {
		return state.RecoveryResult{Status: state.RecoveryUnfixable, Reasoning: fmt.Sprintf("commit: %v", err)}
	}
	actions = append(actions, "git commit")
	return state.RecoveryResult{
		Status:       state.RecoveryFixed,
		Reasoning:    message,
		ActionsTaken: actions,
		FilesTouched: files,
	}
}

func (p *Policy) publish(stage string, rec state.RecoveryAttemptRecord) {
	if p.bus == nil {
		return
	}
	summary := rec.Exception.Message
	if rec.Result.Reasoning != "" {
		summary = rec.Result.Reasoning
	}
	p.bus.Publish(events.NewRecoveryActivity(events.SourcePhaseRunner, events.Context{
		PhaseID: rec.Exception.PhaseID,
		TaskID:  rec.Exception.TaskID,
	}, events.RecoveryActivityPayload{
		Stage:         stage,
		Summary:       summary,
		AttemptNumber: rec.AttemptNumber,
		Category:      rec.Exception.Category,
	}))
}
