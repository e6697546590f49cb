package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/ixado/ixado/internal/state"
)

// Preflight error codes.
const (
	PreflightPhaseDone       = "PHASE_DONE"
	PreflightEmptyBranchName = "EMPTY_BRANCH_NAME"
	PreflightWrongBranch     = "WRONG_BRANCH"
	PreflightSideEffects     = "SIDE_EFFECT_PROBES_FAILED"
)

// PhasePreflightError carries a machine-readable code plus a
// human-actionable message. Fatal to the current operation, not to the
// daemon.
type PhasePreflightError struct {
	Code    string
	Message string
}

func (e *PhasePreflightError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func preflightErr(code, format string, args ...any) error {
	return &PhasePreflightError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// preflight resolves the active phase strictly and checks every dispatch
// precondition. A phase branch that does not exist yet is fine; BRANCHING
// creates it.
func (r *Runner) preflight(ctx context.Context, st *state.ProjectState) (*state.Phase, error) {
	phase, err := state.ResolveActivePhaseStrict(st)
	if err != nil {
		var apErr *state.ActivePhaseError
		if errors.As(err, &apErr) {
			return nil, &PhasePreflightError{Code: string(apErr.Code), Message: apErr.Hint}
		}
		return nil, err
	}
	if phase.Status == state.PhaseDone {
		return nil, preflightErr(PreflightPhaseDone,
			"phase %q is DONE; create or activate another phase", phase.Name)
	}
	if phase.BranchName == "" {
		return nil, preflightErr(PreflightEmptyBranchName,
			"phase %q has no branchName; set one before running", phase.Name)
	}

	head, err := r.git.CurrentBranch(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD branch: %w", err)
	}
	if head != phase.BranchName && r.git.BranchExists(ctx, phase.BranchName) {
		return nil, preflightErr(PreflightWrongBranch,
			"HEAD is on %q but phase %q expects branch %q; check it out first",
			head, phase.Name, phase.BranchName)
	}
	return phase, nil
}

// ensureBranch puts HEAD on the phase branch, creating it when absent.
func (r *Runner) ensureBranch(ctx context.Context, phase *state.Phase) error {
	head, err := r.git.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	if head == phase.BranchName {
		return nil
	}
	if r.git.BranchExists(ctx, phase.BranchName) {
		return r.git.Checkout(ctx, phase.BranchName)
	}
	return r.git.CheckoutNew(ctx, phase.BranchName)
}
