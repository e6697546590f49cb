package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ixado/ixado/internal/config"
	"github.com/ixado/ixado/internal/control"
	"github.com/ixado/ixado/internal/events"
	"github.com/ixado/ixado/internal/gitops"
	"github.com/ixado/ixado/internal/state"
)

// createPR runs the CREATING_PR stage: probe side-effect preconditions,
// stage and commit residuals, push the phase branch, open the PR.
func (r *Runner) createPR(ctx context.Context, phase *state.Phase) error {
	evCtx := events.Context{
		ProjectName: r.projectName,
		PhaseID:     phase.ID,
		PhaseName:   phase.Name,
	}

	fp, failures := gitops.RunProbes(ctx, r.git, r.gh)
	if len(failures) > 0 {
		var lines []string
		for _, f := range failures {
			lines = append(lines, fmt.Sprintf("%s (%s): %s", f.Probe, f.Kind, f.Remediation))
		}
		summary := "side-effect probes failed: " + strings.Join(lines, "; ")
		r.publish(events.NewPRActivity(events.SourcePhaseRunner, evCtx, events.PRActivityPayload{
			Stage:   events.StageFailed,
			Summary: summary,
		}))
		return preflightErr(PreflightSideEffects, "%s", summary)
	}
	r.logger.Info("side-effect probes passed",
		zap.String("ghVersion", fp.GHVersion),
		zap.String("ghUser", fp.GHUser),
		zap.String("gitUser", fp.GitUserName),
		zap.String("host", fp.Hostname))

	if err := r.git.StageAll(ctx); err != nil {
		return err
	}
	staged, err := r.git.StagedFiles(ctx)
	if err != nil {
		return err
	}
	if len(staged) > 0 {
		if err := r.git.Commit(ctx, phase.Name); err != nil {
			return err
		}
	}

	if err := r.git.Push(ctx, phase.BranchName); err != nil {
		return err
	}
	r.publish(events.NewPRActivity(events.SourcePhaseRunner, evCtx, events.PRActivityPayload{
		Stage:   events.StagePush,
		Summary: "pushed " + phase.BranchName,
	}))

	pr, err := r.gh.PRCreate(ctx, phase.Name, prBody(phase), phase.BranchName)
	if err != nil {
		return err
	}
	if err := r.center.SetPhasePrUrl(phase.ID, pr.URL); err != nil {
		return err
	}
	r.publish(events.NewPRActivity(events.SourcePhaseRunner, evCtx, events.PRActivityPayload{
		Stage:    events.StageCreated,
		Summary:  fmt.Sprintf("opened PR #%d", pr.Number),
		PrURL:    pr.URL,
		PrNumber: pr.Number,
	}))

	return r.setPhaseStatus(phase, state.PhaseAwaitingCI, "")
}

func prBody(phase *state.Phase) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Phase: %s\n\n", phase.Name)
	b.WriteString("Tasks:\n")
	for i := range phase.Tasks {
		fmt.Fprintf(&b, "- %s\n", phase.Tasks[i].Title)
	}
	return b.String()
}

// awaitCI polls until the CI status is stable-terminal and advances the
// phase accordingly.
func (r *Runner) awaitCI(ctx context.Context, phase *state.Phase) error {
	evCtx := events.Context{
		ProjectName: r.projectName,
		PhaseID:     phase.ID,
		PhaseName:   phase.Name,
	}

	interval := time.Duration(r.settings.CI.PollIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Duration(config.DefaultCIPollIntervalMs) * time.Millisecond
	}

	lastOverall := ""
	if phase.CIStatusContext != nil {
		lastOverall = phase.CIStatusContext.LastOverall
	}
	basePolls := 0
	if phase.CIStatusContext != nil {
		basePolls = phase.CIStatusContext.PollCount
	}

	poller := &gitops.Poller{
		Status: func(ctx context.Context) (gitops.Observation, error) {
			return r.gh.RunList(ctx, phase.BranchName)
		},
		Interval: interval,
		Required: r.settings.CI.TerminalObservationCount,
		OnPoll: func(obs gitops.Observation, n int) {
			if r.metrics != nil {
				r.metrics.CIPolls.Inc()
			}
			stage := events.StagePoll
			if obs.Overall != lastOverall {
				stage = events.StagePollTransition
			}
			r.publish(events.NewCIActivity(events.SourcePhaseRunner, evCtx, events.CIActivityPayload{
				Stage:     stage,
				Summary:   "CI status " + obs.Overall,
				Overall:   obs.Overall,
				PollCount: basePolls + n,
				PrURL:     phase.PrURL,
			}))
			lastOverall = obs.Overall
			_ = r.center.SetPhaseCIStatusContext(phase.ID, &state.CIStatusContext{
				LastOverall:   obs.Overall,
				PollCount:     basePolls + n,
				LastCheckedAt: time.Now().UTC(),
			})
		},
	}

	obs, polls, err := poller.Await(ctx)
	if err != nil {
		return err
	}

	if obs.Overall == gitops.CISuccess {
		r.publish(events.NewCIActivity(events.SourcePhaseRunner, evCtx, events.CIActivityPayload{
			Stage:     events.StageSucceeded,
			Summary:   "CI green",
			Overall:   obs.Overall,
			PollCount: basePolls + polls,
			PrURL:     phase.PrURL,
		}))
		if err := r.center.SetPhaseCIStatusContext(phase.ID, nil); err != nil {
			return err
		}
		return r.setPhaseStatus(phase, state.PhaseReadyForReview, "")
	}
	return r.setPhaseStatus(phase, state.PhaseCIFailed, state.FailureRemoteCI)
}

// fanOutFixTasks turns parsed CI failures into CI_FIX tasks under the
// width and depth guardrails, then sends the phase back to CODING.
func (r *Runner) fanOutFixTasks(ctx context.Context, phase *state.Phase) error {
	evCtx := events.Context{
		ProjectName: r.projectName,
		PhaseID:     phase.ID,
		PhaseName:   phase.Name,
	}

	maxDepth := r.settings.CI.CIFixMaxDepth
	if maxDepth <= 0 {
		maxDepth = config.DefaultCIFixMaxDepth
	}
	depth, err := r.center.IncrementCIFixDepth(phase.ID)
	if err != nil {
		return err
	}
	if depth > maxDepth {
		r.publish(events.NewCIActivity(events.SourcePhaseRunner, evCtx, events.CIActivityPayload{
			Stage:   events.StageValidationMaxRetry,
			Summary: fmt.Sprintf("CI fix depth %d exceeds limit %d; giving up", depth, maxDepth),
			PrURL:   phase.PrURL,
		}))
		return ErrBlocked
	}

	obs, err := r.gh.RunList(ctx, phase.BranchName)
	if err != nil {
		return err
	}
	items := obs.Failures
	if len(items) == 0 {
		items = []gitops.FixItem{{Name: "ci", Summary: "CI reported failure without named workflows"}}
	}

	fanOut := r.settings.CI.CIFixMaxFanOut
	if fanOut <= 0 {
		fanOut = config.DefaultCIFixMaxFanOut
	}
	if len(items) > fanOut {
		items = items[:fanOut]
	}

	assignee := state.AdapterID(r.settings.DefaultAssignee)
	created := 0
	for _, item := range items {
		_, err := r.center.CreateTask(control.CreateTaskInput{
			PhaseID:     phase.ID,
			Title:       "Fix CI: " + item.Name,
			Description: item.Summary,
			Assignee:    assignee,
			Status:      state.TaskCIFix,
		})
		if err != nil {
			return err
		}
		created++
	}

	r.publish(events.NewCIActivity(events.SourcePhaseRunner, evCtx, events.CIActivityPayload{
		Stage:               events.StageFailed,
		Summary:             fmt.Sprintf("CI red (overall %s) (%d fix tasks)", obs.Overall, created),
		Overall:             obs.Overall,
		CreatedFixTaskCount: created,
		PrURL:               phase.PrURL,
	}))

	return r.setPhaseStatus(phase, state.PhaseCoding, "")
}
