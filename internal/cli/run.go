package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	_ "github.com/ixado/ixado/internal/adapter/claudecli"
	_ "github.com/ixado/ixado/internal/adapter/codexcli"
	_ "github.com/ixado/ixado/internal/adapter/geminicli"
	_ "github.com/ixado/ixado/internal/adapter/mockcli"
	"github.com/ixado/ixado/internal/gitops"
	"github.com/ixado/ixado/internal/metrics"
	"github.com/ixado/ixado/internal/runner"
	"github.com/ixado/ixado/internal/telegram"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the execution loop for the active phase",
	Long: `run reconciles stale state left by a previous controller, then steps
the active phase until it reaches READY_FOR_REVIEW, blocks, or is
interrupted. Ctrl-C stops cooperatively: the active agent is killed and
its task reset to TODO.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cons, err := newConsumer(cmd.OutOrStdout(), a.logger)
	if err != nil {
		return err
	}
	defer cons.close()
	go cons.run(ctx, a.bus)

	notifier, err := telegram.New(a.settings.Telegram, a.logger)
	if err != nil {
		a.logger.Warn("telegram disabled", zap.Error(err))
	}
	if notifier != nil {
		go notifier.Consume(ctx, a.bus)
	}

	r, err := runner.New(runner.Deps{
		Center:      a.center,
		Sup:         a.sup,
		Bus:         a.bus,
		Settings:    a.settings,
		Git:         gitops.NewGit(a.rootDir, gitops.SystemExec, a.logger),
		GH:          gitops.NewGH(a.rootDir, gitops.SystemExec, a.logger),
		Metrics:     metrics.New(),
		Logger:      a.logger,
		ProjectName: a.projectName,
		RootDir:     a.rootDir,
	})
	if err != nil {
		return err
	}

	staleAgents, staleTasks, err := r.ReconcileStartup()
	if err != nil {
		return err
	}
	if staleAgents > 0 || staleTasks > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Reconciled %d stale agents and %d stale tasks\n", staleAgents, staleTasks)
	}

	go func() {
		<-ctx.Done()
		if err := r.Stop(); err != nil {
			a.logger.Warn("stop failed", zap.Error(err))
		}
	}()

	err = r.Run(ctx)
	switch {
	case err == nil:
		fmt.Fprintln(cmd.OutOrStdout(), "Phase is ready for review")
		return nil
	case errors.Is(err, runner.ErrStopped), errors.Is(err, context.Canceled):
		fmt.Fprintln(cmd.OutOrStdout(), "Stopped")
		return nil
	case errors.Is(err, runner.ErrBlocked):
		return fmt.Errorf("phase is blocked: no startable task remains and not all tasks are done")
	default:
		return err
	}
}
