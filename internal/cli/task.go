package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	_ "github.com/ixado/ixado/internal/adapter/claudecli"
	_ "github.com/ixado/ixado/internal/adapter/codexcli"
	_ "github.com/ixado/ixado/internal/adapter/geminicli"
	_ "github.com/ixado/ixado/internal/adapter/mockcli"
	"github.com/ixado/ixado/internal/control"
	"github.com/ixado/ixado/internal/gitops"
	"github.com/ixado/ixado/internal/metrics"
	"github.com/ixado/ixado/internal/runner"
	"github.com/ixado/ixado/internal/state"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var (
	taskPhaseID  string
	taskAssignee string
	taskDesc     string
	taskDeps     []string
)

var taskCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Add a task to a phase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		task, err := a.center.CreateTask(control.CreateTaskInput{
			PhaseID:      taskPhaseID,
			Title:        args[0],
			Description:  taskDesc,
			Assignee:     state.AdapterID(taskAssignee),
			Dependencies: taskDeps,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created task %s (%s)\n", task.Title, task.ID)
		return nil
	},
}

var taskStartCmd = &cobra.Command{
	Use:   "start <task-id>",
	Short: "Run one task to completion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		cons, err := newConsumer(cmd.OutOrStdout(), a.logger)
		if err != nil {
			return err
		}
		defer cons.close()
		go cons.run(cmd.Context(), a.bus)

		// startTaskAndWait needs a dispatcher; a runner registers itself.
		if _, err := runner.New(runner.Deps{
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
		}); err != nil {
			return err
		}

		task, err := a.center.StartTaskAndWait(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Task %s finished: %s\n", task.Title, task.Status)
		return nil
	},
}

var taskResetCmd = &cobra.Command{
	Use:   "reset <task-id>",
	Short: "Reset a task back to TODO",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.center.ResetTaskToTodo(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Task %s reset to TODO\n", args[0])
		return nil
	},
}

func init() {
	taskCreateCmd.Flags().StringVar(&taskPhaseID, "phase", "", "phase id the task belongs to (required)")
	taskCreateCmd.Flags().StringVar(&taskAssignee, "assignee", "", "adapter id (CODEX_CLI, CLAUDE_CLI, GEMINI_CLI, MOCK_CLI); empty means unassigned")
	taskCreateCmd.Flags().StringVar(&taskDesc, "description", "", "longer task description")
	taskCreateCmd.Flags().StringSliceVar(&taskDeps, "depends-on", nil, "task ids in the same phase that must be DONE first")
	_ = taskCreateCmd.MarkFlagRequired("phase")

	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskStartCmd)
	taskCmd.AddCommand(taskResetCmd)
	rootCmd.AddCommand(taskCmd)
}
