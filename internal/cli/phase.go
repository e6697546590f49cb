package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ixado/ixado/internal/control"
)

var phaseCmd = &cobra.Command{
	Use:   "phase",
	Short: "Manage phases",
}

var phaseBranch string

var phaseCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a phase in PLANNING",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		phase, err := a.center.CreatePhase(control.CreatePhaseInput{
			Name:       args[0],
			BranchName: phaseBranch,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created phase %s (%s)\n", phase.Name, phase.ID)
		return nil
	},
}

var phaseActivateCmd = &cobra.Command{
	Use:   "activate <phase-id>",
	Short: "Make a phase the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.center.SetActivePhase(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Active phase: %s\n", args[0])
		return nil
	},
}

func init() {
	phaseCreateCmd.Flags().StringVar(&phaseBranch, "branch", "", "feature branch the phase pushes to (required)")
	_ = phaseCreateCmd.MarkFlagRequired("branch")
	phaseCmd.AddCommand(phaseCreateCmd)
	phaseCmd.AddCommand(phaseActivateCmd)
	rootCmd.AddCommand(phaseCmd)
}
