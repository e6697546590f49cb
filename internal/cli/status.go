package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ixado/ixado/internal/state"
	"github.com/ixado/ixado/internal/web"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show phases and tasks of the project",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	st, err := a.center.GetState()
	if err != nil {
		return err
	}
	renderStatus(cmd.OutOrStdout(), st)

	if path, err := web.RuntimeFilePath(); err == nil {
		if info, err := web.ReadRuntimeFile(path); err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Web: pid %d listening on %s\n", info.PID, info.Addr)
		}
	}
	return nil
}

func renderStatus(w io.Writer, st *state.ProjectState) {
	fmt.Fprintf(w, "Project: %s (%s)\n", st.ProjectName, st.RootDir)
	if len(st.Phases) == 0 {
		fmt.Fprintln(w, "No phases yet.")
		return
	}

	for i := range st.Phases {
		p := &st.Phases[i]
		marker := " "
		if p.ID == st.ActivePhaseID {
			marker = "*"
		}
		line := fmt.Sprintf("%s %s  [%s]  branch=%s", marker, p.Name, p.Status, p.BranchName)
		if p.FailureKind != "" {
			line += fmt.Sprintf("  failure=%s", p.FailureKind)
		}
		if p.PrURL != "" {
			line += "  pr=" + p.PrURL
		}
		fmt.Fprintln(w, line)

		for j := range p.Tasks {
			t := &p.Tasks[j]
			detail := fmt.Sprintf("    %d. %s  [%s]  %s", j+1, t.Title, t.Status, t.Assignee)
			if len(t.Dependencies) > 0 {
				detail += fmt.Sprintf("  deps=%d", len(t.Dependencies))
			}
			if len(t.RecoveryAttempts) > 0 {
				detail += fmt.Sprintf("  recoveries=%d", len(t.RecoveryAttempts))
			}
			fmt.Fprintln(w, detail)
			if t.ErrorLogs != "" {
				fmt.Fprintf(w, "       error: %s\n", firstLine(t.ErrorLogs))
			}
		}
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
