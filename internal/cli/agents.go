package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ixado/ixado/internal/events"
	"github.com/ixado/ixado/internal/supervisor"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agents from the shared registry",
	Args:  cobra.NoArgs,
	RunE:  runAgents,
}

var logsCmd = &cobra.Command{
	Use:   "logs <agent-id>",
	Short: "Print the captured output tail of an agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

func init() {
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(logsCmd)
}

func runAgents(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	rows := a.sup.List()
	renderAgents(cmd.OutOrStdout(), rows)
	return nil
}

func renderAgents(w io.Writer, rows []*supervisor.AgentRecord) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No agents.")
		return
	}
	for _, rec := range rows {
		started := "-"
		if !rec.StartedAt.IsZero() {
			started = rec.StartedAt.Format(time.RFC3339)
		}
		line := fmt.Sprintf("%s  %-10s  %-8s  pid=%d  started=%s", rec.ID, rec.Name, rec.Status, rec.PID, started)
		if rec.TaskID != "" {
			line += "  task=" + rec.TaskID
		}
		fmt.Fprintln(w, line)
	}
}

func runLogs(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	rec, ok := a.sup.Registry().Get(args[0])
	if !ok {
		return fmt.Errorf("%w: %s", supervisor.ErrAgentNotFound, args[0])
	}
	renderLogs(cmd.OutOrStdout(), rec.OutputTail)
	return nil
}

// renderLogs prints a captured tail, surfacing runtime diagnostic marker
// lines in their human-readable form.
func renderLogs(w io.Writer, tail []string) {
	for _, line := range tail {
		if d, ok := events.ParseDiagnostic(line); ok {
			line = d.Humanize()
		}
		fmt.Fprintln(w, line)
	}
}
