// Package cli implements the ixado command tree. Commands resolve the
// target project, load settings, and drive the control center; all
// human-readable output goes through the CLI event consumer or plain
// stdout, with zap diagnostics on stderr.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ixado/ixado/internal/control"
	"github.com/ixado/ixado/internal/version"
)

var (
	flagProject  string
	flagSettings string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "ixado",
	Short: "ixado drives software projects through phases executed by coding-CLI agents",
	Long: `ixado is a local multi-agent orchestrator: it breaks a project into
phases and tasks, dispatches each task to an external coding CLI
(Codex, Claude, Gemini) under supervision, and walks the phase through
branch, PR, and CI.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree and maps errors to exit codes.
// Validation errors render with usage and hint; everything else is a
// bare Error line. Both exit 1.
func Execute() int {
	cmd, err := rootCmd.ExecuteC()
	if err == nil {
		return 0
	}

	var verr *control.ValidationError
	if errors.As(err, &verr) {
		fmt.Fprintf(os.Stderr, "Error: %s\n", verr.Msg)
		fmt.Fprintf(os.Stderr, "  Usage: %s\n", cmd.UseLine())
		if verr.Hint != "" {
			fmt.Fprintf(os.Stderr, "  Hint:  %s\n", verr.Hint)
		}
		return 1
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	return 1
}

func init() {
	rootCmd.Version = version.Short()
	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&flagProject, "project", "", "project name (default: the registered default project)")
	rootCmd.PersistentFlags().StringVar(&flagSettings, "settings", "", "settings file (default: $IXADO_SETTINGS_FILE, then <root>/.ixado/settings.json)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	viper.SetEnvPrefix("IXADO")
	viper.AutomaticEnv()
}
