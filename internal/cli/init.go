package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ixado/ixado/internal/cli/wizard"
	"github.com/ixado/ixado/internal/config"
	"github.com/ixado/ixado/internal/control"
	"github.com/ixado/ixado/internal/events"
	"github.com/ixado/ixado/internal/logging"
	"github.com/ixado/ixado/internal/state"
)

var initInteractive bool

var initCmd = &cobra.Command{
	Use:   "init <name> [dir]",
	Short: "Initialize a project and register it in the global config",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "confirm and edit the setup before writing")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	name := args[0]
	rootDir, err := os.Getwd()
	if err != nil {
		return err
	}
	if len(args) == 2 {
		rootDir, err = filepath.Abs(args[1])
		if err != nil {
			return err
		}
	}
	if name == "" {
		return control.Validation("project name must not be empty", "pass a short name, e.g. 'myapp'")
	}

	setup := wizard.ProjectSetup{Name: name, RootDir: rootDir}
	if initInteractive {
		confirmed, err := wizard.ConfirmProjectSetup(setup)
		if err != nil {
			return err
		}
		setup = confirmed
	}

	logger, err := logging.New(logging.Options{Level: flagLogLevel})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store := state.NewStore(state.DefaultStatePath(os.Getenv, setup.RootDir), logger)
	center := control.New(store, events.NewBus(logger), logger)
	if _, err := center.EnsureInitialized(setup.Name, setup.RootDir); err != nil {
		return err
	}

	if setup.DefaultAssignee != "" {
		if err := writeDefaultAssignee(setup.RootDir, setup.DefaultAssignee); err != nil {
			return err
		}
	}

	gcPath := config.GlobalConfigPath(os.Getenv)
	gc, err := config.LoadGlobalConfig(os.ReadFile, gcPath)
	if err != nil {
		return err
	}
	gc.RegisterProject(setup.Name, setup.RootDir)
	if err := config.SaveGlobalConfig(gcPath, gc); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Initialized project %q at %s\n", setup.Name, setup.RootDir)
	return nil
}

// writeDefaultAssignee seeds a project-local settings file when the
// wizard picked an adapter and none exists yet.
func writeDefaultAssignee(rootDir, assignee string) error {
	path := filepath.Join(rootDir, ".ixado", "settings.json")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	doc := fmt.Sprintf("{\n  \"defaultAssignee\": %q\n}\n", assignee)
	tmp := fmt.Sprintf("%s.%d.tmp", path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, []byte(doc), 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
