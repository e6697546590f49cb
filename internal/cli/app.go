package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ixado/ixado/internal/config"
	"github.com/ixado/ixado/internal/control"
	"github.com/ixado/ixado/internal/events"
	"github.com/ixado/ixado/internal/logging"
	"github.com/ixado/ixado/internal/state"
	"github.com/ixado/ixado/internal/supervisor"
)

// app bundles everything a project-scoped command needs.
type app struct {
	projectName string
	rootDir     string
	settings    *config.Settings
	logger      *zap.Logger
	bus         *events.Bus
	store       *state.Store
	center      *control.Center
	sup         *supervisor.Supervisor
}

// newApp resolves the target project and wires the core. Resolution
// order: --project against the global registry, then the registry's
// default project, then the current directory if it holds a state file.
func newApp() (*app, error) {
	projectName, rootDir, err := resolveProject(flagProject)
	if err != nil {
		return nil, err
	}

	settings, err := config.LoadSettings(os.ReadFile,
		config.SettingsPath(os.Getenv, flagSettings, rootDir))
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{Level: flagLogLevel})
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(logger)
	store := state.NewStore(state.DefaultStatePath(os.Getenv, rootDir), logger)
	center := control.New(store, bus, logger)

	registry := supervisor.NewRegistry(
		supervisor.DefaultRegistryPath(os.Getenv, rootDir),
		settings.Agents.OutputTailLimit,
		logger)
	sup := supervisor.New(registry, bus, logger, supervisor.Options{
		HeartbeatInterval: time.Duration(settings.Agents.HeartbeatIntervalMs) * time.Millisecond,
		IdleThreshold:     time.Duration(settings.Agents.IdleThresholdMs) * time.Millisecond,
	})

	return &app{
		projectName: projectName,
		rootDir:     rootDir,
		settings:    settings,
		logger:      logger,
		bus:         bus,
		store:       store,
		center:      center,
		sup:         sup,
	}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}

func resolveProject(name string) (string, string, error) {
	gc, err := config.LoadGlobalConfig(os.ReadFile, config.GlobalConfigPath(os.Getenv))
	if err != nil {
		return "", "", err
	}
	if resolvedName, rootDir, err := gc.ResolveProject(name); err == nil {
		return resolvedName, rootDir, nil
	} else if name != "" {
		// An explicit name that the registry does not know is an error;
		// only the implicit default falls through to the cwd.
		return "", "", err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", "", err
	}
	statePath := state.DefaultStatePath(os.Getenv, cwd)
	doc, err := state.NewStore(statePath, nil).Read()
	if err != nil {
		if errors.Is(err, state.ErrFileNotFound) {
			return "", "", control.Validation(
				"no project selected and the current directory is not initialized",
				"run 'ixado init <name>' here, or pass --project")
		}
		return "", "", fmt.Errorf("state file %s: %w", statePath, err)
	}
	return doc.ProjectName, cwd, nil
}
