// Package mockcli provides a deterministic shell-backed adapter for tests
// and dry runs. It spawns a real subprocess so supervision, tailing, and
// timeout paths run against actual pipes.
package mockcli

import (
	"fmt"

	"github.com/ixado/ixado/internal/adapter"
	"github.com/ixado/ixado/internal/state"
)

const (
	defaultCommand = "sh"
	defaultScript  = "printf 'done\\n'"
)

// PromptEnvVar carries the composed prompt into the mock script.
const PromptEnvVar = "IXADO_PROMPT"

// Adapter runs `sh -c <script>`. Configured Args replace the script
// (e.g. ["-c", "exit 1"]) so tests can shape any outcome.
type Adapter struct {
	command string
	argv    []string
}

// New creates a mock adapter from configuration.
func New(cfg adapter.Config) *Adapter {
	command := cfg.Command
	if command == "" {
		command = defaultCommand
	}
	argv := cfg.Args
	if len(argv) == 0 {
		argv = []string{"-c", defaultScript}
	}
	return &Adapter{command: command, argv: argv}
}

func (a *Adapter) ID() state.AdapterID {
	return state.AdapterMock
}

func (a *Adapter) Command() string {
	return a.command
}

func (a *Adapter) BuildArgs(inv adapter.Invocation) []string {
	return append([]string(nil), a.argv...)
}

func (a *Adapter) BuildEnv(inv adapter.Invocation) map[string]string {
	return map[string]string{PromptEnvVar: inv.Prompt}
}

func (a *Adapter) StdinPayload(inv adapter.Invocation) string {
	return ""
}

func (a *Adapter) ParseOutcome(exitCode int, stdout, stderr string) adapter.Outcome {
	summary := adapter.LastMeaningfulLine(stdout)
	if exitCode != 0 && summary == "" {
		summary = adapter.LastMeaningfulLine(stderr)
	}
	return adapter.Outcome{Success: exitCode == 0, Summary: summary}
}

func (a *Adapter) Validate() error {
	if a.command == "" {
		return fmt.Errorf("mock adapter requires a command")
	}
	if len(a.argv) < 2 || a.argv[0] != "-c" {
		return fmt.Errorf("mock adapter args must be a -c script, got %v", a.argv)
	}
	return nil
}

func init() {
	adapter.Register(state.AdapterMock, func(cfg adapter.Config) adapter.Adapter {
		return New(cfg)
	})
}
