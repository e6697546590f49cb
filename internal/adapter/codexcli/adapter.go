// Package codexcli adapts the OpenAI Codex CLI.
package codexcli

import (
	"fmt"

	"github.com/ixado/ixado/internal/adapter"
	"github.com/ixado/ixado/internal/state"
)

const defaultCommand = "codex"

// Adapter drives `codex exec` in non-interactive, workspace-write mode.
// The prompt travels over stdin.
type Adapter struct {
	command string
	model   string
	extra   []string
}

// New creates a Codex adapter from configuration.
func New(cfg adapter.Config) *Adapter {
	command := cfg.Command
	if command == "" {
		command = defaultCommand
	}
	return &Adapter{command: command, model: cfg.Model, extra: cfg.Args}
}

func (a *Adapter) ID() state.AdapterID {
	return state.AdapterCodex
}

func (a *Adapter) Command() string {
	return a.command
}

func (a *Adapter) BuildArgs(inv adapter.Invocation) []string {
	args := []string{"exec", "--json", "--sandbox", "workspace-write"}
	if a.model != "" {
		args = append(args, "-m", a.model)
	}
	if inv.WorkDir != "" {
		args = append(args, "-C", inv.WorkDir)
	}
	args = append(args, a.extra...)
	return args
}

func (a *Adapter) BuildEnv(inv adapter.Invocation) map[string]string {
	return nil
}

func (a *Adapter) StdinPayload(inv adapter.Invocation) string {
	return inv.Prompt
}

func (a *Adapter) ParseOutcome(exitCode int, stdout, stderr string) adapter.Outcome {
	summary := adapter.ResultFromStreamJSON(stdout)
	if summary == "" {
		summary = adapter.LastMeaningfulLine(stdout)
	}
	if exitCode != 0 && summary == "" {
		summary = adapter.LastMeaningfulLine(stderr)
	}
	return adapter.Outcome{Success: exitCode == 0, Summary: summary}
}

func (a *Adapter) Validate() error {
	if a.command == "" {
		return fmt.Errorf("codex adapter requires a command")
	}
	return nil
}

func init() {
	adapter.Register(state.AdapterCodex, func(cfg adapter.Config) adapter.Adapter {
		return New(cfg)
	})
}
