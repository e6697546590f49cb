// Package claudecli adapts the Anthropic Claude Code CLI.
package claudecli

import (
	"fmt"

	"github.com/ixado/ixado/internal/adapter"
	"github.com/ixado/ixado/internal/state"
)

const defaultCommand = "claude"

// Adapter drives `claude -p` in stream-json print mode. The prompt is
// passed as the argument immediately after -p so the CLI never waits on
// an interactive read.
type Adapter struct {
	command string
	model   string
	extra   []string
}

// New creates a Claude adapter from configuration.
func New(cfg adapter.Config) *Adapter {
	command := cfg.Command
	if command == "" {
		command = defaultCommand
	}
	return &Adapter{command: command, model: cfg.Model, extra: cfg.Args}
}

func (a *Adapter) ID() state.AdapterID {
	return state.AdapterClaude
}

func (a *Adapter) Command() string {
	return a.command
}

func (a *Adapter) BuildArgs(inv adapter.Invocation) []string {
	args := []string{"-p", inv.Prompt, "--output-format", "stream-json", "--verbose"}
	if a.model != "" {
		args = append(args, "--model", a.model)
	}
	args = append(args, a.extra...)
	return args
}

func (a *Adapter) BuildEnv(inv adapter.Invocation) map[string]string {
	return nil
}

func (a *Adapter) StdinPayload(inv adapter.Invocation) string {
	return ""
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
		return fmt.Errorf("claude adapter requires a command")
	}
	return nil
}

func init() {
	adapter.Register(state.AdapterClaude, func(cfg adapter.Config) adapter.Adapter {
		return New(cfg)
	})
}
