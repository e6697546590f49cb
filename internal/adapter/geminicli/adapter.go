// Package geminicli adapts the Google Gemini CLI.
package geminicli

import (
	"fmt"

	"github.com/ixado/ixado/internal/adapter"
	"github.com/ixado/ixado/internal/state"
)

const defaultCommand = "gemini"

// Adapter drives the Gemini CLI non-interactively (--yolo) with the prompt
// as the -p argument.
type Adapter struct {
	command string
	model   string
	extra   []string
}

// New creates a Gemini adapter from configuration.
func New(cfg adapter.Config) *Adapter {
	command := cfg.Command
	if command == "" {
		command = defaultCommand
	}
	return &Adapter{command: command, model: cfg.Model, extra: cfg.Args}
}

func (a *Adapter) ID() state.AdapterID {
	return state.AdapterGemini
}

func (a *Adapter) Command() string {
	return a.command
}

func (a *Adapter) BuildArgs(inv adapter.Invocation) []string {
	args := []string{"-p", inv.Prompt, "--output-format", "stream-json", "--yolo"}
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
		return fmt.Errorf("gemini adapter requires a command")
	}
	return nil
}

func init() {
	adapter.Register(state.AdapterGemini, func(cfg adapter.Config) adapter.Adapter {
		return New(cfg)
	})
}
