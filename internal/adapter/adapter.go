// Package adapter defines the coding-CLI adapter contract and the registry
// the supervisor resolves adapters from. Each concrete adapter lives in its
// own subpackage and registers itself via init.
package adapter

import (
	"encoding/json"
	"strings"

	"github.com/ixado/ixado/internal/state"
)

// Config carries the per-adapter settings an adapter composes its
// invocation from. Zero values mean the adapter's own defaults.
type Config struct {
	// Command overrides the executable name.
	Command string
	// Args are appended verbatim after the adapter's own flags (for the
	// mock adapter they replace the script).
	Args []string
	// Model is passed through as the CLI's model flag where supported.
	Model string
}

// Invocation is everything one run needs from the orchestrator.
type Invocation struct {
	Prompt  string
	WorkDir string
}

// Outcome is the adapter's reading of a finished run.
type Outcome struct {
	Success bool
	Summary string
}

// Adapter is implemented by every coding-CLI integration.
type Adapter interface {
	// ID returns the adapter identifier recorded in state and registry.
	ID() state.AdapterID

	// Command returns the executable to spawn.
	Command() string

	// BuildArgs composes the argv after the executable.
	BuildArgs(inv Invocation) []string

	// BuildEnv returns extra environment variables, nil for none. The
	// child always inherits the parent environment.
	BuildEnv(inv Invocation) map[string]string

	// StdinPayload returns bytes to write to the child's stdin; empty
	// means stdin is closed immediately so no CLI blocks on a read.
	StdinPayload(inv Invocation) string

	// ParseOutcome interprets exit status and captured output.
	ParseOutcome(exitCode int, stdout, stderr string) Outcome

	// Validate checks the adapter configuration before any spawn.
	Validate() error
}

// LastMeaningfulLine returns the final non-empty line of s, for use as a
// one-line summary of a run.
func LastMeaningfulLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// ResultFromStreamJSON scans JSONL output for a final result object
// ({"type":"result","result":...}) as emitted by stream-json CLIs, falling
// back to empty when none is present.
func ResultFromStreamJSON(stdout string) string {
	lines := strings.Split(stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var obj struct {
			Type   string `json:"type"`
			Result string `json:"result"`
		}
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		if obj.Type == "result" && obj.Result != "" {
			return obj.Result
		}
	}
	return ""
}
