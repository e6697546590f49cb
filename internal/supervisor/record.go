// Package supervisor owns spawned adapter subprocesses: the cross-process
// registry file that records them, output capture with bounded tails,
// idle/heartbeat diagnostics, and terminal-outcome classification.
package supervisor

import (
	"time"

	"github.com/ixado/ixado/internal/state"
)

// AgentStatus is the lifecycle position of a registry row.
type AgentStatus string

const (
	AgentRunning AgentStatus = "RUNNING"
	AgentStopped AgentStatus = "STOPPED"
	AgentFailed  AgentStatus = "FAILED"
)

// AgentRecord is one row of the shared registry.
type AgentRecord struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Cwd     string   `json:"cwd"`

	// AdapterID is absent for rows whose adapter this build does not know.
	AdapterID state.AdapterID `json:"adapterId,omitempty"`

	ProjectName string `json:"projectName,omitempty"`
	PhaseID     string `json:"phaseId,omitempty"`
	TaskID      string `json:"taskId,omitempty"`

	Status       AgentStatus `json:"status"`
	PID          int         `json:"pid,omitempty"`
	StartedAt    time.Time   `json:"startedAt,omitempty"`
	LastExitCode *int        `json:"lastExitCode,omitempty"`

	// OutputTail holds the most recent captured lines, bounded by the
	// registry's tail limit.
	OutputTail []string `json:"outputTail,omitempty"`
}

// Clone returns a deep copy safe to hand to callers.
func (r *AgentRecord) Clone() *AgentRecord {
	out := *r
	out.Args = append([]string(nil), r.Args...)
	out.OutputTail = append([]string(nil), r.OutputTail...)
	if r.LastExitCode != nil {
		code := *r.LastExitCode
		out.LastExitCode = &code
	}
	return &out
}

// appendTail appends a line to a bounded tail, dropping the oldest
// entries past limit.
func appendTail(tail []string, line string, limit int) []string {
	tail = append(tail, line)
	if limit > 0 && len(tail) > limit {
		tail = tail[len(tail)-limit:]
	}
	return tail
}
