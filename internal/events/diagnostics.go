package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MarkerPrefix is the literal line prefix carrying a runtime diagnostic.
// The supervisor emits it on the system stream; consumers match the
// prefix and parse the JSON payload after it.
const MarkerPrefix = "[ixado][agent-runtime] "

// MarkerValue is the payload marker field distinguishing our diagnostics
// from any other bracketed output.
const MarkerValue = "ixado.agent.runtime"

// Diagnostic event names.
const (
	DiagnosticHeartbeat = "heartbeat"
	DiagnosticIdle      = "idle-diagnostic"
)

// Diagnostic is the payload serialized after MarkerPrefix.
type Diagnostic struct {
	Marker    string `json:"marker"`
	Event     string `json:"event"`
	ElapsedMs int64  `json:"elapsedMs"`
	IdleMs    int64  `json:"idleMs"`

	// IdleThresholdMs is set for idle diagnostics only.
	IdleThresholdMs int64 `json:"idleThresholdMs,omitempty"`
}

// HeartbeatLine renders a heartbeat diagnostic as a single marker line.
func HeartbeatLine(elapsed, idle time.Duration) string {
	return diagnosticLine(Diagnostic{
		Marker:    MarkerValue,
		Event:     DiagnosticHeartbeat,
		ElapsedMs: elapsed.Milliseconds(),
		IdleMs:    idle.Milliseconds(),
	})
}

// IdleLine renders an idle diagnostic as a single marker line.
func IdleLine(elapsed, idle, threshold time.Duration) string {
	return diagnosticLine(Diagnostic{
		Marker:          MarkerValue,
		Event:           DiagnosticIdle,
		ElapsedMs:       elapsed.Milliseconds(),
		IdleMs:          idle.Milliseconds(),
		IdleThresholdMs: threshold.Milliseconds(),
	})
}

func diagnosticLine(d Diagnostic) string {
	raw, err := json.Marshal(d)
	if err != nil {
		// Diagnostic is all scalars; marshal cannot fail in practice.
		return MarkerPrefix + `{"marker":"` + MarkerValue + `"}`
	}
	return MarkerPrefix + string(raw)
}

// ParseDiagnostic recognizes a marker line and decodes its payload.
func ParseDiagnostic(line string) (Diagnostic, bool) {
	if !strings.HasPrefix(line, MarkerPrefix) {
		return Diagnostic{}, false
	}
	var d Diagnostic
	if err := json.Unmarshal([]byte(strings.TrimPrefix(line, MarkerPrefix)), &d); err != nil {
		return Diagnostic{}, false
	}
	if d.Marker != MarkerValue {
		return Diagnostic{}, false
	}
	return d, true
}

// Humanize renders the diagnostic the way consumers surface it.
func (d Diagnostic) Humanize() string {
	elapsed := time.Duration(d.ElapsedMs) * time.Millisecond
	idle := time.Duration(d.IdleMs) * time.Millisecond
	switch d.Event {
	case DiagnosticIdle:
		return fmt.Sprintf("Idle %s (elapsed %s).", formatSeconds(idle), formatElapsed(elapsed))
	default:
		return fmt.Sprintf("Heartbeat: elapsed %s, idle %s.", formatElapsed(elapsed), formatSeconds(idle))
	}
}

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%ds", int(d.Round(time.Second).Seconds()))
}
