package events

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatLineRoundTrip(t *testing.T) {
	line := HeartbeatLine(90*time.Minute, 5*time.Second)
	require.True(t, strings.HasPrefix(line, MarkerPrefix))

	d, ok := ParseDiagnostic(line)
	require.True(t, ok)
	assert.Equal(t, MarkerValue, d.Marker)
	assert.Equal(t, DiagnosticHeartbeat, d.Event)
	assert.Equal(t, int64(5_400_000), d.ElapsedMs)
	assert.Equal(t, int64(5_000), d.IdleMs)
	assert.Zero(t, d.IdleThresholdMs)
}

func TestIdleLineRoundTrip(t *testing.T) {
	line := IdleLine(10*time.Minute, 3*time.Minute, 2*time.Minute)

	d, ok := ParseDiagnostic(line)
	require.True(t, ok)
	assert.Equal(t, DiagnosticIdle, d.Event)
	assert.Equal(t, int64(120_000), d.IdleThresholdMs)
}

func TestParseDiagnosticRejectsOtherLines(t *testing.T) {
	for _, line := range []string{
		"plain output",
		"[ixado][agent-runtime] not json",
		`[ixado][agent-runtime] {"marker":"something.else","event":"heartbeat"}`,
		`{"marker":"ixado.agent.runtime","event":"heartbeat"}`,
	} {
		_, ok := ParseDiagnostic(line)
		assert.False(t, ok, "line %q must not parse", line)
	}
}

func TestHumanize(t *testing.T) {
	hb := Diagnostic{Marker: MarkerValue, Event: DiagnosticHeartbeat, ElapsedMs: 3_725_000, IdleMs: 5_000}
	assert.Equal(t, "Heartbeat: elapsed 1h 2m 5s, idle 5s.", hb.Humanize())

	hb = Diagnostic{Marker: MarkerValue, Event: DiagnosticHeartbeat, ElapsedMs: 65_000, IdleMs: 1_000}
	assert.Equal(t, "Heartbeat: elapsed 1m 5s, idle 1s.", hb.Humanize())

	idle := Diagnostic{Marker: MarkerValue, Event: DiagnosticIdle, ElapsedMs: 600_000, IdleMs: 180_000, IdleThresholdMs: 120_000}
	assert.Equal(t, "Idle 180s (elapsed 10m 0s).", idle.Humanize())
}
