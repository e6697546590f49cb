package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ixado/ixado/internal/events"
	"github.com/ixado/ixado/internal/state"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *events.Bus) {
	t.Helper()
	bus := events.NewBus(nil)
	reg := NewRegistry(filepath.Join(t.TempDir(), "agents.json"), 5, nil)
	sup := New(reg, bus, nil, Options{
		HeartbeatInterval: 50 * time.Millisecond,
		IdleThreshold:     100 * time.Millisecond,
	})
	return sup, bus
}

func shSpec(script string) Spec {
	return Spec{
		Name:                 "mock",
		AdapterID:            state.AdapterMock,
		Command:              "sh",
		Args:                 []string{"-c", script},
		Cwd:                  "/tmp",
		ApprovedAdapterSpawn: true,
	}
}

func TestStartRejectsRawCommands(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	spec := shSpec("true")
	spec.ApprovedAdapterSpawn = false
	_, err := sup.Start(context.Background(), spec)
	require.ErrorIs(t, err, ErrRawCommandBlocked)
}

func TestRunToCompletionSuccess(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	res, err := sup.RunToCompletion(context.Background(), shSpec("printf 'done\\n'"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, "done")
	assert.GreaterOrEqual(t, res.DurationMs, int64(0))

	rec, ok := sup.Registry().Get(res.ID)
	require.True(t, ok)
	assert.Equal(t, AgentStopped, rec.Status)
	require.NotNil(t, rec.LastExitCode)
	assert.Equal(t, 0, *rec.LastExitCode)
	assert.Contains(t, rec.OutputTail, "done")
}

func TestRunToCompletionFailureInvokesOnFailure(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	failed := make(chan *AgentRecord, 1)
	spec := shSpec("echo boom >&2; exit 3")
	spec.OnFailure = func(rec *AgentRecord) { failed <- rec }

	res, err := sup.RunToCompletion(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Stderr, "boom")

	select {
	case rec := <-failed:
		assert.Equal(t, AgentFailed, rec.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("onFailure was not invoked")
	}
}

func TestSubscribeReceivesOutputThenTerminal(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	rec, err := sup.Start(context.Background(), shSpec("printf 'line-1\\nline-2\\n'; exit 0"))
	require.NoError(t, err)

	ch, cancel, err := sup.Subscribe(rec.ID)
	require.NoError(t, err)
	defer cancel()

	var lines []string
	terminal := false
	deadline := time.After(5 * time.Second)
	for !terminal {
		select {
		case ev, ok := <-ch:
			if !ok {
				terminal = true
				break
			}
			switch ev.Type {
			case events.TypeAdapterOutput:
				if ev.AdapterOutput.Stream == "stdout" {
					lines = append(lines, ev.AdapterOutput.Line)
				}
			case events.TypeTerminalOutcome:
				assert.Equal(t, events.OutcomeSuccess, ev.TerminalOutcome.Outcome)
			}
		case <-deadline:
			t.Fatal("timed out waiting for events")
		}
	}
	assert.Equal(t, []string{"line-1", "line-2"}, lines)
}

func TestOutputTailIsBounded(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	res, err := sup.RunToCompletion(context.Background(), shSpec("for i in 1 2 3 4 5 6 7 8 9; do echo line-$i; done"))
	require.NoError(t, err)

	rec, ok := sup.Registry().Get(res.ID)
	require.True(t, ok)
	assert.Len(t, rec.OutputTail, 5)
	assert.Equal(t, "line-9", rec.OutputTail[len(rec.OutputTail)-1])
}

func TestKillStopsRunningAgent(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	rec, err := sup.Start(context.Background(), shSpec("sleep 30"))
	require.NoError(t, err)

	killed, err := sup.Kill(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, AgentStopped, killed.Status)

	_, err = sup.Kill("nope")
	require.ErrorIs(t, err, ErrAgentNotFound)
}

func TestTimeoutKillsAndFails(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	spec := shSpec("echo started; sleep 30")
	spec.Timeout = 400 * time.Millisecond

	start := time.Now()
	res, err := sup.RunToCompletion(context.Background(), spec)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.NotEqual(t, 0, res.ExitCode)

	rec, ok := sup.Registry().Get(res.ID)
	require.True(t, ok)
	assert.Equal(t, AgentFailed, rec.Status)
}

func TestStartupSilenceKills(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	spec := shSpec("sleep 30")
	spec.StartupSilenceTimeout = 300 * time.Millisecond

	res, err := sup.RunToCompletion(context.Background(), spec)
	require.NoError(t, err)
	assert.NotEqual(t, 0, res.ExitCode)

	rec, ok := sup.Registry().Get(res.ID)
	require.True(t, ok)
	assert.Equal(t, AgentFailed, rec.Status)
}

func TestHeartbeatDiagnosticsEmitted(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	rec, err := sup.Start(context.Background(), shSpec("sleep 1"))
	require.NoError(t, err)

	ch, cancel, err := sup.Subscribe(rec.ID)
	require.NoError(t, err)
	defer cancel()

	sawDiagnostic := false
	deadline := time.After(5 * time.Second)
	for !sawDiagnostic {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatal("stream closed before any diagnostic")
			}
			if ev.Type == events.TypeAdapterOutput && ev.AdapterOutput.Stream == "system" {
				if d, ok := events.ParseDiagnostic(ev.AdapterOutput.Line); ok {
					assert.Contains(t, []string{events.DiagnosticHeartbeat, events.DiagnosticIdle}, d.Event)
					sawDiagnostic = true
				}
			}
		case <-deadline:
			t.Fatal("no diagnostic within deadline")
		}
	}
}

func TestSubscribeForeignAgent(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	foreign := testRecord("foreign-1")
	require.NoError(t, sup.Registry().Upsert(foreign))

	_, _, err := sup.Subscribe("foreign-1")
	require.ErrorIs(t, err, ErrForeignAgent)

	_, _, err = sup.Subscribe("missing")
	require.ErrorIs(t, err, ErrAgentNotFound)
}

func TestReconcileRunningAgentsWhere(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	dead := testRecord("dead-1")
	dead.PID = 999999
	require.NoError(t, sup.Registry().Upsert(dead))

	stopped := testRecord("stopped-1")
	stopped.Status = AgentStopped
	require.NoError(t, sup.Registry().Upsert(stopped))

	count, err := sup.ReconcileRunningAgentsWhere(func(r *AgentRecord) bool {
		return !PIDAlive(r.PID)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	rec, ok := sup.Registry().Get("dead-1")
	require.True(t, ok)
	assert.Equal(t, AgentStopped, rec.Status)
}

func TestAssignUpdatesRegistryRowOnly(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	require.NoError(t, sup.Registry().Upsert(testRecord("a1")))

	rec, err := sup.Assign("a1", "phase-9", "task-9")
	require.NoError(t, err)
	assert.Equal(t, "phase-9", rec.PhaseID)
	assert.Equal(t, "task-9", rec.TaskID)
}

func TestRestartRespawnsFromRegistryRow(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	stopped := testRecord("old-1")
	stopped.Status = AgentStopped
	stopped.Args = []string{"-c", "printf 'again\\n'"}
	require.NoError(t, sup.Registry().Upsert(stopped))

	rec, err := sup.Restart(context.Background(), "old-1")
	require.NoError(t, err)
	assert.NotEqual(t, "old-1", rec.ID)
	assert.Equal(t, AgentRunning, rec.Status)

	// The old row is gone; only the respawned one remains.
	_, ok := sup.Registry().Get("old-1")
	assert.False(t, ok)

	require.Eventually(t, func() bool {
		got, ok := sup.Registry().Get(rec.ID)
		return ok && got.Status == AgentStopped
	}, 5*time.Second, 50*time.Millisecond)
}

func TestPIDAlive(t *testing.T) {
	assert.False(t, PIDAlive(0))
	assert.False(t, PIDAlive(-1))
	assert.False(t, PIDAlive(999999))
	// Our own process is alive.
	assert.True(t, PIDAlive(os.Getpid()))
}

func TestMarkerLinesFlowThroughStdout(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	line := events.HeartbeatLine(time.Second, 0)
	script := "echo '" + strings.ReplaceAll(line, "'", `'\''`) + "'"

	rec, err := sup.Start(context.Background(), shSpec(script))
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = sup.Await(context.Background(), rec.ID) })

	ch, cancel, err := sup.Subscribe(rec.ID)
	require.NoError(t, err)
	defer cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatal("stream closed before marker line")
			}
			if ev.Type == events.TypeAdapterOutput && ev.AdapterOutput.Stream == "stdout" {
				assert.True(t, ev.AdapterOutput.IsDiagnostic,
					"marker lines on the child's stdout must be flagged as diagnostics")
				return
			}
		case <-deadline:
			t.Fatal("marker line never arrived")
		}
	}
}
