package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ixado/ixado/internal/config"
	"github.com/ixado/ixado/internal/control"
	"github.com/ixado/ixado/internal/events"
	"github.com/ixado/ixado/internal/state"
	"github.com/ixado/ixado/internal/supervisor"
)

func TestRenderStatus(t *testing.T) {
	st := &state.ProjectState{
		ProjectName:   "demo",
		RootDir:       "/tmp/demo",
		ActivePhaseID: "phase-2",
		Phases: []state.Phase{
			{
				ID:         "phase-1",
				Name:       "bootstrap",
				BranchName: "feat/bootstrap",
				Status:     state.PhaseDone,
				PrURL:      "https://github.com/acme/demo/pull/1",
			},
			{
				ID:          "phase-2",
				Name:        "auth",
				BranchName:  "feat/auth",
				Status:      state.PhaseCIFailed,
				FailureKind: state.FailureRemoteCI,
				Tasks: []state.Task{
					{
						ID:       "task-1",
						Title:    "add login endpoint",
						Status:   state.TaskDone,
						Assignee: state.AdapterMock,
					},
					{
						ID:           "task-2",
						Title:        "add session store",
						Status:       state.TaskFailed,
						Assignee:     state.AdapterCodex,
						Dependencies: []string{"task-1"},
						ErrorLogs:    "compile error: undefined symbol\nsecond line",
						RecoveryAttempts: []state.RecoveryAttemptRecord{
							{ID: "rec-1", AttemptNumber: 1},
						},
					},
				},
			},
		},
	}

	var buf bytes.Buffer
	renderStatus(&buf, st)
	out := buf.String()

	assert.Contains(t, out, "Project: demo (/tmp/demo)")
	assert.Contains(t, out, "  bootstrap  [DONE]  branch=feat/bootstrap  pr=https://github.com/acme/demo/pull/1")
	assert.Contains(t, out, "* auth  [CI_FAILED]  branch=feat/auth  failure=REMOTE_CI")
	assert.Contains(t, out, "    1. add login endpoint  [DONE]  MOCK_CLI")
	assert.Contains(t, out, "    2. add session store  [FAILED]  CODEX_CLI  deps=1  recoveries=1")
	assert.Contains(t, out, "       error: compile error: undefined symbol")
	assert.NotContains(t, out, "second line")
}

func TestRenderStatusEmpty(t *testing.T) {
	var buf bytes.Buffer
	renderStatus(&buf, &state.ProjectState{ProjectName: "demo", RootDir: "/tmp/demo"})
	assert.Contains(t, buf.String(), "No phases yet.")
}

func TestRenderAgents(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []*supervisor.AgentRecord{
		{ID: "agent-1", Name: "codex", Status: supervisor.AgentRunning, PID: 4242, StartedAt: started, TaskID: "task-1"},
		{ID: "agent-2", Name: "mock", Status: supervisor.AgentStopped},
	}

	var buf bytes.Buffer
	renderAgents(&buf, rows)
	out := buf.String()

	assert.Contains(t, out, "agent-1")
	assert.Contains(t, out, "pid=4242")
	assert.Contains(t, out, "started=2026-03-01T12:00:00Z")
	assert.Contains(t, out, "task=task-1")
	assert.Contains(t, out, "started=-")
}

func TestRenderAgentsEmpty(t *testing.T) {
	var buf bytes.Buffer
	renderAgents(&buf, nil)
	assert.Equal(t, "No agents.\n", buf.String())
}

func TestRenderLogsHumanizesDiagnostics(t *testing.T) {
	tail := []string{
		"compiling...",
		events.HeartbeatLine(65*time.Second, time.Second),
		events.IdleLine(10*time.Minute, 3*time.Minute, 2*time.Minute),
	}

	var buf bytes.Buffer
	renderLogs(&buf, tail)
	out := buf.String()

	assert.Contains(t, out, "compiling...")
	assert.Contains(t, out, "Heartbeat: elapsed 1m 5s, idle 1s.")
	assert.Contains(t, out, "Idle 180s (elapsed 10m 0s).")
	assert.NotContains(t, out, events.MarkerPrefix)
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "one", firstLine("one\ntwo"))
	assert.Equal(t, "single", firstLine("single"))
	assert.Equal(t, "", firstLine(""))
}

func TestResolveProjectUnknownExplicitName(t *testing.T) {
	t.Setenv(config.EnvGlobalConfigFile, filepath.Join(t.TempDir(), "config.json"))

	_, _, err := resolveProject("ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown project "ghost"`)
}

func TestResolveProjectFallbackUninitializedDir(t *testing.T) {
	t.Setenv(config.EnvGlobalConfigFile, filepath.Join(t.TempDir(), "config.json"))
	t.Setenv(state.EnvStateFile, filepath.Join(t.TempDir(), "missing-state.json"))

	_, _, err := resolveProject("")
	require.Error(t, err)
	var verr *control.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Msg, "not initialized")
}

func TestResolveProjectFromGlobalRegistry(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	gc := &config.GlobalConfig{Projects: map[string]string{}}
	gc.RegisterProject("demo", "/tmp/demo")
	require.NoError(t, config.SaveGlobalConfig(cfgPath, gc))
	t.Setenv(config.EnvGlobalConfigFile, cfgPath)

	name, rootDir, err := resolveProject("")
	require.NoError(t, err)
	assert.Equal(t, "demo", name)
	assert.Equal(t, "/tmp/demo", rootDir)
}

func TestConsumerPrintsAndMirrorsToSink(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "events.jsonl")
	t.Setenv(config.EnvCLILogFile, logPath)

	var out bytes.Buffer
	cons, err := newConsumer(&out, zap.NewNop())
	require.NoError(t, err)

	ev := events.NewTaskFinish(events.SourcePhaseRunner,
		events.Context{ProjectName: "demo", TaskTitle: "add login endpoint"},
		events.TaskFinishPayload{Status: state.TaskDone})
	cons.handle(ev)
	cons.close()

	assert.Contains(t, out.String(), "add login endpoint")

	f, err := os.Open(logPath)
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var logged events.Event
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &logged))
	assert.Equal(t, events.TypeTaskFinish, logged.Type)
	require.NotNil(t, logged.TaskFinish)
	assert.Equal(t, state.TaskDone, logged.TaskFinish.Status)
}

func TestConsumerHumanizesRuntimeDiagnostics(t *testing.T) {
	t.Setenv(config.EnvCLILogFile, "")

	var out bytes.Buffer
	cons, err := newConsumer(&out, zap.NewNop())
	require.NoError(t, err)
	defer cons.close()

	line := events.HeartbeatLine(1*time.Hour+2*time.Minute+5*time.Second, 5*time.Second)
	cons.handle(events.NewAdapterOutput(events.SourceAgentSupervisor,
		events.Context{AgentID: "a1"},
		events.AdapterOutputPayload{Stream: "system", Line: line, IsDiagnostic: true}))

	assert.Contains(t, out.String(), "Heartbeat: elapsed 1h 2m 5s, idle 5s.")
	assert.NotContains(t, out.String(), events.MarkerPrefix)
}

func TestConsumerWithoutSinkEnv(t *testing.T) {
	t.Setenv(config.EnvCLILogFile, "")

	var out bytes.Buffer
	cons, err := newConsumer(&out, zap.NewNop())
	require.NoError(t, err)
	defer cons.close()
	assert.Nil(t, cons.sink)
}
