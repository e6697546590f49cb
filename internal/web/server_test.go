package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/ixado/ixado/internal/adapter/mockcli"
	"github.com/ixado/ixado/internal/config"
	"github.com/ixado/ixado/internal/control"
	"github.com/ixado/ixado/internal/events"
	"github.com/ixado/ixado/internal/state"
	"github.com/ixado/ixado/internal/supervisor"
)

type webHarness struct {
	server *Server
	center *control.Center
	sup    *supervisor.Supervisor
	http   *httptest.Server
}

func newWebHarness(t *testing.T) *webHarness {
	t.Helper()
	dir := t.TempDir()

	store := state.NewStore(filepath.Join(dir, "state.json"), nil)
	bus := events.NewBus(nil)
	center := control.New(store, bus, nil)
	_, err := center.EnsureInitialized("demo", dir)
	require.NoError(t, err)

	reg := supervisor.NewRegistry(filepath.Join(dir, "agents.json"), 10, nil)
	sup := supervisor.New(reg, bus, nil, supervisor.Options{})

	srv := NewServer(ServerDeps{
		Center:      center,
		Sup:         sup,
		Settings:    &config.Settings{DefaultAssignee: "MOCK_CLI"},
		ProjectName: "demo",
		RootDir:     dir,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &webHarness{server: srv, center: center, sup: sup, http: ts}
}

func (h *webHarness) request(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, h.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestStateRoundTrip(t *testing.T) {
	h := newWebHarness(t)

	resp, body := h.request(t, http.MethodPost, "/api/phases", `{"name":"P1","branchName":"p1"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	phaseID := body["id"].(string)

	resp, _ = h.request(t, http.MethodPost, "/api/phases/active", `{"phaseId":"`+phaseID+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, stateBody := h.request(t, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, phaseID, stateBody["activePhaseId"])
	assert.Equal(t, "demo", stateBody["projectName"])
}

func TestValidationErrorsAre400(t *testing.T) {
	h := newWebHarness(t)

	resp, body := h.request(t, http.MethodPost, "/api/phases", `{"name":"","branchName":"b"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "phase name")

	resp, body = h.request(t, http.MethodPost, "/api/phases", `{"bogus":true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "invalid JSON body")

	resp, body = h.request(t, http.MethodPost, "/api/tasks", `{"phaseId":"nope","title":"T","assignee":"MOCK_CLI"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	h := newWebHarness(t)

	_, phase := h.request(t, http.MethodPost, "/api/phases", `{"name":"P1","branchName":"p1"}`)
	phaseID := phase["id"].(string)

	resp, task := h.request(t, http.MethodPost, "/api/tasks",
		`{"phaseId":"`+phaseID+`","title":"T1","assignee":"MOCK_CLI"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	taskID := task["id"].(string)
	assert.Equal(t, "TODO", task["status"])

	resp, updated := h.request(t, http.MethodPatch, "/api/tasks/"+taskID, `{"description":"details"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "details", updated["description"])

	resp, _ = h.request(t, http.MethodPost, "/api/tasks/reset", `{"taskId":"`+taskID+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAgentsSortedByStartedAtDesc(t *testing.T) {
	h := newWebHarness(t)
	reg := h.sup.Registry()

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, reg.Upsert(&supervisor.AgentRecord{
		ID: "old", Name: "a", Command: "sh", Status: supervisor.AgentStopped, StartedAt: base,
	}))
	require.NoError(t, reg.Upsert(&supervisor.AgentRecord{
		ID: "undated", Name: "b", Command: "sh", Status: supervisor.AgentStopped,
	}))
	require.NoError(t, reg.Upsert(&supervisor.AgentRecord{
		ID: "new", Name: "c", Command: "sh", Status: supervisor.AgentStopped, StartedAt: base.Add(time.Hour),
	}))

	resp, err := http.Get(h.http.URL + "/api/agents")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rows []supervisor.AgentRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	require.Len(t, rows, 3)
	assert.Equal(t, "new", rows[0].ID)
	assert.Equal(t, "old", rows[1].ID)
	assert.Equal(t, "undated", rows[2].ID, "records without startedAt sort last")
}

func TestRawCommandSpawnBlocked(t *testing.T) {
	h := newWebHarness(t)

	resp, body := h.request(t, http.MethodPost, "/api/agents/start",
		`{"adapterId":"MOCK_CLI","command":"rm -rf /"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "raw command spawns are blocked")
}

func TestStartAndKillAgent(t *testing.T) {
	h := newWebHarness(t)

	resp, rec := h.request(t, http.MethodPost, "/api/agents/start",
		`{"adapterId":"MOCK_CLI","prompt":"hello"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	agentID := rec["id"].(string)

	resp, killed := h.request(t, http.MethodPost, "/api/agents/"+agentID+"/kill", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(supervisor.AgentStopped), killed["status"])
}

func TestRestartReconcilesAttachedTaskFirst(t *testing.T) {
	h := newWebHarness(t)

	_, phase := h.request(t, http.MethodPost, "/api/phases", `{"name":"P1","branchName":"p1"}`)
	phaseID := phase["id"].(string)
	_, task := h.request(t, http.MethodPost, "/api/tasks",
		`{"phaseId":"`+phaseID+`","title":"T1","assignee":"MOCK_CLI"}`)
	taskID := task["id"].(string)

	inProgress := state.TaskInProgress
	_, err := h.center.UpdateTask(taskID, control.UpdateTaskInput{Status: &inProgress})
	require.NoError(t, err)

	require.NoError(t, h.sup.Registry().Upsert(&supervisor.AgentRecord{
		ID: "a1", Name: "mock", Command: "sh", Args: []string{"-c", "true"},
		AdapterID: state.AdapterMock, Status: supervisor.AgentStopped,
		PhaseID: phaseID, TaskID: taskID,
	}))

	resp, _ := h.request(t, http.MethodPost, "/api/agents/a1/restart", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	st, err := h.center.GetState()
	require.NoError(t, err)
	_, got, ok := st.FindTask(taskID)
	require.True(t, ok)
	assert.Equal(t, state.TaskTodo, got.Status)
}

func TestRestartProceedsPastReconcileError(t *testing.T) {
	h := newWebHarness(t)

	require.NoError(t, h.sup.Registry().Upsert(&supervisor.AgentRecord{
		ID: "a2", Name: "mock", Command: "sh", Args: []string{"-c", "true"},
		AdapterID: state.AdapterMock, Status: supervisor.AgentStopped,
		TaskID: "no-such-task",
	}))

	resp, _ := h.request(t, http.MethodPost, "/api/agents/a2/restart", "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestUnknownAgentOperationsReturn400(t *testing.T) {
	h := newWebHarness(t)

	resp, body := h.request(t, http.MethodPost, "/api/agents/missing/kill", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "agent not found")
}
