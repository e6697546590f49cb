package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testState(t *testing.T) *ProjectState {
	t.Helper()
	now := time.Now().UTC()
	return &ProjectState{
		ProjectName: "demo",
		RootDir:     "/tmp/demo",
		Phases: []Phase{
			{
				ID:         "phase-1",
				Name:       "P1",
				BranchName: "feature/p1",
				Status:     PhaseCoding,
				Tasks: []Task{
					{
						ID:          "task-1",
						Title:       "T1",
						Description: "do the thing",
						Status:      TaskTodo,
						Assignee:    AdapterMock,
					},
				},
			},
		},
		ActivePhaseID: "phase-1",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), ".ixado", "state.json"), nil)
}

func TestWriteLeavesNoTempResidue(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Write(testState(t))
	require.NoError(t, err)

	_, err = os.Stat(store.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not survive a successful write")

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	require.NoError(t, ValidateDocument(raw))
}

func TestReadWriteRoundTrip(t *testing.T) {
	store := newTestStore(t)

	written, err := store.Write(testState(t))
	require.NoError(t, err)

	got, err := store.Read()
	require.NoError(t, err)

	assert.Equal(t, written.ProjectName, got.ProjectName)
	assert.Equal(t, written.RootDir, got.RootDir)
	assert.Equal(t, written.ActivePhaseID, got.ActivePhaseID)
	require.Len(t, got.Phases, 1)
	assert.Equal(t, written.Phases[0].ID, got.Phases[0].ID)
	assert.Equal(t, written.Phases[0].Tasks, got.Phases[0].Tasks)
}

func TestWriteUpdatedAtMonotonic(t *testing.T) {
	store := newTestStore(t)

	first, err := store.Write(testState(t))
	require.NoError(t, err)
	firstAt := first.UpdatedAt

	second, err := store.Write(first)
	require.NoError(t, err)

	assert.True(t, second.UpdatedAt.After(firstAt),
		"updatedAt must advance on every write: %s then %s", firstAt, second.UpdatedAt)
}

func TestReadFileNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Read()
	require.ErrorIs(t, err, ErrFileNotFound)
}

func TestReadInvalidJSON(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o755))
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o600))

	_, err := store.Read()
	require.ErrorIs(t, err, ErrInvalidJSON)
}

func TestReadSchemaViolation(t *testing.T) {
	store := newTestStore(t)

	// Unknown top-level keys are rejected.
	doc := map[string]any{
		"projectName": "demo",
		"rootDir":     "/tmp/demo",
		"phases":      []any{},
		"createdAt":   time.Now().UTC().Format(time.RFC3339),
		"updatedAt":   time.Now().UTC().Format(time.RFC3339),
		"surprise":    true,
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o755))
	require.NoError(t, os.WriteFile(store.Path(), raw, 0o600))

	_, err = store.Read()
	require.ErrorIs(t, err, ErrSchemaViolation)
}

func TestRecoveryResultIsStrict(t *testing.T) {
	st := testState(t)
	st.Phases[0].Tasks[0].RecoveryAttempts = []RecoveryAttemptRecord{
		{
			ID:            "rec-1",
			OccurredAt:    time.Now().UTC(),
			AttemptNumber: 1,
			Exception:     RecoveryException{Category: CategoryDirtyWorktree, Message: "dirty"},
			Result:        RecoveryResult{Status: RecoveryFixed, Reasoning: "committed residuals"},
		},
	}
	raw, err := json.Marshal(st)
	require.NoError(t, err)
	require.NoError(t, ValidateDocument(raw))

	// Inject an unknown key into the strict result record.
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	phases := doc["phases"].([]any)
	tasks := phases[0].(map[string]any)["tasks"].([]any)
	attempts := tasks[0].(map[string]any)["recoveryAttempts"].([]any)
	result := attempts[0].(map[string]any)["result"].(map[string]any)
	result["mood"] = "optimistic"

	tainted, err := json.Marshal(doc)
	require.NoError(t, err)
	err = ValidateDocument(tainted)
	require.ErrorIs(t, err, ErrSchemaViolation)
}

func TestInitializeWritesEmptyValidState(t *testing.T) {
	store := newTestStore(t)

	st, err := store.Initialize("demo", "/tmp/demo")
	require.NoError(t, err)
	assert.Equal(t, "demo", st.ProjectName)
	assert.Empty(t, st.Phases)

	got, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, "demo", got.ProjectName)
}

func TestDefaultStatePath(t *testing.T) {
	getenv := func(string) string { return "" }
	assert.Equal(t, filepath.Join("/repo", ".ixado", "state.json"), DefaultStatePath(getenv, "/repo"))

	override := func(key string) string {
		if key == EnvStateFile {
			return "/elsewhere/state.json"
		}
		return ""
	}
	assert.Equal(t, "/elsewhere/state.json", DefaultStatePath(override, "/repo"))
}
