package web

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ixado/ixado/internal/supervisor"
)

func TestRuntimeFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "web-runtime.json")
	info := RuntimeInfo{PID: 1234, Addr: "127.0.0.1:4145", StartedAt: time.Now().UTC().Truncate(time.Second)}

	require.NoError(t, WriteRuntimeFile(path, info))

	got, err := ReadRuntimeFile(path)
	require.NoError(t, err)
	assert.Equal(t, info.PID, got.PID)
	assert.Equal(t, info.Addr, got.Addr)
	assert.True(t, info.StartedAt.Equal(got.StartedAt))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}

	require.NoError(t, RemoveRuntimeFile(path))
	require.NoError(t, RemoveRuntimeFile(path), "removing a missing file is fine")
}

func TestRuntimeFilePathEnvOverride(t *testing.T) {
	t.Setenv(RuntimeFileEnvVar, "/tmp/custom-runtime.json")
	path, err := RuntimeFilePath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-runtime.json", path)
}

func TestRegistryWatcherPicksUpForeignWrites(t *testing.T) {
	dir := t.TempDir()
	reg := supervisor.NewRegistry(filepath.Join(dir, "agents.json"), 10, nil)
	require.NoError(t, reg.Upsert(&supervisor.AgentRecord{
		ID: "a1", Name: "one", Command: "sh", Status: supervisor.AgentStopped,
	}))

	w := NewRegistryWatcher(reg, nil)
	require.Len(t, w.Snapshot(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	// Give the watcher a moment to arm before writing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, reg.Upsert(&supervisor.AgentRecord{
		ID: "a2", Name: "two", Command: "sh", Status: supervisor.AgentStopped,
	}))

	require.Eventually(t, func() bool {
		return len(w.Snapshot()) == 2
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not exit on cancel")
	}
}
