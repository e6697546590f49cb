package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFileSinkWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ixado.log")

	logger, err := New(Options{Level: "debug", FilePath: path, NoConsole: true})
	require.NoError(t, err)

	logger.Info("hello", zap.String("component", "test"))
	require.NoError(t, logger.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(raw, &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "test", entry["component"])
}

func TestLevelFiltersFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ixado.log")

	logger, err := New(Options{Level: "error", FilePath: path, NoConsole: true})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Error("kept")
	require.NoError(t, logger.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "dropped")
	assert.Contains(t, string(raw), "kept")
}

func TestUnknownLevelRejected(t *testing.T) {
	_, err := New(Options{Level: "verbose"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log level")
}

func TestNoSinksYieldsNop(t *testing.T) {
	logger, err := New(Options{NoConsole: true})
	require.NoError(t, err)
	logger.Info("goes nowhere")
	require.NoError(t, logger.Sync())
}
