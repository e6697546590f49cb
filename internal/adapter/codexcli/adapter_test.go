package codexcli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ixado/ixado/internal/adapter"
	"github.com/ixado/ixado/internal/state"
)

func TestBuildArgs(t *testing.T) {
	a := New(adapter.Config{Model: "o4"})
	inv := adapter.Invocation{Prompt: "fix the bug", WorkDir: "/repo"}

	args := a.BuildArgs(inv)

	assert.Equal(t, []string{"exec", "--json", "--sandbox", "workspace-write", "-m", "o4", "-C", "/repo"}, args)
	assert.Equal(t, "fix the bug", a.StdinPayload(inv), "codex takes the prompt over stdin")
	assert.NotContains(t, args, "fix the bug", "prompt must not leak into argv")
}

func TestBuildArgsNoModel(t *testing.T) {
	a := New(adapter.Config{})
	args := a.BuildArgs(adapter.Invocation{WorkDir: "/repo"})

	assert.NotContains(t, args, "-m")
	assert.Equal(t, "codex", a.Command())
}

func TestCommandOverride(t *testing.T) {
	a := New(adapter.Config{Command: "/opt/bin/codex-nightly"})
	assert.Equal(t, "/opt/bin/codex-nightly", a.Command())
}

func TestParseOutcome(t *testing.T) {
	a := New(adapter.Config{})

	ok := a.ParseOutcome(0, `{"type":"result","result":"patched"}`, "")
	assert.True(t, ok.Success)
	assert.Equal(t, "patched", ok.Summary)

	bad := a.ParseOutcome(2, "", "codex: connection refused")
	assert.False(t, bad.Success)
	assert.Equal(t, "codex: connection refused", bad.Summary)
}

func TestRegistered(t *testing.T) {
	got, err := adapter.Get(state.AdapterCodex, adapter.Config{})
	require.NoError(t, err)
	assert.Equal(t, state.AdapterCodex, got.ID())
	require.NoError(t, got.Validate())
}
