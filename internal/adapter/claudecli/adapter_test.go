package claudecli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ixado/ixado/internal/adapter"
	"github.com/ixado/ixado/internal/state"
)

func TestBuildArgsPromptFollowsPrintFlag(t *testing.T) {
	a := New(adapter.Config{Model: "opus"})
	inv := adapter.Invocation{Prompt: "write the tests", WorkDir: "/repo"}

	args := a.BuildArgs(inv)

	require.GreaterOrEqual(t, len(args), 2)
	assert.Equal(t, "-p", args[0])
	assert.Equal(t, "write the tests", args[1])
	assert.Contains(t, args, "--output-format")
	assert.Contains(t, args, "stream-json")
	assert.Contains(t, args, "--verbose")
	assert.Contains(t, args, "--model")
	assert.Empty(t, a.StdinPayload(inv), "claude takes the prompt as an argument")
}

func TestBuildArgsExtraArgsAppended(t *testing.T) {
	a := New(adapter.Config{Args: []string{"--dangerously-skip-permissions"}})
	args := a.BuildArgs(adapter.Invocation{Prompt: "p"})
	assert.Equal(t, "--dangerously-skip-permissions", args[len(args)-1])
}

func TestParseOutcomeStreamJSON(t *testing.T) {
	a := New(adapter.Config{})
	stdout := `{"type":"system","subtype":"init"}
{"type":"result","result":"refactor complete"}`

	out := a.ParseOutcome(0, stdout, "")
	assert.True(t, out.Success)
	assert.Equal(t, "refactor complete", out.Summary)
}

func TestRegistered(t *testing.T) {
	got, err := adapter.Get(state.AdapterClaude, adapter.Config{})
	require.NoError(t, err)
	assert.Equal(t, state.AdapterClaude, got.ID())
	assert.Equal(t, "claude", got.Command())
}
