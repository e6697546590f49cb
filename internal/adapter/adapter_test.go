package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ixado/ixado/internal/state"
)

type fakeAdapter struct{ id state.AdapterID }

func (f *fakeAdapter) ID() state.AdapterID { return f.id }

func (f *fakeAdapter) Command() string { return "fake" }

func (f *fakeAdapter) BuildArgs(Invocation) []string { return nil }

func (f *fakeAdapter) BuildEnv(Invocation) map[string]string { return nil }

func (f *fakeAdapter) StdinPayload(Invocation) string { return "" }

func (f *fakeAdapter) ParseOutcome(int, string, string) Outcome { return Outcome{} }

func (f *fakeAdapter) Validate() error { return nil }

func TestRegistryGetUnknown(t *testing.T) {
	_, err := Get("TELETYPE_CLI", Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown adapter")
}

func TestRegistryRegisterAndGet(t *testing.T) {
	id := state.AdapterID("FAKE_CLI_FOR_TEST")
	Register(id, func(Config) Adapter { return &fakeAdapter{id: id} })

	assert.True(t, Exists(id))

	got, err := Get(id, Config{})
	require.NoError(t, err)
	assert.Equal(t, id, got.ID())
	assert.Contains(t, List(), id)
}

func TestLastMeaningfulLine(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "a\nb\nc", "c"},
		{"trailing blanks", "result\n\n  \n", "result"},
		{"empty", "", ""},
		{"only whitespace", "  \n\t\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LastMeaningfulLine(tt.input))
		})
	}
}

func TestResultFromStreamJSON(t *testing.T) {
	stdout := `{"type":"system","subtype":"init"}
{"type":"assistant","message":"working"}
{"type":"result","result":"all tests pass"}`
	assert.Equal(t, "all tests pass", ResultFromStreamJSON(stdout))

	assert.Empty(t, ResultFromStreamJSON("plain text output\nno json here"))
	assert.Empty(t, ResultFromStreamJSON(`{"type":"assistant"}`))
}
