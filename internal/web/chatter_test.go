package web

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChatterFilter(t *testing.T) {
	suppressed := []string{
		"Read /src/main.go",
		"Write internal/web/server.go",
		"Edit(foo.go)",
		"Bash: ls -la ./cmd",
		"grep(pattern, dir/)",
		"internal/web/server.go",
	}
	for _, line := range suppressed {
		assert.True(t, SuppressLine(line), "should suppress: %q", line)
	}

	kept := []string{
		"Read /src/main.go failed: permission denied",
		"[ixado][agent-runtime] {\"marker\":\"ixado.agent.runtime\"}",
		"compiling package foo",
		"tests passed",
		"Run ./script.sh exited with exit code 3",
	}
	for _, line := range kept {
		assert.False(t, SuppressLine(line), "should keep: %q", line)
	}
}

func TestTerminalKeywordsOverrideChatter(t *testing.T) {
	line := "Write /tmp/out.log: timeout after 30s"
	assert.True(t, IsFileInteractionChatter(line))
	assert.True(t, ContainsTerminalKeywords(line))
	assert.False(t, SuppressLine(line))
}

func TestFailureSummarySelectsFirstMatch(t *testing.T) {
	out := "starting build\nall good so far\nERROR:   something    broke badly\nfailed again later\n"
	assert.Equal(t, "ERROR: something broke badly", FailureSummary(out))
}

func TestFailureSummaryTruncatesAt140(t *testing.T) {
	long := "error: " + strings.Repeat("x", 200)
	got := FailureSummary(long)
	assert.Len(t, got, 140)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestFailureSummaryEmptyWhenNoMatch(t *testing.T) {
	assert.Empty(t, FailureSummary("everything went fine\nno problems here\n"))
}
