package web

import (
	"regexp"
	"strings"
)

// SystemPrefix marks orchestrator-injected lines; they always pass the
// chatter filter.
const SystemPrefix = "[ixado]["

// failureSummaryMaxLen caps the compacted failure summary attached to
// terminal SSE frames.
const failureSummaryMaxLen = 140

var (
	// File-interaction narration from coding CLIs: a tool verb followed by
	// a path or a call-style open paren, or a bare path on its own line.
	chatterPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\s*(?i:read|write|edit|list|bash|grep|glob|create|delete|run)\b.*(?:/|\.\w{1,6}\b)`),
		regexp.MustCompile(`^\s*(?i:read|write|edit|list|bash|grep|glob|create|delete|run)\s*\(`),
		regexp.MustCompile(`^\s*(?:[\w.-]+/)+[\w.-]+\s*$`),
	}

	terminalKeywords = regexp.MustCompile(`(?i)error|failed|failure|exception|timeout|timed out|exit code|fatal|panic|unauthorized|denied`)

	failureLine = regexp.MustCompile(`(?i)error|failed|exception|timeout|exit code|unauthorized|denied`)

	whitespaceRun = regexp.MustCompile(`\s+`)
)

// IsFileInteractionChatter reports whether a line is tool-use narration
// that the log stream hides.
func IsFileInteractionChatter(line string) bool {
	for _, p := range chatterPatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

// ContainsTerminalKeywords reports whether the line carries failure
// context that must never be filtered.
func ContainsTerminalKeywords(line string) bool {
	return terminalKeywords.MatchString(line)
}

// SuppressLine decides whether a raw output line is dropped from the
// SSE stream.
func SuppressLine(line string) bool {
	if strings.HasPrefix(line, SystemPrefix) {
		return false
	}
	if ContainsTerminalKeywords(line) {
		return false
	}
	return IsFileInteractionChatter(line)
}

// FailureSummary picks the first failure-bearing line from captured
// output, compacts its whitespace, and truncates it to 140 characters.
// Empty when no line matches.
func FailureSummary(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if !failureLine.MatchString(line) {
			continue
		}
		compact := strings.TrimSpace(whitespaceRun.ReplaceAllString(line, " "))
		if compact == "" {
			continue
		}
		if len(compact) > failureSummaryMaxLen {
			return compact[:failureSummaryMaxLen-3] + "..."
		}
		return compact
	}
	return ""
}
