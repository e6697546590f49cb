package state

import "unicode/utf8"

const (
	// MaxCaptureChars caps resultContext and errorLogs.
	MaxCaptureChars = 4000

	// TruncationSuffix is the literal marker appended when a capture was cut.
	TruncationSuffix = "\n... [truncated]"
)

// TruncateCapture enforces the capture cap. The cap is exclusive: input of
// exactly MaxCaptureChars is kept intact. Longer input is cut so that the
// result, marker included, is MaxCaptureChars long. The cut backs off to a
// rune boundary so the result stays valid UTF-8.
func TruncateCapture(s string) string {
	if len(s) <= MaxCaptureChars {
		return s
	}
	keep := MaxCaptureChars - len(TruncationSuffix)
	for keep > 0 && !utf8.RuneStart(s[keep]) {
		keep--
	}
	return s[:keep] + TruncationSuffix
}
