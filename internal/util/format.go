package util //nolint:revive // package name util hosts shared formatting helpers used by the admin CLI

import (
	"strings"
	"time"
)

// FormatElapsed formats a duration for display, handling edge cases.
// Returns "-" for zero or negative durations, truncates to milliseconds for readability.
func FormatElapsed(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Millisecond:
		return d.String()
	default:
		return d.Truncate(time.Millisecond).String()
	}
}

// FormatTimestamp renders t as RFC 3339 in UTC, or "-" when unset.
func FormatTimestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// FirstLine returns s up to its first newline. Engine tracebacks are multi-line.
func FirstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
