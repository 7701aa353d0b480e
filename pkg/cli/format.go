// Package cli provides terminal formatting helpers for the newtfleet CLI.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// colorEnabled is false when NO_COLOR env var is set (per no-color.org).
var colorEnabled = os.Getenv("NO_COLOR") == ""

// SetColor forces color on or off, e.g. when output is not a terminal.
func SetColor(enabled bool) {
	colorEnabled = enabled
}

// ColorEnabled reports whether color output is on.
func ColorEnabled() bool {
	return colorEnabled
}

func paint(code, s string) string {
	if !colorEnabled {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Green wraps s in ANSI green.
func Green(s string) string { return paint("32", s) }

// Yellow wraps s in ANSI yellow.
func Yellow(s string) string { return paint("33", s) }

// Red wraps s in ANSI red.
func Red(s string) string { return paint("31", s) }

// Bold wraps s in ANSI bold.
func Bold(s string) string { return paint("1", s) }

// Dim wraps s in ANSI dim.
func Dim(s string) string { return paint("2", s) }

// Status colors an outcome or status word: green for good, yellow for
// degraded, red for failed. Unknown words are returned as-is.
func Status(s string) string {
	switch strings.ToLower(s) {
	case "success", "ok", "pass":
		return Green(s)
	case "partial", "partial-success", "warning", "cancelled":
		return Yellow(s)
	case "error", "failed", "critical", "fail":
		return Red(s)
	}
	return s
}

// DotPad pads name with dots to the given width.
// Example: DotPad("10.0.0.1", 20) → "10.0.0.1 ..........."
func DotPad(name string, width int) string {
	if width <= 0 || len(name) >= width-1 {
		return name
	}
	dots := width - len(name) - 1
	return name + " " + strings.Repeat(".", dots)
}

// Duration formats d for tables: milliseconds under a second, otherwise
// seconds with one decimal.
func Duration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
