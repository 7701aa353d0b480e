package cli

import (
	"strings"
	"testing"
	"time"
)

func TestDotPad(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"10.0.0.1", 12, "10.0.0.1 ..."},
		{"", 4, " ..."},
		{"abcde", 6, "abcde"},
		{"core-router-west-1", 5, "core-router-west-1"},
		{"r1", 0, "r1"},
	}
	for _, tt := range tests {
		got := DotPad(tt.in, tt.width)
		if got != tt.want {
			t.Errorf("DotPad(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
		if len(tt.in) < tt.width-1 && len(got) != tt.width {
			t.Errorf("DotPad(%q, %d) len = %d", tt.in, tt.width, len(got))
		}
	}
}

func TestColorFunctions(t *testing.T) {
	SetColor(true)
	defer SetColor(true)

	tests := []struct {
		name   string
		fn     func(string) string
		prefix string
	}{
		{"Green", Green, "\033[32m"},
		{"Yellow", Yellow, "\033[33m"},
		{"Red", Red, "\033[31m"},
		{"Bold", Bold, "\033[1m"},
		{"Dim", Dim, "\033[2m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.fn("hello")
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("%s should start with %q", tt.name, tt.prefix)
			}
			if !strings.Contains(got, "hello") {
				t.Errorf("%s should contain the input string", tt.name)
			}
			if !strings.HasSuffix(got, "\033[0m") {
				t.Errorf("%s should end with reset code", tt.name)
			}
		})

		t.Run(tt.name+"_empty", func(t *testing.T) {
			got := tt.fn("")
			if !strings.HasSuffix(got, "\033[0m") {
				t.Errorf("%s(\"\") should end with reset code", tt.name)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	SetColor(false)
	defer SetColor(true)
	if got := Status("success"); got != "success" {
		t.Errorf("Status() with color off = %q", got)
	}

	SetColor(true)
	tests := map[string]string{
		"success":         "\033[32m",
		"partial-success": "\033[33m",
		"error":           "\033[31m",
	}
	for in, prefix := range tests {
		if got := Status(in); !strings.HasPrefix(got, prefix) {
			t.Errorf("Status(%q) = %q, want prefix %q", in, got, prefix)
		}
	}
	if got := Status("other"); got != "other" {
		t.Errorf("Status(other) = %q", got)
	}
}

func TestDuration(t *testing.T) {
	tests := map[time.Duration]string{
		250 * time.Millisecond:  "250ms",
		1500 * time.Millisecond: "1.5s",
	}
	for d, want := range tests {
		if got := Duration(d); got != want {
			t.Errorf("Duration(%v) = %q, want %q", d, got, want)
		}
	}
}
