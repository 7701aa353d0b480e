package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "TARGET", "OUTCOME")
	tbl.Flush()
	if buf.Len() != 0 {
		t.Errorf("empty table wrote %q", buf.String())
	}
}

func TestTableRows(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "TARGET", "OUTCOME").WithPrefix("  ")
	tbl.Row("10.0.0.1", "success")
	tbl.Row("10.0.0.22", "error")
	if tbl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tbl.Len())
	}
	tbl.Flush()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "  TARGET") || !strings.Contains(lines[1], "------") {
		t.Errorf("header/divider wrong:\n%s", buf.String())
	}
	col := strings.Index(lines[0], "OUTCOME")
	if strings.Index(lines[2], "success") != col || strings.Index(lines[3], "error") != col {
		t.Errorf("columns not aligned:\n%s", buf.String())
	}
	if tbl.Len() != 0 {
		t.Errorf("Flush did not reset rows")
	}
}

func TestTableColoredCellsAlign(t *testing.T) {
	SetColor(true)
	defer SetColor(true)

	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "OUTCOME", "DETAIL")
	tbl.Row(Status("success"), "a")
	tbl.Row("pending", "b")
	tbl.Row(Dim("n/a"), "c")
	tbl.Flush()

	plain := ansi.ReplaceAllString(buf.String(), "")
	lines := strings.Split(strings.TrimRight(plain, "\n"), "\n")
	col := strings.Index(lines[0], "DETAIL")
	for i, want := range []string{"a", "b", "c"} {
		if got := strings.Index(lines[i+2], want); got != col {
			t.Errorf("row %d: %q at %d, want %d:\n%s", i, want, got, col, plain)
		}
	}
}

func TestTableRaggedRows(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "A", "B")
	tbl.Row("x")
	tbl.Row("y", "z", "extra")
	tbl.Flush()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if lines[2] != "x" {
		t.Errorf("short row = %q, want trailing blanks trimmed", lines[2])
	}
	if !strings.HasSuffix(lines[3], "extra") {
		t.Errorf("long row = %q, want extra cell kept", lines[3])
	}
}

func TestVisibleLen(t *testing.T) {
	SetColor(true)
	tests := map[string]int{
		"":               0,
		"abc":            3,
		Red("abc"):       3,
		Bold(Green("x")): 1,
		"héllo":          5,
	}
	for in, want := range tests {
		if got := visibleLen(in); got != want {
			t.Errorf("visibleLen(%q) = %d, want %d", in, got, want)
		}
	}
}
