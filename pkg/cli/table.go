package cli

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ansi matches the SGR sequences paint emits.
var ansi = regexp.MustCompile("\033\\[[0-9;]*m")

// Table buffers rows and writes them column-aligned on Flush. Column widths
// ignore ANSI color codes, so Status-colored cells line up with plain ones.
// A table with no rows prints nothing, headers included.
type Table struct {
	w       io.Writer
	headers []string
	rows    [][]string
	prefix  string
	gap     int
}

// NewTable creates a table on stdout with the given column headers.
func NewTable(headers ...string) *Table {
	return NewTableTo(os.Stdout, headers...)
}

// NewTableTo creates a table writing to w.
func NewTableTo(w io.Writer, headers ...string) *Table {
	return &Table{w: w, headers: headers, gap: 2}
}

// WithPrefix sets a string prepended to every line.
func (t *Table) WithPrefix(prefix string) *Table {
	t.prefix = prefix
	return t
}

// Row buffers one row. Missing trailing cells are blank; extra cells are kept.
func (t *Table) Row(values ...string) {
	t.rows = append(t.rows, values)
}

// Len is the number of buffered rows.
func (t *Table) Len() int { return len(t.rows) }

// Flush writes headers, a divider and all buffered rows, then resets the
// row buffer so the table can be reused.
func (t *Table) Flush() {
	if len(t.rows) == 0 {
		return
	}
	widths := t.widths()
	divider := make([]string, len(t.headers))
	for i, h := range t.headers {
		divider[i] = strings.Repeat("-", visibleLen(h))
	}
	t.line(widths, t.headers)
	t.line(widths, divider)
	for _, r := range t.rows {
		t.line(widths, r)
	}
	t.rows = nil
}

func (t *Table) widths() []int {
	n := len(t.headers)
	for _, r := range t.rows {
		if len(r) > n {
			n = len(r)
		}
	}
	widths := make([]int, n)
	measure := func(cells []string) {
		for i, c := range cells {
			if l := visibleLen(c); l > widths[i] {
				widths[i] = l
			}
		}
	}
	measure(t.headers)
	for _, r := range t.rows {
		measure(r)
	}
	return widths
}

func (t *Table) line(widths []int, cells []string) {
	var b strings.Builder
	b.WriteString(t.prefix)
	for i := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		b.WriteString(cell)
		if i < len(widths)-1 {
			b.WriteString(strings.Repeat(" ", widths[i]-visibleLen(cell)+t.gap))
		}
	}
	fmt.Fprintln(t.w, strings.TrimRight(b.String(), " "))
}

// visibleLen is the printed width of s: runes, minus color codes.
func visibleLen(s string) int {
	return utf8.RuneCountInString(ansi.ReplaceAllString(s, ""))
}
