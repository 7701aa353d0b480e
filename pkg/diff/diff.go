// Package diff computes structured, deterministic differences between two
// device configurations. It holds no device state; every function is pure.
package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Mode selects how configuration text is normalized before comparison.
type Mode string

const (
	// ModeSet treats the configuration as an unordered set of statements.
	ModeSet Mode = "set"
	// ModeStanza keeps hierarchical order and indentation.
	ModeStanza Mode = "stanza"
)

// Kind marks a line as unchanged, added, or removed.
type Kind string

const (
	Equal  Kind = "equal"
	Add    Kind = "add"
	Remove Kind = "remove"
)

// Line is one line of a structured diff.
type Line struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
}

// Diff is a structured difference from one configuration to another. The
// Equal and Add lines, in order, are exactly the "to" configuration; the
// Equal and Remove lines, in order, are exactly the "from" configuration.
type Diff struct {
	Mode  Mode   `json:"mode"`
	Lines []Line `json:"lines"`
}

// Stats counts lines by kind.
type Stats struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`
}

// Normalize turns configuration text into comparable lines. Line endings
// are unified, trailing whitespace and blank lines dropped. In set mode
// internal whitespace is collapsed and statements are sorted and
// de-duplicated, so statement order does not register as change.
func Normalize(text string, mode Mode) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if mode == ModeSet {
			line = strings.Join(strings.Fields(line), " ")
		}
		lines = append(lines, line)
	}
	if mode != ModeSet {
		return lines
	}

	sort.Strings(lines)
	out := lines[:0]
	for i, line := range lines {
		if i > 0 && line == lines[i-1] {
			continue
		}
		out = append(out, line)
	}
	return out
}

// Compute normalizes both texts and diffs them.
func Compute(from, to string, mode Mode) *Diff {
	if mode == "" {
		mode = ModeSet
	}
	d := Between(Normalize(from, mode), Normalize(to, mode))
	d.Mode = mode
	return d
}

// Between diffs two already-normalized line slices.
func Between(from, to []string) *Diff {
	d := &Diff{Mode: ModeStanza}
	m := difflib.NewMatcherWithJunk(from, to, false, nil)
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'e':
			d.appendLines(Equal, from[op.I1:op.I2])
		case 'd':
			d.appendLines(Remove, from[op.I1:op.I2])
		case 'i':
			d.appendLines(Add, to[op.J1:op.J2])
		case 'r':
			d.appendLines(Remove, from[op.I1:op.I2])
			d.appendLines(Add, to[op.J1:op.J2])
		}
	}
	return d
}

func (d *Diff) appendLines(kind Kind, lines []string) {
	for _, text := range lines {
		d.Lines = append(d.Lines, Line{Kind: kind, Text: text})
	}
}

// Empty reports whether the two configurations are identical after
// normalization.
func (d *Diff) Empty() bool {
	if d == nil {
		return true
	}
	for _, l := range d.Lines {
		if l.Kind != Equal {
			return false
		}
	}
	return true
}

// Stats counts the diff's lines by kind.
func (d *Diff) Stats() Stats {
	var s Stats
	if d == nil {
		return s
	}
	for _, l := range d.Lines {
		switch l.Kind {
		case Add:
			s.Added++
		case Remove:
			s.Removed++
		default:
			s.Unchanged++
		}
	}
	return s
}

// Changes returns only the added and removed lines.
func (d *Diff) Changes() []Line {
	if d == nil {
		return nil
	}
	var out []Line
	for _, l := range d.Lines {
		if l.Kind != Equal {
			out = append(out, l)
		}
	}
	return out
}

// From reconstructs the normalized "from" configuration.
func (d *Diff) From() []string {
	return d.side(Remove)
}

// To reconstructs the normalized "to" configuration.
func (d *Diff) To() []string {
	return d.side(Add)
}

func (d *Diff) side(kind Kind) []string {
	if d == nil {
		return nil
	}
	var out []string
	for _, l := range d.Lines {
		if l.Kind == Equal || l.Kind == kind {
			out = append(out, l.Text)
		}
	}
	return out
}

// Apply transforms from into the "to" configuration. from must match the
// diff's "from" side line for line; a mismatch is an error rather than a
// best-effort patch.
func (d *Diff) Apply(from []string) ([]string, error) {
	if d == nil {
		return append([]string(nil), from...), nil
	}
	out := make([]string, 0, len(from))
	i := 0
	for n, l := range d.Lines {
		switch l.Kind {
		case Add:
			out = append(out, l.Text)
			continue
		case Equal, Remove:
		default:
			return nil, fmt.Errorf("diff line %d: unknown kind %q", n+1, l.Kind)
		}
		if i >= len(from) {
			return nil, fmt.Errorf("diff line %d: input ended, expected %q", n+1, l.Text)
		}
		if from[i] != l.Text {
			return nil, fmt.Errorf("diff line %d: expected %q, found %q", n+1, l.Text, from[i])
		}
		if l.Kind == Equal {
			out = append(out, l.Text)
		}
		i++
	}
	if i != len(from) {
		return nil, fmt.Errorf("input has %d lines beyond the diff", len(from)-i)
	}
	return out, nil
}

// ApplyText normalizes from in the diff's mode and applies the diff.
func (d *Diff) ApplyText(from string) ([]string, error) {
	mode := ModeStanza
	if d != nil && d.Mode != "" {
		mode = d.Mode
	}
	return d.Apply(Normalize(from, mode))
}

// String renders changed lines with +/- markers, one per line.
func (d *Diff) String() string {
	var b strings.Builder
	for _, l := range d.Changes() {
		if l.Kind == Add {
			b.WriteString("+ ")
		} else {
			b.WriteString("- ")
		}
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// Unified renders the diff in unified format with the given context lines.
func (d *Diff) Unified(fromName, toName string, context int) (string, error) {
	if d.Empty() {
		return "", nil
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        withNewlines(d.From()),
		B:        withNewlines(d.To()),
		FromFile: fromName,
		ToFile:   toName,
		Context:  context,
	})
}

func withNewlines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l + "\n"
	}
	return out
}
