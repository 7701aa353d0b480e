package diff

import (
	"reflect"
	"strings"
	"testing"
)

const runningA = `set system host-name r1
set interfaces ge-0/0/0 unit 0 family inet address 10.0.0.1/30
set protocols ospf area 0 interface ge-0/0/0.0
set snmp community public
`

const runningB = "set system host-name r1\r\n" +
	"set interfaces ge-0/0/0 unit 0 family inet address 10.0.0.5/30   \r\n" +
	"\r\n" +
	"set protocols ospf area 0 interface ge-0/0/0.0\r\n" +
	"set protocols ospf area 0 interface lo0.0 passive\r\n"

const stanzaA = `system {
    host-name r1;
}
interfaces {
    ge-0/0/0 {
        unit 0;
    }
}
`

const stanzaB = `system {
    host-name r2;
}
interfaces {
    ge-0/0/0 {
        unit 0;
    }
    ge-0/0/1 {
        unit 0;
    }
}
`

func TestNormalize(t *testing.T) {
	t.Run("set mode sorts and dedupes", func(t *testing.T) {
		got := Normalize("set b  x\r\nset a\n\nset b x\n  ", ModeSet)
		want := []string{"set a", "set b x"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Normalize() = %q, want %q", got, want)
		}
	})

	t.Run("stanza mode keeps order and indentation", func(t *testing.T) {
		got := Normalize("b {\r\n    x;   \r\n}\r\na;\n", ModeStanza)
		want := []string{"b {", "    x;", "}", "a;"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Normalize() = %q, want %q", got, want)
		}
	})
}

func TestComputeIdentical(t *testing.T) {
	for _, mode := range []Mode{ModeSet, ModeStanza} {
		t.Run(string(mode), func(t *testing.T) {
			d := Compute(runningA, runningA, mode)
			if !d.Empty() {
				t.Errorf("diff of identical texts is not empty: %s", d)
			}
			if s := d.Stats(); s.Added != 0 || s.Removed != 0 {
				t.Errorf("Stats() = %+v", s)
			}
		})
	}
}

func TestComputeIgnoresFormattingNoise(t *testing.T) {
	noisy := strings.ReplaceAll(runningA, "\n", "  \r\n\r\n")
	if d := Compute(runningA, noisy, ModeSet); !d.Empty() {
		t.Errorf("CRLF/whitespace noise produced changes: %s", d)
	}
}

func TestComputeSetMode(t *testing.T) {
	d := Compute(runningA, runningB, ModeSet)

	s := d.Stats()
	if s.Added != 2 || s.Removed != 2 || s.Unchanged != 2 {
		t.Errorf("Stats() = %+v, want 2 added / 2 removed / 2 unchanged", s)
	}

	out := d.String()
	for _, want := range []string{
		"+ set interfaces ge-0/0/0 unit 0 family inet address 10.0.0.5/30",
		"- set interfaces ge-0/0/0 unit 0 family inet address 10.0.0.1/30",
		"+ set protocols ospf area 0 interface lo0.0 passive",
		"- set snmp community public",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("String() missing %q:\n%s", want, out)
		}
	}
}

func TestToOrderFollowsTarget(t *testing.T) {
	d := Compute(stanzaA, stanzaB, ModeStanza)
	if got, want := d.To(), Normalize(stanzaB, ModeStanza); !reflect.DeepEqual(got, want) {
		t.Errorf("To() = %q, want %q", got, want)
	}
	if got, want := d.From(), Normalize(stanzaA, ModeStanza); !reflect.DeepEqual(got, want) {
		t.Errorf("From() = %q, want %q", got, want)
	}
}

func TestApplyRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
		mode     Mode
	}{
		{"set", runningA, runningB, ModeSet},
		{"set reversed", runningB, runningA, ModeSet},
		{"stanza", stanzaA, stanzaB, ModeStanza},
		{"stanza reversed", stanzaB, stanzaA, ModeStanza},
		{"from empty", "", stanzaB, ModeStanza},
		{"to empty", runningA, "", ModeSet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Compute(tt.from, tt.to, tt.mode)
			got, err := d.ApplyText(tt.from)
			if err != nil {
				t.Fatalf("ApplyText() error = %v", err)
			}
			want := Normalize(tt.to, tt.mode)
			if len(got) == 0 && len(want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("ApplyText() = %q, want %q", got, want)
			}
		})
	}
}

func TestApplyRejectsMismatch(t *testing.T) {
	d := Compute(stanzaA, stanzaB, ModeStanza)

	if _, err := d.Apply([]string{"something else"}); err == nil {
		t.Error("Apply() on unrelated input should fail")
	}
	from := append(Normalize(stanzaA, ModeStanza), "extra;")
	if _, err := d.Apply(from); err == nil {
		t.Error("Apply() with trailing lines should fail")
	}
}

func TestUnified(t *testing.T) {
	d := Compute(stanzaA, stanzaB, ModeStanza)
	out, err := d.Unified("r1", "r2", 1)
	if err != nil {
		t.Fatalf("Unified() error = %v", err)
	}
	for _, want := range []string{"--- r1", "+++ r2", "-    host-name r1;", "+    host-name r2;", "+    ge-0/0/1 {"} {
		if !strings.Contains(out, want) {
			t.Errorf("Unified() missing %q:\n%s", want, out)
		}
	}

	same := Compute(stanzaA, stanzaA, ModeStanza)
	if out, _ := same.Unified("a", "b", 3); out != "" {
		t.Errorf("Unified() of empty diff = %q", out)
	}
}

func TestNilDiff(t *testing.T) {
	var d *Diff
	if !d.Empty() {
		t.Error("nil diff should be empty")
	}
	got, err := d.Apply([]string{"a"})
	if err != nil || !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("nil Apply() = %q, %v", got, err)
	}
}
