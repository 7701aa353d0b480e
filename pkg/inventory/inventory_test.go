package inventory

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/util"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleInventory = `
env_file: lab.env
defaults:
  transport: netconf
  username: netops
  password_env: LAB_PASSWORD
  connect_timeout: 10s
hosts:
  - address: 10.0.0.1
    name: core1
    tags: [core]
  - address: 10.0.0.2
    name: edge1
    transport: ssh
    port: 2222
    tags: [edge]
    commands: ["show route summary"]
  - address: 10.0.0.3
    transport: snmp
    community_env: LAB_COMMUNITY
    config: "@edge.conf"
    tags: [edge]
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lab.env", "LAB_PASSWORD=s3cret\nLAB_COMMUNITY=ro-lab\n")
	writeFile(t, dir, "edge.conf", "set system host-name edge\n")
	path := writeFile(t, dir, "inventory.yaml", sampleInventory)

	inv, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	targets, err := inv.Targets()
	if err != nil {
		t.Fatalf("Targets() error = %v", err)
	}
	if len(targets) != 3 {
		t.Fatalf("targets = %d, want 3", len(targets))
	}

	core := targets[0]
	if core.Transport != fleet.TransportNETCONF || core.Credentials.Username != "netops" ||
		core.Credentials.Password != "s3cret" || core.ConnectTimeout != 10*time.Second {
		t.Errorf("core1 = %+v", core)
	}
	edge := targets[1]
	if edge.Transport != fleet.TransportSSH || edge.Port != 2222 || len(edge.Commands) != 1 {
		t.Errorf("edge1 = %+v", edge)
	}
	snmp := targets[2]
	if snmp.Credentials.Community != "ro-lab" || snmp.Config != "set system host-name edge\n" {
		t.Errorf("snmp host = %+v", snmp)
	}

	edges, err := inv.Targets("edge")
	if err != nil || len(edges) != 2 {
		t.Errorf("Targets(edge) = %d, %v", len(edges), err)
	}
	if _, err := inv.Targets("nope"); !errors.Is(err, util.ErrValidationFailed) {
		t.Errorf("Targets(nope) error = %v", err)
	}
}

func TestLoadEnvironmentFallback(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NEWTFLEET_TEST_PW", "from-env")
	path := writeFile(t, dir, "inv.yaml", `
hosts:
  - address: r1
    password_env: NEWTFLEET_TEST_PW
  - address: r2
    password_env: NEWTFLEET_TEST_MISSING
`)
	inv, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := inv.Lookup("NEWTFLEET_TEST_PW"); !ok || v != "from-env" {
		t.Errorf("Lookup() = %q, %v", v, ok)
	}
	_, err = inv.Targets()
	if err == nil || !strings.Contains(err.Error(), "NEWTFLEET_TEST_MISSING is not set") {
		t.Errorf("Targets() error = %v", err)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"no hosts", "defaults:\n  username: x\n", "no hosts"},
		{"missing address", "hosts:\n  - name: r1\n", "address is required"},
		{"bad timeout", "hosts:\n  - address: r1\n    connect_timeout: soon\n", "connect_timeout"},
		{"bad yaml", "hosts: [", "parsing inventory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "inv.yaml", tt.content)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want %q", err, tt.want)
			}
		})
	}

	dir := t.TempDir()
	path := writeFile(t, dir, "inv.yaml", "env_file: missing.env\nhosts:\n  - address: r1\n")
	if _, err := Load(path); err == nil {
		t.Error("Load() with missing env file should fail")
	}
}

func TestTemplateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	op := fleet.Operation{
		Kind:    fleet.OpConfigPush,
		Config:  "set system ntp server 10.0.0.5\n",
		Timeout: 90 * time.Second,
		Commit:  fleet.CommitOptions{ConfirmMinutes: 5, Comment: "ntp"},
	}
	path := filepath.Join(dir, "templates", "ntp.yaml")
	tpl := NewTemplate(op)
	tpl.Targets = []string{"r1", "r2"}
	if err := SaveTemplate(path, tpl); err != nil {
		t.Fatalf("SaveTemplate() error = %v", err)
	}

	loaded, err := LoadTemplate(path)
	if err != nil {
		t.Fatalf("LoadTemplate() error = %v", err)
	}
	got, err := loaded.Operation()
	if err != nil {
		t.Fatalf("Operation() error = %v", err)
	}
	if got.Kind != op.Kind || got.Config != op.Config || got.Timeout != op.Timeout || got.Commit != op.Commit {
		t.Errorf("round trip = %+v, want %+v", got, op)
	}
	if len(loaded.Targets) != 2 {
		t.Errorf("targets = %v", loaded.Targets)
	}
}

func TestTemplateFileReferences(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "golden.conf", "set system host-name golden\n")
	writeFile(t, dir, "push.conf", "set snmp community public\n")
	path := writeFile(t, dir, "t.yaml", `
kind: config-diff
diff:
  mode: set
  candidate: "@golden.conf"
`)
	tpl, err := LoadTemplate(path)
	if err != nil {
		t.Fatal(err)
	}
	if tpl.Diff.Candidate != "set system host-name golden\n" {
		t.Errorf("candidate = %q", tpl.Diff.Candidate)
	}

	path = writeFile(t, dir, "p.yaml", "kind: config-push\nconfig_file: push.conf\ntimeout: never\n")
	tpl, err = LoadTemplate(path)
	if err != nil {
		t.Fatal(err)
	}
	if tpl.Config != "set snmp community public\n" {
		t.Errorf("config = %q", tpl.Config)
	}
	if _, err := tpl.Operation(); !errors.Is(err, util.ErrValidationFailed) {
		t.Errorf("Operation() with bad timeout = %v", err)
	}
}

func TestParseTargetList(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "hosts.txt", "# lab\n10.0.0.1\n10.0.0.2, 10.0.0.3\n\n10.0.0.1\n")

	tests := []struct {
		arg  string
		want []string
	}{
		{"r1,r2", []string{"r1", "r2"}},
		{" r1 , ,r2 ", []string{"r1", "r2"}},
		{"@" + path, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}},
	}
	for _, tt := range tests {
		got, err := ParseTargetList(tt.arg)
		if err != nil || strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("ParseTargetList(%q) = %v, %v; want %v", tt.arg, got, err, tt.want)
		}
	}
	if _, err := ParseTargetList(" , "); !errors.Is(err, util.ErrValidationFailed) {
		t.Errorf("empty list error = %v", err)
	}
	if _, err := ParseTargetList("@" + filepath.Join(dir, "nope")); err == nil {
		t.Error("missing list file should fail")
	}

	base := fleet.Target{Transport: fleet.TransportSSH, Credentials: fleet.Credentials{Username: "u"}}
	ts := FromAddresses([]string{"a", "b"}, base)
	if len(ts) != 2 || ts[1].Address != "b" || ts[1].Credentials.Username != "u" {
		t.Errorf("FromAddresses() = %+v", ts)
	}
}
