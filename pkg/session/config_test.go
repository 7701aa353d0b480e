package session_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/transport/mock"
	"github.com/newtron-network/newtfleet/pkg/util"
)

const baseline = `set system host-name r1
set interfaces ge-0/0/0 unit 0 family inet address 10.0.0.1/30
`

func TestPushConfig(t *testing.T) {
	f := mock.NewFleet()
	dev := f.Add("r1", &mock.Device{})
	dev.SetRunning(baseline)
	s := connect(t, f, "r1")

	out, err := s.Execute(context.Background(), fleet.Operation{
		Kind:   fleet.OpConfigPush,
		Config: "set system ntp server 10.1.1.1\ndelete interfaces ge-0/0/0",
		Commit: fleet.CommitOptions{Comment: "ntp"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.Text, "commit complete") {
		t.Errorf("output = %q", out.Text)
	}

	running := dev.Running()
	if !strings.Contains(running, "set system ntp server 10.1.1.1") {
		t.Errorf("running config missing pushed line:\n%s", running)
	}
	if strings.Contains(running, "ge-0/0/0") {
		t.Errorf("delete was not applied:\n%s", running)
	}
	if dev.Locked() {
		t.Error("configuration lock should be released after commit")
	}
	if c := dev.Commits(); len(c) != 1 || c[0].Comment != "ntp" {
		t.Errorf("Commits() = %+v", c)
	}
}

func TestPushConfigRejectedDiscards(t *testing.T) {
	f := mock.NewFleet()
	dev := f.Add("r1", &mock.Device{Rejects: map[string]string{"set bogus": "syntax error"}})
	dev.SetRunning(baseline)
	s := connect(t, f, "r1")

	_, err := s.Execute(context.Background(), fleet.Operation{
		Kind:   fleet.OpConfigPush,
		Config: "set system ntp server 10.1.1.1\nset bogus",
	})
	if !errors.Is(err, util.ErrDevice) {
		t.Fatalf("Execute() error = %v, want device error", err)
	}
	if dev.Running() != baseline {
		t.Errorf("running config changed after rejected load:\n%s", dev.Running())
	}
	if dev.Locked() {
		t.Error("lock should be released after rejected load")
	}
	if len(dev.Commits()) != 0 {
		t.Error("nothing should have been committed")
	}
}

func TestCommitCheck(t *testing.T) {
	f := mock.NewFleet()
	ok := f.Add("ok", &mock.Device{})
	ok.SetRunning(baseline)
	bad := f.Add("bad", &mock.Device{CheckFailure: "missing mandatory statement"})
	bad.SetRunning(baseline)

	op := fleet.Operation{Kind: fleet.OpCommitCheck, Config: "set system ntp server 10.1.1.1"}

	out, err := connect(t, f, "ok").Execute(context.Background(), op)
	if err != nil || !strings.Contains(out.Text, "check succeeds") {
		t.Errorf("commit check = %q, %v", out.Text, err)
	}
	if ok.Running() != baseline || len(ok.Commits()) != 0 {
		t.Error("commit check must not change the device")
	}

	_, err = connect(t, f, "bad").Execute(context.Background(), op)
	if !errors.Is(err, util.ErrDevice) || !strings.Contains(err.Error(), "missing mandatory statement") {
		t.Errorf("commit check error = %v", err)
	}
}

func TestCompareConfig(t *testing.T) {
	f := mock.NewFleet()
	dev := f.Add("r1", &mock.Device{})
	dev.SetRunning(baseline)

	out, err := connect(t, f, "r1").Execute(context.Background(), fleet.Operation{
		Kind:   fleet.OpConfigCompare,
		Config: "set system ntp server 10.1.1.1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.Text, "+ set system ntp server 10.1.1.1") {
		t.Errorf("compare output = %q", out.Text)
	}
	if dev.Running() != baseline || dev.Locked() {
		t.Error("compare must leave the device untouched and unlocked")
	}
}

func TestCommitConfirmedReverts(t *testing.T) {
	f := mock.NewFleet()
	dev := f.Add("r1", &mock.Device{Minute: 100 * time.Millisecond})
	dev.SetRunning(baseline)
	s := connect(t, f, "r1")

	out, err := s.Execute(context.Background(), fleet.Operation{
		Kind:   fleet.OpConfigPush,
		Config: "set system ntp server 10.1.1.1",
		Commit: fleet.CommitOptions{ConfirmMinutes: 1},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.Text, "reverts in 1 minute") {
		t.Errorf("output = %q", out.Text)
	}
	if !strings.Contains(dev.Running(), "ntp server") || !dev.PendingConfirm() {
		t.Fatal("commit confirmed should apply provisionally")
	}

	deadline := time.Now().Add(2 * time.Second)
	for dev.PendingConfirm() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	// A fresh fetch must show the pre-commit configuration.
	fetched, err := connect(t, f, "r1").Execute(context.Background(), fleet.Operation{
		Kind: fleet.OpConfigDiff,
		Diff: fleet.DiffSpec{Candidate: baseline},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !fetched.Diff.Empty() {
		t.Errorf("configuration not reverted:\n%s", fetched.Text)
	}
	if dev.Reverts() != 1 {
		t.Errorf("Reverts() = %d, want 1", dev.Reverts())
	}
}

func TestCommitConfirmedThenConfirm(t *testing.T) {
	f := mock.NewFleet()
	dev := f.Add("r1", &mock.Device{Minute: 200 * time.Millisecond})
	dev.SetRunning(baseline)

	_, err := connect(t, f, "r1").Execute(context.Background(), fleet.Operation{
		Kind:   fleet.OpConfigPush,
		Config: "set system ntp server 10.1.1.1",
		Commit: fleet.CommitOptions{ConfirmMinutes: 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = connect(t, f, "r1").Execute(context.Background(), fleet.Operation{
		Kind:   fleet.OpConfigPush,
		Commit: fleet.CommitOptions{Blank: true},
	})
	if err != nil {
		t.Fatalf("confirming commit error = %v", err)
	}

	time.Sleep(400 * time.Millisecond)
	if dev.Reverts() != 0 || !strings.Contains(dev.Running(), "ntp server") {
		t.Error("confirmed commit should not revert")
	}
}

func TestCancelledBeforeCommitDiscards(t *testing.T) {
	f := mock.NewFleet()
	dev := f.Add("r1", &mock.Device{Latency: 300 * time.Millisecond})
	dev.SetRunning(baseline)
	s := connect(t, f, "r1")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := s.Execute(ctx, fleet.Operation{
		Kind:   fleet.OpConfigPush,
		Config: "set system ntp server 10.1.1.1",
	})
	if util.Classify(err) != util.KindCancelled {
		t.Errorf("Execute() error = %v, want cancelled", err)
	}
	s.Close()
	if dev.Running() != baseline {
		t.Errorf("cancelled push changed the device:\n%s", dev.Running())
	}
	if dev.Locked() {
		t.Error("lock should not outlive a cancelled push")
	}
}

func TestConfigDiffModes(t *testing.T) {
	f := mock.NewFleet()
	dev := f.Add("r1", &mock.Device{})
	dev.SetRunning(baseline)
	s := connect(t, f, "r1")

	candidate := "set system host-name r2\nset interfaces ge-0/0/0 unit 0 family inet address 10.0.0.1/30\n"
	out, err := s.Execute(context.Background(), fleet.Operation{
		Kind: fleet.OpConfigDiff,
		Diff: fleet.DiffSpec{Mode: fleet.DiffSet, Candidate: candidate},
	})
	if err != nil {
		t.Fatal(err)
	}
	st := out.Diff.Stats()
	if st.Added != 1 || st.Removed != 1 {
		t.Errorf("Stats() = %+v", st)
	}
	if !strings.Contains(out.Text, "- set system host-name r1") || !strings.Contains(out.Text, "+ set system host-name r2") {
		t.Errorf("set diff output = %q", out.Text)
	}

	out, err = s.Execute(context.Background(), fleet.Operation{
		Kind: fleet.OpConfigDiff,
		Diff: fleet.DiffSpec{Mode: fleet.DiffStanza, Against: "r9", Candidate: candidate},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.Text, "--- r1") || !strings.Contains(out.Text, "+++ r9") {
		t.Errorf("stanza diff output = %q", out.Text)
	}
}
