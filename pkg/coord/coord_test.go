package coord

import (
	"strings"
	"testing"
	"time"

	"github.com/newtron-network/newtfleet/pkg/diff"
	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/util"
)

func TestKey(t *testing.T) {
	if got := key(lockTable, "10.0.0.1"); got != "NEWTFLEET_LOCK|10.0.0.1" {
		t.Errorf("key() = %q", got)
	}
	if got := key(resultTable, "b1", "r1"); got != "NEWTFLEET_RESULT|b1|r1" {
		t.Errorf("key() = %q", got)
	}
}

func TestDefaultHolder(t *testing.T) {
	h := DefaultHolder()
	if !strings.Contains(h, "@") || !strings.Contains(h, ":") {
		t.Errorf("DefaultHolder() = %q, want user@host:pid", h)
	}
}

func TestResultFields(t *testing.T) {
	ok := fleet.Result{
		Target:    "r1",
		Transport: fleet.TransportNETCONF,
		Operation: fleet.OpConfigDiff,
		Outcome:   fleet.OutcomeSuccess,
		Output:    "no differences\n",
		Diff:      &diff.Diff{},
		Elapsed:   1500 * time.Millisecond,
		Attempts:  1,
	}
	f := ResultFields(ok)
	if f["outcome"] != "success" || f["elapsed_ms"] != "1500" || f["attempts"] != "1" {
		t.Errorf("ResultFields() = %v", f)
	}
	if _, has := f["error_kind"]; has {
		t.Error("success result carries error_kind")
	}
	if _, has := f["diff"]; !has {
		t.Error("diff not stored")
	}

	failed := fleet.NewResult(fleet.Target{Address: "r2"}, fleet.OpCommand, time.Now())
	failed.SetError(util.Wrap(util.KindAuth, util.ErrAuth))
	f = ResultFields(failed)
	if f["error_kind"] != "auth" || f["error"] == "" {
		t.Errorf("ResultFields() for failure = %v", f)
	}
	if _, has := f["output"]; has {
		t.Error("empty output stored")
	}
}
