package fleet

import (
	"fmt"
	"time"

	"github.com/newtron-network/newtfleet/pkg/diff"
	"github.com/newtron-network/newtfleet/pkg/util"
)

// Outcome of one target's operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeError   Outcome = "error"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomePartial || o == OutcomeError
}

// CommandResult is the output of one command within a command-list or
// shell-command operation.
type CommandResult struct {
	Command string `json:"command"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// InterfaceCounters are polled per-interface status and error counters.
type InterfaceCounters struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	AdminUp   bool   `json:"admin_up"`
	OperUp    bool   `json:"oper_up"`
	InErrors  uint64 `json:"in_errors"`
	OutErrors uint64 `json:"out_errors"`
}

// HasErrors reports whether either error counter is non-zero.
func (c InterfaceCounters) HasErrors() bool {
	return c.InErrors > 0 || c.OutErrors > 0
}

// Result is the single outcome recorded for one target in one batch.
type Result struct {
	Target    string        `json:"target"`
	Name      string        `json:"name,omitempty"`
	Transport TransportKind `json:"transport,omitempty"`
	Operation OpKind        `json:"operation"`
	Outcome   Outcome       `json:"outcome"`

	Output     string              `json:"output,omitempty"`
	Commands   []CommandResult     `json:"commands,omitempty"`
	Diff       *diff.Diff          `json:"diff,omitempty"`
	Interfaces []InterfaceCounters `json:"interfaces,omitempty"`

	ErrorKind util.ErrorKind `json:"error_kind,omitempty"`
	Error     string         `json:"error,omitempty"`
	Err       error          `json:"-"`

	Started  time.Time     `json:"started"`
	Elapsed  time.Duration `json:"elapsed_ns"`
	Attempts int           `json:"attempts,omitempty"`
}

// Failed reports whether the target produced no usable output.
func (r Result) Failed() bool {
	return r.Outcome == OutcomeError
}

// SetError classifies err and marks the result as failed.
func (r *Result) SetError(err error) {
	r.Outcome = OutcomeError
	r.Err = err
	r.ErrorKind = util.Classify(err)
	if err != nil {
		r.Error = err.Error()
	}
}

// Validate reports a malformed result. A malformed result is a programming
// error in the producer.
func (r Result) Validate() error {
	v := &util.ValidationBuilder{}
	v.Add(r.Target != "", "result has no target")
	v.Add(r.Outcome.Valid(), fmt.Sprintf("result for %s has invalid outcome %q", r.Target, r.Outcome))
	if r.Outcome == OutcomeError {
		v.Add(r.ErrorKind != util.KindNone, fmt.Sprintf("error result for %s has no error kind", r.Target))
	}
	if r.Outcome == OutcomeSuccess {
		v.Add(r.ErrorKind == util.KindNone, fmt.Sprintf("success result for %s carries error kind %q", r.Target, r.ErrorKind))
	}
	return v.Build()
}

// NewResult starts a result for the target.
func NewResult(t Target, op OpKind, started time.Time) Result {
	return Result{
		Target:    t.Address,
		Name:      t.Name,
		Transport: t.Transport,
		Operation: op,
		Started:   started,
	}
}

// BatchInfo describes a batch when it starts.
type BatchInfo struct {
	ID          string    `json:"id"`
	Operation   Operation `json:"operation"`
	Targets     int       `json:"targets"`
	MaxParallel int       `json:"max_parallel"`
	Started     time.Time `json:"started"`
}
