// Package health evaluates polled interface counters into a per-device
// health report.
package health

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/newtron-network/newtfleet/pkg/fleet"
)

// Status represents the health status of a component
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

func (s Status) rank() int {
	switch s {
	case StatusCritical:
		return 3
	case StatusWarning:
		return 2
	case StatusUnknown:
		return 1
	}
	return 0
}

// Worse returns the more severe of two statuses.
func Worse(a, b Status) Status {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Result represents the result of a health check
type Result struct {
	Check   string      `json:"check"`
	Status  Status      `json:"status"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Report contains all health check results for a device
type Report struct {
	Device    string    `json:"device"`
	Timestamp time.Time `json:"timestamp"`
	Overall   Status    `json:"overall"`
	Results   []Result  `json:"results"`
}

// Check evaluates one aspect of the polled counters.
type Check interface {
	Name() string
	Run(counters []fleet.InterfaceCounters) Result
}

// DefaultChecks are the checks Evaluate runs.
var DefaultChecks = []Check{
	&ErrorCounterCheck{},
	&OperStatusCheck{},
}

// Evaluate runs the default checks over counters. Overall status is the
// worst individual status.
func Evaluate(device string, counters []fleet.InterfaceCounters) *Report {
	return Run(device, counters, DefaultChecks...)
}

// Run executes the given checks.
func Run(device string, counters []fleet.InterfaceCounters, checks ...Check) *Report {
	report := &Report{
		Device:    device,
		Timestamp: time.Now(),
		Overall:   StatusOK,
		Results:   make([]Result, 0, len(checks)),
	}
	if len(counters) == 0 {
		report.Overall = StatusUnknown
		report.Results = append(report.Results, Result{
			Check:   "interfaces",
			Status:  StatusUnknown,
			Message: "no interfaces reported",
		})
		return report
	}
	for _, c := range checks {
		r := c.Run(counters)
		report.Results = append(report.Results, r)
		report.Overall = Worse(report.Overall, r.Status)
	}
	return report
}

// String renders the report as plain text, one line per check followed by
// the offending interfaces.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "overall: %s\n", r.Overall)
	for _, res := range r.Results {
		fmt.Fprintf(&b, "%-12s %-8s %s\n", res.Check, res.Status, res.Message)
		if names, ok := res.Details.([]string); ok {
			for _, n := range names {
				fmt.Fprintf(&b, "    %s\n", n)
			}
		}
	}
	return b.String()
}

// ErrorCounterCheck flags interfaces with non-zero input or output errors.
type ErrorCounterCheck struct{}

// Name returns the check name
func (c *ErrorCounterCheck) Name() string {
	return "errors"
}

// Run executes the error counter check
func (c *ErrorCounterCheck) Run(counters []fleet.InterfaceCounters) Result {
	result := Result{Check: c.Name()}

	var flagged []string
	for _, ic := range counters {
		if ic.HasErrors() {
			flagged = append(flagged, fmt.Sprintf("%s: in_errors=%d out_errors=%d", ic.Name, ic.InErrors, ic.OutErrors))
		}
	}
	sort.Strings(flagged)

	if len(flagged) == 0 {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("no errors on %d interfaces", len(counters))
		return result
	}
	result.Status = StatusCritical
	result.Message = fmt.Sprintf("%d of %d interfaces have errors", len(flagged), len(counters))
	result.Details = flagged
	return result
}

// OperStatusCheck flags interfaces that are administratively up but
// operationally down.
type OperStatusCheck struct{}

// Name returns the check name
func (c *OperStatusCheck) Name() string {
	return "oper-status"
}

// Run executes the oper status check
func (c *OperStatusCheck) Run(counters []fleet.InterfaceCounters) Result {
	result := Result{Check: c.Name()}

	var down []string
	admin := 0
	for _, ic := range counters {
		if !ic.AdminUp {
			continue
		}
		admin++
		if !ic.OperUp {
			down = append(down, ic.Name)
		}
	}
	sort.Strings(down)

	switch {
	case len(down) == 0:
		result.Status = StatusOK
		result.Message = fmt.Sprintf("all %d enabled interfaces up", admin)
	case len(down) < (admin+1)/2:
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("%d of %d enabled interfaces down", len(down), admin)
		result.Details = down
	default:
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("%d of %d enabled interfaces down", len(down), admin)
		result.Details = down
	}
	return result
}
