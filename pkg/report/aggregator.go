// Package report collects per-target results of a batch into a uniform,
// ordered report and renders it for terminals, files, and JSON consumers.
package report

import (
	"fmt"
	"net/netip"
	"sort"
	"sync"

	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/util"
)

// Summary counts results by outcome.
type Summary struct {
	Total     int `json:"total"`
	Success   int `json:"success"`
	Partial   int `json:"partial"`
	Error     int `json:"error"`
	Abandoned int `json:"abandoned,omitempty"`
}

func (s Summary) String() string {
	str := fmt.Sprintf("%d success / %d partial / %d error", s.Success, s.Partial, s.Error)
	if s.Abandoned > 0 {
		str += fmt.Sprintf(" / %d not started", s.Abandoned)
	}
	return str
}

// Aggregator is the single shared mutable store of a batch's results.
// Record calls are serialized; recorded results are never modified.
type Aggregator struct {
	mu      sync.Mutex
	results map[string]fleet.Result
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{results: make(map[string]fleet.Result)}
}

// Record stores r. A second result for the same target is ignored and
// reported as ErrDuplicateResult. A malformed result is a bug in the
// producer and panics.
func (a *Aggregator) Record(r fleet.Result) error {
	if err := r.Validate(); err != nil {
		panic(fmt.Sprintf("report: malformed result: %v", err))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.results[r.Target]; ok {
		util.WithDevice(r.Target).Warn("Duplicate result ignored")
		return fmt.Errorf("%w for %s", util.ErrDuplicateResult, r.Target)
	}
	a.results[r.Target] = r
	return nil
}

// Has reports whether a result was recorded for address.
func (a *Aggregator) Has(address string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.results[address]
	return ok
}

// Len returns the number of recorded results.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}

// Snapshot returns the recorded results ordered by target address.
func (a *Aggregator) Snapshot() []fleet.Result {
	a.mu.Lock()
	out := make([]fleet.Result, 0, len(a.results))
	for _, r := range a.results {
		out = append(out, r)
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return AddressLess(out[i].Target, out[j].Target)
	})
	return out
}

// Summary counts the recorded results by outcome.
func (a *Aggregator) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	var s Summary
	for _, r := range a.results {
		s.Total++
		switch r.Outcome {
		case fleet.OutcomeSuccess:
			s.Success++
		case fleet.OutcomePartial:
			s.Partial++
		default:
			s.Error++
		}
	}
	return s
}

// AddressLess orders IP addresses numerically, before host names, which
// sort lexically.
func AddressLess(a, b string) bool {
	ia, errA := netip.ParseAddr(a)
	ib, errB := netip.ParseAddr(b)
	switch {
	case errA == nil && errB == nil:
		if c := ia.Compare(ib); c != 0 {
			return c < 0
		}
		return a < b
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}
