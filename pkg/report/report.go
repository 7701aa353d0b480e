package report

import (
	"time"

	"github.com/newtron-network/newtfleet/pkg/fleet"
)

// Outcome is the batch-level verdict.
type Outcome string

const (
	// BatchSuccess: every target succeeded.
	BatchSuccess Outcome = "success"
	// BatchPartial: some targets failed or partially failed. The run is
	// usable; the failed targets need review.
	BatchPartial Outcome = "partial-success"
	// BatchFailed: no target produced usable output.
	BatchFailed Outcome = "failed"
	// BatchCancelled: the caller cancelled before every target finished.
	BatchCancelled Outcome = "cancelled"
)

// Report is the final, ordered account of one batch.
type Report struct {
	BatchID   string         `json:"batch_id"`
	Operation string         `json:"operation"`
	Started   time.Time      `json:"started"`
	Finished  time.Time      `json:"finished"`
	Outcome   Outcome        `json:"outcome"`
	Summary   Summary        `json:"summary"`
	Results   []fleet.Result `json:"results"`
	// Abandoned lists targets never started because the batch was
	// cancelled. They have no result.
	Abandoned []string `json:"abandoned,omitempty"`
}

// Elapsed is the batch wall time.
func (r *Report) Elapsed() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Result returns the result for address.
func (r *Report) Result(address string) (fleet.Result, bool) {
	for _, res := range r.Results {
		if res.Target == address {
			return res, true
		}
	}
	return fleet.Result{}, false
}

// Failed returns the results with an error outcome.
func (r *Report) Failed() []fleet.Result {
	var out []fleet.Result
	for _, res := range r.Results {
		if res.Outcome == fleet.OutcomeError {
			out = append(out, res)
		}
	}
	return out
}

// Build assembles the report from the aggregator's current contents.
func Build(info fleet.BatchInfo, a *Aggregator, abandoned []string, cancelled bool) *Report {
	rep := &Report{
		BatchID:   info.ID,
		Operation: info.Operation.Describe(),
		Started:   info.Started,
		Finished:  time.Now(),
		Summary:   a.Summary(),
		Results:   a.Snapshot(),
		Abandoned: abandoned,
	}
	rep.Summary.Abandoned = len(abandoned)
	rep.Outcome = Verdict(rep.Summary, cancelled)
	return rep
}

// Verdict derives the batch outcome. Any mix of failures and successes is
// a partial success, never a failed run.
func Verdict(s Summary, cancelled bool) Outcome {
	switch {
	case cancelled:
		return BatchCancelled
	case s.Error == 0 && s.Partial == 0:
		return BatchSuccess
	case s.Success == 0 && s.Partial == 0:
		return BatchFailed
	}
	return BatchPartial
}
