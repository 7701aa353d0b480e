// Package audit records state-changing operations against devices in a
// JSON-lines log.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/util"
)

// Event is one audited target result.
type Event struct {
	ID          string               `json:"id"`
	Timestamp   time.Time            `json:"timestamp"`
	User        string               `json:"user"`
	BatchID     string               `json:"batch_id"`
	Device      string               `json:"device"`
	Transport   fleet.TransportKind  `json:"transport,omitempty"`
	Operation   fleet.OpKind         `json:"operation"`
	Description string               `json:"description"`
	Changes     []string             `json:"changes,omitempty"`
	Commit      *fleet.CommitOptions `json:"commit,omitempty"`
	Outcome     fleet.Outcome        `json:"outcome"`
	ErrorKind   util.ErrorKind       `json:"error_kind,omitempty"`
	Error       string               `json:"error,omitempty"`
	Duration    time.Duration        `json:"duration"`
}

// Filter defines criteria for querying audit events
type Filter struct {
	Device      string
	User        string
	Operation   fleet.OpKind
	BatchID     string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates an event for a device
func NewEvent(user, device string, op fleet.OpKind) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		User:      user,
		Device:    device,
		Operation: op,
	}
}

// FromResult builds the event for one target's result of op.
func FromResult(user, batchID string, op fleet.Operation, r fleet.Result) *Event {
	e := NewEvent(user, r.Target, r.Operation)
	e.BatchID = batchID
	e.Transport = r.Transport
	e.Description = op.Describe()
	e.Duration = r.Elapsed
	e.Outcome = r.Outcome
	e.ErrorKind = r.ErrorKind
	e.Error = r.Error

	switch op.Kind {
	case fleet.OpConfigPush:
		e.Changes = util.SplitLines(op.Config)
		commit := op.Commit
		e.Commit = &commit
	case fleet.OpShell:
		for _, c := range r.Commands {
			e.Changes = append(e.Changes, c.Command)
		}
		if len(e.Changes) == 0 {
			e.Changes = op.Commands
		}
	case fleet.OpFileTransfer:
		e.Changes = []string{op.Transfer.Source + " -> " + op.Transfer.Destination}
	}
	return e
}

// Success reports whether the audited change was applied in full.
func (e *Event) Success() bool {
	return e.Outcome == fleet.OutcomeSuccess
}

// Match reports whether e satisfies every criterion set in f.
func (f Filter) Match(e *Event) bool {
	switch {
	case f.Device != "" && e.Device != f.Device,
		f.User != "" && e.User != f.User,
		f.Operation != "" && e.Operation != f.Operation,
		f.BatchID != "" && e.BatchID != f.BatchID,
		!f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime),
		!f.EndTime.IsZero() && e.Timestamp.After(f.EndTime),
		f.SuccessOnly && !e.Success(),
		f.FailureOnly && e.Success():
		return false
	}
	return true
}

// page applies Offset then Limit.
func (f Filter) page(events []*Event) []*Event {
	if f.Offset > 0 {
		if f.Offset >= len(events) {
			return nil
		}
		events = events[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(events) {
		events = events[:f.Limit]
	}
	return events
}
