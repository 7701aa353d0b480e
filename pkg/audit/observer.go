package audit

import (
	"github.com/newtron-network/newtfleet/pkg/batch"
	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/report"
	"github.com/newtron-network/newtfleet/pkg/util"
)

// Recorder is a batch.Observer that logs one event per target result of a
// state-changing operation. Read-only operations are not audited.
type Recorder struct {
	logger Logger
	user   string

	info fleet.BatchInfo
}

// NewRecorder returns a Recorder logging to logger on behalf of user.
func NewRecorder(logger Logger, user string) *Recorder {
	return &Recorder{logger: logger, user: user}
}

func (r *Recorder) BatchStart(info fleet.BatchInfo) {
	r.info = info
}

func (r *Recorder) TargetStart(fleet.Target, int) {}

func (r *Recorder) TargetEnd(res fleet.Result) {
	op := r.info.Operation
	if res.Operation != op.Kind {
		// Mixed-kind batch; only the kind is known.
		op = fleet.Operation{Kind: res.Operation}
	}
	if !op.StateChanging() {
		return
	}
	if err := r.logger.Log(FromResult(r.user, r.info.ID, op, res)); err != nil {
		util.WithBatch(r.info.ID).WithError(err).Warn("Audit log write failed")
	}
}

func (r *Recorder) BatchEnd(*report.Report) {}

var _ batch.Observer = (*Recorder)(nil)
