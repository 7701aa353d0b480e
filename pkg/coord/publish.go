package coord

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/newtron-network/newtfleet/pkg/batch"
	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/report"
	"github.com/newtron-network/newtfleet/pkg/util"
)

// DefaultResultTTL is how long published results stay readable.
const DefaultResultTTL = 24 * time.Hour

const publishTimeout = 2 * time.Second

// Event is the message published on ResultChannel.
type Event struct {
	Type      string         `json:"type"` // "target" or "batch"
	BatchID   string         `json:"batch_id"`
	Target    string         `json:"target,omitempty"`
	Outcome   string         `json:"outcome"`
	ErrorKind util.ErrorKind `json:"error_kind,omitempty"`
	Error     string         `json:"error,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Time      time.Time      `json:"time"`
}

// Publisher is a batch.Observer that stores each target result as the hash
// NEWTFLEET_RESULT|<batch>|<target>, the batch verdict as
// NEWTFLEET_BATCH|<batch>, and announces both on ResultChannel. Redis
// failures are logged and never affect the batch.
type Publisher struct {
	c   *Client
	ttl time.Duration

	batchID string
}

// NewPublisher returns a Publisher; ttl <= 0 uses DefaultResultTTL.
func NewPublisher(c *Client, ttl time.Duration) *Publisher {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &Publisher{c: c, ttl: ttl}
}

func (p *Publisher) BatchStart(info fleet.BatchInfo) {
	p.batchID = info.ID
	p.store(key(batchTable, info.ID), map[string]interface{}{
		"operation": info.Operation.Describe(),
		"targets":   info.Targets,
		"started":   info.Started.UTC().Format(time.RFC3339),
		"outcome":   "running",
	}, nil)
}

func (p *Publisher) TargetStart(fleet.Target, int) {}

func (p *Publisher) TargetEnd(r fleet.Result) {
	p.store(key(resultTable, p.batchID, r.Target), ResultFields(r), &Event{
		Type:      "target",
		BatchID:   p.batchID,
		Target:    r.Target,
		Outcome:   string(r.Outcome),
		ErrorKind: r.ErrorKind,
		Error:     r.Error,
		Time:      time.Now().UTC(),
	})
}

func (p *Publisher) BatchEnd(rep *report.Report) {
	p.store(key(batchTable, rep.BatchID), map[string]interface{}{
		"outcome":   string(rep.Outcome),
		"summary":   rep.Summary.String(),
		"finished":  rep.Finished.UTC().Format(time.RFC3339),
		"abandoned": len(rep.Abandoned),
	}, &Event{
		Type:    "batch",
		BatchID: rep.BatchID,
		Outcome: string(rep.Outcome),
		Summary: rep.Summary.String(),
		Time:    time.Now().UTC(),
	})
}

// ResultFields flattens a result into hash fields.
func ResultFields(r fleet.Result) map[string]interface{} {
	fields := map[string]interface{}{
		"name":       r.Name,
		"transport":  string(r.Transport),
		"operation":  string(r.Operation),
		"outcome":    string(r.Outcome),
		"elapsed_ms": strconv.FormatInt(r.Elapsed.Milliseconds(), 10),
		"attempts":   strconv.Itoa(r.Attempts),
	}
	if r.ErrorKind != util.KindNone {
		fields["error_kind"] = string(r.ErrorKind)
		fields["error"] = r.Error
	}
	if r.Output != "" {
		fields["output"] = r.Output
	}
	if r.Diff != nil {
		if b, err := json.Marshal(r.Diff); err == nil {
			fields["diff"] = string(b)
		}
	}
	return fields
}

func (p *Publisher) store(k string, fields map[string]interface{}, ev *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	log := util.WithBatch(p.batchID)

	pipe := p.c.client.TxPipeline()
	pipe.HSet(ctx, k, fields)
	pipe.Expire(ctx, k, p.ttl)
	if ev != nil {
		if msg, err := json.Marshal(ev); err == nil {
			pipe.Publish(ctx, ResultChannel, msg)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.WithError(err).Warnf("Publishing %s failed", k)
	}
}

var _ batch.Observer = (*Publisher)(nil)
