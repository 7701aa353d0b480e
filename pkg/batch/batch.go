// Package batch runs one operation, or one operation per device, across a
// fleet of targets with bounded parallelism. Every started target yields
// exactly one result; a failing device never affects its siblings.
package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/report"
	"github.com/newtron-network/newtfleet/pkg/session"
	"github.com/newtron-network/newtfleet/pkg/util"
)

// Plan returns the operation to run on one target.
type Plan func(t fleet.Target) fleet.Operation

// Batch is a running batch. Results stream on Results() in completion
// order; Wait returns the final report.
type Batch struct {
	info    fleet.BatchInfo
	results chan fleet.Result
	cancel  context.CancelFunc
	done    chan struct{}
	report  *report.Report
}

// ID returns the batch identifier.
func (b *Batch) ID() string {
	return b.info.ID
}

// Info returns the batch description.
func (b *Batch) Info() fleet.BatchInfo {
	return b.info
}

// Results streams each target's result as it completes. The channel is
// buffered for every target and closed when the batch ends, so a caller
// that never reads it does not stall the batch.
func (b *Batch) Results() <-chan fleet.Result {
	return b.results
}

// Cancel stops the batch. In-flight sessions are closed, results already
// recorded are kept, and targets not yet started are abandoned.
func (b *Batch) Cancel() {
	b.cancel()
}

// Done is closed when the batch has ended.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the batch ends and returns its report.
func (b *Batch) Wait() *report.Report {
	<-b.done
	return b.report
}

// Execute runs op on every target and waits for the report.
func Execute(ctx context.Context, targets []fleet.Target, op fleet.Operation, opts Options) (*report.Report, error) {
	b, err := Run(ctx, targets, op, opts)
	if err != nil {
		return nil, err
	}
	return b.Wait(), nil
}

// Run starts op on every target. Per-device overrides on each target are
// applied to its copy of the operation.
func Run(ctx context.Context, targets []fleet.Target, op fleet.Operation, opts Options) (*Batch, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	return start(ctx, targets, op, func(t fleet.Target) fleet.Operation {
		return op.ForTarget(t)
	}, opts)
}

// RunEach starts a batch where plan chooses each target's operation.
func RunEach(ctx context.Context, targets []fleet.Target, plan Plan, opts Options) (*Batch, error) {
	if len(targets) == 0 {
		return nil, util.NewValidationError("no targets given")
	}
	return start(ctx, targets, plan(targets[0]), plan, opts)
}

type refKey struct {
	address string
	mode    fleet.DiffMode
}

type refConfig struct {
	text string
	err  error
}

type runner struct {
	info    fleet.BatchInfo
	opts    Options
	targets []fleet.Target
	ops     []fleet.Operation
	agg     *report.Aggregator
	results chan fleet.Result
	refs    map[refKey]refConfig
	log     *logrus.Entry
	events  *dispatcher
}

func start(parent context.Context, targets []fleet.Target, shared fleet.Operation, plan Plan, opts Options) (*Batch, error) {
	opts = opts.withDefaults()
	if opts.Registry == nil {
		return nil, fmt.Errorf("batch: no transport registry")
	}
	if err := fleet.ValidateTargets(targets); err != nil {
		return nil, err
	}

	r := &runner{
		opts:    opts,
		targets: make([]fleet.Target, len(targets)),
		ops:     make([]fleet.Operation, len(targets)),
		agg:     report.NewAggregator(),
		results: make(chan fleet.Result, len(targets)),
		refs:    make(map[refKey]refConfig),
	}

	v := &util.ValidationBuilder{}
	for i, t := range targets {
		t = t.WithDefaults()
		r.targets[i] = t
		op := plan(t)
		if err := op.Validate(); err != nil {
			v.AddErrorf("%s: %v", t.Address, err)
		}
		r.ops[i] = op
	}
	if err := v.Build(); err != nil {
		return nil, err
	}
	splitPullDestinations(r.targets, r.ops)

	id := opts.BatchID
	if id == "" {
		id = uuid.NewString()
	}
	r.info = fleet.BatchInfo{
		ID:          id,
		Operation:   shared,
		Targets:     len(targets),
		MaxParallel: opts.MaxParallel,
		Started:     time.Now(),
	}
	r.log = util.WithBatch(id)
	r.events = newDispatcher(opts.Observers)

	ctx, cancel := context.WithCancel(parent)
	b := &Batch{
		info:    r.info,
		results: r.results,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(b.done)
		defer cancel()
		b.report = r.run(ctx)
	}()
	return b, nil
}

// splitPullDestinations gives each device its own directory when a pull
// addresses more than one target, so devices do not overwrite each other.
func splitPullDestinations(targets []fleet.Target, ops []fleet.Operation) {
	if len(targets) < 2 {
		return
	}
	for i := range ops {
		op := &ops[i]
		if op.Kind == fleet.OpFileTransfer && op.Transfer.Direction == fleet.Pull {
			op.Transfer.Destination = filepath.Join(op.Transfer.Destination, util.SanitizeName(targets[i].Address))
		}
	}
}

func (r *runner) run(ctx context.Context) *report.Report {
	r.log.WithFields(logrus.Fields{
		"targets":      len(r.targets),
		"max_parallel": r.opts.MaxParallel,
		"operation":    r.info.Operation.Kind,
	}).Info("Batch started")
	r.notify(func(o Observer) { o.BatchStart(r.info) })

	r.resolveReferences(ctx)

	workers := r.opts.MaxParallel
	if workers > len(r.targets) {
		workers = len(r.targets)
	}

	queue := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				if ctx.Err() != nil {
					continue
				}
				r.handle(ctx, i)
			}
		}()
	}

feed:
	for i := range r.targets {
		select {
		case queue <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(queue)
	wg.Wait()
	close(r.results)

	var abandoned []string
	for _, t := range r.targets {
		if !r.agg.Has(t.Address) {
			abandoned = append(abandoned, t.Address)
		}
	}
	cancelled := ctx.Err() != nil && (len(abandoned) > 0 || r.anyCancelled())

	rep := report.Build(r.info, r.agg, abandoned, cancelled)
	r.log.WithFields(logrus.Fields{
		"outcome":   rep.Outcome,
		"success":   rep.Summary.Success,
		"partial":   rep.Summary.Partial,
		"error":     rep.Summary.Error,
		"abandoned": rep.Summary.Abandoned,
	}).Info("Batch finished")
	r.notify(func(o Observer) { o.BatchEnd(rep) })
	r.events.drain()
	return rep
}

func (r *runner) anyCancelled() bool {
	for _, res := range r.agg.Snapshot() {
		if res.ErrorKind == util.KindCancelled {
			return true
		}
	}
	return false
}

// notify queues an event for every observer.
func (r *runner) notify(fn func(Observer)) {
	r.events.post(fn)
}

func (r *runner) handle(ctx context.Context, i int) {
	res := r.execute(ctx, r.targets[i], r.ops[i])
	if err := r.agg.Record(res); err != nil {
		r.log.WithError(err).Warn("Result not recorded")
		return
	}
	r.results <- res
	r.notify(func(o Observer) { o.TargetEnd(res) })
}

// execute produces the one result for t. Every failure, including a panic
// in a transport, becomes an error result here.
func (r *runner) execute(ctx context.Context, t fleet.Target, op fleet.Operation) (res fleet.Result) {
	started := time.Now()
	res = fleet.NewResult(t, op.Kind, started)
	log := r.log.WithField("device", t.Address)

	defer func() {
		if p := recover(); p != nil {
			log.Errorf("panic executing %s: %v\n%s", op.Kind, p, debug.Stack())
			res.Output = ""
			res.SetError(util.NewOpError(t.Address, string(op.Kind), util.Wrap(util.KindTransport, fmt.Errorf("panic: %v", p))))
		}
		res.Elapsed = time.Since(started)
	}()

	if op.Kind == fleet.OpConfigDiff && op.Diff.Against != "" {
		ref := r.refs[refKey{op.Diff.Against, op.Diff.Mode}]
		if ref.err != nil {
			r.notify(func(o Observer) { o.TargetStart(t, 1) })
			res.Attempts = 1
			res.SetError(fmt.Errorf("reference configuration from %s unavailable: %w", op.Diff.Against, ref.err))
			return res
		}
		op.Diff.Candidate = ref.text
	}

	if r.opts.Locker != nil && op.StateChanging() {
		if err := r.opts.Locker.Lock(ctx, t.Address, r.opts.LockHolder, r.opts.LockTTL); err != nil {
			r.notify(func(o Observer) { o.TargetStart(t, 1) })
			res.Attempts = 1
			res.SetError(util.NewOpError(t.Address, "lock", err))
			return res
		}
		defer func() {
			uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), session.CleanupTimeout)
			defer cancel()
			if err := r.opts.Locker.Unlock(uctx, t.Address, r.opts.LockHolder); err != nil {
				log.WithError(err).Warn("Device unlock failed")
			}
		}()
	}

	s, err := r.connect(ctx, t, &res)
	if err != nil {
		res.SetError(err)
		return res
	}
	defer s.Close()

	out, err := s.Execute(ctx, op)
	res.Output = out.Text
	res.Commands = out.Commands
	res.Diff = out.Diff
	res.Interfaces = out.Interfaces

	switch {
	case err == nil:
		res.Outcome = fleet.OutcomeSuccess
	case out.Partial:
		res.Outcome = fleet.OutcomePartial
		res.Err = err
		res.ErrorKind = util.Classify(err)
		res.Error = err.Error()
	default:
		res.SetError(err)
	}
	return res
}

// connect opens a session, retrying connect-phase failures per the retry
// policy. Each attempt uses a fresh session.
func (r *runner) connect(ctx context.Context, t fleet.Target, res *fleet.Result) (*session.Session, error) {
	policy := r.opts.Retry
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		r.notify(func(o Observer) { o.TargetStart(t, attempt) })

		s, err := session.New(t, r.opts.Registry)
		if err == nil {
			err = s.Connect(ctx)
			if err == nil {
				return s, nil
			}
		}

		kind := util.Classify(err)
		if attempt > policy.Attempts || !policy.retryable(kind) || ctx.Err() != nil {
			return nil, err
		}
		r.log.WithField("device", t.Address).WithError(err).Infof("Connect attempt %d failed; retrying in %v", attempt, policy.Backoff)

		timer := time.NewTimer(policy.Backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, util.NewOpError(t.Address, "connect", util.Wrap(util.KindCancelled, ctx.Err()))
		}
	}
}

// resolveReferences fetches each distinct reference configuration a
// config-diff needs, once per batch.
func (r *runner) resolveReferences(ctx context.Context) {
	for _, op := range r.ops {
		if op.Kind != fleet.OpConfigDiff || op.Diff.Against == "" {
			continue
		}
		key := refKey{op.Diff.Against, op.Diff.Mode}
		if _, ok := r.refs[key]; ok {
			continue
		}
		text, err := r.fetchReference(ctx, r.referenceTarget(op.Diff.Against), op)
		if err != nil {
			r.log.WithError(err).Warnf("Reference configuration from %s unavailable", op.Diff.Against)
		}
		r.refs[key] = refConfig{text: text, err: err}
	}
}

func (r *runner) referenceTarget(address string) fleet.Target {
	if ref := r.opts.Reference; ref != nil && ref.Address == address {
		return ref.WithDefaults()
	}
	for _, t := range r.targets {
		if t.Address == address {
			return t
		}
	}
	ref := r.targets[0]
	ref.Address = address
	ref.Name = ""
	ref.Commands = nil
	ref.Config = ""
	return ref
}

func (r *runner) fetchReference(ctx context.Context, t fleet.Target, op fleet.Operation) (string, error) {
	s, err := session.New(t, r.opts.Registry)
	if err != nil {
		return "", err
	}
	defer s.Close()
	if err := s.Connect(ctx); err != nil {
		return "", err
	}
	mode := op.Diff.Mode
	if mode == "" {
		mode = fleet.DiffSet
	}
	return s.FetchConfig(ctx, mode, op.EffectiveTimeout())
}
