package batch

import (
	"context"
	"time"

	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/report"
	"github.com/newtron-network/newtfleet/pkg/session"
	"github.com/newtron-network/newtfleet/pkg/util"
)

// DefaultMaxParallel bounds concurrent sessions when Options leaves it unset.
const DefaultMaxParallel = 10

// DefaultLockTTL is the device lock lifetime when Options leaves it unset.
const DefaultLockTTL = 15 * time.Minute

// Observer receives batch lifecycle events. Events are delivered one at a
// time, in the order they occurred, on a goroutine separate from the
// workers, so a slow observer never holds up devices. All events,
// BatchEnd included, are delivered before the batch reports done.
type Observer interface {
	BatchStart(info fleet.BatchInfo)
	TargetStart(t fleet.Target, attempt int)
	TargetEnd(r fleet.Result)
	BatchEnd(rep *report.Report)
}

// Locker serializes state-changing operations on a device across control
// points.
type Locker interface {
	Lock(ctx context.Context, device, holder string, ttl time.Duration) error
	Unlock(ctx context.Context, device, holder string) error
}

// RetryPolicy retries connection establishment. Only connection and
// timeout failures during connect are retried, never failures after an
// operation was issued. The zero value disables retries.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// retryable reports whether a connect failure of this kind may be retried.
func (p RetryPolicy) retryable(kind util.ErrorKind) bool {
	return kind == util.KindConnection || kind == util.KindTimeout
}

// Options configure one batch run. There is no package-level default
// configuration; everything a run needs is passed here.
type Options struct {
	// Registry builds transports by kind. Required.
	Registry session.Registry
	// MaxParallel bounds concurrent sessions. Zero means DefaultMaxParallel.
	MaxParallel int
	Observers   []Observer
	Retry       RetryPolicy

	// Locker, when set, is held around state-changing operations.
	Locker     Locker
	LockHolder string
	LockTTL    time.Duration

	// Reference is the device a config-diff compares against. When nil, a
	// target built from the operation's Against address and the first
	// target's credentials and transport is used.
	Reference *fleet.Target

	// BatchID names the run. Generated when empty.
	BatchID string
}

func (o Options) withDefaults() Options {
	if o.MaxParallel <= 0 {
		o.MaxParallel = DefaultMaxParallel
	}
	if o.LockTTL <= 0 {
		o.LockTTL = DefaultLockTTL
	}
	if o.LockHolder == "" {
		o.LockHolder = "newtfleet"
	}
	return o
}
