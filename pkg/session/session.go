// Package session drives one authenticated connection to one device through
// a connecting, authenticating, ready, closed lifecycle and dispatches
// operations onto the transport's capability interfaces.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/util"
)

// State is a session lifecycle state.
type State int32

const (
	StateNew State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// AbortGrace is how long a session waits, after a deadline or cancellation,
// for the transport to return on its own before forcibly closing it.
var AbortGrace = 250 * time.Millisecond

// CleanupTimeout bounds the discard/unlock issued after a failed or
// cancelled configuration change.
var CleanupTimeout = 10 * time.Second

// Session owns one transport for one target for the duration of one
// operation. It is used by a single worker; the mutex only guards against
// the watchdog racing a normal Close.
type Session struct {
	target    fleet.Target
	transport Transport
	log       *logrus.Entry

	mu    sync.Mutex
	state State

	// committing is set while a commit RPC is in flight. A cancelled batch
	// lets it run to its deadline instead of tearing the session down.
	committing atomic.Bool
}

// New creates an unconnected session for t using the registry's dialer.
func New(t fleet.Target, reg Registry) (*Session, error) {
	t = t.WithDefaults()
	tr, err := reg.NewTransport(t)
	if err != nil {
		return nil, util.NewOpError(t.Address, "connect", err)
	}
	return NewWithTransport(t, tr), nil
}

// NewWithTransport wraps an existing transport.
func NewWithTransport(t fleet.Target, tr Transport) *Session {
	return &Session{
		target:    t,
		transport: tr,
		log:       util.WithSession(t.Address, string(t.Transport)),
		state:     StateNew,
	}
}

// Target returns the session's target.
func (s *Session) Target() fleet.Target {
	return s.target
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState moves to next unless the session was closed underneath us.
func (s *Session) setState(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.state = next
	s.log.Debugf("session %s", next)
	return true
}

// Connect establishes and authenticates the session within the target's
// connect timeout. On failure the session is closed and the error is one of
// connection, auth, timeout, or cancelled.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateNew {
		st := s.state
		s.mu.Unlock()
		return util.NewOpError(s.target.Address, "connect",
			&util.LifecycleError{Device: s.target.Address, Op: "connect", State: st.String()})
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.target.ConnectTimeout)
	defer cancel()

	_, err := s.guarded(ctx, func(ctx context.Context) (Output, error) {
		if !s.setState(StateConnecting) {
			return Output{}, errClosed
		}
		if err := s.transport.Connect(ctx); err != nil {
			return Output{}, connectPhase(err)
		}
		if !s.setState(StateAuthenticating) {
			return Output{}, errClosed
		}
		if err := s.transport.Authenticate(ctx); err != nil {
			return Output{}, connectPhase(err)
		}
		if !s.setState(StateReady) {
			return Output{}, errClosed
		}
		return Output{}, nil
	})
	if err != nil {
		s.Close()
		return util.NewOpError(s.target.Address, "connect", err)
	}
	s.log.Info("Connected")
	return nil
}

var errClosed = errors.New("session closed")

// connectPhase keeps explicit classifications and treats everything else
// seen while connecting as a connection failure.
func connectPhase(err error) error {
	switch util.Classify(err) {
	case util.KindTransport:
		return util.Wrap(util.KindConnection, err)
	}
	return err
}

// Close releases the transport. It is idempotent and safe after failures.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	wasReady := s.state == StateReady
	s.state = StateClosed
	s.mu.Unlock()

	err := s.transport.Close()
	if wasReady {
		s.log.Info("Disconnected")
	}
	return err
}

// requireReady fails with a lifecycle error unless the session is ready.
func (s *Session) requireReady(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return util.NewOpError(s.target.Address, op,
			&util.LifecycleError{Device: s.target.Address, Op: op, State: s.state.String()})
	}
	return nil
}

type outcome struct {
	out Output
	err error
}

// guarded runs fn and enforces ctx even against a transport that ignores
// it. Once ctx is done the transport gets AbortGrace to return; after that
// the session is closed, which unblocks the transport, and the ctx error
// is returned. A commit in flight when the batch is cancelled is instead
// given until its own deadline.
func (s *Session) guarded(ctx context.Context, fn func(context.Context) (Output, error)) (Output, error) {
	done := make(chan outcome, 1)
	go func() {
		out, err := fn(ctx)
		done <- outcome{out, err}
	}()

	select {
	case r := <-done:
		return r.out, ctxAware(ctx, r.err)
	case <-ctx.Done():
	}

	wait := AbortGrace
	if s.committing.Load() && errors.Is(ctx.Err(), context.Canceled) {
		if dl, ok := ctx.Deadline(); ok {
			wait = time.Until(dl) + AbortGrace
		}
		s.log.Warn("Batch cancelled during commit; waiting for commit to finish")
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.out, ctxAware(ctx, r.err)
	case <-timer.C:
	}

	s.log.Warnf("Transport did not return after %v; closing session", ctx.Err())
	s.Close()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Output{}, util.Wrap(util.KindTimeout, ctx.Err())
	}
	return Output{}, util.Wrap(util.KindCancelled, ctx.Err())
}

// ctxAware reclassifies transport failures caused by ctx ending, such as a
// read on a connection that was closed because the deadline passed.
func ctxAware(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil {
		return err
	}
	switch util.Classify(err) {
	case util.KindDevice, util.KindAuth, util.KindTimeout, util.KindCancelled:
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return util.Wrap(util.KindTimeout, err)
	}
	return util.Wrap(util.KindCancelled, err)
}
