package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/newtron-network/newtfleet/pkg/diff"
	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/health"
	"github.com/newtron-network/newtfleet/pkg/util"
)

// Output is what an operation produced on the device.
type Output struct {
	Text       string
	Commands   []fleet.CommandResult
	Diff       *diff.Diff
	Interfaces []fleet.InterfaceCounters

	// Partial is set when some steps succeeded and others failed. The error
	// returned alongside describes the failures.
	Partial bool
}

// Execute runs op under its timeout. The session must be ready. Errors are
// *util.OpError values carrying the failure kind.
func (s *Session) Execute(ctx context.Context, op fleet.Operation) (Output, error) {
	name := string(op.Kind)
	if err := s.requireReady(name); err != nil {
		return Output{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, op.EffectiveTimeout())
	defer cancel()

	log := s.log.WithField("operation", name)
	log.Debugf("Executing %s", op.Describe())

	out, err := s.guarded(ctx, func(ctx context.Context) (Output, error) {
		return s.dispatch(ctx, op)
	})
	if err != nil {
		oe := util.NewOpError(s.target.Address, name, err)
		if out.Partial {
			log.WithError(err).Info("Operation partially failed")
		} else {
			log.WithError(err).Info("Operation failed")
		}
		return out, oe
	}
	return out, nil
}

func (s *Session) dispatch(ctx context.Context, op fleet.Operation) (Output, error) {
	switch op.Kind {
	case fleet.OpCommand:
		c, ok := s.transport.(Commander)
		if !ok {
			return Output{}, unsupported(s.target, "run commands")
		}
		return runEach(ctx, op.Commands, func(ctx context.Context, cmd string) (string, error) {
			return c.RunCommand(ctx, cmd, op.Format)
		})

	case fleet.OpShell:
		sh, ok := s.transport.(ShellRunner)
		if !ok {
			return Output{}, unsupported(s.target, "run shell commands")
		}
		return runEach(ctx, op.Commands, sh.RunShell)

	case fleet.OpConfigPush:
		return s.pushConfig(ctx, op)

	case fleet.OpCommitCheck:
		return s.withCandidate(ctx, op.Config, func(ctx context.Context, cfg Configurer) (string, error) {
			return cfg.ValidateConfig(ctx)
		})

	case fleet.OpConfigCompare:
		return s.withCandidate(ctx, op.Config, func(ctx context.Context, cfg Configurer) (string, error) {
			return cfg.CompareConfig(ctx)
		})

	case fleet.OpConfigDiff:
		return s.diffConfig(ctx, op.Diff)

	case fleet.OpFileTransfer:
		ft, ok := s.transport.(FileTransferer)
		if !ok {
			return Output{}, unsupported(s.target, "transfer files")
		}
		var text string
		var err error
		if op.Transfer.Direction == fleet.Push {
			text, err = ft.PushFile(ctx, op.Transfer.Source, op.Transfer.Destination)
		} else {
			text, err = ft.PullFile(ctx, op.Transfer.Source, op.Transfer.Destination)
		}
		return Output{Text: text}, err

	case fleet.OpInterfacePoll:
		p, ok := s.transport.(InterfacePoller)
		if !ok {
			return Output{}, unsupported(s.target, "poll interfaces")
		}
		counters, err := p.PollInterfaces(ctx)
		if err != nil {
			return Output{}, err
		}
		report := health.Evaluate(s.target.Address, counters)
		return Output{Text: report.String(), Interfaces: counters}, nil
	}
	return Output{}, fmt.Errorf("unknown operation kind %q", op.Kind)
}

// runEach runs each command in order, collecting per-command output. A
// failing command does not stop the rest unless ctx is done. The result is
// partial when at least one command succeeded and at least one failed.
func runEach(ctx context.Context, commands []string, run func(context.Context, string) (string, error)) (Output, error) {
	var out Output
	var b strings.Builder
	var errs []error
	succeeded := 0

	for _, cmd := range commands {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		text, err := run(ctx, cmd)
		cr := fleet.CommandResult{Command: cmd, Output: text}

		fmt.Fprintf(&b, "> %s\n", cmd)
		if text != "" {
			b.WriteString(strings.TrimRight(text, "\n"))
			b.WriteByte('\n')
		}
		if err != nil {
			cr.Error = err.Error()
			fmt.Fprintf(&b, "error: %v\n", err)
			errs = append(errs, fmt.Errorf("%q: %w", cmd, err))
		} else {
			succeeded++
		}
		out.Commands = append(out.Commands, cr)
	}

	out.Text = b.String()
	if len(errs) == 0 {
		return out, nil
	}
	out.Partial = succeeded > 0
	if len(errs) == 1 {
		return out, errs[0]
	}
	return out, errors.Join(errs...)
}

// withCandidate loads payload into a locked candidate, runs inspect, and
// always discards the candidate afterwards.
func (s *Session) withCandidate(ctx context.Context, payload string, inspect func(context.Context, Configurer) (string, error)) (Output, error) {
	cfg, ok := s.transport.(Configurer)
	if !ok {
		return Output{}, unsupported(s.target, "edit configuration")
	}
	if err := cfg.LockConfig(ctx); err != nil {
		return Output{}, err
	}
	defer s.release(ctx, cfg)

	if err := cfg.LoadConfig(ctx, payload); err != nil {
		return Output{}, err
	}
	text, err := inspect(ctx, cfg)
	return Output{Text: text}, err
}

// pushConfig runs lock, load, validate, commit, unlock. Any failure before
// the commit discards the candidate. Once the commit is issued it runs to
// completion under the operation deadline even if ctx is cancelled.
func (s *Session) pushConfig(ctx context.Context, op fleet.Operation) (Output, error) {
	cfg, ok := s.transport.(Configurer)
	if !ok {
		return Output{}, unsupported(s.target, "edit configuration")
	}
	if err := cfg.LockConfig(ctx); err != nil {
		return Output{}, err
	}

	var b strings.Builder
	if !op.Commit.Blank {
		if err := cfg.LoadConfig(ctx, op.Config); err != nil {
			s.release(ctx, cfg)
			return Output{}, err
		}
		check, err := cfg.ValidateConfig(ctx)
		if err != nil {
			s.release(ctx, cfg)
			return Output{Text: check}, err
		}
		if check = strings.TrimSpace(check); check != "" {
			b.WriteString(check)
			b.WriteByte('\n')
		}
	}

	s.committing.Store(true)
	defer s.committing.Store(false)
	if err := ctx.Err(); err != nil {
		s.release(ctx, cfg)
		return Output{}, err
	}

	commitCtx, cancel := detach(ctx)
	defer cancel()

	if op.Commit.Confirmed() {
		s.log.Infof("Committing with %d minute confirm window", op.Commit.ConfirmMinutes)
	}
	text, err := cfg.Commit(commitCtx, op.Commit)
	if text = strings.TrimSpace(text); text != "" {
		b.WriteString(text)
		b.WriteByte('\n')
	}
	if err != nil {
		s.release(commitCtx, cfg)
		return Output{Text: b.String()}, err
	}
	if err := cfg.UnlockConfig(commitCtx); err != nil {
		s.log.WithError(err).Warn("Unlock after commit failed")
	}
	if op.Commit.Confirmed() {
		fmt.Fprintf(&b, "commit confirmed; reverts in %d minute(s) unless confirmed\n", op.Commit.ConfirmMinutes)
	}
	return Output{Text: b.String()}, nil
}

// release discards uncommitted changes and unlocks, under a fresh bounded
// context so that cleanup still happens after cancellation.
func (s *Session) release(ctx context.Context, cfg Configurer) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CleanupTimeout)
	defer cancel()
	if err := cfg.DiscardConfig(cctx); err != nil {
		s.log.WithError(err).Warn("Discard of candidate failed")
	}
	if err := cfg.UnlockConfig(cctx); err != nil {
		s.log.WithError(err).Debug("Unlock failed")
	}
}

// detach returns a context that ignores cancellation of ctx but keeps its
// deadline.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if dl, ok := ctx.Deadline(); ok {
		return context.WithDeadline(base, dl)
	}
	return context.WithCancel(base)
}

// diffConfig compares the device's running configuration with the resolved
// reference text. The device is the "from" side.
func (s *Session) diffConfig(ctx context.Context, spec fleet.DiffSpec) (Output, error) {
	f, ok := s.transport.(ConfigFetcher)
	if !ok {
		return Output{}, unsupported(s.target, "fetch configuration")
	}
	mode := spec.Mode
	if mode == "" {
		mode = fleet.DiffSet
	}
	running, err := f.RunningConfig(ctx, mode)
	if err != nil {
		return Output{}, err
	}

	d := diff.Compute(running, spec.Candidate, diff.Mode(mode))
	reference := spec.Against
	if reference == "" {
		reference = "candidate"
	}

	var text string
	switch {
	case d.Empty():
		text = fmt.Sprintf("no differences between %s and %s\n", s.target.Address, reference)
	case mode == fleet.DiffStanza:
		text, err = d.Unified(s.target.Address, reference, 3)
		if err != nil {
			return Output{Diff: d}, err
		}
	default:
		text = d.String()
	}
	return Output{Text: text, Diff: d}, nil
}

// FetchConfig returns the running configuration, bounded by timeout.
func (s *Session) FetchConfig(ctx context.Context, mode fleet.DiffMode, timeout time.Duration) (string, error) {
	const op = "fetch-config"
	if err := s.requireReady(op); err != nil {
		return "", err
	}
	f, ok := s.transport.(ConfigFetcher)
	if !ok {
		return "", util.NewOpError(s.target.Address, op, unsupported(s.target, "fetch configuration"))
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := s.guarded(ctx, func(ctx context.Context) (Output, error) {
		text, err := f.RunningConfig(ctx, mode)
		return Output{Text: text}, err
	})
	if err != nil {
		return "", util.NewOpError(s.target.Address, op, err)
	}
	return out.Text, nil
}
