package session

import (
	"context"
	"fmt"

	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/util"
)

// Transport is the protocol handle a Session drives. Connect reaches the
// device; Authenticate presents credentials. Both must return promptly once
// ctx is done. Close must be safe to call at any point, including while
// another call is blocked, and must unblock that call.
type Transport interface {
	Connect(ctx context.Context) error
	Authenticate(ctx context.Context) error
	Close() error
}

// Commander runs operational-mode commands. Commands are opaque payloads.
type Commander interface {
	RunCommand(ctx context.Context, command string, format fleet.OutputFormat) (string, error)
}

// ShellRunner runs commands in the device's system shell.
type ShellRunner interface {
	RunShell(ctx context.Context, command string) (string, error)
}

// Configurer edits the device's candidate configuration. Changes made by
// LoadConfig stay in the candidate until Commit; DiscardConfig throws them
// away. Closing the transport while holding the lock releases it and drops
// uncommitted changes.
type Configurer interface {
	LockConfig(ctx context.Context) error
	UnlockConfig(ctx context.Context) error
	LoadConfig(ctx context.Context, payload string) error
	// ValidateConfig performs a commit check of the candidate.
	ValidateConfig(ctx context.Context) (string, error)
	// CompareConfig reports the candidate's difference from the active
	// configuration, as computed by the device.
	CompareConfig(ctx context.Context) (string, error)
	// Commit activates the candidate. With opts.ConfirmMinutes > 0 the
	// device reverts the commit unless confirmed within the window.
	Commit(ctx context.Context, opts fleet.CommitOptions) (string, error)
	DiscardConfig(ctx context.Context) error
}

// ConfigFetcher retrieves the running configuration as text.
type ConfigFetcher interface {
	RunningConfig(ctx context.Context, mode fleet.DiffMode) (string, error)
}

// FileTransferer copies files to and from the device.
type FileTransferer interface {
	PushFile(ctx context.Context, local, remote string) (string, error)
	PullFile(ctx context.Context, remote, local string) (string, error)
}

// InterfacePoller reads interface status and error counters.
type InterfacePoller interface {
	PollInterfaces(ctx context.Context) ([]fleet.InterfaceCounters, error)
}

// Dialer builds an unconnected transport for a target.
type Dialer func(t fleet.Target) (Transport, error)

// Registry maps transport kinds to dialers. It is passed explicitly to
// whoever opens sessions.
type Registry map[fleet.TransportKind]Dialer

// Register adds or replaces the dialer for a kind.
func (r Registry) Register(kind fleet.TransportKind, d Dialer) {
	r[kind] = d
}

// Kinds lists registered transport kinds.
func (r Registry) Kinds() []fleet.TransportKind {
	kinds := make([]fleet.TransportKind, 0, len(r))
	for k := range r {
		kinds = append(kinds, k)
	}
	return kinds
}

// NewTransport builds the transport for t.
func (r Registry) NewTransport(t fleet.Target) (Transport, error) {
	d, ok := r[t.Transport]
	if !ok || d == nil {
		return nil, util.Wrap(util.KindTransport, fmt.Errorf("%w: no dialer registered for %q", util.ErrUnsupported, t.Transport))
	}
	tr, err := d(t)
	if err != nil {
		return nil, err
	}
	return tr, nil
}

func unsupported(t fleet.Target, capability string) error {
	return fmt.Errorf("%w: %s transport cannot %s", util.ErrUnsupported, t.Transport, capability)
}
