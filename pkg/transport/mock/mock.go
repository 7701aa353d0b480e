// Package mock provides an in-memory device fleet behind the session
// transport interfaces. Devices hold a running and candidate configuration,
// honor commit-confirmed with a real auto-revert timer, and can be scripted
// to be slow, unreachable, reject credentials, or hang.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/newtron-network/newtfleet/pkg/diff"
	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/session"
	"github.com/newtron-network/newtfleet/pkg/util"
)

// Device is one simulated device. Exported fields are the script and must
// be set before the device is used.
type Device struct {
	// Password is the accepted password; empty accepts any.
	Password string
	// Unreachable makes Connect fail with connection refused.
	Unreachable bool
	// ConnectLatency delays Connect.
	ConnectLatency time.Duration
	// Latency delays every operation after authentication.
	Latency time.Duration
	// Hang makes every operation block, ignoring its context, until the
	// transport is closed.
	Hang bool
	// Outputs maps command text to output. Unknown commands are rejected.
	Outputs map[string]string
	// Rejects maps a configuration line to the error the device reports
	// when loading it.
	Rejects map[string]string
	// CheckFailure, when set, fails every commit check with this message.
	CheckFailure string
	// Minute is the length of one confirm-window minute. Zero is a real
	// minute.
	Minute time.Duration
	// Files is the device file system for transfers.
	Files map[string][]byte
	// Interfaces are returned by interface polls.
	Interfaces []fleet.InterfaceCounters

	mu        sync.Mutex
	running   []string
	candidate []string
	lockedBy  *Transport
	revert    *time.Timer
	rollback  []string
	commits   []fleet.CommitOptions
	reverts   int
}

// SetRunning replaces the running configuration.
func (d *Device) SetRunning(config string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = util.SplitLines(config)
}

// Running returns the running configuration text.
func (d *Device) Running() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return joinLines(d.running)
}

// Commits returns the options of every commit applied so far.
func (d *Device) Commits() []fleet.CommitOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]fleet.CommitOptions(nil), d.commits...)
}

// Reverts counts commit-confirmed rollbacks performed by the device.
func (d *Device) Reverts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reverts
}

// PendingConfirm reports whether a commit-confirmed awaits confirmation.
func (d *Device) PendingConfirm() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.revert != nil
}

// Locked reports whether a session holds the configuration lock.
func (d *Device) Locked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lockedBy != nil
}

// File returns a copy of a device file.
func (d *Device) File(name string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.Files[name]
	return append([]byte(nil), b...), ok
}

func (d *Device) minute() time.Duration {
	if d.Minute > 0 {
		return d.Minute
	}
	return time.Minute
}

// Fleet is a set of simulated devices addressed like real ones. It counts
// sessions so tests can check concurrency bounds.
type Fleet struct {
	mu        sync.Mutex
	devices   map[string]*Device
	dials     int
	active    int
	maxActive int
}

// NewFleet creates an empty fleet.
func NewFleet() *Fleet {
	return &Fleet{devices: make(map[string]*Device)}
}

// Add registers d at address and returns it.
func (f *Fleet) Add(address string, d *Device) *Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[address] = d
	return d
}

// Device returns the device at address.
func (f *Fleet) Device(address string) *Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices[address]
}

// Dials counts transports created.
func (f *Fleet) Dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

// Active counts authenticated sessions not yet closed.
func (f *Fleet) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// MaxActive is the high-water mark of Active.
func (f *Fleet) MaxActive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

// Dial creates a transport for t. Unknown addresses dial but fail to
// connect.
func (f *Fleet) Dial(t fleet.Target) (session.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	return &Transport{
		fleet:  f,
		device: f.devices[t.Address],
		target: t,
		closed: make(chan struct{}),
	}, nil
}

// Registry returns a registry that dials this fleet for every kind.
func (f *Fleet) Registry() session.Registry {
	reg := session.Registry{}
	for _, k := range []fleet.TransportKind{
		fleet.TransportMock, fleet.TransportNETCONF, fleet.TransportSSH,
		fleet.TransportGNMI, fleet.TransportSNMP,
	} {
		reg.Register(k, f.Dial)
	}
	return reg
}

// Transport is one session's connection to a simulated device.
type Transport struct {
	fleet  *Fleet
	device *Device
	target fleet.Target

	once   sync.Once
	closed chan struct{}
	authed bool
}

// wait simulates device latency. With Hang set it ignores ctx.
func (t *Transport) wait(ctx context.Context, d time.Duration) error {
	if t.device != nil && t.device.Hang {
		<-t.closed
		return util.Wrap(util.KindTransport, errors.New("connection closed"))
	}
	if d <= 0 {
		select {
		case <-t.closed:
			return util.Wrap(util.KindTransport, errors.New("connection closed"))
		default:
			return ctx.Err()
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.closed:
		return util.Wrap(util.KindTransport, errors.New("connection closed"))
	}
}

func (t *Transport) Connect(ctx context.Context) error {
	if t.device == nil {
		return util.Wrap(util.KindConnection, fmt.Errorf("dial %s: no route to host", t.target.HostPort()))
	}
	if t.device.Unreachable {
		return util.Wrap(util.KindConnection, fmt.Errorf("dial %s: connection refused", t.target.HostPort()))
	}
	timer := time.NewTimer(t.device.ConnectLatency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) Authenticate(ctx context.Context) error {
	if t.device.Password != "" && t.target.Credentials.Password != t.device.Password {
		return util.Wrap(util.KindAuth, fmt.Errorf("%s: permission denied for %q", t.target.Address, t.target.Credentials.Username))
	}
	t.fleet.mu.Lock()
	t.authed = true
	t.fleet.active++
	if t.fleet.active > t.fleet.maxActive {
		t.fleet.maxActive = t.fleet.active
	}
	t.fleet.mu.Unlock()
	return nil
}

// Close drops the session. A held lock is released and the uncommitted
// candidate discarded, as a device does when a session terminates.
func (t *Transport) Close() error {
	t.once.Do(func() {
		close(t.closed)
		t.fleet.mu.Lock()
		if t.authed {
			t.fleet.active--
		}
		t.fleet.mu.Unlock()
		if t.device == nil {
			return
		}
		d := t.device
		d.mu.Lock()
		if d.lockedBy == t {
			d.lockedBy = nil
			d.candidate = nil
		}
		d.mu.Unlock()
	})
	return nil
}

func (t *Transport) RunCommand(ctx context.Context, command string, format fleet.OutputFormat) (string, error) {
	if err := t.wait(ctx, t.device.Latency); err != nil {
		return "", err
	}
	out, ok := t.device.Outputs[command]
	if !ok {
		return "", util.NewDeviceError(t.target.Address, fmt.Sprintf("syntax error, expecting <command>: %s", command))
	}
	if format == fleet.FormatXML {
		return fmt.Sprintf("<output>%s</output>", out), nil
	}
	return out, nil
}

func (t *Transport) RunShell(ctx context.Context, command string) (string, error) {
	return t.RunCommand(ctx, command, fleet.FormatText)
}

func (t *Transport) LockConfig(ctx context.Context) error {
	if err := t.wait(ctx, t.device.Latency); err != nil {
		return err
	}
	d := t.device
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lockedBy != nil && d.lockedBy != t {
		return util.NewDeviceError(t.target.Address, "configuration database locked by another session")
	}
	d.lockedBy = t
	d.candidate = append([]string(nil), d.running...)
	return nil
}

func (t *Transport) UnlockConfig(ctx context.Context) error {
	d := t.device
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lockedBy != t {
		return util.NewDeviceError(t.target.Address, "configuration database not locked by this session")
	}
	d.lockedBy = nil
	return nil
}

// LoadConfig applies "set" and "delete" lines to the candidate.
func (t *Transport) LoadConfig(ctx context.Context, payload string) error {
	if err := t.wait(ctx, t.device.Latency); err != nil {
		return err
	}
	d := t.device
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lockedBy != t {
		return util.NewDeviceError(t.target.Address, "configuration database not locked by this session")
	}
	for _, line := range util.SplitLines(payload) {
		line = strings.TrimSpace(line)
		if msg, ok := d.Rejects[line]; ok {
			return util.NewDeviceError(t.target.Address, msg, line)
		}
		switch {
		case strings.HasPrefix(line, "set "):
			if !contains(d.candidate, line) {
				d.candidate = append(d.candidate, line)
			}
		case strings.HasPrefix(line, "delete "):
			prefix := "set " + strings.TrimPrefix(line, "delete ")
			kept := d.candidate[:0]
			for _, c := range d.candidate {
				if c != prefix && !strings.HasPrefix(c, prefix+" ") {
					kept = append(kept, c)
				}
			}
			d.candidate = kept
		default:
			return util.NewDeviceError(t.target.Address, "syntax error", line)
		}
	}
	return nil
}

func (t *Transport) ValidateConfig(ctx context.Context) (string, error) {
	if err := t.wait(ctx, t.device.Latency); err != nil {
		return "", err
	}
	if t.device.CheckFailure != "" {
		return "", util.NewDeviceError(t.target.Address, "commit check failed", t.device.CheckFailure)
	}
	return "configuration check succeeds", nil
}

func (t *Transport) CompareConfig(ctx context.Context) (string, error) {
	if err := t.wait(ctx, t.device.Latency); err != nil {
		return "", err
	}
	d := t.device
	d.mu.Lock()
	defer d.mu.Unlock()
	return diff.Compute(joinLines(d.running), joinLines(d.candidate), diff.ModeSet).String(), nil
}

// Commit activates the candidate. A confirmed commit arms a revert timer;
// any later commit before it fires confirms.
func (t *Transport) Commit(ctx context.Context, opts fleet.CommitOptions) (string, error) {
	if err := t.wait(ctx, t.device.Latency); err != nil {
		return "", err
	}
	d := t.device
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lockedBy != t {
		return "", util.NewDeviceError(t.target.Address, "configuration database not locked by this session")
	}

	if d.revert != nil {
		d.revert.Stop()
		d.revert = nil
	} else {
		d.rollback = append([]string(nil), d.running...)
	}
	if d.candidate != nil {
		d.running = append([]string(nil), d.candidate...)
	}
	d.commits = append(d.commits, opts)

	if opts.Confirmed() {
		window := time.Duration(opts.ConfirmMinutes) * d.minute()
		d.revert = time.AfterFunc(window, d.rollBack)
		return fmt.Sprintf("commit confirmed will be automatically rolled back in %d minutes unless confirmed", opts.ConfirmMinutes), nil
	}
	return "commit complete", nil
}

func (d *Device) rollBack() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.revert == nil {
		return
	}
	d.revert = nil
	d.running = d.rollback
	d.reverts++
}

func (t *Transport) DiscardConfig(ctx context.Context) error {
	d := t.device
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lockedBy == t {
		d.candidate = append([]string(nil), d.running...)
	}
	return nil
}

func (t *Transport) RunningConfig(ctx context.Context, mode fleet.DiffMode) (string, error) {
	if err := t.wait(ctx, t.device.Latency); err != nil {
		return "", err
	}
	return t.device.Running(), nil
}

func (t *Transport) PushFile(ctx context.Context, local, remote string) (string, error) {
	if err := t.wait(ctx, t.device.Latency); err != nil {
		return "", err
	}
	d := t.device
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Files == nil {
		d.Files = make(map[string][]byte)
	}
	d.Files[remote] = []byte("pushed:" + local)
	return fmt.Sprintf("%s -> %s:%s", local, t.target.Address, remote), nil
}

func (t *Transport) PullFile(ctx context.Context, remote, local string) (string, error) {
	if err := t.wait(ctx, t.device.Latency); err != nil {
		return "", err
	}
	if _, ok := t.device.File(remote); !ok {
		return "", util.NewDeviceError(t.target.Address, "no such file", remote)
	}
	return fmt.Sprintf("%s:%s -> %s", t.target.Address, remote, local), nil
}

func (t *Transport) PollInterfaces(ctx context.Context) ([]fleet.InterfaceCounters, error) {
	if err := t.wait(ctx, t.device.Latency); err != nil {
		return nil, err
	}
	out := append([]fleet.InterfaceCounters(nil), t.device.Interfaces...)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func contains(lines []string, s string) bool {
	for _, l := range lines {
		if l == s {
			return true
		}
	}
	return false
}
