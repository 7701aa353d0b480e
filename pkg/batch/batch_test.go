package batch_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/newtron-network/newtfleet/pkg/batch"
	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/report"
	"github.com/newtron-network/newtfleet/pkg/session"
	"github.com/newtron-network/newtfleet/pkg/transport/mock"
	"github.com/newtron-network/newtfleet/pkg/util"
)

func target(addr string) fleet.Target {
	return fleet.Target{
		Address:        addr,
		Transport:      fleet.TransportMock,
		Credentials:    fleet.Credentials{Username: "lab", Password: "lab123"},
		ConnectTimeout: time.Second,
	}
}

func targets(n int) []fleet.Target {
	out := make([]fleet.Target, n)
	for i := range out {
		out[i] = target(fmt.Sprintf("10.0.0.%d", i+1))
	}
	return out
}

var showVersion = fleet.Operation{Kind: fleet.OpCommand, Commands: []string{"show version"}}

func versionDevice() *mock.Device {
	return &mock.Device{
		Password: "lab123",
		Outputs:  map[string]string{"show version": "Junos: 23.4R1"},
		Latency:  20 * time.Millisecond,
	}
}

// recorder counts observer events and checks they never overlap.
type recorder struct {
	mu       sync.Mutex
	inCall   bool
	overlap  bool
	starts   map[string]int
	ends     []string
	batchEnd *report.Report
	began    bool
}

func newRecorder() *recorder {
	return &recorder{starts: make(map[string]int)}
}

func (r *recorder) enter() {
	r.mu.Lock()
	if r.inCall {
		r.overlap = true
	}
	r.inCall = true
	r.mu.Unlock()
	time.Sleep(time.Millisecond)
}

func (r *recorder) leave() {
	r.mu.Lock()
	r.inCall = false
	r.mu.Unlock()
}

func (r *recorder) BatchStart(fleet.BatchInfo) {
	r.enter()
	defer r.leave()
	r.began = true
}

func (r *recorder) TargetStart(t fleet.Target, attempt int) {
	r.enter()
	defer r.leave()
	r.starts[t.Address]++
}

func (r *recorder) TargetEnd(res fleet.Result) {
	r.enter()
	defer r.leave()
	r.ends = append(r.ends, res.Target)
}

func (r *recorder) BatchEnd(rep *report.Report) {
	r.enter()
	defer r.leave()
	r.batchEnd = rep
}

func TestRunAllSucceed(t *testing.T) {
	f := mock.NewFleet()
	ts := targets(20)
	for _, tg := range ts {
		f.Add(tg.Address, versionDevice())
	}
	rec := newRecorder()

	b, err := batch.Run(context.Background(), ts, showVersion, batch.Options{
		Registry:  f.Registry(),
		Observers: []batch.Observer{rec},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if b.ID() == "" {
		t.Error("batch has no ID")
	}

	var streamed int
	for res := range b.Results() {
		if res.Outcome != fleet.OutcomeSuccess || res.Output != "Junos: 23.4R1" {
			t.Errorf("result %s = %s %q", res.Target, res.Outcome, res.Error)
		}
		streamed++
	}
	rep := b.Wait()

	if streamed != 20 || len(rep.Results) != 20 {
		t.Errorf("streamed %d, report %d results, want 20", streamed, len(rep.Results))
	}
	if rep.Outcome != report.BatchSuccess {
		t.Errorf("Outcome = %s", rep.Outcome)
	}
	if rep.BatchID != b.ID() {
		t.Errorf("report batch ID = %q, want %q", rep.BatchID, b.ID())
	}
	if !rec.began || rec.batchEnd != rep || len(rec.ends) != 20 || len(rec.starts) != 20 {
		t.Errorf("observer saw began=%v ends=%d starts=%d", rec.began, len(rec.ends), len(rec.starts))
	}
	if rec.overlap {
		t.Error("observer calls overlapped")
	}
	if f.Active() != 0 {
		t.Errorf("%d sessions left open", f.Active())
	}
}

func TestMaxParallelBound(t *testing.T) {
	for _, k := range []int{1, 3, 8} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			f := mock.NewFleet()
			ts := targets(16)
			for _, tg := range ts {
				f.Add(tg.Address, versionDevice())
			}
			rep, err := batch.Execute(context.Background(), ts, showVersion, batch.Options{
				Registry:    f.Registry(),
				MaxParallel: k,
			})
			if err != nil {
				t.Fatal(err)
			}
			if rep.Summary.Success != 16 {
				t.Errorf("Summary = %s", rep.Summary)
			}
			if got := f.MaxActive(); got > k {
				t.Errorf("MaxActive() = %d, bound is %d", got, k)
			}
		})
	}
}

func TestFailureIsolation(t *testing.T) {
	f := mock.NewFleet()
	ts := targets(5)
	for _, tg := range ts {
		f.Add(tg.Address, versionDevice())
	}
	f.Device("10.0.0.2").Unreachable = true
	f.Device("10.0.0.4").ConnectLatency = 2 * time.Second

	start := time.Now()
	rep, err := batch.Execute(context.Background(), ts, showVersion, batch.Options{Registry: f.Registry()})
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 1800*time.Millisecond {
		t.Errorf("batch took %v; slow connect was not bounded", elapsed)
	}

	want := map[string]util.ErrorKind{
		"10.0.0.2": util.KindConnection,
		"10.0.0.4": util.KindTimeout,
	}
	for _, res := range rep.Results {
		kind, failing := want[res.Target]
		switch {
		case failing && (res.Outcome != fleet.OutcomeError || res.ErrorKind != kind):
			t.Errorf("%s: %s/%s, want error/%s", res.Target, res.Outcome, res.ErrorKind, kind)
		case !failing && res.Outcome != fleet.OutcomeSuccess:
			t.Errorf("%s: %s (%s)", res.Target, res.Outcome, res.Error)
		}
	}
	if rep.Outcome != report.BatchPartial {
		t.Errorf("Outcome = %s, want partial-success", rep.Outcome)
	}
}

func TestMixedFailureScenario(t *testing.T) {
	f := mock.NewFleet()
	f.Add("a", versionDevice())
	f.Add("b", &mock.Device{Password: "other"})
	f.Add("c", &mock.Device{Password: "lab123", Hang: true})

	op := showVersion
	op.Timeout = 300 * time.Millisecond

	start := time.Now()
	rep, err := batch.Execute(context.Background(),
		[]fleet.Target{target("a"), target("b"), target("c")}, op,
		batch.Options{Registry: f.Registry(), MaxParallel: 3})
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
		t.Errorf("batch took %v", elapsed)
	}

	if rep.Summary.Success != 1 || rep.Summary.Error != 2 {
		t.Errorf("Summary = %s", rep.Summary)
	}
	b, _ := rep.Result("b")
	c, _ := rep.Result("c")
	if b.ErrorKind != util.KindAuth {
		t.Errorf("b kind = %s, want auth", b.ErrorKind)
	}
	if c.ErrorKind != util.KindTimeout {
		t.Errorf("c kind = %s, want timeout", c.ErrorKind)
	}
	if !errors.Is(c.Err, util.ErrTimeout) {
		t.Errorf("c error %v does not match ErrTimeout", c.Err)
	}
	if f.Dials() > 3 {
		t.Errorf("Dials() = %d, want at most 3", f.Dials())
	}
}

func TestPartialCommandList(t *testing.T) {
	f := mock.NewFleet()
	f.Add("r1", versionDevice())
	op := fleet.Operation{Kind: fleet.OpCommand, Commands: []string{"show version", "show bogus"}}

	rep, err := batch.Execute(context.Background(), []fleet.Target{target("r1")}, op, batch.Options{Registry: f.Registry()})
	if err != nil {
		t.Fatal(err)
	}
	res := rep.Results[0]
	if res.Outcome != fleet.OutcomePartial || res.ErrorKind != util.KindDevice {
		t.Errorf("result = %s/%s", res.Outcome, res.ErrorKind)
	}
	if len(res.Commands) != 2 || !strings.Contains(res.Output, "Junos") {
		t.Errorf("commands = %+v output = %q", res.Commands, res.Output)
	}
	if rep.Outcome != report.BatchPartial {
		t.Errorf("Outcome = %s", rep.Outcome)
	}
}

func TestCancelAbandonsUnstarted(t *testing.T) {
	f := mock.NewFleet()
	ts := targets(10)
	for _, tg := range ts {
		d := versionDevice()
		d.Latency = 300 * time.Millisecond
		f.Add(tg.Address, d)
	}

	b, err := batch.Run(context.Background(), ts, showVersion, batch.Options{
		Registry:    f.Registry(),
		MaxParallel: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	b.Cancel()

	start := time.Now()
	rep := b.Wait()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Wait() after Cancel() took %v", elapsed)
	}

	if rep.Outcome != report.BatchCancelled {
		t.Errorf("Outcome = %s, want cancelled", rep.Outcome)
	}
	if len(rep.Results)+len(rep.Abandoned) != 10 {
		t.Errorf("%d results + %d abandoned, want 10", len(rep.Results), len(rep.Abandoned))
	}
	if len(rep.Abandoned) < 7 {
		t.Errorf("abandoned = %v", rep.Abandoned)
	}
	for _, res := range rep.Results {
		if res.Outcome == fleet.OutcomeError && res.ErrorKind != util.KindCancelled {
			t.Errorf("%s: kind %s, want cancelled", res.Target, res.ErrorKind)
		}
	}
	if f.Active() != 0 {
		t.Errorf("%d sessions left open after cancel", f.Active())
	}
}

func TestParentContextCancel(t *testing.T) {
	f := mock.NewFleet()
	ts := targets(4)
	for _, tg := range ts {
		d := versionDevice()
		d.Latency = time.Second
		f.Add(tg.Address, d)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(100*time.Millisecond, cancel)

	rep, err := batch.Execute(ctx, ts, showVersion, batch.Options{Registry: f.Registry(), MaxParallel: 4})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Outcome != report.BatchCancelled || rep.Summary.Error != 4 {
		t.Errorf("Outcome = %s, Summary = %s", rep.Outcome, rep.Summary)
	}
}

func TestRetryPolicy(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		f := mock.NewFleet()
		f.Add("r1", &mock.Device{Unreachable: true})
		rep, _ := batch.Execute(context.Background(), []fleet.Target{target("r1")}, showVersion, batch.Options{Registry: f.Registry()})
		if f.Dials() != 1 || rep.Results[0].Attempts != 1 {
			t.Errorf("Dials() = %d, Attempts = %d", f.Dials(), rep.Results[0].Attempts)
		}
	})

	t.Run("connection errors retried", func(t *testing.T) {
		f := mock.NewFleet()
		f.Add("r1", &mock.Device{Unreachable: true})
		rec := newRecorder()
		rep, _ := batch.Execute(context.Background(), []fleet.Target{target("r1")}, showVersion, batch.Options{
			Registry:  f.Registry(),
			Retry:     batch.RetryPolicy{Attempts: 2, Backoff: 10 * time.Millisecond},
			Observers: []batch.Observer{rec},
		})
		res := rep.Results[0]
		if f.Dials() != 3 || res.Attempts != 3 || res.ErrorKind != util.KindConnection {
			t.Errorf("Dials() = %d, Attempts = %d, kind = %s", f.Dials(), res.Attempts, res.ErrorKind)
		}
		if rec.starts["r1"] != 3 {
			t.Errorf("TargetStart calls = %d, want 3", rec.starts["r1"])
		}
	})

	t.Run("auth errors not retried", func(t *testing.T) {
		f := mock.NewFleet()
		f.Add("r1", &mock.Device{Password: "other"})
		rep, _ := batch.Execute(context.Background(), []fleet.Target{target("r1")}, showVersion, batch.Options{
			Registry: f.Registry(),
			Retry:    batch.RetryPolicy{Attempts: 3},
		})
		if f.Dials() != 1 || rep.Results[0].ErrorKind != util.KindAuth {
			t.Errorf("Dials() = %d, kind = %s", f.Dials(), rep.Results[0].ErrorKind)
		}
	})
}

func TestValidationBeforeStart(t *testing.T) {
	f := mock.NewFleet()
	opts := batch.Options{Registry: f.Registry()}
	tests := []struct {
		name    string
		targets []fleet.Target
		op      fleet.Operation
		opts    batch.Options
	}{
		{"no targets", nil, showVersion, opts},
		{"duplicate", []fleet.Target{target("r1"), target("r1")}, showVersion, opts},
		{"bad op", []fleet.Target{target("r1")}, fleet.Operation{Kind: fleet.OpCommand}, opts},
		{"no registry", []fleet.Target{target("r1")}, showVersion, batch.Options{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := batch.Run(context.Background(), tt.targets, tt.op, tt.opts); err == nil {
				t.Error("Run() should fail")
			}
		})
	}
	if f.Dials() != 0 {
		t.Errorf("validation failures dialed %d devices", f.Dials())
	}
}

func TestPerTargetOverrides(t *testing.T) {
	f := mock.NewFleet()
	f.Add("r1", &mock.Device{Password: "lab123", Outputs: map[string]string{"show version": "v1", "show chassis": "chassis"}})
	f.Add("r2", versionDevice())

	r1 := target("r1")
	r1.Commands = []string{"show chassis"}
	rep, err := batch.Execute(context.Background(), []fleet.Target{r1, target("r2")}, showVersion, batch.Options{Registry: f.Registry()})
	if err != nil {
		t.Fatal(err)
	}
	got1, _ := rep.Result("r1")
	got2, _ := rep.Result("r2")
	if got1.Output != "chassis" || got2.Output != "Junos: 23.4R1" {
		t.Errorf("r1 = %q, r2 = %q", got1.Output, got2.Output)
	}
}

func TestRunEach(t *testing.T) {
	f := mock.NewFleet()
	f.Add("r1", versionDevice())
	f.Add("r2", &mock.Device{Password: "lab123"})
	f.Device("r2").SetRunning("set system host-name r2\n")

	b, err := batch.RunEach(context.Background(), []fleet.Target{target("r1"), target("r2")},
		func(t fleet.Target) fleet.Operation {
			if t.Address == "r2" {
				return fleet.Operation{Kind: fleet.OpConfigPush, Config: "set system host-name core-2"}
			}
			return showVersion
		}, batch.Options{Registry: f.Registry()})
	if err != nil {
		t.Fatal(err)
	}
	rep := b.Wait()
	if rep.Summary.Success != 2 {
		t.Errorf("Summary = %s", rep.Summary)
	}
	if !strings.Contains(f.Device("r2").Running(), "core-2") {
		t.Errorf("r2 running = %q", f.Device("r2").Running())
	}
}

func TestConfigDiffAgainstReference(t *testing.T) {
	f := mock.NewFleet()
	ref := f.Add("ref", &mock.Device{Password: "lab123"})
	ref.SetRunning("set system ntp server 10.1.1.1\nset system host-name ref\n")
	same := f.Add("r1", &mock.Device{Password: "lab123"})
	same.SetRunning("set system host-name ref\nset system ntp server 10.1.1.1\n")
	drift := f.Add("r2", &mock.Device{Password: "lab123"})
	drift.SetRunning("set system host-name ref\nset system ntp server 10.9.9.9\n")

	op := fleet.Operation{Kind: fleet.OpConfigDiff, Diff: fleet.DiffSpec{Against: "ref", Mode: fleet.DiffSet}}
	rep, err := batch.Execute(context.Background(), []fleet.Target{target("r1"), target("r2")}, op, batch.Options{Registry: f.Registry()})
	if err != nil {
		t.Fatal(err)
	}
	r1, _ := rep.Result("r1")
	r2, _ := rep.Result("r2")
	if r1.Outcome != fleet.OutcomeSuccess || r1.Diff == nil || !r1.Diff.Empty() {
		t.Errorf("r1 = %s diff %v", r1.Outcome, r1.Diff)
	}
	if r2.Diff == nil || r2.Diff.Empty() {
		t.Fatalf("r2 drift not detected: %+v", r2)
	}
	st := r2.Diff.Stats()
	if st.Added != 1 || st.Removed != 1 {
		t.Errorf("r2 stats = %+v", st)
	}
}

func TestConfigDiffReferenceUnavailable(t *testing.T) {
	f := mock.NewFleet()
	f.Add("ref", &mock.Device{Unreachable: true})
	f.Add("r1", &mock.Device{Password: "lab123"})
	f.Add("r2", &mock.Device{Password: "lab123"})

	op := fleet.Operation{Kind: fleet.OpConfigDiff, Diff: fleet.DiffSpec{Against: "ref"}}
	rep, err := batch.Execute(context.Background(), []fleet.Target{target("r1"), target("r2")}, op, batch.Options{Registry: f.Registry()})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Outcome != report.BatchFailed {
		t.Errorf("Outcome = %s, want failed", rep.Outcome)
	}
	for _, res := range rep.Results {
		if res.ErrorKind != util.KindConnection || !strings.Contains(res.Error, "reference configuration from ref unavailable") {
			t.Errorf("%s: %s %q", res.Target, res.ErrorKind, res.Error)
		}
	}
	if f.Dials() != 1 {
		t.Errorf("Dials() = %d; reference should be fetched once and targets not dialed", f.Dials())
	}
}

func TestMultiTargetPullSplitsDestination(t *testing.T) {
	f := mock.NewFleet()
	for _, addr := range []string{"r1", "r2"} {
		f.Add(addr, &mock.Device{Password: "lab123", Files: map[string][]byte{"/var/log/messages": []byte("log")}})
	}
	dest := t.TempDir()
	op := fleet.Operation{Kind: fleet.OpFileTransfer, Transfer: fleet.TransferSpec{
		Direction: fleet.Pull, Source: "/var/log/messages", Destination: dest,
	}}
	rep, err := batch.Execute(context.Background(), []fleet.Target{target("r1"), target("r2")}, op, batch.Options{Registry: f.Registry()})
	if err != nil {
		t.Fatal(err)
	}
	for _, res := range rep.Results {
		want := filepath.Join(dest, res.Target)
		if !strings.HasSuffix(res.Output, want) {
			t.Errorf("%s output %q, want destination %s", res.Target, res.Output, want)
		}
	}
}

// fakeLocker is an in-process device lock.
type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]string
	unlocked []string
}

func (l *fakeLocker) Lock(ctx context.Context, device, holder string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.held[device]; ok && h != holder {
		return fmt.Errorf("%w: %s held by %s", util.ErrDeviceLocked, device, h)
	}
	l.held[device] = holder
	return nil
}

func (l *fakeLocker) Unlock(ctx context.Context, device, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[device] == holder {
		delete(l.held, device)
		l.unlocked = append(l.unlocked, device)
	}
	return nil
}

func TestLockerGuardsStateChanges(t *testing.T) {
	f := mock.NewFleet()
	f.Add("r1", &mock.Device{Password: "lab123"})
	f.Add("r2", &mock.Device{Password: "lab123"})
	lk := &fakeLocker{held: map[string]string{"r2": "someone-else"}}

	push := fleet.Operation{Kind: fleet.OpConfigPush, Config: "set system host-name x"}
	rep, err := batch.Execute(context.Background(), []fleet.Target{target("r1"), target("r2")}, push, batch.Options{
		Registry:   f.Registry(),
		Locker:     lk,
		LockHolder: "ops",
	})
	if err != nil {
		t.Fatal(err)
	}
	r1, _ := rep.Result("r1")
	r2, _ := rep.Result("r2")
	if r1.Outcome != fleet.OutcomeSuccess {
		t.Errorf("r1 = %s %q", r1.Outcome, r1.Error)
	}
	if r2.ErrorKind != util.KindLocked {
		t.Errorf("r2 kind = %s, want locked", r2.ErrorKind)
	}
	if len(lk.unlocked) != 1 || lk.unlocked[0] != "r1" {
		t.Errorf("unlocked = %v", lk.unlocked)
	}
	if _, held := lk.held["r1"]; held {
		t.Error("r1 lock not released")
	}

	// read-only operations never take the lock
	lk.unlocked = nil
	if _, err := batch.Execute(context.Background(), []fleet.Target{target("r2")}, fleet.Operation{Kind: fleet.OpInterfacePoll},
		batch.Options{Registry: f.Registry(), Locker: lk, LockHolder: "ops"}); err != nil {
		t.Fatal(err)
	}
	if len(lk.unlocked) != 0 {
		t.Errorf("interface poll took the lock: %v", lk.unlocked)
	}
}

func TestPanicBecomesErrorResult(t *testing.T) {
	f := mock.NewFleet()
	f.Add("r1", versionDevice())
	f.Add("r2", versionDevice())
	reg := f.Registry()
	reg.Register(fleet.TransportSSH, func(fleet.Target) (session.Transport, error) {
		panic("driver bug")
	})

	boom := target("r2")
	boom.Transport = fleet.TransportSSH
	rep, err := batch.Execute(context.Background(), []fleet.Target{target("r1"), boom}, showVersion, batch.Options{Registry: reg})
	if err != nil {
		t.Fatal(err)
	}
	r1, _ := rep.Result("r1")
	r2, _ := rep.Result("r2")
	if r1.Outcome != fleet.OutcomeSuccess {
		t.Errorf("r1 = %s", r1.Outcome)
	}
	if r2.Outcome != fleet.OutcomeError || r2.ErrorKind != util.KindTransport || !strings.Contains(r2.Error, "driver bug") {
		t.Errorf("r2 = %s/%s %q", r2.Outcome, r2.ErrorKind, r2.Error)
	}
}

// slowObserver takes delay on every TargetEnd.
type slowObserver struct {
	delay    time.Duration
	mu       sync.Mutex
	ends     int
	batchEnd bool
}

func (o *slowObserver) BatchStart(fleet.BatchInfo)    {}
func (o *slowObserver) TargetStart(fleet.Target, int) {}

func (o *slowObserver) TargetEnd(fleet.Result) {
	time.Sleep(o.delay)
	o.mu.Lock()
	o.ends++
	o.mu.Unlock()
}

func (o *slowObserver) BatchEnd(*report.Report) {
	o.mu.Lock()
	o.batchEnd = true
	o.mu.Unlock()
}

func TestSlowObserverDoesNotStallWorkers(t *testing.T) {
	f := mock.NewFleet()
	ts := targets(10)
	for _, tg := range ts {
		d := versionDevice()
		d.Latency = 200 * time.Millisecond
		f.Add(tg.Address, d)
	}
	obs := &slowObserver{delay: 100 * time.Millisecond}

	start := time.Now()
	b, err := batch.Run(context.Background(), ts, showVersion, batch.Options{
		Registry:    f.Registry(),
		MaxParallel: 10,
		Observers:   []batch.Observer{obs},
	})
	if err != nil {
		t.Fatal(err)
	}
	var n int
	for range b.Results() {
		n++
	}
	if elapsed := time.Since(start); elapsed > 700*time.Millisecond {
		t.Errorf("all results took %v; observer delivery blocked the workers", elapsed)
	}
	if n != 10 {
		t.Errorf("streamed %d results, want 10", n)
	}

	rep := b.Wait()
	if rep.Summary.Success != 10 {
		t.Errorf("Summary = %s", rep.Summary)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.ends != 10 || !obs.batchEnd {
		t.Errorf("observer saw %d ends, batchEnd=%v before Wait returned", obs.ends, obs.batchEnd)
	}
}

func TestOneSecondTimeoutIsEnforced(t *testing.T) {
	f := mock.NewFleet()
	f.Add("stuck", &mock.Device{Password: "lab123", Hang: true})

	op := showVersion
	op.Timeout = time.Second

	start := time.Now()
	rep, err := batch.Execute(context.Background(), []fleet.Target{target("stuck")}, op, batch.Options{Registry: f.Registry()})
	if err != nil {
		t.Fatal(err)
	}
	elapsed := time.Since(start)

	res, _ := rep.Result("stuck")
	if res.Outcome != fleet.OutcomeError || res.ErrorKind != util.KindTimeout {
		t.Errorf("result = %s/%s, want error/timeout", res.Outcome, res.ErrorKind)
	}
	if elapsed > 1500*time.Millisecond {
		t.Errorf("1s timeout resolved after %v", elapsed)
	}
	if elapsed < time.Second {
		t.Errorf("timed out after %v, before the 1s deadline", elapsed)
	}
}
