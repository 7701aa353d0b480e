package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"os/user"

	"github.com/newtron-network/newtfleet/pkg/audit"
	"github.com/newtron-network/newtfleet/pkg/batch"
	"github.com/newtron-network/newtfleet/pkg/coord"
	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/inventory"
	"github.com/newtron-network/newtfleet/pkg/report"
	"github.com/newtron-network/newtfleet/pkg/session"
	"github.com/newtron-network/newtfleet/pkg/transport/gnmi"
	"github.com/newtron-network/newtfleet/pkg/transport/netconf"
	"github.com/newtron-network/newtfleet/pkg/transport/snmp"
	"github.com/newtron-network/newtfleet/pkg/transport/sshcli"
	"github.com/newtron-network/newtfleet/pkg/util"
)

// newRegistry builds the transport registry. Replaced in tests.
var newRegistry = func() session.Registry {
	reg := session.Registry{}
	reg.Register(fleet.TransportNETCONF, netconf.Dial)
	reg.Register(fleet.TransportSSH, sshcli.Dial)
	reg.Register(fleet.TransportGNMI, gnmi.Dial)
	reg.Register(fleet.TransportSNMP, snmp.Dial)
	return reg
}

// stdout receives the report. Replaced in tests.
var stdout io.Writer = os.Stdout

// batchError carries a non-success batch verdict to the exit code.
type batchError struct {
	outcome report.Outcome
}

func (e *batchError) Error() string {
	return "batch " + string(e.outcome)
}

// code maps the verdict to the process exit status: 1 when nothing
// succeeded, 2 for partial success, 130 when interrupted.
func (e *batchError) code() int {
	switch e.outcome {
	case report.BatchPartial:
		return 2
	case report.BatchCancelled:
		return 130
	}
	return 1
}

// runSpec is one invocation: the operation plus per-run overrides a
// template may carry.
type runSpec struct {
	op         fleet.Operation
	targets    []string
	parallel   int
	output     string
	outputMode string
}

// execute resolves targets, runs the batch, and writes the report.
func execute(spec runSpec) error {
	if app.timeout > 0 {
		spec.op.Timeout = app.timeout
	}
	if err := spec.op.Validate(); err != nil {
		return err
	}
	if app.saveTemplate != "" {
		return saveTemplate(spec)
	}

	targets, err := resolveTargets(spec.targets)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts, cleanup, err := batchOptions(ctx, spec)
	if err != nil {
		return err
	}
	defer cleanup()

	rep, err := batch.Execute(ctx, targets, spec.op, opts)
	if err != nil {
		return err
	}
	if err := writeReport(rep, spec); err != nil {
		return err
	}
	if rep.Outcome != report.BatchSuccess {
		return &batchError{outcome: rep.Outcome}
	}
	return nil
}

// batchOptions assembles the orchestrator configuration: registry,
// observers, and the optional Redis lock and publisher.
func batchOptions(ctx context.Context, spec runSpec) (batch.Options, func(), error) {
	opts := batch.Options{
		Registry:    newRegistry(),
		MaxParallel: app.parallel,
		Retry:       batch.RetryPolicy{Attempts: app.retries},
		Observers:   []batch.Observer{report.NewConsoleProgress(app.verbose)},
	}
	if spec.parallel > 0 && app.parallel == 0 {
		opts.MaxParallel = spec.parallel
	}
	if spec.op.Kind == fleet.OpConfigDiff {
		if ref := referenceTarget(spec.op.Diff.Against); ref != nil {
			opts.Reference = ref
		}
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if path := userSettings.GetAuditLog(); path != "" && spec.op.StateChanging() {
		logger, err := audit.NewFileLogger(path, audit.DefaultRotation)
		if err != nil {
			util.Warnf("Could not initialize audit logging: %v", err)
		} else {
			closers = append(closers, func() { logger.Close() })
			opts.Observers = append(opts.Observers, audit.NewRecorder(logger, currentUser()))
		}
	}

	if app.lock && app.redisAddr == "" {
		return opts, cleanup, fmt.Errorf("--lock requires --redis")
	}
	if app.redisAddr != "" {
		client, err := coord.Dial(ctx, app.redisAddr, 0)
		if err != nil {
			return opts, cleanup, err
		}
		closers = append(closers, func() { client.Close() })
		opts.Observers = append(opts.Observers, coord.NewPublisher(client, coord.DefaultResultTTL))
		if app.lock {
			opts.Locker = coord.NewLocker(client)
			opts.LockHolder = coord.DefaultHolder()
		}
	}
	return opts, cleanup, nil
}

// writeReport prints the report and writes the requested files.
func writeReport(rep *report.Report, spec runSpec) error {
	if app.jsonOutput {
		if err := report.WriteJSON(stdout, rep); err != nil {
			return err
		}
	} else {
		report.WriteText(stdout, rep)
	}

	path, mode := spec.output, spec.outputMode
	if app.output != "" {
		path, mode = app.output, app.outputMode
	}
	if path == "" {
		return nil
	}
	if mode == "" {
		mode = app.outputMode
	}
	files, err := report.WriteFiles(rep, path, report.FileMode(mode))
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Fprintf(os.Stderr, "wrote %s\n", f)
	}
	return nil
}

// saveTemplate records the operation and run options without running it.
func saveTemplate(spec runSpec) error {
	tpl := inventory.NewTemplate(spec.op)
	tpl.Transport = fleet.TransportKind(app.transport)
	tpl.Parallel = app.parallel
	if app.targets != "" {
		addrs, err := inventory.ParseTargetList(app.targets)
		if err != nil {
			return err
		}
		tpl.Targets = addrs
	}
	if app.output != "" {
		tpl.Output = &inventory.OutputTemplate{Path: app.output, Mode: app.outputMode}
	}
	if err := inventory.SaveTemplate(app.saveTemplate, tpl); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "saved %s\n", app.saveTemplate)
	return nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

// templateSpec loads a saved template. Its targets apply only when neither
// -t nor -I is given; its transport only when --transport is not.
func templateSpec(path string) (runSpec, error) {
	tpl, err := inventory.LoadTemplate(path)
	if err != nil {
		return runSpec{}, err
	}
	op, err := tpl.Operation()
	if err != nil {
		return runSpec{}, fmt.Errorf("template %s: %w", path, err)
	}
	spec := runSpec{op: op, parallel: tpl.Parallel}
	if app.targets == "" && !rootCmd.PersistentFlags().Changed("inventory") {
		spec.targets = tpl.Targets
	}
	if app.transport == "" && tpl.Transport != "" {
		app.transport = string(tpl.Transport)
	}
	if tpl.Output != nil {
		spec.output, spec.outputMode = tpl.Output.Path, tpl.Output.Mode
	}
	return spec, nil
}
