package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/util"
)

// stdin is read for "-f -" payloads. Replaced in tests.
var stdin io.Reader = os.Stdin

// readPayload returns the text of file ("-" reads stdin) or, when no file
// is given, the arguments joined one per line.
func readPayload(file string, args []string) (string, error) {
	switch file {
	case "":
		return strings.Join(args, "\n"), nil
	case "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", file, err)
	}
	return string(b), nil
}

// readCommands returns one command per non-blank line of the payload.
func readCommands(file string, args []string) ([]string, error) {
	text, err := readPayload(file, args)
	if err != nil {
		return nil, err
	}
	return util.SplitLines(text), nil
}

func newCommandCmd() *cobra.Command {
	var (
		file   string
		format string
	)
	cmd := &cobra.Command{
		Use:   "command [command...]",
		Short: "Run operational commands",
		Long: `Run one or more operational-mode commands on every target.

Each argument is one command; with -f, the file holds one command per line.
A device where some commands fail reports a partial result.

Examples:
  newtfleet -t r1,r2 command "show version" "show chassis alarms"
  newtfleet -I lab.yaml command -f checks.txt --format xml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			commands, err := readCommands(file, args)
			if err != nil {
				return err
			}
			return execute(runSpec{op: fleet.Operation{
				Kind:     fleet.OpCommand,
				Commands: commands,
				Format:   fleet.OutputFormat(format),
			}})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "File of commands, one per line (- for stdin)")
	cmd.Flags().StringVar(&format, "format", string(fleet.FormatText), "Output format: text or xml")
	return cmd
}

func newShellCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "shell [command...]",
		Short: "Run shell commands",
		Long: `Run one or more commands in the device's system shell.

Shell commands are state-changing and are recorded in the audit log.

Examples:
  newtfleet -t r1,r2 shell "df -h /var" "ls /var/tmp"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			commands, err := readCommands(file, args)
			if err != nil {
				return err
			}
			return execute(runSpec{op: fleet.Operation{Kind: fleet.OpShell, Commands: commands}})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "File of commands, one per line (- for stdin)")
	return cmd
}

func newCommitCmd() *cobra.Command {
	var (
		file   string
		check  bool
		commit fleet.CommitOptions
	)
	cmd := &cobra.Command{
		Use:   "commit [config-line...]",
		Short: "Load and commit configuration",
		Long: `Load a configuration change on every target and commit it.

Each device's candidate is locked, loaded, validated, and committed; any
failure before the commit discards the candidate. With --confirmed the
device rolls the change back unless a confirming commit (--blank) follows
within the window.

Examples:
  newtfleet -t r1,r2 commit "set system ntp server 10.0.0.5"
  newtfleet -I lab.yaml commit -f ntp.set --confirmed 5 --comment "ntp rollout"
  newtfleet -I lab.yaml commit --blank
  newtfleet -t r1 commit -f ntp.set --check`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := readPayload(file, args)
			if err != nil {
				return err
			}
			if check {
				if cmd.Flags().Changed("confirmed") || commit.Blank || commit.At != "" || commit.Synchronize || commit.Comment != "" {
					return fmt.Errorf("--check cannot be combined with other commit options")
				}
				return execute(runSpec{op: fleet.Operation{Kind: fleet.OpCommitCheck, Config: config}})
			}
			return execute(runSpec{op: fleet.Operation{Kind: fleet.OpConfigPush, Config: config, Commit: commit}})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&file, "file", "f", "", "Configuration file (- for stdin)")
	f.BoolVar(&check, "check", false, "Validate only; do not commit")
	f.IntVar(&commit.ConfirmMinutes, "confirmed", 0, "Commit confirmed: roll back after this many minutes (1-60) unless confirmed")
	f.StringVar(&commit.Comment, "comment", "", "Commit comment")
	f.BoolVar(&commit.Synchronize, "synchronize", false, "Synchronize the commit to both routing engines")
	f.StringVar(&commit.At, "at", "", "Schedule the commit: hh:mm[:ss] or \"yyyy-mm-dd hh:mm[:ss]\"")
	f.BoolVar(&commit.Blank, "blank", false, "Commit without loading a change (confirms a pending commit confirmed)")
	return cmd
}

func newCompareCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "compare [config-line...]",
		Short: "Show what a configuration change would do",
		Long: `Load a change into each target's candidate, print the device's own
comparison against the running configuration, and discard the change.

Examples:
  newtfleet -t r1,r2 compare -f ntp.set`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := readPayload(file, args)
			if err != nil {
				return err
			}
			return execute(runSpec{op: fleet.Operation{Kind: fleet.OpConfigCompare, Config: config}})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Configuration file (- for stdin)")
	return cmd
}

func newDiffCmd() *cobra.Command {
	var (
		against   string
		candidate string
		mode      string
	)
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Diff running configurations",
		Long: `Compare each target's running configuration with a reference device or a
candidate file, and report added and removed lines.

In set mode lines are compared as an unordered set; in stanza mode the
hierarchical configuration is compared in order.

Examples:
  newtfleet -t r1,r2,r3 diff --against r0
  newtfleet -I lab.yaml diff --candidate golden.set --mode set`,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := fleet.DiffSpec{Mode: fleet.DiffMode(mode), Against: against}
			if candidate != "" {
				text, err := readPayload(candidate, nil)
				if err != nil {
					return err
				}
				spec.Candidate = text
			}
			if ref := referenceTarget(against); ref != nil {
				spec.Against = ref.Address
			}
			return execute(runSpec{op: fleet.Operation{Kind: fleet.OpConfigDiff, Diff: spec}})
		},
	}
	f := cmd.Flags()
	f.StringVar(&against, "against", "", "Reference device address (or inventory name)")
	f.StringVar(&candidate, "candidate", "", "Candidate configuration file (- for stdin)")
	f.StringVar(&mode, "mode", string(fleet.DiffSet), "Diff mode: set or stanza")
	return cmd
}

func transferCmd(dir fleet.Direction, use, short, long string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(runSpec{op: fleet.Operation{
				Kind:     fleet.OpFileTransfer,
				Transfer: fleet.TransferSpec{Direction: dir, Source: args[0], Destination: args[1]},
			}})
		},
	}
}

func newPushCmd() *cobra.Command {
	return transferCmd(fleet.Push, "push <local> <remote>", "Copy a file or directory to every target",
		`Copy a local file or directory to every target over SCP.

Examples:
  newtfleet -t @hosts.txt push jinstall.tgz /var/tmp/`)
}

func newPullCmd() *cobra.Command {
	return transferCmd(fleet.Pull, "pull <remote> <local-dir>", "Copy a file or directory from every target",
		`Copy a remote file or directory from every target over SCP.

With more than one target each device's files land in <local-dir>/<address>/.

Examples:
  newtfleet -t r1,r2 pull /var/log/messages ./logs`)
}

func newInterfacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interfaces",
		Short: "Poll interface status and error counters",
		Long: `Poll interface status and error counters and report interfaces with
errors or that are enabled but down.

SNMP and gNMI transports support polling.

Examples:
  newtfleet -I lab.yaml --transport snmp interfaces`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(runSpec{op: fleet.Operation{Kind: fleet.OpInterfacePoll}})
		},
	}
}

func newRunCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "run -f <template.yaml>",
		Short: "Run a saved operation template",
		Long: `Run an operation saved as a YAML template (see --save-template).

Targets, transport, parallelism, and output from the template apply unless
given on the command line.

Examples:
  newtfleet command "show version" -t r1,r2 --save-template version.yaml
  newtfleet run -f version.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("template required: use -f <template.yaml>")
			}
			spec, err := templateSpec(file)
			if err != nil {
				return err
			}
			return execute(spec)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Template file")
	return cmd
}
