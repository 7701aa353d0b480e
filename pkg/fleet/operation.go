package fleet

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/newtron-network/newtfleet/pkg/util"
)

// OpKind is the kind of work an operation performs.
type OpKind string

const (
	OpCommand       OpKind = "command-list"
	OpConfigPush    OpKind = "config-push"
	OpCommitCheck   OpKind = "commit-check"
	OpConfigCompare OpKind = "config-compare"
	OpConfigDiff    OpKind = "config-diff"
	OpFileTransfer  OpKind = "file-transfer"
	OpShell         OpKind = "shell-command"
	OpInterfacePoll OpKind = "interface-poll"
)

// DefaultOpTimeout applies when an operation sets no timeout.
const DefaultOpTimeout = 300 * time.Second

// OutputFormat selects how command output is requested from the device.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatXML  OutputFormat = "xml"
)

// DiffMode selects configuration normalization for config-diff.
type DiffMode string

const (
	DiffSet    DiffMode = "set"
	DiffStanza DiffMode = "stanza"
)

// Direction of a file transfer relative to the control point.
type Direction string

const (
	Push Direction = "push"
	Pull Direction = "pull"
)

// Confirm window limits, in minutes.
const (
	MinConfirmMinutes = 1
	MaxConfirmMinutes = 60
)

var commitAtPattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} )?\d{2}:\d{2}(:\d{2})?$`)

// CommitOptions modify how a config-push commits.
type CommitOptions struct {
	Synchronize bool   `json:"synchronize,omitempty" yaml:"synchronize,omitempty"`
	Comment     string `json:"comment,omitempty" yaml:"comment,omitempty"`
	// ConfirmMinutes > 0 makes the commit provisional: the device reverts it
	// unless a confirming commit follows within the window.
	ConfirmMinutes int `json:"confirm_minutes,omitempty" yaml:"confirm_minutes,omitempty"`
	// At schedules the commit: "hh:mm[:ss]" or "yyyy-mm-dd hh:mm[:ss]".
	At string `json:"at,omitempty" yaml:"at,omitempty"`
	// Blank commits without loading a payload, which confirms a pending
	// commit-confirmed.
	Blank bool `json:"blank,omitempty" yaml:"blank,omitempty"`
}

// Confirmed reports whether the commit is provisional.
func (c CommitOptions) Confirmed() bool {
	return c.ConfirmMinutes > 0
}

// ConfirmWindow is the auto-revert window.
func (c CommitOptions) ConfirmWindow() time.Duration {
	return time.Duration(c.ConfirmMinutes) * time.Minute
}

// Validate enforces option ranges and mutual exclusion.
func (c CommitOptions) Validate() error {
	v := &util.ValidationBuilder{}
	if c.ConfirmMinutes != 0 {
		v.Add(c.ConfirmMinutes >= MinConfirmMinutes && c.ConfirmMinutes <= MaxConfirmMinutes,
			fmt.Sprintf("confirm minutes must be between %d and %d, got %d", MinConfirmMinutes, MaxConfirmMinutes, c.ConfirmMinutes))
		v.Add(c.At == "", "commit confirmed cannot be combined with commit at")
		v.Add(!c.Blank, "commit confirmed cannot be combined with blank commit")
	}
	v.Add(!strings.Contains(c.Comment, `"`), "commit comment cannot contain double quotes")
	if c.At != "" {
		v.Add(commitAtPattern.MatchString(c.At), fmt.Sprintf("commit at %q: expected hh:mm[:ss] or yyyy-mm-dd hh:mm[:ss]", c.At))
	}
	return v.Build()
}

// TransferSpec describes a file transfer.
type TransferSpec struct {
	Direction   Direction `json:"direction,omitempty" yaml:"direction,omitempty"`
	Source      string    `json:"source,omitempty" yaml:"source,omitempty"`
	Destination string    `json:"destination,omitempty" yaml:"destination,omitempty"`
}

// DiffSpec describes what a device configuration is compared against.
// Exactly one of Against and Candidate is set.
type DiffSpec struct {
	Mode DiffMode `json:"mode,omitempty" yaml:"mode,omitempty"`
	// Against is the address of a reference device.
	Against string `json:"against,omitempty" yaml:"against,omitempty"`
	// Candidate is a configuration text to compare each device with.
	Candidate string `json:"candidate,omitempty" yaml:"candidate,omitempty"`
}

// Operation is one unit of work applied to targets. The same Operation value
// is shared read-only across workers.
type Operation struct {
	Kind     OpKind        `json:"kind" yaml:"kind"`
	Commands []string      `json:"commands,omitempty" yaml:"commands,omitempty"`
	Config   string        `json:"config,omitempty" yaml:"config,omitempty"`
	Format   OutputFormat  `json:"format,omitempty" yaml:"format,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Commit   CommitOptions `json:"commit,omitempty" yaml:"commit,omitempty"`
	Transfer TransferSpec  `json:"transfer,omitempty" yaml:"transfer,omitempty"`
	Diff     DiffSpec      `json:"diff,omitempty" yaml:"diff,omitempty"`
}

// EffectiveTimeout returns the timeout to enforce on the operation.
func (o Operation) EffectiveTimeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return DefaultOpTimeout
}

// StateChanging reports whether the operation may modify a device.
func (o Operation) StateChanging() bool {
	switch o.Kind {
	case OpConfigPush, OpShell:
		return true
	case OpFileTransfer:
		return o.Transfer.Direction == Push
	}
	return false
}

// ForTarget returns the operation with the target's overrides applied.
// The receiver is not modified.
func (o Operation) ForTarget(t Target) Operation {
	if len(t.Commands) > 0 && (o.Kind == OpCommand || o.Kind == OpShell) {
		o.Commands = append([]string(nil), t.Commands...)
	}
	if t.Config != "" {
		switch o.Kind {
		case OpConfigPush, OpCommitCheck, OpConfigCompare:
			o.Config = t.Config
		}
	}
	return o
}

// Validate checks that the operation carries the payload its kind needs.
func (o Operation) Validate() error {
	v := &util.ValidationBuilder{}
	v.Add(o.Timeout >= 0, "timeout cannot be negative")
	if o.Format != "" {
		v.Add(o.Format == FormatText || o.Format == FormatXML, fmt.Sprintf("unknown output format %q", o.Format))
	}

	switch o.Kind {
	case OpCommand, OpShell:
		v.Add(len(o.Commands) > 0, fmt.Sprintf("%s requires at least one command", o.Kind))
	case OpConfigPush:
		v.Merge(o.Commit.Validate())
		if o.Commit.Blank {
			v.Add(strings.TrimSpace(o.Config) == "", "blank commit cannot carry a configuration payload")
		} else {
			v.Add(strings.TrimSpace(o.Config) != "", "config-push requires a configuration payload")
		}
	case OpCommitCheck, OpConfigCompare:
		v.Add(strings.TrimSpace(o.Config) != "", fmt.Sprintf("%s requires a configuration payload", o.Kind))
	case OpConfigDiff:
		v.Add(o.Diff.Mode == "" || o.Diff.Mode == DiffSet || o.Diff.Mode == DiffStanza,
			fmt.Sprintf("unknown diff mode %q", o.Diff.Mode))
		v.Add((o.Diff.Against == "") != (o.Diff.Candidate == ""),
			"config-diff requires exactly one of a reference device or a candidate configuration")
	case OpFileTransfer:
		v.Add(o.Transfer.Direction == Push || o.Transfer.Direction == Pull,
			fmt.Sprintf("unknown transfer direction %q", o.Transfer.Direction))
		v.Add(o.Transfer.Source != "", "file transfer requires a source")
		v.Add(o.Transfer.Destination != "", "file transfer requires a destination")
	case OpInterfacePoll:
	default:
		v.AddErrorf("unknown operation kind %q", o.Kind)
	}
	return v.Build()
}

// Describe renders a short human label for logs and reports.
func (o Operation) Describe() string {
	switch o.Kind {
	case OpCommand, OpShell:
		if len(o.Commands) == 1 {
			return fmt.Sprintf("%s %q", o.Kind, o.Commands[0])
		}
		return fmt.Sprintf("%s (%d commands)", o.Kind, len(o.Commands))
	case OpConfigPush:
		switch {
		case o.Commit.Blank:
			return "config-push (blank commit)"
		case o.Commit.Confirmed():
			return fmt.Sprintf("config-push (confirmed %dm)", o.Commit.ConfirmMinutes)
		}
	case OpFileTransfer:
		return fmt.Sprintf("file-transfer %s %s -> %s", o.Transfer.Direction, o.Transfer.Source, o.Transfer.Destination)
	case OpConfigDiff:
		if o.Diff.Against != "" {
			return fmt.Sprintf("config-diff against %s", o.Diff.Against)
		}
		return "config-diff against candidate"
	}
	return string(o.Kind)
}
