package sshcli

import (
	"context"
	"strings"

	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/session"
	"github.com/newtron-network/newtfleet/pkg/util"
)

// Transport drives a device's CLI over SSH exec channels. It has no
// candidate configuration support; configuration changes go over NETCONF.
type Transport struct {
	*Client
}

// Dial is the session.Dialer for fleet.TransportSSH.
func Dial(t fleet.Target) (session.Transport, error) {
	return &Transport{Client: NewClient(t)}, nil
}

// RunCommand runs an operational command. XML output uses the CLI's
// display pipe.
func (t *Transport) RunCommand(ctx context.Context, command string, format fleet.OutputFormat) (string, error) {
	if format == fleet.FormatXML && !strings.Contains(command, "| display xml") {
		command += " | display xml"
	}
	out, err := t.Exec(ctx, command)
	if err != nil {
		return out, err
	}
	if msg, ok := cliError(out); ok {
		return out, util.NewDeviceError(t.target.Address, msg, util.SplitLines(out)...)
	}
	return out, nil
}

// RunShell runs command in the device's Unix shell.
func (t *Transport) RunShell(ctx context.Context, command string) (string, error) {
	return t.Exec(ctx, ShellCommand(command))
}

// RunningConfig returns the configuration as set commands or stanzas.
func (t *Transport) RunningConfig(ctx context.Context, mode fleet.DiffMode) (string, error) {
	cmd := "show configuration"
	if mode != fleet.DiffStanza {
		cmd += " | display set"
	}
	out, err := t.Exec(ctx, cmd)
	if err != nil {
		return "", err
	}
	if msg, ok := cliError(out); ok {
		return "", util.NewDeviceError(t.target.Address, msg)
	}
	return out, nil
}

// ShellCommand wraps command for the CLI's shell escape.
func ShellCommand(command string) string {
	return `start shell command "` + strings.ReplaceAll(command, `"`, `\"`) + `"`
}

// cliError finds an error the CLI reported in-band. The CLI exits zero on
// syntax errors, so output is the only signal.
func cliError(out string) (string, bool) {
	for _, line := range util.SplitLines(out) {
		l := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(l, "error:"),
			strings.HasPrefix(l, "syntax error"),
			strings.HasPrefix(l, "unknown command"):
			return l, true
		}
	}
	return "", false
}

var (
	_ session.Commander      = (*Transport)(nil)
	_ session.ShellRunner    = (*Transport)(nil)
	_ session.ConfigFetcher  = (*Transport)(nil)
	_ session.FileTransferer = (*Transport)(nil)
)
