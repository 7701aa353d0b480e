package main

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/inventory"
)

// passwordPrompt reads a password without echo. Replaced in tests.
var passwordPrompt = func(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("password required: use -p, NEWTFLEET_PASSWORD, or an inventory password_env")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}

// resolveTargets builds the batch's targets from -t or the inventory,
// then applies session flags. Explicit flags override inventory values.
func resolveTargets(list []string) ([]fleet.Target, error) {
	var targets []fleet.Target
	switch {
	case len(list) > 0:
		targets = inventory.FromAddresses(list, fleet.Target{})
	case app.targets != "":
		addrs, err := inventory.ParseTargetList(app.targets)
		if err != nil {
			return nil, err
		}
		targets = inventory.FromAddresses(addrs, fleet.Target{})
	case app.inventory != "":
		inv, err := inventory.Load(app.inventory)
		if err != nil {
			return nil, err
		}
		if targets, err = inv.Targets(app.tags...); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("no targets: use -t <hosts> or -I <inventory>")
	}

	password := app.password
	if password == "" {
		password = os.Getenv("NEWTFLEET_PASSWORD")
	}
	for i := range targets {
		t := &targets[i]
		if app.transport != "" {
			t.Transport = fleet.TransportKind(app.transport)
		}
		if app.port != 0 {
			t.Port = app.port
		}
		if app.connectTimeout != 0 {
			t.ConnectTimeout = app.connectTimeout
		}
		if app.username != "" {
			t.Credentials.Username = app.username
		}
		if app.keyFile != "" {
			t.Credentials.KeyFile = app.keyFile
		}
		if password != "" && t.Credentials.Password == "" {
			t.Credentials.Password = password
		}
	}
	if err := fleet.ValidateTargets(targets); err != nil {
		return nil, err
	}

	if needsPassword(targets) {
		pw, err := passwordPrompt("Password: ")
		if err != nil {
			return nil, err
		}
		for i := range targets {
			if needsPassword(targets[i : i+1]) {
				targets[i].Credentials.Password = pw
			}
		}
	}
	return targets, nil
}

// needsPassword reports whether any target would authenticate with
// nothing: no password and no key on a transport that takes them.
func needsPassword(targets []fleet.Target) bool {
	for _, t := range targets {
		switch t.WithDefaults().Transport {
		case fleet.TransportSNMP, fleet.TransportMock:
			continue
		}
		if t.Credentials.Password == "" && t.Credentials.KeyFile == "" {
			return true
		}
	}
	return false
}

// referenceTarget finds the config-diff reference device in the inventory
// by address or name, so it is reached with its own credentials. Nil when
// there is none.
func referenceTarget(address string) *fleet.Target {
	if address == "" || app.inventory == "" {
		return nil
	}
	inv, err := inventory.Load(app.inventory)
	if err != nil {
		return nil
	}
	all, err := inv.Targets()
	if err != nil {
		return nil
	}
	for _, t := range all {
		if t.Address == address || t.Name == address {
			return &t
		}
	}
	return nil
}
