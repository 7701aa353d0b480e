// Package inventory loads device targets and operation templates from YAML
// files. Secrets are never read from the inventory itself; they come from
// a .env file or the process environment, named by *_env keys.
package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/util"
)

// Host is one inventory entry. Empty fields inherit from Defaults.
type Host struct {
	Address        string              `yaml:"address"`
	Name           string              `yaml:"name,omitempty"`
	Port           int                 `yaml:"port,omitempty"`
	Transport      fleet.TransportKind `yaml:"transport,omitempty"`
	Username       string              `yaml:"username,omitempty"`
	KeyFile        string              `yaml:"key_file,omitempty"`
	PasswordEnv    string              `yaml:"password_env,omitempty"`
	PassphraseEnv  string              `yaml:"passphrase_env,omitempty"`
	CommunityEnv   string              `yaml:"community_env,omitempty"`
	ConnectTimeout string              `yaml:"connect_timeout,omitempty"`
	TLS            fleet.TLSOptions    `yaml:"tls,omitempty"`
	Tags           []string            `yaml:"tags,omitempty"`

	// Commands and Config override the operation for this device.
	Commands []string `yaml:"commands,omitempty"`
	Config   string   `yaml:"config,omitempty"`
}

// Inventory is the parsed inventory file.
type Inventory struct {
	// EnvFile is read for *_env lookups before the process environment.
	// Relative paths are resolved against the inventory file's directory.
	EnvFile  string `yaml:"env_file,omitempty"`
	Defaults Host   `yaml:"defaults,omitempty"`
	Hosts    []Host `yaml:"hosts"`

	dir string
	env map[string]string
}

// Load reads and parses an inventory file.
func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}
	inv := &Inventory{}
	if err := yaml.Unmarshal(data, inv); err != nil {
		return nil, fmt.Errorf("parsing inventory %s: %w", path, err)
	}
	inv.dir = filepath.Dir(path)

	if inv.EnvFile != "" {
		envPath := inv.EnvFile
		if !filepath.IsAbs(envPath) {
			envPath = filepath.Join(inv.dir, envPath)
		}
		if inv.env, err = godotenv.Read(envPath); err != nil {
			return nil, fmt.Errorf("reading env file: %w", err)
		}
	}

	if err := inv.validate(); err != nil {
		return nil, err
	}
	util.WithFields(map[string]interface{}{"inventory": path, "hosts": len(inv.Hosts)}).Debug("inventory loaded")
	return inv, nil
}

func (inv *Inventory) validate() error {
	v := &util.ValidationBuilder{}
	v.Add(len(inv.Hosts) > 0, "inventory lists no hosts")
	for i, h := range inv.Hosts {
		v.Add(h.Address != "", fmt.Sprintf("host %d: address is required", i+1))
		if h.ConnectTimeout != "" {
			if _, err := time.ParseDuration(h.ConnectTimeout); err != nil {
				v.AddErrorf("host %s: connect_timeout: %v", h.Address, err)
			}
		}
	}
	if inv.Defaults.ConnectTimeout != "" {
		if _, err := time.ParseDuration(inv.Defaults.ConnectTimeout); err != nil {
			v.AddErrorf("defaults: connect_timeout: %v", err)
		}
	}
	return v.Build()
}

// Lookup resolves an environment key, preferring the inventory's env file.
func (inv *Inventory) Lookup(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	if v, ok := inv.env[key]; ok {
		return v, true
	}
	return os.LookupEnv(key)
}

// Targets returns the hosts as targets, in file order. When tags are given
// only hosts carrying at least one of them are returned.
func (inv *Inventory) Targets(tags ...string) ([]fleet.Target, error) {
	var out []fleet.Target
	v := &util.ValidationBuilder{}
	for _, h := range inv.Hosts {
		if !h.matches(tags) {
			continue
		}
		t, err := inv.target(inv.merge(h))
		if err != nil {
			v.Merge(err)
			continue
		}
		out = append(out, t)
	}
	if err := v.Build(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, util.NewValidationError(fmt.Sprintf("no hosts match tags %s", strings.Join(tags, ",")))
	}
	return out, nil
}

func (h Host) matches(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		for _, have := range h.Tags {
			if want == have {
				return true
			}
		}
	}
	return false
}

// merge fills the host's empty fields from Defaults.
func (inv *Inventory) merge(h Host) Host {
	d := inv.Defaults
	if h.Port == 0 {
		h.Port = d.Port
	}
	if h.Transport == "" {
		h.Transport = d.Transport
	}
	if h.Username == "" {
		h.Username = d.Username
	}
	if h.KeyFile == "" {
		h.KeyFile = d.KeyFile
	}
	if h.PasswordEnv == "" {
		h.PasswordEnv = d.PasswordEnv
	}
	if h.PassphraseEnv == "" {
		h.PassphraseEnv = d.PassphraseEnv
	}
	if h.CommunityEnv == "" {
		h.CommunityEnv = d.CommunityEnv
	}
	if h.ConnectTimeout == "" {
		h.ConnectTimeout = d.ConnectTimeout
	}
	if h.TLS == (fleet.TLSOptions{}) {
		h.TLS = d.TLS
	}
	if len(h.Commands) == 0 {
		h.Commands = d.Commands
	}
	if h.Config == "" {
		h.Config = d.Config
	}
	return h
}

func (inv *Inventory) target(h Host) (fleet.Target, error) {
	t := fleet.Target{
		Address:   h.Address,
		Name:      h.Name,
		Port:      h.Port,
		Transport: h.Transport,
		TLS:       h.TLS,
		Commands:  h.Commands,
		Credentials: fleet.Credentials{
			Username: h.Username,
			KeyFile:  expandHome(h.KeyFile),
		},
	}
	if h.ConnectTimeout != "" {
		d, err := time.ParseDuration(h.ConnectTimeout)
		if err != nil {
			return t, util.NewValidationError(fmt.Sprintf("host %s: connect_timeout: %v", h.Address, err))
		}
		t.ConnectTimeout = d
	}
	if h.Config != "" {
		cfg, err := inv.readConfig(h.Config)
		if err != nil {
			return t, util.NewValidationError(fmt.Sprintf("host %s: %v", h.Address, err))
		}
		t.Config = cfg
	}

	secrets := []struct {
		key string
		dst *string
	}{
		{h.PasswordEnv, &t.Credentials.Password},
		{h.PassphraseEnv, &t.Credentials.Passphrase},
		{h.CommunityEnv, &t.Credentials.Community},
	}
	for _, s := range secrets {
		if s.key == "" {
			continue
		}
		val, ok := inv.Lookup(s.key)
		if !ok {
			return t, util.NewValidationError(fmt.Sprintf("host %s: %s is not set", h.Address, s.key))
		}
		*s.dst = val
	}
	return t, t.Validate()
}

// readConfig treats a value starting with @ as a file path relative to the
// inventory.
func (inv *Inventory) readConfig(v string) (string, error) {
	path, ok := strings.CutPrefix(v, "@")
	if !ok {
		return v, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(inv.dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading config: %w", err)
	}
	return string(data), nil
}

func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
