// Package fleet defines the data model shared by sessions, transports, and
// the batch orchestrator: device targets, operations, and results.
package fleet

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/newtron-network/newtfleet/pkg/util"
)

// TransportKind selects the protocol a session uses to reach a device.
type TransportKind string

const (
	TransportNETCONF TransportKind = "netconf"
	TransportSSH     TransportKind = "ssh"
	TransportGNMI    TransportKind = "gnmi"
	TransportSNMP    TransportKind = "snmp"
	TransportMock    TransportKind = "mock"
)

// DefaultTransport is used when a target names none.
const DefaultTransport = TransportNETCONF

// DefaultConnectTimeout bounds connection establishment plus authentication.
const DefaultConnectTimeout = 5 * time.Second

// DefaultPort returns the well-known port for the transport.
func (k TransportKind) DefaultPort() int {
	switch k {
	case TransportSSH:
		return 22
	case TransportGNMI:
		return 57400
	case TransportSNMP:
		return 161
	}
	return 830
}

// Valid reports whether k names a known transport.
func (k TransportKind) Valid() bool {
	switch k {
	case TransportNETCONF, TransportSSH, TransportGNMI, TransportSNMP, TransportMock:
		return true
	}
	return false
}

// Credentials authenticate a session. Secrets are never serialized.
type Credentials struct {
	Username   string `json:"username,omitempty" yaml:"username,omitempty"`
	Password   string `json:"-" yaml:"-"`
	KeyFile    string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	Passphrase string `json:"-" yaml:"-"`

	// Community is the SNMP v2c community string.
	Community string `json:"-" yaml:"-"`
}

// String renders the credentials with secrets redacted.
func (c Credentials) String() string {
	pw := ""
	if c.Password != "" {
		pw = "****"
	}
	return fmt.Sprintf("user=%s password=%s key=%s", c.Username, pw, c.KeyFile)
}

// TLSOptions configure gNMI channel security.
type TLSOptions struct {
	Insecure   bool   `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	SkipVerify bool   `json:"skip_verify,omitempty" yaml:"skip_verify,omitempty"`
	CAFile     string `json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
	CertFile   string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
}

// Target identifies one device in a batch. A Target is treated as immutable
// once handed to the orchestrator; the address is unique within a batch.
type Target struct {
	Address        string        `json:"address"`
	Name           string        `json:"name,omitempty"`
	Port           int           `json:"port,omitempty"`
	Transport      TransportKind `json:"transport,omitempty"`
	Credentials    Credentials   `json:"credentials"`
	TLS            TLSOptions    `json:"tls,omitempty"`
	ConnectTimeout time.Duration `json:"connect_timeout,omitempty"`

	// Commands replaces an operation's command list for this device.
	Commands []string `json:"commands,omitempty"`
	// Config replaces an operation's configuration payload for this device.
	Config string `json:"config,omitempty"`
}

// WithDefaults returns a copy with transport, port, and connect timeout
// filled in.
func (t Target) WithDefaults() Target {
	if t.Transport == "" {
		t.Transport = DefaultTransport
	}
	if t.Port == 0 {
		t.Port = t.Transport.DefaultPort()
	}
	if t.ConnectTimeout <= 0 {
		t.ConnectTimeout = DefaultConnectTimeout
	}
	return t
}

// HostPort returns the dial address.
func (t Target) HostPort() string {
	port := t.Port
	if port == 0 {
		port = t.Transport.DefaultPort()
	}
	return net.JoinHostPort(t.Address, strconv.Itoa(port))
}

// Label is the display name: Name when set, otherwise Address.
func (t Target) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Address
}

func (t Target) String() string {
	return fmt.Sprintf("%s (%s %s)", t.Address, t.Transport, t.HostPort())
}

// Validate checks the target for internal consistency.
func (t Target) Validate() error {
	v := &util.ValidationBuilder{}
	v.Add(t.Address != "", "target address is required")
	if t.Transport != "" && !t.Transport.Valid() {
		v.AddErrorf("%s: unknown transport %q", t.Address, t.Transport)
	}
	v.Add(t.Port >= 0 && t.Port <= 65535, fmt.Sprintf("%s: port %d out of range", t.Address, t.Port))
	v.Add(t.ConnectTimeout >= 0, fmt.Sprintf("%s: negative connect timeout", t.Address))
	return v.Build()
}

// ValidateTargets validates each target and rejects duplicate addresses.
func ValidateTargets(targets []Target) error {
	v := &util.ValidationBuilder{}
	v.Add(len(targets) > 0, "no targets given")
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		v.Merge(t.Validate())
		if t.Address == "" {
			continue
		}
		if seen[t.Address] {
			v.AddErrorf("duplicate target address %s", t.Address)
		}
		seen[t.Address] = true
	}
	return v.Build()
}
