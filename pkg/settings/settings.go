// Package settings manages persistent user settings for the newtfleet CLI.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/newtron-network/newtfleet/pkg/fleet"
)

// Settings holds persistent user preferences. Empty fields mean "use the
// built-in default".
type Settings struct {
	// Inventory is used when neither -t nor -I is given
	Inventory string `json:"inventory,omitempty"`

	// Transport is the default transport for targets that name none
	Transport string `json:"transport,omitempty"`

	Username string `json:"username,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`

	// Parallel bounds concurrent sessions
	Parallel int `json:"parallel,omitempty"`

	Timeout        string `json:"timeout,omitempty"`
	ConnectTimeout string `json:"connect_timeout,omitempty"`

	// AuditLog is the JSON-lines audit file; "off" disables auditing
	AuditLog string `json:"audit_log,omitempty"`

	// RedisAddr enables device locks and result publication
	RedisAddr string `json:"redis_addr,omitempty"`

	// OutputMode is "single" or "multiple"
	OutputMode string `json:"output_mode,omitempty"`
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "newtfleet_settings.json"
	}
	return filepath.Join(home, ".newtfleet", "settings.json")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path
func (s *Settings) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetAuditLog returns the audit log path (with fallback). An empty string
// means auditing is disabled.
func (s *Settings) GetAuditLog() string {
	switch s.AuditLog {
	case "off":
		return ""
	case "":
		return filepath.Join(filepath.Dir(DefaultSettingsPath()), "audit.log")
	}
	return s.AuditLog
}

type field struct {
	get func(s *Settings) string
	set func(s *Settings, v string) error
}

func str(p func(s *Settings) *string) field {
	return field{
		get: func(s *Settings) string { return *p(s) },
		set: func(s *Settings, v string) error { *p(s) = v; return nil },
	}
}

func duration(p func(s *Settings) *string) field {
	f := str(p)
	f.set = func(s *Settings, v string) error {
		if v != "" {
			if _, err := time.ParseDuration(v); err != nil {
				return err
			}
		}
		*p(s) = v
		return nil
	}
	return f
}

var fields = map[string]field{
	"inventory": str(func(s *Settings) *string { return &s.Inventory }),
	"transport": {
		get: func(s *Settings) string { return s.Transport },
		set: func(s *Settings, v string) error {
			if v != "" && !fleet.TransportKind(v).Valid() {
				return fmt.Errorf("unknown transport %q", v)
			}
			s.Transport = v
			return nil
		},
	},
	"username":        str(func(s *Settings) *string { return &s.Username }),
	"key_file":        str(func(s *Settings) *string { return &s.KeyFile }),
	"timeout":         duration(func(s *Settings) *string { return &s.Timeout }),
	"connect_timeout": duration(func(s *Settings) *string { return &s.ConnectTimeout }),
	"audit_log":       str(func(s *Settings) *string { return &s.AuditLog }),
	"redis_addr":      str(func(s *Settings) *string { return &s.RedisAddr }),
	"parallel": {
		get: func(s *Settings) string {
			if s.Parallel == 0 {
				return ""
			}
			return strconv.Itoa(s.Parallel)
		},
		set: func(s *Settings, v string) error {
			if v == "" {
				s.Parallel = 0
				return nil
			}
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return fmt.Errorf("parallel must be a positive integer, got %q", v)
			}
			s.Parallel = n
			return nil
		},
	},
	"output_mode": {
		get: func(s *Settings) string { return s.OutputMode },
		set: func(s *Settings, v string) error {
			if v != "" && v != "single" && v != "multiple" {
				return fmt.Errorf("output_mode must be single or multiple, got %q", v)
			}
			s.OutputMode = v
			return nil
		},
	},
}

// Keys lists the setting names accepted by Get and Set, sorted.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns a setting by name.
func (s *Settings) Get(key string) (string, error) {
	f, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("unknown setting %q", key)
	}
	return f.get(s), nil
}

// Set validates and stores a setting by name. An empty value clears it.
func (s *Settings) Set(key, value string) error {
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	if err := f.set(s, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = Settings{}
}
