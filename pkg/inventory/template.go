package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/util"
)

// Template is a saved operation plus the options a run needs besides the
// targets. Credentials are never stored.
type Template struct {
	Description string              `yaml:"description,omitempty"`
	Kind        fleet.OpKind        `yaml:"kind"`
	Commands    []string            `yaml:"commands,omitempty"`
	Config      string              `yaml:"config,omitempty"`
	ConfigFile  string              `yaml:"config_file,omitempty"`
	Format      fleet.OutputFormat  `yaml:"format,omitempty"`
	Timeout     string              `yaml:"timeout,omitempty"`
	Commit      fleet.CommitOptions `yaml:"commit,omitempty"`
	Transfer    fleet.TransferSpec  `yaml:"transfer,omitempty"`
	Diff        fleet.DiffSpec      `yaml:"diff,omitempty"`
	Targets     []string            `yaml:"targets,omitempty"`
	Transport   fleet.TransportKind `yaml:"transport,omitempty"`
	Parallel    int                 `yaml:"parallel,omitempty"`
	Output      *OutputTemplate     `yaml:"output,omitempty"`
}

// OutputTemplate records where a run writes its report.
type OutputTemplate struct {
	Path string `yaml:"path"`
	Mode string `yaml:"mode,omitempty"`
}

// LoadTemplate reads a template file. ConfigFile and Diff.Candidate values
// starting with @ are read relative to the template.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template: %w", err)
	}
	tpl := &Template{}
	if err := yaml.Unmarshal(data, tpl); err != nil {
		return nil, fmt.Errorf("parsing template %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if tpl.ConfigFile != "" {
		b, err := os.ReadFile(resolve(dir, tpl.ConfigFile))
		if err != nil {
			return nil, fmt.Errorf("reading config_file: %w", err)
		}
		tpl.Config = string(b)
	}
	if ref, ok := strings.CutPrefix(tpl.Diff.Candidate, "@"); ok {
		b, err := os.ReadFile(resolve(dir, ref))
		if err != nil {
			return nil, fmt.Errorf("reading diff candidate: %w", err)
		}
		tpl.Diff.Candidate = string(b)
	}
	return tpl, nil
}

func resolve(dir, path string) string {
	path = expandHome(path)
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// Operation builds and validates the operation the template describes.
func (tpl *Template) Operation() (fleet.Operation, error) {
	op := fleet.Operation{
		Kind:     tpl.Kind,
		Commands: tpl.Commands,
		Config:   tpl.Config,
		Format:   tpl.Format,
		Commit:   tpl.Commit,
		Transfer: tpl.Transfer,
		Diff:     tpl.Diff,
	}
	if tpl.Timeout != "" {
		d, err := time.ParseDuration(tpl.Timeout)
		if err != nil {
			return op, util.NewValidationError(fmt.Sprintf("timeout: %v", err))
		}
		op.Timeout = d
	}
	return op, op.Validate()
}

// NewTemplate captures an operation for saving.
func NewTemplate(op fleet.Operation) *Template {
	tpl := &Template{
		Kind:     op.Kind,
		Commands: op.Commands,
		Config:   op.Config,
		Format:   op.Format,
		Commit:   op.Commit,
		Transfer: op.Transfer,
		Diff:     op.Diff,
	}
	if op.Timeout > 0 {
		tpl.Timeout = op.Timeout.String()
	}
	return tpl
}

// SaveTemplate writes the template as YAML, creating parent directories.
func SaveTemplate(path string, tpl *Template) error {
	data, err := yaml.Marshal(tpl)
	if err != nil {
		return fmt.Errorf("encoding template: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating template directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing template: %w", err)
	}
	return nil
}

// ParseTargetList expands a target argument: a comma or newline separated
// address list, or @file naming a file with one address per line.
func ParseTargetList(arg string) ([]string, error) {
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		data, err := os.ReadFile(expandHome(path))
		if err != nil {
			return nil, fmt.Errorf("reading target list: %w", err)
		}
		arg = string(data)
	}
	addrs := util.SplitList(arg)
	if len(addrs) == 0 {
		return nil, util.NewValidationError("no targets given")
	}
	return addrs, nil
}

// FromAddresses builds targets sharing base's settings.
func FromAddresses(addrs []string, base fleet.Target) []fleet.Target {
	out := make([]fleet.Target, len(addrs))
	for i, a := range addrs {
		t := base
		t.Address = a
		out[i] = t
	}
	return out
}
