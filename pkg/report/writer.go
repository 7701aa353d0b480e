package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/newtron-network/newtfleet/pkg/cli"
	"github.com/newtron-network/newtfleet/pkg/util"
)

// FileMode selects how results are written to disk.
type FileMode string

const (
	// SingleFile writes every target's block into one file.
	SingleFile FileMode = "single"
	// FilePerTarget writes one file per target, named
	// <address>_<base name> next to the requested path.
	FilePerTarget FileMode = "multiple"
)

// WriteFiles writes the report's results under path and returns the files
// written. Color is disabled for file output.
func WriteFiles(rep *Report, path string, mode FileMode) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("no output path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}

	restore := cli.ColorEnabled()
	cli.SetColor(false)
	defer cli.SetColor(restore)

	switch mode {
	case SingleFile, "":
		var buf bytes.Buffer
		WriteText(&buf, rep)
		if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", path, err)
		}
		return []string{path}, nil

	case FilePerTarget:
		base := filepath.Base(path)
		var written []string
		for _, r := range rep.Results {
			name := filepath.Join(dir, util.SanitizeName(r.Target)+"_"+base)
			var buf bytes.Buffer
			WriteTarget(&buf, r)
			if err := os.WriteFile(name, buf.Bytes(), 0644); err != nil {
				return written, fmt.Errorf("writing %s: %w", name, err)
			}
			written = append(written, name)
		}
		return written, nil
	}
	return nil, fmt.Errorf("unknown output mode %q", mode)
}
