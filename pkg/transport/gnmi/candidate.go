package gnmi

import (
	"fmt"
	"strings"

	"github.com/openconfig/gnmic/pkg/api"
	"github.com/tidwall/gjson"

	"github.com/newtron-network/newtfleet/pkg/util"
)

// SetOp is one staged gNMI Set operation.
type SetOp struct {
	Kind  string // update, replace, or delete
	Path  string
	Value string // raw JSON; empty for delete
}

func (op SetOp) String() string {
	if op.Kind == "delete" {
		return "delete " + op.Path
	}
	return fmt.Sprintf("%s %s %s", op.Kind, op.Path, op.Value)
}

// ParseSetLines parses a configuration payload for gNMI. Each non-blank
// line is one of
//
//	update <path> <json>
//	replace <path> <json>
//	delete <path>
//
// Lines starting with # are comments.
func ParseSetLines(payload string) ([]SetOp, error) {
	var ops []SetOp
	v := &util.ValidationBuilder{}
	for i, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		kind, rest, _ := strings.Cut(line, " ")
		path, val, _ := strings.Cut(strings.TrimSpace(rest), " ")
		val = strings.TrimSpace(val)
		switch {
		case kind == "delete" && path != "" && val == "":
			ops = append(ops, SetOp{Kind: kind, Path: path})
		case (kind == "update" || kind == "replace") && val != "":
			if !gjson.Valid(val) {
				v.AddErrorf("line %d: value for %s is not valid JSON", i+1, path)
				continue
			}
			ops = append(ops, SetOp{Kind: kind, Path: path, Value: val})
		default:
			v.AddErrorf("line %d: expected \"update|replace <path> <json>\" or \"delete <path>\": %s", i+1, line)
		}
	}
	if err := v.Build(); err != nil {
		return nil, err
	}
	return ops, nil
}

// setOptions converts staged operations into gnmic request options.
func setOptions(ops []SetOp) []api.GNMIOption {
	opts := make([]api.GNMIOption, 0, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case "update":
			opts = append(opts, api.Update(api.Path(op.Path), api.Value(op.Value, encoding)))
		case "replace":
			opts = append(opts, api.Replace(api.Path(op.Path), api.Value(op.Value, encoding)))
		case "delete":
			opts = append(opts, api.Delete(op.Path))
		}
	}
	return opts
}
