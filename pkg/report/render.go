package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/newtron-network/newtfleet/pkg/cli"
	"github.com/newtron-network/newtfleet/pkg/fleet"
)

// WriteTarget writes one result as a headed block of text.
func WriteTarget(w io.Writer, r fleet.Result) {
	header := fmt.Sprintf("==== %s", r.Target)
	if r.Name != "" && r.Name != r.Target {
		header += fmt.Sprintf(" (%s)", r.Name)
	}
	fmt.Fprintf(w, "%s  %s  %s\n", cli.Bold(header), cli.Status(string(r.Outcome)), cli.Dim(cli.Duration(r.Elapsed)))

	if out := strings.TrimRight(r.Output, "\n"); out != "" {
		fmt.Fprintln(w, out)
	}
	if r.Error != "" && r.Outcome == fleet.OutcomeError {
		fmt.Fprintf(w, "%s %s\n", cli.Red(string(r.ErrorKind)+" error:"), r.Error)
	}
	fmt.Fprintln(w)
}

// WriteText writes every result block followed by the summary.
func WriteText(w io.Writer, rep *Report) {
	for _, r := range rep.Results {
		WriteTarget(w, r)
	}
	WriteSummary(w, rep)
}

// WriteSummary writes the per-target table and the batch verdict.
func WriteSummary(w io.Writer, rep *Report) {
	tbl := cli.NewTableTo(w, "TARGET", "TRANSPORT", "OUTCOME", "ELAPSED", "DETAIL")
	for _, r := range rep.Results {
		detail := ""
		switch {
		case r.Outcome != fleet.OutcomeSuccess:
			detail = firstLine(r.Error)
			if r.ErrorKind != "" {
				detail = string(r.ErrorKind) + ": " + detail
			}
		case r.Diff != nil:
			st := r.Diff.Stats()
			detail = fmt.Sprintf("+%d -%d", st.Added, st.Removed)
		}
		tbl.Row(r.Target, string(r.Transport), cli.Status(string(r.Outcome)), cli.Duration(r.Elapsed), detail)
	}
	for _, addr := range rep.Abandoned {
		tbl.Row(addr, "", cli.Dim("not started"), "", "")
	}
	tbl.Flush()

	fmt.Fprintf(w, "\n%s: %s (%s) in %s\n",
		cli.Bold("batch "+rep.BatchID),
		cli.Status(string(rep.Outcome)),
		rep.Summary,
		cli.Duration(rep.Elapsed()))
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, rep *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	const max = 80
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}
