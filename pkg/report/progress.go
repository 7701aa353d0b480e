package report

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/newtron-network/newtfleet/pkg/cli"
	"github.com/newtron-network/newtfleet/pkg/fleet"
)

// ConsoleProgress is an append-only terminal progress printer for batch
// events. Lines appear in completion order with a [done/total] tag. It
// never rewrites the cursor, so output is safe for pipes and CI logs.
type ConsoleProgress struct {
	W       io.Writer
	Verbose bool

	mu       sync.Mutex
	total    int
	done     int
	dotWidth int
}

// NewConsoleProgress creates a ConsoleProgress writing to stderr, leaving
// stdout for the report itself.
func NewConsoleProgress(verbose bool) *ConsoleProgress {
	return &ConsoleProgress{W: os.Stderr, Verbose: verbose}
}

func (p *ConsoleProgress) BatchStart(info fleet.BatchInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = info.Targets
	p.done = 0
	p.dotWidth = 28
	fmt.Fprintf(p.W, "\nnewtfleet: %s on %d targets (parallel %d, batch %s)\n\n",
		info.Operation.Describe(), info.Targets, info.MaxParallel, info.ID)
}

func (p *ConsoleProgress) TargetStart(t fleet.Target, attempt int) {
	if !p.Verbose {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if attempt > 1 {
		fmt.Fprintf(p.W, "          %s retry %d\n", t.Address, attempt-1)
		return
	}
	fmt.Fprintf(p.W, "          %s %s\n", t.Address, cli.Dim("started"))
}

func (p *ConsoleProgress) TargetEnd(r fleet.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	tag := fmt.Sprintf("[%d/%d]", p.done, p.total)
	padded := cli.DotPad(r.Target, p.dotWidth)

	switch r.Outcome {
	case fleet.OutcomeSuccess:
		fmt.Fprintf(p.W, "  %-9s %s %s  (%s)\n", tag, padded, cli.Green("OK"), cli.Duration(r.Elapsed))
	case fleet.OutcomePartial:
		fmt.Fprintf(p.W, "  %-9s %s %s  (%s)\n", tag, padded, cli.Yellow("PARTIAL"), cli.Duration(r.Elapsed))
	default:
		fmt.Fprintf(p.W, "  %-9s %s %s  (%s)\n", tag, padded, cli.Red("ERROR"), cli.Duration(r.Elapsed))
	}
	if r.Error != "" && (p.Verbose || r.Outcome == fleet.OutcomeError) {
		fmt.Fprintf(p.W, "            %s\n", cli.Dim(firstLine(r.Error)))
	}
}

func (p *ConsoleProgress) BatchEnd(rep *Report) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.W, "\n---\nnewtfleet: %d targets: %s", p.total, rep.Summary)
	if rep.Outcome == BatchCancelled {
		fmt.Fprintf(p.W, "  %s", cli.Yellow("CANCELLED"))
	}
	fmt.Fprintf(p.W, "  (%s)\n\n", cli.Duration(rep.Elapsed()))
}
