package enrich

import (
	"strings"

	"github.com/Acribbs/cribbslab/internal/jobs"
)

// Engine turns an invocation into a job. The job's stdout is the result table.
type Engine interface {
	Job(inv Invocation) jobs.Job
}

// GAT drives gat-run.py.
type GAT struct {
	Command string   // default "gat-run.py"
	Extra   []string // appended verbatim
}

func (g GAT) Job(inv Invocation) jobs.Job {
	bin := g.Command
	if bin == "" {
		bin = "gat-run.py"
	}
	args := []string{
		bin,
		"--segments=" + jobs.Quote(inv.Segments),
		"--annotations=" + jobs.Quote(inv.Annotations),
		"--workspace=" + jobs.Quote(inv.Workspace),
		"--log=" + jobs.Quote(inv.Log),
	}
	args = append(args, g.Extra...)
	return jobs.Job{
		Name:    inv.Name(),
		Command: strings.Join(args, " "),
		Stdout:  inv.Output,
		Stderr:  inv.Output + ".err",
	}
}

// Homer annotates a segments file with annotatePeaks.pl.
type Homer struct {
	Command string // default "annotatePeaks.pl"
	Genome  string
}

func (h Homer) Job(inv Invocation) jobs.Job {
	bin := h.Command
	if bin == "" {
		bin = "annotatePeaks.pl"
	}
	return jobs.Job{
		Name:    inv.Name(),
		Command: strings.Join([]string{bin, jobs.Quote(inv.Segments), jobs.Quote(h.Genome)}, " "),
		Stdout:  inv.Output,
		Stderr:  inv.Log,
	}
}
