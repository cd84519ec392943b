// Package enrich runs the enrichment engine once per label (and per
// direction) on a bounded worker pool and reports every invocation's
// outcome separately.
package enrich

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/cheggaaa/pb/v3"
	log "github.com/sirupsen/logrus"

	"github.com/Acribbs/cribbslab/internal/direction"
	"github.com/Acribbs/cribbslab/internal/jobs"
	"github.com/Acribbs/cribbslab/internal/segments"
)

// Invocation is one engine run for one label (and direction).
type Invocation struct {
	Label       string
	Direction   direction.Direction
	Segments    string
	Annotations string
	Workspace   string
	Output      string
	Log         string
}

func (inv Invocation) Name() string {
	if inv.Direction == direction.None {
		return inv.Label
	}
	return inv.Direction.String() + "_" + inv.Label
}

// Result is the outcome of one invocation. Err is nil on success.
type Result struct {
	Invocation
	Err error
}

func (r Result) OK() bool { return r.Err == nil }

// Failed returns the unsuccessful results.
func Failed(rs []Result) []Result {
	var out []Result
	for _, r := range rs {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// OutputName is the result table name for a label, e.g.
// "E1_segments.out" or "upregulated_E1_segments.out".
func OutputName(label string, d direction.Direction) string {
	if d == direction.None {
		return label + "_segments.out"
	}
	return d.String() + "_" + label + "_segments.out"
}

// PlainInvocations builds one invocation per label against one annotation set.
func PlainInvocations(labels []segments.LabelFile, annotations, workspace, outDir string) []Invocation {
	invs := make([]Invocation, 0, len(labels))
	for _, lf := range labels {
		out := filepath.Join(outDir, OutputName(lf.Label, direction.None))
		invs = append(invs, Invocation{
			Label: lf.Label, Segments: lf.Path,
			Annotations: annotations, Workspace: workspace,
			Output: out, Log: out + ".log",
		})
	}
	return invs
}

// DirectionalInvocations builds one invocation per label and direction.
// Directions are taken in direction.All order.
func DirectionalInvocations(labels []segments.LabelFile, sets map[direction.Direction]string, workspace, outDir string) []Invocation {
	invs := make([]Invocation, 0, 2*len(labels))
	for _, lf := range labels {
		for _, d := range direction.All {
			ann, ok := sets[d]
			if !ok {
				continue
			}
			out := filepath.Join(outDir, OutputName(lf.Label, d))
			invs = append(invs, Invocation{
				Label: lf.Label, Direction: d, Segments: lf.Path,
				Annotations: ann, Workspace: workspace,
				Output: out, Log: out + ".log",
			})
		}
	}
	return invs
}

// Runner executes invocations.
type Runner struct {
	Engine   Engine
	Executor jobs.Executor
	Threads  int             // <1 means runtime.NumCPU()
	Logger   log.FieldLogger // nil discards
	Progress io.Writer       // nil disables the progress bar
}

// RunPlain runs the plain fan-out.
func (r *Runner) RunPlain(ctx context.Context, labels []segments.LabelFile, annotations, workspace, outDir string) []Result {
	return r.Run(ctx, PlainInvocations(labels, annotations, workspace, outDir))
}

// RunDirectional runs both directions of every label.
func (r *Runner) RunDirectional(ctx context.Context, labels []segments.LabelFile, sets map[direction.Direction]string, workspace, outDir string) []Result {
	return r.Run(ctx, DirectionalInvocations(labels, sets, workspace, outDir))
}

// RunAnnotate runs a per-label annotation engine such as Homer.
// Outputs are "<label>_segments.txt" in outDir.
func (r *Runner) RunAnnotate(ctx context.Context, labels []segments.LabelFile, outDir string) []Result {
	invs := make([]Invocation, 0, len(labels))
	for _, lf := range labels {
		out := filepath.Join(outDir, lf.Label+"_segments.txt")
		invs = append(invs, Invocation{Label: lf.Label, Segments: lf.Path, Output: out, Log: out + ".log"})
	}
	return r.Run(ctx, invs)
}

// Run executes invs on the pool and returns one Result per invocation, in
// input order. Invocations not started before ctx is done carry ctx.Err().
func (r *Runner) Run(ctx context.Context, invs []Invocation) []Result {
	threads := r.Threads
	if threads < 1 {
		threads = runtime.NumCPU()
	}
	results := make([]Result, len(invs))
	for i, inv := range invs {
		results[i] = Result{Invocation: inv, Err: context.Canceled}
	}
	if len(invs) == 0 {
		return results
	}

	var bar *pb.ProgressBar
	if r.Progress != nil {
		bar = pb.New(len(invs))
		bar.SetWriter(r.Progress)
		bar.Set("prefix", "enrich ")
		bar.Start()
		defer bar.Finish()
	}

	type done struct {
		idx int
		err error
	}
	work := make(chan int, threads*2)
	out := make(chan done, threads*2)

	// Workers
	var wg sync.WaitGroup
	wg.Add(threads)
	for w := 0; w < threads; w++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case i, ok := <-work:
					if !ok {
						return
					}
					// The collector drains out until it is closed.
					out <- done{idx: i, err: r.submit(ctx, invs[i])}
				}
			}
		}()
	}

	// Collector
	var cwg sync.WaitGroup
	cwg.Add(1)
	go func() {
		defer cwg.Done()
		for d := range out {
			results[d.idx].Err = d.err
			if bar != nil {
				bar.Increment()
			}
			r.report(results[d.idx])
		}
	}()

	// Feed work
feed:
	for i := range invs {
		select {
		case <-ctx.Done():
			break feed
		case work <- i:
		}
	}
	close(work)
	wg.Wait()
	close(out)
	cwg.Wait()

	if err := ctx.Err(); err != nil {
		for i := range results {
			if errors.Is(results[i].Err, context.Canceled) {
				results[i].Err = err
			}
		}
	}
	return results
}

func (r *Runner) submit(ctx context.Context, inv Invocation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := r.Executor.Submit(ctx, r.Engine.Job(inv))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	ee := &EngineError{Label: inv.Label, Direction: inv.Direction, LogPath: inv.Log, Err: err}
	var xe *jobs.ExitError
	if errors.As(err, &xe) {
		ee.ExitCode = xe.Code
	}
	return ee
}

func (r *Runner) report(res Result) {
	if r.Logger == nil {
		return
	}
	lg := r.Logger.WithField("label", res.Label)
	if res.Direction != direction.None {
		lg = lg.WithField("direction", res.Direction.String())
	}
	switch {
	case res.Err == nil:
		lg.Debugf("wrote %s", res.Output)
	case errors.Is(res.Err, context.Canceled), errors.Is(res.Err, context.DeadlineExceeded):
		lg.Debug("cancelled")
	default:
		lg.WithField("log", res.Log).Errorf("invocation failed: %v", res.Err)
	}
}
