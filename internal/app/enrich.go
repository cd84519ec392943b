package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/youta-t/flarc"

	"github.com/Acribbs/cribbslab/internal/cliutil"
	"github.com/Acribbs/cribbslab/internal/direction"
	"github.com/Acribbs/cribbslab/internal/enrich"
	"github.com/Acribbs/cribbslab/internal/pipeline"
	"github.com/Acribbs/cribbslab/internal/segments"
)

type EnrichFlags struct {
	Annotations   string `flag:"annotations" alias:"a" metavar:"FILE" help:"annotation set for a plain run (default: gat.annotation_bed)"`
	Up            string `flag:"up" metavar:"FILE" help:"upregulated annotation set; with --down selects a direction-split run"`
	Down          string `flag:"down" metavar:"FILE" help:"downregulated annotation set"`
	Workspace     string `flag:"workspace" alias:"w" metavar:"FILE" help:"workspace BED (default: gat.contig)"`
	OutDir        string `flag:"out-dir" help:"directory for *_segments.out (default: under output_dir)"`
	Command       string `flag:"command" help:"engine executable (default: gat.command)"`
	Threads       int    `flag:"threads" help:"concurrent invocations (0: from pipeline.yml)"`
	AllowFailures bool   `flag:"allow-failures" help:"exit 0 even if some invocations failed"`
	Progress      bool   `flag:"progress" help:"show a progress bar on stderr"`
}

const ARG_SEGMENTS = "SEGMENTS"

func NewEnrich(status *Status, deps Deps) (flarc.Command, error) {
	return flarc.NewCommand(
		"run the enrichment engine for per-label segment files",
		EnrichFlags{},
		flarc.Args{
			{
				Name: ARG_SEGMENTS, Required: true, Repeatable: true,
				Help: "<label>_segments.bed or .gff file, or a glob of them",
			},
		},
		NewTask(status, EnrichTask(deps)),
		flarc.WithDescription(`
Run one engine invocation per segment file, or two (one per direction) when
--up and --down are given. Invocations run concurrently; a failing one does
not stop the others. Prints "name<TAB>result<TAB>ok|failed" per invocation.
`),
	)
}

func EnrichTask(deps Deps) Task[EnrichFlags] {
	return func(ctx context.Context, env Env, cl flarc.Commandline[EnrichFlags], _ []any) error {
		cfg := env.Config
		flags := cl.Flags()

		paths, err := cliutil.ExpandPositionals(cl.Args()[ARG_SEGMENTS])
		if err != nil {
			return fmt.Errorf("%w: %v", flarc.ErrUsage, err)
		}
		labels := make([]segments.LabelFile, 0, len(paths))
		for _, p := range paths {
			l, ok := segments.LabelOf(p)
			if !ok {
				return fmt.Errorf("%w: %s: not a <label>_segments file", flarc.ErrUsage, p)
			}
			labels = append(labels, segments.LabelFile{Label: l, Path: p})
		}

		ws := pick(flags.Workspace, cfg.Path(cfg.GAT.Contig))
		if ws == "" {
			return fmt.Errorf("%w: no workspace given", flarc.ErrUsage)
		}
		directional := flags.Up != "" || flags.Down != ""
		if directional && (flags.Up == "" || flags.Down == "") {
			return fmt.Errorf("%w: --up and --down go together", flarc.ErrUsage)
		}
		if directional && flags.Annotations != "" {
			return fmt.Errorf("%w: --annotations excludes --up/--down", flarc.ErrUsage)
		}

		threads := cfg.Threads
		if flags.Threads > 0 {
			threads = flags.Threads
		}
		var progress io.Writer
		if flags.Progress {
			progress = cl.Stderr()
		}
		runner := &enrich.Runner{
			Engine:   enrich.GAT{Command: pick(flags.Command, cfg.GAT.Command), Extra: cfg.GAT.Extra},
			Executor: deps.executor(),
			Threads:  threads,
			Logger:   env.Logger,
			Progress: progress,
		}

		var res []enrich.Result
		if directional {
			out := pick(flags.OutDir, filepath.Join(cfg.Path(cfg.OutputDir), pipeline.DirectionsDir))
			if err := os.MkdirAll(out, 0o755); err != nil {
				return err
			}
			sets := map[direction.Direction]string{direction.Up: flags.Up, direction.Down: flags.Down}
			res = runner.RunDirectional(ctx, labels, sets, ws, out)
		} else {
			ann := pick(flags.Annotations, cfg.Path(cfg.GAT.AnnotationBed))
			if ann == "" {
				return fmt.Errorf("%w: no annotation set given", flarc.ErrUsage)
			}
			out := pick(flags.OutDir, filepath.Join(cfg.Path(cfg.OutputDir), pipeline.SegmentsDir))
			if err := os.MkdirAll(out, 0o755); err != nil {
				return err
			}
			res = runner.RunPlain(ctx, labels, ann, ws, out)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		for _, r := range res {
			state := "ok"
			if !r.OK() {
				state = "failed"
			}
			if _, err := fmt.Fprintf(cl.Stdout(), "%s\t%s\t%s\n", r.Name(), r.Output, state); err != nil {
				return err
			}
		}
		if n := len(enrich.Failed(res)); n > 0 && !flags.AllowFailures {
			return fmt.Errorf("%w: %d", pipeline.ErrInvocationsFailed, n)
		}
		return nil
	}
}
