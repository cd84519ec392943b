package app

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/youta-t/flarc"

	"github.com/Acribbs/cribbslab/internal/config"
	"github.com/Acribbs/cribbslab/internal/direction"
	"github.com/Acribbs/cribbslab/internal/pipeline"
)

type RunFlags struct {
	Mode          string `flag:"mode" help:"plain | direction-split (default: from pipeline.yml)"`
	Threads       int    `flag:"threads" help:"concurrent engine invocations (0: from pipeline.yml)"`
	AllowFailures bool   `flag:"allow-failures" help:"exit 0 even if some engine invocations failed"`
	Progress      bool   `flag:"progress" help:"show a progress bar on stderr"`
}

func NewRun(status *Status, deps Deps) (flarc.Command, error) {
	return flarc.NewCommand(
		"run the whole pipeline described by pipeline.yml",
		RunFlags{},
		flarc.Args{},
		NewTask(status, RunTask(deps)),
		flarc.WithDescription(`
Split the segmentation into labels, run the enrichment engine for every label
(and, in direction-split mode, for both up- and down-regulated annotation sets),
then write the score matrices and heat maps into output_dir.

Exit status is 4 when some engine invocations failed (see --allow-failures),
and no_label_exit_code (pipeline.yml) when the segmentation has no records.
`),
	)
}

func RunTask(deps Deps) Task[RunFlags] {
	return func(ctx context.Context, env Env, cl flarc.Commandline[RunFlags], _ []any) error {
		flags := cl.Flags()
		cfg := *env.Config
		if flags.Mode != "" {
			m, err := config.ParseMode(flags.Mode)
			if err != nil {
				return fmt.Errorf("%w: %v", flarc.ErrUsage, err)
			}
			cfg.Mode = m
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("%w: %v", flarc.ErrUsage, err)
			}
		}
		if flags.Threads > 0 {
			cfg.Threads = flags.Threads
		}
		var progress io.Writer
		if flags.Progress {
			progress = cl.Stderr()
		}

		rep, err := pipeline.Run(ctx, pipeline.Options{
			Config:        &cfg,
			Executor:      deps.executor(),
			Logger:        env.Logger,
			Progress:      progress,
			AllowFailures: flags.AllowFailures,
		})
		if rep != nil {
			if werr := printReport(cl.Stdout(), rep); werr != nil && err == nil {
				err = werr
			}
		}
		return err
	}
}

func printReport(w io.Writer, rep *pipeline.Report) error {
	dirs := make([]direction.Direction, 0, len(rep.Matrices))
	for d := range rep.Matrices {
		dirs = append(dirs, d)
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i] < dirs[j] })
	for _, d := range dirs {
		if _, err := fmt.Fprintln(w, rep.Matrices[d]); err != nil {
			return err
		}
		if p, ok := rep.Plots[d]; ok {
			if _, err := fmt.Fprintln(w, p); err != nil {
				return err
			}
		}
	}
	return nil
}
