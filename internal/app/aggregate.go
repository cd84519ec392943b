package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/youta-t/flarc"

	"github.com/Acribbs/cribbslab/internal/aggregate"
	"github.com/Acribbs/cribbslab/internal/cliutil"
	"github.com/Acribbs/cribbslab/internal/direction"
	"github.com/Acribbs/cribbslab/internal/logging"
	"github.com/Acribbs/cribbslab/internal/pipeline"
)

type AggregateFlags struct {
	Output      string `flag:"output" alias:"o" metavar:"CSV" help:"matrix file, - for stdout (default: <output_dir>/merged_gat.csv)"`
	ByDirection bool   `flag:"by-direction" help:"write one matrix per direction from direction-prefixed results"`
	OutDir      string `flag:"out-dir" help:"directory of the per-direction matrices (default: output_dir)"`
}

const ARG_RESULT = "RESULT"

func NewAggregate(status *Status) (flarc.Command, error) {
	return flarc.NewCommand(
		"merge engine result tables into an annotation x label matrix",
		AggregateFlags{},
		flarc.Args{
			{
				Name: ARG_RESULT, Required: true, Repeatable: true,
				Help: "[<direction>_]<label>_segments.out result table, or a glob of them",
			},
		},
		NewTask(status, AggregateTask),
		flarc.WithDescription(`
The label (and, with --by-direction, the direction) of every table is taken
from its file name. Cells of labels that do not report an annotation are left
empty.
`),
	)
}

func AggregateTask(ctx context.Context, env Env, cl flarc.Commandline[AggregateFlags], _ []any) error {
	cfg := env.Config
	flags := cl.Flags()

	paths, err := cliutil.ExpandPositionals(cl.Args()[ARG_RESULT])
	if err != nil {
		return fmt.Errorf("%w: %v", flarc.ErrUsage, err)
	}
	tables := make([]aggregate.Table, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		t, err := aggregate.ReadTableFile(p, flags.ByDirection)
		if err != nil {
			return err
		}
		tables = append(tables, t)
	}

	if !flags.ByDirection {
		m, err := aggregate.Build(tables)
		if err != nil {
			return err
		}
		warnOverwrites(env, m)
		out := pick(flags.Output, filepath.Join(cfg.Path(cfg.OutputDir), pipeline.MatrixName(direction.None)))
		if out == "-" {
			return m.WriteCSV(cl.Stdout())
		}
		if err := m.Save(out); err != nil {
			return err
		}
		_, err = fmt.Fprintln(cl.Stdout(), out)
		return err
	}

	if flags.Output != "" {
		return errors.Join(flarc.ErrUsage, errors.New("--output does not apply with --by-direction; use --out-dir"))
	}
	ms, err := aggregate.BuildByDirection(tables, direction.All...)
	if err != nil {
		return err
	}
	dir := pick(flags.OutDir, cfg.Path(cfg.OutputDir))
	for _, d := range direction.All {
		m := ms[d]
		warnOverwrites(env, m)
		out := filepath.Join(dir, pipeline.MatrixName(d))
		if err := m.Save(out); err != nil {
			return err
		}
		if _, err := fmt.Fprintln(cl.Stdout(), out); err != nil {
			return err
		}
	}
	return nil
}

func warnOverwrites(env Env, m *aggregate.Matrix) {
	if m.Overwrites > 0 {
		logging.Warnf(env.Logger, false, "%d duplicate (annotation, label) rows; kept the last value", m.Overwrites)
	}
}
