// internal/pipeline/pipeline.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/Acribbs/cribbslab/internal/aggregate"
	"github.com/Acribbs/cribbslab/internal/cliutil"
	"github.com/Acribbs/cribbslab/internal/config"
	"github.com/Acribbs/cribbslab/internal/direction"
	"github.com/Acribbs/cribbslab/internal/enrich"
	"github.com/Acribbs/cribbslab/internal/genelists"
	"github.com/Acribbs/cribbslab/internal/jobs"
	"github.com/Acribbs/cribbslab/internal/logging"
	"github.com/Acribbs/cribbslab/internal/render"
	"github.com/Acribbs/cribbslab/internal/segments"
	"github.com/Acribbs/cribbslab/internal/workspace"
)

// Directory and file names under the output directory.
const (
	SegmentsDir   = "bed_segments.dir"
	GeneListsDir  = "genexpression.dir"
	DirectionsDir = "bed_segments_up_down.dir"
	MergedName    = "merged_gat"
)

var (
	// ErrNoLabels marks a degenerate run: the segmentation had no records.
	ErrNoLabels = errors.New("segmentation has no labelled records")
	// ErrInvocationsFailed is returned after aggregation when some engine
	// invocations failed and failures are not allowed.
	ErrInvocationsFailed = errors.New("completed with failed invocations")
)

// Options configures Run.
type Options struct {
	Config        *config.Config
	Executor      jobs.Executor   // nil uses jobs.Local
	Logger        log.FieldLogger // nil discards
	Progress      io.Writer       // nil disables progress bars
	AllowFailures bool
}

// Report summarizes a run.
type Report struct {
	Mode      config.Mode
	Labels    []segments.LabelFile
	Results   []enrich.Result
	Annotated []enrich.Result
	// Matrices and Plots are keyed by direction; plain mode uses direction.None.
	Matrices map[direction.Direction]string
	Plots    map[direction.Direction]string
	Failed   int
}

// MatrixName is the CSV name of the matrix for d.
func MatrixName(d direction.Direction) string {
	if d == direction.None {
		return MergedName + ".csv"
	}
	return d.String() + "_" + MergedName + ".csv"
}

// Run executes the configured pipeline.
func Run(ctx context.Context, opts Options) (*Report, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	lg := opts.Logger
	if lg == nil {
		lg = logging.Discard()
	}
	exec := opts.Executor
	if exec == nil {
		exec = jobs.Local{}
	}
	mode := cfg.EffectiveMode()
	rep := &Report{
		Mode:     mode,
		Matrices: map[direction.Direction]string{},
		Plots:    map[direction.Direction]string{},
	}

	out := cfg.Path(cfg.OutputDir)
	if err := os.MkdirAll(out, 0o755); err != nil {
		return rep, err
	}
	if cfg.ChromHMM.SegmentBed == "" {
		return rep, errors.New("chromhmm.segment_bed is not set")
	}
	if cfg.GAT.Contig == "" {
		return rep, errors.New("gat.contig (workspace) is not set")
	}

	// Split
	format, err := segments.ParseFormat(cfg.ChromHMM.Format)
	if err != nil {
		return rep, err
	}
	segDir := filepath.Join(out, SegmentsDir)
	labels, err := segments.Split(ctx, segments.Options{
		Input:          cfg.Path(cfg.ChromHMM.SegmentBed),
		OutDir:         segDir,
		Format:         format,
		LabelAttribute: cfg.ChromHMM.LabelAttribute,
		Logger:         lg,
	})
	if err != nil {
		return rep, fmt.Errorf("split: %w", err)
	}
	rep.Labels = labels
	if len(labels) == 0 {
		logging.Warnf(lg, false, "%s has no labelled records; nothing to do", cfg.ChromHMM.SegmentBed)
		return rep, ErrNoLabels
	}

	// Workspace
	wsPath := cfg.Path(cfg.GAT.Contig)
	ws, err := workspace.Load(wsPath)
	if err != nil {
		return rep, err
	}
	for _, lf := range labels {
		outside, total, err := ws.Outside(lf.Path, string(format))
		if err != nil {
			return rep, err
		}
		if outside > 0 {
			logging.Warnf(lg.WithField("label", lf.Label), false,
				"%d of %d segments lie outside the workspace", outside, total)
		}
	}

	runner := &enrich.Runner{
		Engine:   enrich.GAT{Command: cfg.GAT.Command, Extra: cfg.GAT.Extra},
		Executor: exec,
		Threads:  cfg.Threads,
		Logger:   lg,
		Progress: opts.Progress,
	}

	switch mode {
	case config.ModeDirectionSplit:
		err = runDirectional(ctx, cfg, rep, runner, labels, ws, wsPath, out, lg)
	default:
		err = runPlain(ctx, cfg, rep, runner, labels, wsPath, out, lg)
	}
	if err != nil {
		return rep, err
	}

	if cfg.Homer.Genome != "" {
		hr := *runner
		hr.Engine = enrich.Homer{Command: cfg.Homer.Command, Genome: cfg.Homer.Genome}
		rep.Annotated = hr.RunAnnotate(ctx, labels, segDir)
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Failed += len(enrich.Failed(rep.Annotated))
	}

	if rep.Failed > 0 && !opts.AllowFailures {
		return rep, fmt.Errorf("%w: %d", ErrInvocationsFailed, rep.Failed)
	}
	return rep, nil
}

func runPlain(ctx context.Context, cfg *config.Config, rep *Report, runner *enrich.Runner,
	labels []segments.LabelFile, wsPath, out string, lg log.FieldLogger) error {
	if cfg.GAT.AnnotationBed == "" {
		return errors.New("gat.annotation_bed is not set")
	}
	res := runner.RunPlain(ctx, labels, cfg.Path(cfg.GAT.AnnotationBed), wsPath, filepath.Join(out, SegmentsDir))
	rep.Results = res
	if err := ctx.Err(); err != nil {
		return err
	}
	rep.Failed += len(enrich.Failed(res))

	tables, err := readTables(res)
	if err != nil {
		return err
	}
	m, err := aggregate.Build(tables)
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	return emit(cfg, rep, m, out, lg)
}

func runDirectional(ctx context.Context, cfg *config.Config, rep *Report, runner *enrich.Runner,
	labels []segments.LabelFile, ws *workspace.Index, wsPath, out string, lg log.FieldLogger) error {
	ge := cfg.GeneExpression
	lists, err := cliutil.ExpandPositionals(cfg.Paths(ge.GeneLists))
	if err != nil {
		return fmt.Errorf("gene lists: %w", err)
	}
	var contigs genelists.Contigs
	if ge.GenomeSizes == "" {
		logging.Warnf(lg, false, "geneexpression.genome_sizes is not set; contig ends are approximated by the workspace extents")
		contigs = ws.Genome()
	} else {
		g, err := workspace.LoadGenome(cfg.Path(ge.GenomeSizes))
		if err != nil {
			return err
		}
		contigs = g
	}
	built, err := genelists.Build(ctx, genelists.Options{
		Lists:      lists,
		Directions: ge.Directions,
		Refs: genelists.References{
			Coding: cfg.Path(ge.CodingGene),
			TSS:    cfg.Path(ge.TSS),
			TTS:    cfg.Path(ge.TTS),
		},
		Attribute: ge.GeneAttribute,
		Flank:     cfg.Flank(),
		Contigs:   contigs,
		OutDir:    filepath.Join(out, GeneListsDir),
		Threads:   cfg.Threads,
		Logger:    lg,
	})
	if err != nil {
		return fmt.Errorf("annotation sets: %w", err)
	}

	udDir := filepath.Join(out, DirectionsDir)
	if err := os.MkdirAll(udDir, 0o755); err != nil {
		return err
	}
	res := runner.RunDirectional(ctx, labels, built.Merged, wsPath, udDir)
	rep.Results = res
	if err := ctx.Err(); err != nil {
		return err
	}
	rep.Failed += len(enrich.Failed(res))

	tables, err := readTables(res)
	if err != nil {
		return err
	}
	ms, err := aggregate.BuildByDirection(tables, direction.All...)
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	for _, d := range direction.All {
		if err := emit(cfg, rep, ms[d], out, lg); err != nil {
			return err
		}
	}
	return nil
}

// readTables loads the tables of successful invocations, keyed explicitly.
func readTables(res []enrich.Result) ([]aggregate.Table, error) {
	tables := make([]aggregate.Table, 0, len(res))
	for _, r := range res {
		if !r.OK() {
			continue
		}
		t, err := aggregate.ReadTable(r.Output, aggregate.Key{Label: r.Label, Direction: r.Direction})
		if err != nil {
			return nil, fmt.Errorf("result of %s: %w", r.Name(), err)
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func emit(cfg *config.Config, rep *Report, m *aggregate.Matrix, out string, lg log.FieldLogger) error {
	d := m.Direction
	if m.Overwrites > 0 {
		logging.Warnf(lg, false, "%s: %d duplicate (annotation, label) rows; kept the last value", MatrixName(d), m.Overwrites)
	}
	csv := filepath.Join(out, MatrixName(d))
	if err := m.Save(csv); err != nil {
		return err
	}
	rep.Matrices[d] = csv
	rows, cols := m.Dims()
	lg.Infof("wrote %s (%d annotations x %d labels)", csv, rows, cols)

	if !cfg.PlotEnabled() || rows == 0 {
		return nil
	}
	plotPath := csv[:len(csv)-len(".csv")] + "." + cfg.Plot.Format
	title := MergedName
	if d != direction.None {
		title = d.String()
	}
	err := render.Heatmap(m, render.Options{Path: plotPath, Title: title, Palette: cfg.Plot.Palette})
	if errors.Is(err, render.ErrEmptyMatrix) {
		logging.Warnf(lg, false, "%s: every cell is undefined; skipping the heat map", MatrixName(d))
		return nil
	}
	if err != nil {
		return fmt.Errorf("plot: %w", err)
	}
	rep.Plots[d] = plotPath
	return nil
}
