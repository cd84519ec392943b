package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/youta-t/flarc"

	"github.com/Acribbs/cribbslab/internal/pipeline"
	"github.com/Acribbs/cribbslab/internal/segments"
)

type SplitFlags struct {
	Format         string `flag:"format" help:"bed | gff (default: chromhmm.format)"`
	LabelAttribute string `flag:"label-attribute" help:"GFF attribute holding the label (default: chromhmm.label_attribute)"`
	OutDir         string `flag:"out-dir" help:"directory for <label>_segments files (default: <output_dir>/bed_segments.dir)"`
}

const ARG_SEGMENTATION = "SEGMENTATION"

func NewSplit(status *Status) (flarc.Command, error) {
	return flarc.NewCommand(
		"split a segmentation into one file per label",
		SplitFlags{},
		flarc.Args{
			{
				Name: ARG_SEGMENTATION, Required: false,
				Help: "segmentation file, gzip accepted, - for stdin (default: chromhmm.segment_bed)",
			},
		},
		NewTask(status, SplitTask),
	)
}

// SplitTask prints one "label<TAB>path<TAB>records" line per label.
func SplitTask(ctx context.Context, env Env, cl flarc.Commandline[SplitFlags], _ []any) error {
	cfg := env.Config
	flags := cl.Flags()

	input := cfg.Path(cfg.ChromHMM.SegmentBed)
	if a := cl.Args()[ARG_SEGMENTATION]; len(a) > 0 {
		input = a[0]
	}
	if input == "" {
		return fmt.Errorf("%w: no segmentation given", flarc.ErrUsage)
	}
	fs := cfg.ChromHMM.Format
	if flags.Format != "" {
		fs = flags.Format
	}
	format, err := segments.ParseFormat(fs)
	if err != nil {
		return fmt.Errorf("%w: %v", flarc.ErrUsage, err)
	}
	attr := cfg.ChromHMM.LabelAttribute
	if flags.LabelAttribute != "" {
		attr = flags.LabelAttribute
	}
	out := flags.OutDir
	if out == "" {
		out = filepath.Join(cfg.Path(cfg.OutputDir), pipeline.SegmentsDir)
	}

	labels, err := segments.Split(ctx, segments.Options{
		Input: input, OutDir: out, Format: format, LabelAttribute: attr, Logger: env.Logger,
	})
	if err != nil {
		return err
	}
	if len(labels) == 0 {
		return pipeline.ErrNoLabels
	}
	for _, lf := range labels {
		if _, err := fmt.Fprintf(cl.Stdout(), "%s\t%s\t%d\n", lf.Label, lf.Path, lf.Records); err != nil {
			return err
		}
	}
	return nil
}
