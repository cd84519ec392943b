package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/youta-t/flarc"

	"github.com/Acribbs/cribbslab/internal/aggregate"
	"github.com/Acribbs/cribbslab/internal/render"
)

type RenderFlags struct {
	Output  string `flag:"output" alias:"o" metavar:"FILE" help:"image file; the extension picks the format (default: matrix name with plot.format)"`
	Title   string `flag:"title" help:"plot title (default: matrix file name)"`
	Palette string `flag:"palette" metavar:"heat|blue-red" help:"color palette (default: plot.palette)"`
}

const ARG_MATRIX = "MATRIX"

func NewRender(status *Status) (flarc.Command, error) {
	return flarc.NewCommand(
		"draw a score matrix as a heat map",
		RenderFlags{},
		flarc.Args{
			{Name: ARG_MATRIX, Required: true, Help: "matrix CSV written by aggregate or run"},
		},
		NewTask(status, RenderTask),
	)
}

func RenderTask(ctx context.Context, env Env, cl flarc.Commandline[RenderFlags], _ []any) error {
	cfg := env.Config
	flags := cl.Flags()
	in := cl.Args()[ARG_MATRIX][0]

	m, err := aggregate.LoadCSV(in)
	if err != nil {
		return err
	}
	base := strings.TrimSuffix(in, ".csv")
	out := pick(flags.Output, base+"."+cfg.Plot.Format)
	title := pick(flags.Title, strings.TrimSuffix(filepath.Base(base), "_gat"))
	if err := render.Heatmap(m, render.Options{
		Path:    out,
		Title:   title,
		Palette: pick(flags.Palette, cfg.Plot.Palette),
	}); err != nil {
		return err
	}
	_, err = fmt.Fprintln(cl.Stdout(), out)
	return err
}
