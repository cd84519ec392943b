// Package render draws score matrices as heat maps.
package render

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/Acribbs/cribbslab/internal/aggregate"
)

// ErrEmptyMatrix is returned for a matrix with no rows or no columns.
var ErrEmptyMatrix = errors.New("nothing to plot")

// Options configures Heatmap.
type Options struct {
	Path    string // extension selects the format
	Title   string
	Palette string // "heat" (default) or "blue-red"
	Colors  int    // palette size, default 64
}

// Grid is a score matrix transposed so labels are rows and annotations are
// columns. Missing cells are NaN.
type Grid struct {
	Dense       *mat.Dense
	Labels      []string
	Annotations []string
}

// NewGrid lays m out for plotting.
func NewGrid(m *aggregate.Matrix) Grid {
	rows, cols := len(m.Labels), len(m.Annotations)
	g := Grid{Labels: m.Labels, Annotations: m.Annotations}
	if rows == 0 || cols == 0 {
		return g
	}
	g.Dense = mat.NewDense(rows, cols, nil)
	for i, l := range m.Labels {
		for j, a := range m.Annotations {
			v, ok := m.Get(a, l)
			if !ok {
				v = math.NaN()
			}
			g.Dense.Set(i, j, v)
		}
	}
	return g
}

// Dims, Z, X and Y implement plotter.GridXYZ.
func (g Grid) Dims() (c, r int) {
	r, c = g.Dense.Dims()
	return c, r
}

func (g Grid) Z(c, r int) float64 { return g.Dense.At(r, c) }
func (g Grid) X(c int) float64    { return float64(c) }
func (g Grid) Y(r int) float64    { return float64(r) }

// Range is the min and max over populated cells.
func (g Grid) Range() (min, max float64, ok bool) {
	min, max = math.Inf(1), math.Inf(-1)
	r, c := g.Dense.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := g.Dense.At(i, j)
			if math.IsNaN(v) {
				continue
			}
			ok = true
			min, max = math.Min(min, v), math.Max(max, v)
		}
	}
	return min, max, ok
}

func pickPalette(name string, n int) (palette.Palette, error) {
	switch strings.ToLower(name) {
	case "", "heat":
		return palette.Heat(n, 1), nil
	case "blue-red", "bluered":
		cm := moreland.SmoothBlueRed()
		cm.SetMin(0)
		cm.SetMax(1)
		return cm.Palette(n), nil
	}
	return nil, fmt.Errorf("unknown palette %q", name)
}

var formats = map[string]bool{".png": true, ".svg": true, ".pdf": true, ".eps": true, ".jpg": true, ".jpeg": true, ".tif": true, ".tiff": true}

// Heatmap renders m to opts.Path.
func Heatmap(m *aggregate.Matrix, opts Options) error {
	if !formats[strings.ToLower(filepath.Ext(opts.Path))] {
		return fmt.Errorf("unsupported plot format %q", filepath.Ext(opts.Path))
	}
	g := NewGrid(m)
	if g.Dense == nil {
		return ErrEmptyMatrix
	}
	if opts.Colors < 2 {
		opts.Colors = 64
	}
	pal, err := pickPalette(opts.Palette, opts.Colors)
	if err != nil {
		return err
	}

	hm := plotter.NewHeatMap(g, pal)
	hm.NaN = color.Transparent
	lo, hi, ok := g.Range()
	if !ok {
		return ErrEmptyMatrix
	}
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}
	hm.Min, hm.Max = lo, hi

	p := plot.New()
	p.Title.Text = opts.Title
	p.Add(hm)
	p.X.Tick.Marker = plot.ConstantTicks(ticks(g.Annotations))
	p.Y.Tick.Marker = plot.ConstantTicks(ticks(g.Labels))
	p.X.Tick.Label.Rotation = math.Pi / 2
	p.X.Tick.Label.XAlign = draw.XRight
	p.X.Tick.Label.YAlign = draw.YCenter
	p.X.Label.Text = "annotation"
	p.Y.Label.Text = "label"

	w := vg.Length(math.Max(4, 0.35*float64(len(g.Annotations))+2)) * vg.Inch
	h := vg.Length(math.Max(3, 0.3*float64(len(g.Labels))+2)) * vg.Inch
	if err := p.Save(w, h, opts.Path); err != nil {
		return fmt.Errorf("save %s: %w", opts.Path, err)
	}
	return nil
}

func ticks(names []string) []plot.Tick {
	ts := make([]plot.Tick, len(names))
	for i, n := range names {
		ts[i] = plot.Tick{Value: float64(i), Label: n}
	}
	return ts
}
