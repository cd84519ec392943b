package render

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/Acribbs/cribbslab/internal/aggregate"
	"github.com/Acribbs/cribbslab/internal/direction"
)

func example(t *testing.T) *aggregate.Matrix {
	t.Helper()
	m, err := aggregate.Build([]aggregate.Table{
		{Key: aggregate.Key{Label: "E1"}, Rows: []aggregate.Row{{Annotation: "TSS", Fold: 1.2}, {Annotation: "Enhancer", Fold: 0.3}}},
		{Key: aggregate.Key{Label: "E2"}, Rows: []aggregate.Row{{Annotation: "TSS", Fold: -0.5}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestGridIsTransposedWithNaN(t *testing.T) {
	g := NewGrid(example(t))
	c, r := g.Dims()
	if c != 2 || r != 2 {
		t.Fatalf("dims c=%d r=%d", c, r)
	}
	// row 1 = E2, column 1 = Enhancer
	if !math.IsNaN(g.Z(1, 1)) {
		t.Fatalf("missing cell should be NaN, got %v", g.Z(1, 1))
	}
	if g.Z(0, 1) != -0.5 {
		t.Fatalf("E2/TSS = %v", g.Z(0, 1))
	}
	lo, hi, ok := g.Range()
	if !ok || lo != -0.5 || hi != 1.2 {
		t.Fatalf("range %v %v %v", lo, hi, ok)
	}
}

func TestHeatmapWritesFile(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"merged_gat.png", "merged_gat.svg"} {
		fn := filepath.Join(dir, name)
		if err := Heatmap(example(t), Options{Path: fn, Title: "merged", Palette: "blue-red"}); err != nil {
			t.Fatalf("Heatmap %s: %v", name, err)
		}
		if st, err := os.Stat(fn); err != nil || st.Size() == 0 {
			t.Fatalf("no plot written for %s: %v", name, err)
		}
	}
}

func TestHeatmapRejects(t *testing.T) {
	dir := t.TempDir()
	empty, err := aggregate.Build([]aggregate.Table{{Key: aggregate.Key{Label: "E1", Direction: direction.Up}}})
	if err != nil {
		t.Fatal(err)
	}
	if err := Heatmap(empty, Options{Path: filepath.Join(dir, "x.png")}); !errors.Is(err, ErrEmptyMatrix) {
		t.Fatalf("want ErrEmptyMatrix, got %v", err)
	}
	if err := Heatmap(example(t), Options{Path: filepath.Join(dir, "x.bmp")}); err == nil {
		t.Fatalf("want error for unknown format")
	}
	if err := Heatmap(example(t), Options{Path: filepath.Join(dir, "x.png"), Palette: "rainbow"}); err == nil {
		t.Fatalf("want error for unknown palette")
	}
}
