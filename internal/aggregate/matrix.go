// Package aggregate folds per-label enrichment result tables into
// annotation-by-label score matrices.
package aggregate

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/Acribbs/cribbslab/internal/direction"
	"github.com/Acribbs/cribbslab/internal/gzio"
)

// Cell is one populated matrix entry and the table it came from.
type Cell struct {
	Value  float64
	Source string
}

// Matrix maps annotation -> label -> cell. Rows and columns keep the order in
// which they were first seen. Absent cells are undefined, not zero.
type Matrix struct {
	Direction   direction.Direction
	Labels      []string
	Annotations []string
	// Overwrites counts (annotation, label) pairs assigned more than once.
	Overwrites int

	cells map[string]map[string]Cell
}

// Build folds tables into a matrix in a single pass. All tables must share
// one direction. A repeated (annotation, label) pair keeps the last value.
func Build(tables []Table) (*Matrix, error) {
	if len(tables) == 0 {
		return nil, &EmptyAggregationError{}
	}
	m := &Matrix{Direction: tables[0].Key.Direction, cells: map[string]map[string]Cell{}}
	seenLabel := map[string]bool{}
	for _, t := range tables {
		if t.Key.Label == "" {
			return nil, &LabelRecoveryError{Path: t.Source}
		}
		if t.Key.Label == AnnotationColumn {
			return nil, &ReservedLabelError{Label: t.Key.Label, Source: t.Source}
		}
		if t.Key.Direction != m.Direction {
			return nil, fmt.Errorf("table %s is %q, matrix is %q", t.Source, t.Key.Direction, m.Direction)
		}
		if !seenLabel[t.Key.Label] {
			seenLabel[t.Key.Label] = true
			m.Labels = append(m.Labels, t.Key.Label)
		}
		for _, r := range t.Rows {
			row, ok := m.cells[r.Annotation]
			if !ok {
				row = map[string]Cell{}
				m.cells[r.Annotation] = row
				m.Annotations = append(m.Annotations, r.Annotation)
			}
			if _, dup := row[t.Key.Label]; dup {
				m.Overwrites++
			}
			row[t.Key.Label] = Cell{Value: r.Fold, Source: t.Source}
		}
	}
	return m, nil
}

// BuildByDirection partitions tables by direction and builds one matrix per
// direction in dirs. A direction without tables is an EmptyAggregationError.
func BuildByDirection(tables []Table, dirs ...direction.Direction) (map[direction.Direction]*Matrix, error) {
	if len(dirs) == 0 {
		dirs = direction.All
	}
	parts := map[direction.Direction][]Table{}
	for _, t := range tables {
		parts[t.Key.Direction] = append(parts[t.Key.Direction], t)
	}
	out := make(map[direction.Direction]*Matrix, len(dirs))
	for _, d := range dirs {
		if len(parts[d]) == 0 {
			return nil, &EmptyAggregationError{Direction: d.String()}
		}
		m, err := Build(parts[d])
		if err != nil {
			return nil, err
		}
		out[d] = m
	}
	return out, nil
}

// Cell returns the cell at (annotation, label).
func (m *Matrix) Cell(annotation, label string) (Cell, bool) {
	c, ok := m.cells[annotation][label]
	return c, ok
}

// Get returns the value at (annotation, label).
func (m *Matrix) Get(annotation, label string) (float64, bool) {
	c, ok := m.Cell(annotation, label)
	return c.Value, ok
}

// Dims is (rows, columns).
func (m *Matrix) Dims() (int, int) { return len(m.Annotations), len(m.Labels) }

// DataFrame materializes the matrix as string columns; missing cells are "".
func (m *Matrix) DataFrame() dataframe.DataFrame {
	cols := make([]series.Series, 0, len(m.Labels)+1)
	cols = append(cols, series.New(append([]string{}, m.Annotations...), series.String, AnnotationColumn))
	for _, l := range m.Labels {
		vals := make([]string, len(m.Annotations))
		for i, a := range m.Annotations {
			if v, ok := m.Get(a, l); ok {
				vals[i] = strconv.FormatFloat(v, 'g', -1, 64)
			}
		}
		cols = append(cols, series.New(vals, series.String, l))
	}
	return dataframe.New(cols...)
}

// WriteCSV writes the matrix with "annotation" as the index column.
func (m *Matrix) WriteCSV(w io.Writer) error {
	df := m.DataFrame()
	if df.Err != nil {
		return df.Err
	}
	return df.WriteCSV(w)
}

// Save writes the matrix to path (gzip when path ends in .gz).
func (m *Matrix) Save(path string) (err error) {
	w, err := gzio.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return m.WriteCSV(w)
}

// ReadCSV reads a matrix written by WriteCSV. Empty, "NA" and "NaN"
// cells are missing.
func ReadCSV(r io.Reader) (*Matrix, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if lines := strings.Split(strings.TrimSpace(string(body)), "\n"); len(lines) == 1 {
		names := strings.Split(strings.TrimSpace(lines[0]), ",")
		if names[0] != AnnotationColumn {
			return nil, fmt.Errorf("first column must be %q", AnnotationColumn)
		}
		return &Matrix{cells: map[string]map[string]Cell{}, Labels: names[1:]}, nil
	}
	df := dataframe.ReadCSV(bytes.NewReader(body),
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.NaNValues([]string{}),
	)
	if df.Err != nil {
		return nil, df.Err
	}
	names := df.Names()
	if len(names) == 0 || names[0] != AnnotationColumn {
		return nil, fmt.Errorf("first column must be %q", AnnotationColumn)
	}
	m := &Matrix{cells: map[string]map[string]Cell{}, Labels: append([]string{}, names[1:]...)}
	for _, a := range df.Col(AnnotationColumn).Records() {
		if _, ok := m.cells[a]; !ok {
			m.cells[a] = map[string]Cell{}
			m.Annotations = append(m.Annotations, a)
		}
	}
	ann := df.Col(AnnotationColumn).Records()
	for _, l := range m.Labels {
		for i, s := range df.Col(l).Records() {
			s = strings.TrimSpace(s)
			if s == "" || s == "NA" || s == "NaN" {
				continue
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("%s/%s: %w", ann[i], l, err)
			}
			if math.IsNaN(v) {
				continue
			}
			m.cells[ann[i]][l] = Cell{Value: v}
		}
	}
	return m, nil
}

// LoadCSV reads a matrix file.
func LoadCSV(path string) (*Matrix, error) {
	r, err := gzio.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	m, err := ReadCSV(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
