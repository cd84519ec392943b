package aggregate

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"

	"github.com/Acribbs/cribbslab/internal/direction"
	"github.com/Acribbs/cribbslab/internal/gzio"
)

// Result table columns read from the engine output.
const (
	AnnotationColumn = "annotation"
	FoldColumn       = "l2fold"
)

const resultSuffix = "_segments.out"

// Key identifies the label (and direction) a table belongs to.
type Key struct {
	Label     string
	Direction direction.Direction
}

// Row is one (annotation, fold-change) pair.
type Row struct {
	Annotation string
	Fold       float64
}

// Table is one engine result table with its key.
type Table struct {
	Key    Key
	Source string
	Rows   []Row
}

// RecoverKey derives the key from a result file name such as
// "E1_segments.out". With byDirection set, a leading direction prefix as in
// "downregulated_E1_segments.out" is split off into the key's direction;
// otherwise the whole stem is the label.
func RecoverKey(path string, byDirection bool) (Key, error) {
	base := gzio.TrimGz(filepath.Base(path))
	if !strings.HasSuffix(base, resultSuffix) {
		return Key{}, &LabelRecoveryError{Path: path}
	}
	stem := strings.TrimSuffix(base, resultSuffix)
	k := Key{Label: stem}
	if byDirection {
		for _, d := range direction.All {
			if p := d.String() + "_"; strings.HasPrefix(stem, p) {
				k = Key{Label: strings.TrimPrefix(stem, p), Direction: d}
				break
			}
		}
	}
	if k.Label == "" {
		return Key{}, &LabelRecoveryError{Path: path}
	}
	return k, nil
}

// ReadTable reads an engine result table from path.
func ReadTable(path string, key Key) (Table, error) {
	r, err := gzio.Open(path)
	if err != nil {
		return Table{}, err
	}
	defer r.Close()
	t, err := ParseTable(r, key)
	if err != nil {
		return Table{}, fmt.Errorf("%s: %w", path, err)
	}
	t.Source = path
	return t, nil
}

// ReadTableFile reads path and recovers its key from the file name, as
// RecoverKey does.
func ReadTableFile(path string, byDirection bool) (Table, error) {
	k, err := RecoverKey(path, byDirection)
	if err != nil {
		return Table{}, err
	}
	return ReadTable(path, k)
}

// ParseTable reads a tab-delimited table with at least the annotation and
// l2fold columns. Lines starting with '#' are ignored. A table with a header
// and no rows (or no content at all) has zero rows. Fields are split on tabs
// only; quote characters are kept as written.
func ParseTable(r io.Reader, key Key) (Table, error) {
	t := Table{Key: key}
	body, err := stripComments(r)
	if err != nil {
		return t, err
	}
	records := splitTabs(body)
	if len(records) == 0 {
		return t, nil
	}
	for i, name := range records[0] {
		records[0][i] = strings.TrimSpace(name)
	}
	if err := requireColumns(records[0]); err != nil {
		return t, err
	}
	if len(records) == 1 {
		return t, nil
	}
	for i, rec := range records[1:] {
		if len(rec) != len(records[0]) {
			return t, fmt.Errorf("line %d: want %d fields, got %d", i+2, len(records[0]), len(rec))
		}
	}

	df := dataframe.LoadRecords(records,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.NaNValues([]string{}),
	)
	if df.Err != nil {
		return t, df.Err
	}
	ann := df.Col(AnnotationColumn).Records()
	fold := df.Col(FoldColumn).Records()
	t.Rows = make([]Row, 0, len(ann))
	for i := range ann {
		v, err := strconv.ParseFloat(strings.TrimSpace(fold[i]), 64)
		if err != nil {
			return t, fmt.Errorf("row %d (%s): %s: %w", i+1, ann[i], FoldColumn, err)
		}
		t.Rows = append(t.Rows, Row{Annotation: ann[i], Fold: v})
	}
	return t, nil
}

func splitTabs(body []byte) [][]string {
	var records [][]string
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		records = append(records, strings.Split(line, "\t"))
	}
	return records
}

func requireColumns(names []string) error {
	have := map[string]bool{}
	for _, n := range names {
		have[strings.TrimSpace(n)] = true
	}
	for _, c := range []string{AnnotationColumn, FoldColumn} {
		if !have[c] {
			return fmt.Errorf("missing %q column", c)
		}
	}
	return nil
}

// stripComments drops '#' and blank lines.
func stripComments(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), sc.Err()
}
