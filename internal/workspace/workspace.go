// Package workspace loads the enrichment workspace and the contig lengths
// used to clamp extended annotations.
package workspace

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/biogo/biogo/io/featio"
	"github.com/biogo/biogo/io/featio/bed"
	"github.com/biogo/biogo/io/featio/gff"
	"github.com/biogo/store/interval"
	"github.com/go-gota/gota/dataframe"

	"github.com/Acribbs/cribbslab/internal/features"
	"github.com/Acribbs/cribbslab/internal/gzio"
)

// Genome maps contig names to lengths.
type Genome struct {
	Names   []string
	Lengths []int
	index   map[string]int
}

// NewGenome pairs names with lengths.
func NewGenome(names []string, lengths []int) *Genome {
	g := &Genome{Names: names, Lengths: lengths, index: make(map[string]int, len(names))}
	for i, s := range names {
		g.index[s] = lengths[i]
	}
	return g
}

// LoadGenome reads a two-column chrom sizes file.
func LoadGenome(path string) (*Genome, error) {
	r, err := gzio.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	df := dataframe.ReadCSV(r,
		dataframe.WithDelimiter('\t'),
		dataframe.HasHeader(false),
		dataframe.DetectTypes(false),
		dataframe.WithComments('#'),
		dataframe.NaNValues([]string{}),
	)
	if df.Err != nil {
		return nil, fmt.Errorf("chrom sizes %s: %w", path, df.Err)
	}
	if _, cols := df.Dims(); cols < 2 {
		return nil, fmt.Errorf("chrom sizes %s: want name and length columns", path)
	}
	names := df.Col(df.Names()[0]).Records()
	raw := df.Col(df.Names()[1]).Records()
	lengths := make([]int, len(raw))
	for i, s := range raw {
		l, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || l < 0 {
			return nil, fmt.Errorf("chrom sizes %s: line %d: bad length %q", path, i+1, s)
		}
		lengths[i] = l
	}
	return NewGenome(names, lengths), nil
}

// Length reports the length of contig.
func (g *Genome) Length(contig string) (int, bool) {
	if g == nil {
		return 0, false
	}
	l, ok := g.index[contig]
	return l, ok
}

// IntInterval is a half-open workspace interval stored in the tree.
type IntInterval struct {
	Start, End int
	UID        uintptr
}

func (i IntInterval) Overlap(b interval.IntRange) bool {
	return i.Start < b.End && b.Start < i.End
}

func (i IntInterval) ID() uintptr { return i.UID }

func (i IntInterval) Range() interval.IntRange {
	return interval.IntRange{Start: i.Start, End: i.End}
}

// Index is the workspace as one interval tree per contig.
type Index struct {
	Ranges []*bed.Bed3
	trees  map[string]*interval.IntTree
}

// Load reads a BED workspace (first three columns; gzip accepted).
func Load(path string) (*Index, error) {
	var rs []*bed.Bed3
	if err := eachBed3(path, func(b *bed.Bed3) error {
		rs = append(rs, b)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("workspace %s: %w", path, err)
	}
	return NewIndex(rs)
}

// eachBed3 calls fn for every record of a BED file. Comment, track and
// browser lines are skipped.
func eachBed3(path string, fn func(*bed.Bed3) error) error {
	r, err := gzio.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()
	body, err := records(r)
	if err != nil {
		return err
	}
	br, err := bed.NewReader(bytes.NewReader(body), 3)
	if err != nil {
		return err
	}
	sc := featio.NewScanner(br)
	for sc.Next() {
		if err := fn(sc.Feat().(*bed.Bed3)); err != nil {
			return err
		}
	}
	return sc.Error()
}

// records keeps the data lines of r, each newline-terminated.
func records(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.TrimSpace(line) == "",
			strings.HasPrefix(line, "#"),
			strings.HasPrefix(line, "track"),
			strings.HasPrefix(line, "browser"):
			continue
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), sc.Err()
}

// NewIndex builds the per-contig trees from rs.
func NewIndex(rs []*bed.Bed3) (*Index, error) {
	idx := &Index{Ranges: rs, trees: map[string]*interval.IntTree{}}
	for i, b := range rs {
		if b.ChromEnd <= b.ChromStart {
			continue
		}
		t, ok := idx.trees[b.Chrom]
		if !ok {
			t = &interval.IntTree{}
			idx.trees[b.Chrom] = t
		}
		if err := t.Insert(IntInterval{Start: b.ChromStart, End: b.ChromEnd, UID: uintptr(i)}, true); err != nil {
			return nil, err
		}
	}
	for _, t := range idx.trees {
		t.AdjustRanges()
	}
	return idx, nil
}

// Overlaps reports whether [start,end) on contig touches the workspace.
func (x *Index) Overlaps(contig string, start, end int) bool {
	t, ok := x.trees[contig]
	if !ok || end <= start {
		return false
	}
	return len(t.Get(IntInterval{Start: start, End: end})) > 0
}

// Genome derives contig lengths from the workspace extents. The lengths
// are lower bounds; a chrom sizes file gives the real contig ends.
func (x *Index) Genome() *Genome {
	var names []string
	max := map[string]int{}
	for _, b := range x.Ranges {
		if _, ok := max[b.Chrom]; !ok {
			names = append(names, b.Chrom)
		}
		if b.ChromEnd > max[b.Chrom] {
			max[b.Chrom] = b.ChromEnd
		}
	}
	lengths := make([]int, len(names))
	for i, s := range names {
		lengths[i] = max[s]
	}
	return NewGenome(names, lengths)
}

// Outside counts the records of a per-label segments file that do not
// touch the workspace. format is "bed" or "gff".
func (x *Index) Outside(path, format string) (outside, total int, err error) {
	check := func(contig string, from, to int) {
		total++
		if !x.Overlaps(contig, from, to) {
			outside++
		}
	}
	if format == "gff" {
		err = features.Each(path, func(f *gff.Feature) error {
			check(f.SeqName, f.FeatStart, f.FeatEnd)
			return nil
		})
		return outside, total, err
	}
	err = eachBed3(path, func(b *bed.Bed3) error {
		check(b.Chrom, b.ChromStart, b.ChromEnd)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("segments %s: %w", path, err)
	}
	return outside, total, nil
}
