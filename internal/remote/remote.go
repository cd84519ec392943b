// Package remote downloads repeat annotations from a PostgreSQL mirror of
// the genome browser's RepeatMasker (rmsk) tables.
package remote

import (
	"bufio"
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/biogo/biogo/io/featio/gff"
	"github.com/biogo/biogo/seq"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/Acribbs/cribbslab/internal/features"
	"github.com/Acribbs/cribbslab/internal/gzio"
)

// Queryer is the subset of *pgxpool.Pool used here.
type Queryer interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Rows is the subset of pgx.Rows read by this package.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
	Close()
}

// Connect opens a pool to dsn.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return pool, nil
}

const tablesQuery = `SELECT table_schema || '.' || table_name
FROM information_schema.tables
WHERE table_name LIKE '%rmsk'
ORDER BY 1`

// RepeatTables lists the tables whose name ends in "rmsk".
func RepeatTables(ctx context.Context, q Queryer) ([]string, error) {
	rows, err := q.Query(ctx, tablesQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// RepeatQuery builds the select over table, optionally restricted to classes.
func RepeatQuery(table string, classes []string) (string, []interface{}) {
	ident := pgx.Identifier(strings.Split(table, ".")).Sanitize()
	q := `SELECT "genoName", "genoStart", "genoEnd", "strand", "repName", "repClass", "repFamily" FROM ` + ident
	if len(classes) == 0 {
		return q, nil
	}
	return q + ` WHERE "repClass" = ANY($1)`, []interface{}{classes}
}

// Repeat is one rmsk row.
type Repeat struct {
	Contig     string
	Start, End int
	Strand     string
	Name       string
	Class      string
	Family     string
}

// Feature converts r to a GFF record. Starts stay 0-based; the writer
// prints them 1-based.
func (r Repeat) Feature() *gff.Feature {
	st := seq.None
	switch r.Strand {
	case "+":
		st = seq.Plus
	case "-":
		st = seq.Minus
	}
	return &gff.Feature{
		SeqName:    r.Contig,
		Source:     "repeat",
		Feature:    "exon",
		FeatStart:  r.Start,
		FeatEnd:    r.End,
		FeatStrand: st,
		FeatFrame:  gff.NoFrame,
		FeatAttributes: gff.Attributes{
			{Tag: "class", Value: `"` + r.Class + `"`},
			{Tag: "family", Value: `"` + r.Family + `"`},
			{Tag: "repName", Value: `"` + r.Name + `"`},
		},
	}
}

// Collect reads repeat rows, drops contigs matching any of exclude, and
// sorts by contig then start.
func Collect(rows Rows, exclude []*regexp.Regexp) ([]Repeat, error) {
	defer rows.Close()
	var out []Repeat
next:
	for rows.Next() {
		var r Repeat
		if err := rows.Scan(&r.Contig, &r.Start, &r.End, &r.Strand, &r.Name, &r.Class, &r.Family); err != nil {
			return nil, err
		}
		for _, re := range exclude {
			if re.MatchString(r.Contig) {
				continue next
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Contig != out[j].Contig {
			return out[i].Contig < out[j].Contig
		}
		return out[i].Start < out[j].Start
	})
	return out, nil
}

// Options configures FetchRepeats.
type Options struct {
	Table          string // empty: first table found by RepeatTables
	Classes        []string
	ExcludeContigs []string // regular expressions
	Output         string   // ".gz" selects gzip
	Logger         log.FieldLogger
}

// FetchRepeats downloads repeats to opts.Output as GFF. It returns the
// number of records written.
func FetchRepeats(ctx context.Context, q Queryer, opts Options) (int, error) {
	var exclude []*regexp.Regexp
	for _, s := range opts.ExcludeContigs {
		re, err := regexp.Compile(s)
		if err != nil {
			return 0, fmt.Errorf("exclude contig pattern %q: %w", s, err)
		}
		exclude = append(exclude, re)
	}

	table := opts.Table
	if table == "" {
		ts, err := RepeatTables(ctx, q)
		if err != nil {
			return 0, fmt.Errorf("list rmsk tables: %w", err)
		}
		if len(ts) == 0 {
			return 0, fmt.Errorf("no rmsk table in database")
		}
		table = ts[0]
	}
	sql, args := RepeatQuery(table, opts.Classes)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("query %s: %w", table, err)
	}
	reps, err := Collect(rows, exclude)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", table, err)
	}
	if opts.Logger != nil {
		opts.Logger.WithField("table", table).Infof("%d repeats", len(reps))
	}
	return len(reps), WriteGFF(opts.Output, reps)
}

// WriteGFF writes reps to path.
func WriteGFF(path string, reps []Repeat) (err error) {
	w, err := gzio.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	bw := bufio.NewWriter(w)
	fw := features.NewWriter(bw)
	for _, r := range reps {
		if err := fw.Write(r.Feature()); err != nil {
			return err
		}
	}
	return bw.Flush()
}
