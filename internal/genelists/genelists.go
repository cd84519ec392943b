// Package genelists turns up-/down-regulated gene lists into annotation
// interval sets: coding regions widened by a flank, plus start and end sites,
// merged per direction.
package genelists

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/biogo/biogo/io/featio/gff"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Acribbs/cribbslab/internal/direction"
	"github.com/Acribbs/cribbslab/internal/features"
	"github.com/Acribbs/cribbslab/internal/gzio"
)

// Feature column values written by FilterSites.
const (
	StartSite = "start-site"
	EndSite   = "end-site"
)

// DefaultFlank is the coding-region extension in bp.
const DefaultFlank = 2000

// Set is a gene identifier set.
type Set map[string]struct{}

func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// LoadGeneList reads one identifier per line. For .csv and .tsv files the
// first field is taken. Comment lines and a "gene"/"gene_id" header are skipped.
func LoadGeneList(path string) (Set, error) {
	r, err := gzio.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	sep := ""
	switch filepath.Ext(gzio.TrimGz(path)) {
	case ".csv":
		sep = ","
	case ".tsv":
		sep = "\t"
	}

	set := Set{}
	sc := bufio.NewScanner(r)
	first := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if sep != "" {
			line, _, _ = strings.Cut(line, sep)
		}
		id := strings.Trim(strings.TrimSpace(line), `"`)
		if first {
			first = false
			if h := strings.ToLower(id); h == "gene" || h == "gene_id" {
				continue
			}
		}
		if id != "" {
			set[id] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return set, nil
}

// ListName is the gene list's name: its base name without extensions.
func ListName(path string) string { return direction.Stem(path) }

// DirectionOf resolves a list's direction. An explicit entry wins over the
// name suffix.
func DirectionOf(path string, explicit map[string]direction.Direction) (direction.Direction, error) {
	name := ListName(path)
	if d, ok := explicit[name]; ok && d != direction.None {
		return d, nil
	}
	if d, ok := direction.FromName(name); ok {
		return d, nil
	}
	return direction.None, &AmbiguousDirectionError{List: name, Path: path}
}

// Matcher decides whether a reference feature belongs to the list.
// Membership is exact on the configured attribute, then gene_id, then gene_name.
type Matcher struct {
	Genes     Set
	Attribute string
}

func (m Matcher) Match(f *gff.Feature) bool {
	tags := []string{m.Attribute, "gene_id", "gene_name"}
	for _, t := range tags {
		if t == "" {
			continue
		}
		if v, ok := features.Attribute(f.FeatAttributes, t); ok && m.Genes.Has(v) {
			return true
		}
	}
	return false
}

// FilterCoding copies the reference features of listed genes to out.
// It returns the number of features written.
func FilterCoding(ref, out string, m Matcher) (int, error) {
	return filter(ref, out, m, "")
}

// FilterSites is FilterCoding over a start- or end-site reference with the
// feature column overwritten by marker.
func FilterSites(ref, out string, m Matcher, marker string) (int, error) {
	return filter(ref, out, m, marker)
}

func filter(ref, out string, m Matcher, marker string) (n int, err error) {
	w, err := gzio.Create(out)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	bw := bufio.NewWriter(w)
	fw := features.NewWriter(bw)
	err = features.Each(ref, func(f *gff.Feature) error {
		if !m.Match(f) {
			return nil
		}
		if marker != "" {
			f.Feature = marker
		}
		return fw.Write(f)
	})
	if err != nil {
		return 0, fmt.Errorf("filter %s: %w", ref, err)
	}
	return fw.Count(), bw.Flush()
}

// Contigs reports contig lengths when known.
type Contigs interface {
	Length(contig string) (int, bool)
}

// Extend widens every feature of in by flank bp on both sides. Starts clamp
// at zero. Ends clamp at the contig length when contigs knows it; features
// that start at or past the contig end are dropped and counted in dropped.
func Extend(in, out string, flank int, contigs Contigs) (n, dropped int, err error) {
	w, err := gzio.Create(out)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	bw := bufio.NewWriter(w)
	fw := features.NewWriter(bw)
	err = features.Each(in, func(f *gff.Feature) error {
		if !ExtendFeature(f, flank, contigs) {
			dropped++
			return nil
		}
		return fw.Write(f)
	})
	if err != nil {
		return 0, dropped, fmt.Errorf("extend %s: %w", in, err)
	}
	return fw.Count(), dropped, bw.Flush()
}

// ExtendFeature applies the Extend rule to one feature in place. It reports
// false when the extended feature would be empty or inverted, which happens
// when the feature lies beyond the known contig end.
func ExtendFeature(f *gff.Feature, flank int, contigs Contigs) bool {
	f.FeatStart -= flank
	if f.FeatStart < 0 {
		f.FeatStart = 0
	}
	f.FeatEnd += flank
	if contigs != nil {
		if l, ok := contigs.Length(f.SeqName); ok && f.FeatEnd > l {
			f.FeatEnd = l
		}
	}
	return f.FeatEnd > f.FeatStart
}

// References are the three reference annotations gene lists are filtered against.
type References struct {
	Coding string
	TSS    string
	TTS    string
}

// Options configures Build.
type Options struct {
	Lists      []string
	Directions map[string]direction.Direction
	Refs       References
	Attribute  string
	Flank      int
	Contigs    Contigs
	OutDir     string
	Threads    int
	Logger     log.FieldLogger
}

// ListFiles are the per-list outputs, in merge order.
type ListFiles struct {
	Name      string
	Direction direction.Direction
	Coding    string
	Extended  string
	TSS       string
	TTS       string
}

// Parts returns the files that go into the merged set.
func (l ListFiles) Parts() []string { return []string{l.Extended, l.TSS, l.TTS} }

// BuildList produces the coding, extended, start-site and end-site files of one list.
func BuildList(path string, d direction.Direction, opts Options) (ListFiles, error) {
	name := ListName(path)
	genes, err := LoadGeneList(path)
	if err != nil {
		return ListFiles{}, err
	}
	lf := ListFiles{
		Name:      name,
		Direction: d,
		Coding:    filepath.Join(opts.OutDir, "coding_"+name+".gff"),
		Extended:  filepath.Join(opts.OutDir, "extended_coding_"+name+".gff"),
		TSS:       filepath.Join(opts.OutDir, "tss_"+name+".gff"),
		TTS:       filepath.Join(opts.OutDir, "tts_"+name+".gff"),
	}
	m := Matcher{Genes: genes, Attribute: opts.Attribute}

	nc, err := FilterCoding(opts.Refs.Coding, lf.Coding, m)
	if err != nil {
		return lf, err
	}
	if _, err := FilterSites(opts.Refs.TSS, lf.TSS, m, StartSite); err != nil {
		return lf, err
	}
	if _, err := FilterSites(opts.Refs.TTS, lf.TTS, m, EndSite); err != nil {
		return lf, err
	}
	_, dropped, err := Extend(lf.Coding, lf.Extended, opts.Flank, opts.Contigs)
	if err != nil {
		return lf, err
	}
	if opts.Logger != nil {
		if dropped > 0 {
			opts.Logger.WithField("list", name).
				Warnf("dropped %d coding features lying beyond their contig end", dropped)
		}
		opts.Logger.WithFields(log.Fields{"list": name, "direction": d.String()}).
			Infof("%d genes, %d coding features", len(genes), nc)
		if nc == 0 {
			opts.Logger.WithField("list", name).Warn("no reference features matched the gene list")
		}
	}
	return lf, nil
}

// Merge concatenates parts into out.
func Merge(out string, parts []string) (err error) {
	w, err := gzio.Create(out)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	for _, p := range parts {
		if err := appendFile(w, p); err != nil {
			return err
		}
	}
	return nil
}

func appendFile(w io.Writer, path string) error {
	r, err := gzio.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = bufio.NewReader(r).WriteTo(w)
	return err
}

// MergedName is the per-direction merged annotation set file name.
func MergedName(d direction.Direction) string { return d.String() + "_merged.gff" }

// Result maps each direction to its merged annotation set.
type Result struct {
	Lists  []ListFiles
	Merged map[direction.Direction]string
}

// Build resolves every list's direction, builds the per-list files
// concurrently and merges them per direction. Any error is fatal.
func Build(ctx context.Context, opts Options) (Result, error) {
	if opts.Flank < 0 {
		return Result{}, fmt.Errorf("flank must be >= 0, got %d", opts.Flank)
	}
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return Result{}, err
	}

	dirs := make([]direction.Direction, len(opts.Lists))
	for i, p := range opts.Lists {
		d, err := DirectionOf(p, opts.Directions)
		if err != nil {
			return Result{}, err
		}
		dirs[i] = d
	}
	for _, d := range direction.All {
		found := false
		for _, x := range dirs {
			found = found || x == d
		}
		if !found {
			return Result{}, fmt.Errorf("%w %s", ErrMissingDirection, d)
		}
	}

	lists := make([]ListFiles, len(opts.Lists))
	g, gctx := errgroup.WithContext(ctx)
	if opts.Threads > 0 {
		g.SetLimit(opts.Threads)
	}
	for i, p := range opts.Lists {
		i, p := i, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			lf, err := BuildList(p, dirs[i], opts)
			if err != nil {
				return fmt.Errorf("gene list %s: %w", ListName(p), err)
			}
			lists[i] = lf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{Lists: lists, Merged: map[direction.Direction]string{}}
	for _, d := range direction.All {
		var parts []string
		for _, lf := range lists {
			if lf.Direction == d {
				parts = append(parts, lf.Parts()...)
			}
		}
		out := filepath.Join(opts.OutDir, MergedName(d))
		if err := Merge(out, parts); err != nil {
			return Result{}, fmt.Errorf("merge %s: %w", d, err)
		}
		res.Merged[d] = out
	}
	return res, nil
}
