package genelists

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/biogo/biogo/io/featio/gff"

	"github.com/Acribbs/cribbslab/internal/direction"
	"github.com/Acribbs/cribbslab/internal/features"
)

func write(t *testing.T, fn, data string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(fn), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(fn, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", fn, err)
	}
	return fn
}

func load(t *testing.T, fn string) []*gff.Feature {
	t.Helper()
	var fs []*gff.Feature
	if err := features.Each(fn, func(f *gff.Feature) error {
		fs = append(fs, f)
		return nil
	}); err != nil {
		t.Fatalf("read %s: %v", fn, err)
	}
	return fs
}

type sizes map[string]int

func (s sizes) Length(c string) (int, bool) {
	l, ok := s[c]
	return l, ok
}

const coding = "chr1\tref\tgene\t1001\t3000\t.\t+\t.\tgene_id \"G1\"; gene_name \"Alpha\"\n" +
	"chr1\tref\tgene\t101\t500\t.\t-\t.\tgene_id \"G2\"; gene_name \"Beta\"\n" +
	"chr2\tref\tgene\t9001\t9900\t.\t+\t.\tgene_id \"G3\"; gene_name \"Gamma\"\n"

const tss = "chr1\tref\ttss\t1001\t1001\t.\t+\t.\tgene_id \"G1\"\n" +
	"chr1\tref\ttss\t500\t500\t.\t-\t.\tgene_id \"G2\"\n" +
	"chr2\tref\ttss\t9001\t9001\t.\t+\t.\tgene_id \"G3\"\n"

const tts = "chr1\tref\ttts\t3000\t3000\t.\t+\t.\tgene_id \"G1\"\n" +
	"chr1\tref\ttts\t101\t101\t.\t-\t.\tgene_id \"G2\"\n" +
	"chr2\tref\ttts\t9900\t9900\t.\t+\t.\tgene_id \"G3\"\n"

func TestLoadGeneList(t *testing.T) {
	dir := t.TempDir()
	fn := write(t, filepath.Join(dir, "a_upregulated.csv"), "gene_id,log2fc\nG1,2.1\n# note\n\"G2\",1.5\n\n")
	set, err := LoadGeneList(fn)
	if err != nil {
		t.Fatalf("LoadGeneList: %v", err)
	}
	if len(set) != 2 || !set.Has("G1") || !set.Has("G2") {
		t.Fatalf("unexpected set %v", set)
	}
}

func TestDirectionOf(t *testing.T) {
	if d, err := DirectionOf("lists/liver_upregulated.csv", nil); err != nil || d != direction.Up {
		t.Fatalf("got %v %v", d, err)
	}
	explicit := map[string]direction.Direction{"custom": direction.Down}
	if d, err := DirectionOf("custom.csv", explicit); err != nil || d != direction.Down {
		t.Fatalf("explicit: got %v %v", d, err)
	}
	_, err := DirectionOf("lists/liver.csv", nil)
	var ae *AmbiguousDirectionError
	if !errors.As(err, &ae) || ae.List != "liver" || !errors.Is(err, ErrAmbiguousDirection) {
		t.Fatalf("want AmbiguousDirectionError, got %v", err)
	}
}

func TestFilterSitesOverwritesFeature(t *testing.T) {
	dir := t.TempDir()
	ref := write(t, filepath.Join(dir, "tss.gtf"), tss)
	out := filepath.Join(dir, "tss_x.gff")
	n, err := FilterSites(ref, out, Matcher{Genes: Set{"G2": {}}, Attribute: "gene_id"}, StartSite)
	if err != nil || n != 1 {
		t.Fatalf("FilterSites n=%d err=%v", n, err)
	}
	fs := load(t, out)
	if len(fs) != 1 || fs[0].Feature != StartSite || fs[0].FeatStart != 499 {
		t.Fatalf("unexpected %+v", fs)
	}
}

func TestMatcherFallsBackToGeneName(t *testing.T) {
	f, err := features.ParseLine("chr1\tref\tgene\t1\t10\t.\t+\t.\tgene_id \"G9\"; gene_name \"Beta\"")
	if err != nil {
		t.Fatal(err)
	}
	m := Matcher{Genes: Set{"Beta": {}}, Attribute: "gene_id"}
	if !m.Match(f) {
		t.Fatalf("gene_name fallback did not match")
	}
	m = Matcher{Genes: Set{"Bet": {}}, Attribute: "gene_id"}
	if m.Match(f) {
		t.Fatalf("substring must not match")
	}
}

func TestExtendClamps(t *testing.T) {
	dir := t.TempDir()
	in := write(t, filepath.Join(dir, "coding.gff"), coding)
	out := filepath.Join(dir, "ext.gff")
	n, dropped, err := Extend(in, out, 2000, sizes{"chr2": 10000})
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if n != 3 || dropped != 0 {
		t.Fatalf("wrote %d dropped %d", n, dropped)
	}
	fs := load(t, out)
	if len(fs) != 3 {
		t.Fatalf("want 3 features, got %d", len(fs))
	}
	// G1: [1000,3000) -> [0,5000); G2: [100,500) -> [0,2500); G3 clamps at chr2 end.
	want := [][2]int{{0, 5000}, {0, 2500}, {7000, 10000}}
	for i, f := range fs {
		if f.FeatStart != want[i][0] || f.FeatEnd != want[i][1] {
			t.Fatalf("feature %d: got [%d,%d) want %v", i, f.FeatStart, f.FeatEnd, want[i])
		}
	}
}

func TestExtendDropsFeaturesPastContigEnd(t *testing.T) {
	f := &gff.Feature{SeqName: "chr1", FeatStart: 10000, FeatEnd: 11000}
	if ExtendFeature(f, 2000, sizes{"chr1": 4000}) {
		t.Fatalf("kept feature past contig end as [%d,%d)", f.FeatStart, f.FeatEnd)
	}
	f = &gff.Feature{SeqName: "chr1", FeatStart: 3000, FeatEnd: 3500}
	if !ExtendFeature(f, 2000, sizes{"chr1": 4000}) || f.FeatStart != 1000 || f.FeatEnd != 4000 {
		t.Fatalf("straddling feature: got [%d,%d)", f.FeatStart, f.FeatEnd)
	}

	dir := t.TempDir()
	in := write(t, filepath.Join(dir, "coding.gff"), coding)
	out := filepath.Join(dir, "ext.gff")
	// chr2 ends before G3 starts.
	n, dropped, err := Extend(in, out, 2000, sizes{"chr2": 5000})
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if n != 2 || dropped != 1 {
		t.Fatalf("wrote %d dropped %d, want 2 and 1", n, dropped)
	}
	for _, f := range load(t, out) {
		if f.FeatEnd <= f.FeatStart {
			t.Fatalf("inverted interval %s [%d,%d)", f.SeqName, f.FeatStart, f.FeatEnd)
		}
	}
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	refs := References{
		Coding: write(t, filepath.Join(dir, "ref", "coding.gtf"), coding),
		TSS:    write(t, filepath.Join(dir, "ref", "tss.gtf"), tss),
		TTS:    write(t, filepath.Join(dir, "ref", "tts.gtf"), tts),
	}
	up := write(t, filepath.Join(dir, "lists", "liver_upregulated.csv"), "gene_id\nG1\nG3\n")
	down := write(t, filepath.Join(dir, "lists", "liver_downregulated.csv"), "gene_id\nG2\n")
	out := filepath.Join(dir, "genexpression.dir")

	res, err := Build(context.Background(), Options{
		Lists:     []string{up, down},
		Refs:      refs,
		Attribute: "gene_id",
		Flank:     DefaultFlank,
		OutDir:    out,
		Threads:   2,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Merged[direction.Up] != filepath.Join(out, "upregulated_merged.gff") {
		t.Fatalf("merged paths %v", res.Merged)
	}

	upFeats := load(t, res.Merged[direction.Up])
	// extended coding (2) + tss (2) + tts (2)
	if len(upFeats) != 6 {
		t.Fatalf("upregulated merged set has %d features", len(upFeats))
	}
	var kinds []string
	for _, f := range upFeats {
		kinds = append(kinds, f.Feature)
	}
	if got := strings.Join(kinds, ","); got != "gene,gene,start-site,start-site,end-site,end-site" {
		t.Fatalf("merge order %s", got)
	}
	for _, f := range load(t, res.Merged[direction.Down]) {
		if v, _ := features.Attribute(f.FeatAttributes, "gene_id"); v != "G2" {
			t.Fatalf("downregulated set leaked %s", v)
		}
	}
}

func TestBuildAmbiguousIsFatal(t *testing.T) {
	dir := t.TempDir()
	l := write(t, filepath.Join(dir, "mystery.csv"), "G1\n")
	_, err := Build(context.Background(), Options{Lists: []string{l}, OutDir: filepath.Join(dir, "out")})
	if !errors.Is(err, ErrAmbiguousDirection) {
		t.Fatalf("want ErrAmbiguousDirection, got %v", err)
	}
}

func TestBuildMissingDirection(t *testing.T) {
	dir := t.TempDir()
	l := write(t, filepath.Join(dir, "x_upregulated.csv"), "G1\n")
	_, err := Build(context.Background(), Options{Lists: []string{l}, OutDir: filepath.Join(dir, "out")})
	if !errors.Is(err, ErrMissingDirection) {
		t.Fatalf("want ErrMissingDirection, got %v", err)
	}
}
