package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func write(t *testing.T, fn, data string) string {
	t.Helper()
	if err := os.WriteFile(fn, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", fn, err)
	}
	return fn
}

func TestIndexOverlapsHalfOpen(t *testing.T) {
	dir := t.TempDir()
	idx, err := Load(write(t, filepath.Join(dir, "ws.bed"), "chr1\t100\t200\nchr1\t500\t900\nchr2\t0\t50\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cases := []struct {
		contig     string
		start, end int
		want       bool
	}{
		{"chr1", 150, 160, true},
		{"chr1", 200, 300, false},
		{"chr1", 0, 101, true},
		{"chr1", 300, 400, false},
		{"chr1", 899, 1000, true},
		{"chr3", 0, 10, false},
	}
	for _, c := range cases {
		if got := idx.Overlaps(c.contig, c.start, c.end); got != c.want {
			t.Fatalf("Overlaps(%s,%d,%d)=%v want %v", c.contig, c.start, c.end, got, c.want)
		}
	}
}

func TestGenomeFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	idx, err := Load(write(t, filepath.Join(dir, "ws.bed"), "chr1\t100\t200\nchr1\t500\t900\nchr2\t0\t50\n"))
	if err != nil {
		t.Fatal(err)
	}
	g := idx.Genome()
	if l, ok := g.Length("chr1"); !ok || l != 900 {
		t.Fatalf("chr1 length %d,%v", l, ok)
	}
	if _, ok := g.Length("chrX"); ok {
		t.Fatalf("unknown contig reported a length")
	}
}

func TestLoadGenome(t *testing.T) {
	dir := t.TempDir()
	g, err := LoadGenome(write(t, filepath.Join(dir, "hg.sizes"), "chr1\t1000\nchr2\t500\n"))
	if err != nil {
		t.Fatalf("LoadGenome: %v", err)
	}
	if l, ok := g.Length("chr2"); !ok || l != 500 {
		t.Fatalf("chr2 length %d,%v", l, ok)
	}
}

func TestOutside(t *testing.T) {
	dir := t.TempDir()
	idx, err := Load(write(t, filepath.Join(dir, "ws.bed"), "chr1\t0\t1000\n"))
	if err != nil {
		t.Fatal(err)
	}
	seg := write(t, filepath.Join(dir, "E1_segments.bed"), "chr1\t10\t20\tE1\nchr2\t0\t10\tE1\nchr1\t2000\t2100\tE1\n")
	out, total, err := idx.Outside(seg, "bed")
	if err != nil {
		t.Fatalf("Outside: %v", err)
	}
	if out != 2 || total != 3 {
		t.Fatalf("outside=%d total=%d", out, total)
	}
}

func TestLoadSkipsHeadersAndKeepsLastLine(t *testing.T) {
	dir := t.TempDir()
	idx, err := Load(write(t, filepath.Join(dir, "ws.bed"), "track name=ws\n# contigs\n\nchr1\t0\t100\nchr2\t0\t70"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(idx.Ranges) != 2 || !idx.Overlaps("chr2", 60, 65) {
		t.Fatalf("ranges %d, chr2 overlap %v", len(idx.Ranges), idx.Overlaps("chr2", 60, 65))
	}
	if _, err := Load(write(t, filepath.Join(dir, "bad.bed"), "chr1\tx\t100\n")); err == nil {
		t.Fatalf("want error for a non-numeric start")
	}
}

func TestLoadGenomeKeepsNames(t *testing.T) {
	dir := t.TempDir()
	g, err := LoadGenome(write(t, filepath.Join(dir, "g.sizes"), "# sizes\nNA\t300\nchrM\t16569\n"))
	if err != nil {
		t.Fatalf("LoadGenome: %v", err)
	}
	if l, ok := g.Length("NA"); !ok || l != 300 {
		t.Fatalf("NA length %d,%v", l, ok)
	}
	if _, err := LoadGenome(write(t, filepath.Join(dir, "neg.sizes"), "chr1\t-5\n")); err == nil {
		t.Fatalf("want error for a negative length")
	}
}
