package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/youta-t/flarc"

	"github.com/Acribbs/cribbslab/internal/commandline"
	"github.com/Acribbs/cribbslab/internal/jobs"
	"github.com/Acribbs/cribbslab/internal/pipeline"
	"github.com/Acribbs/cribbslab/internal/remote"
)

// tableExec writes tables[job name] as the engine output and fails the
// names in fail.
type tableExec struct {
	mu     sync.Mutex
	tables map[string]string
	fail   map[string]bool
	calls  int
}

func (e *tableExec) Submit(ctx context.Context, j jobs.Job) error {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.fail[j.Name] {
		return &jobs.ExitError{Code: 2, Err: errors.New("engine crashed")}
	}
	body, ok := e.tables[j.Name]
	if !ok {
		body = "annotation\tl2fold\n"
	}
	return os.WriteFile(j.Stdout, []byte(body), 0o644)
}

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

const pipelineYML = `output_dir: out
threads: 2
chromhmm:
  segment_bed: segs.bed
gat:
  contig: contigs.bed
  annotation_bed: ann.bed
plot:
  enabled: false
log:
  level: error
`

// project lays out a plain-mode project and returns the pipeline.yml path.
func project(t *testing.T, yml string) (dir, cfg string) {
	t.Helper()
	dir = t.TempDir()
	write(t, filepath.Join(dir, "segs.bed"), "chr1\t0\t100\tE1\nchr1\t100\t200\tE2\nchr1\t200\t300\tE1\n")
	write(t, filepath.Join(dir, "contigs.bed"), "chr1\t0\t1000\n")
	write(t, filepath.Join(dir, "ann.bed"), "chr1\t0\t50\tTSS\n")
	return dir, write(t, filepath.Join(dir, "pipeline.yml"), yml)
}

func e1e2() *tableExec {
	return &tableExec{tables: map[string]string{
		"E1": "annotation\tl2fold\nTSS\t1.2\nEnhancer\t0.3\n",
		"E2": "annotation\tl2fold\nTSS\t-0.5\n",
	}}
}

func cl[T any](flags T, args map[string][]string) (*commandline.MockCommandline[T], *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return &commandline.MockCommandline[T]{
		Fullname_: "cribbslab test",
		Stdin_:    strings.NewReader(""),
		Stdout_:   &stdout,
		Stderr_:   &stderr,
		Flags_:    flags,
		Args_:     args,
	}, &stdout, &stderr
}

func common(cfg string) []any { return []any{CommonFlags{Config: cfg}} }

func TestRunPlain(t *testing.T) {
	dir, cfg := project(t, pipelineYML)
	status := &Status{}
	task := NewTask(status, RunTask(Deps{Executor: e1e2()}))
	c, stdout, stderr := cl(RunFlags{}, map[string][]string{})

	if err := task(context.Background(), c, common(cfg)); err != nil {
		t.Fatalf("task: %v", err)
	}
	if status.Code() != ExitOK {
		t.Fatalf("exit %d, stderr=%s", status.Code(), stderr)
	}
	csv := filepath.Join(dir, "out", "merged_gat.csv")
	if strings.TrimSpace(stdout.String()) != csv {
		t.Fatalf("stdout %q", stdout)
	}
	b, err := os.ReadFile(csv)
	if err != nil {
		t.Fatal(err)
	}
	if want := "annotation,E1,E2\nTSS,1.2,-0.5\nEnhancer,0.3,\n"; string(b) != want {
		t.Fatalf("matrix\n got %q\nwant %q", b, want)
	}
}

func TestRunFailedInvocations(t *testing.T) {
	_, cfg := project(t, pipelineYML)
	ex := e1e2()
	ex.fail = map[string]bool{"E2": true}

	status := &Status{}
	task := NewTask(status, RunTask(Deps{Executor: ex}))
	c, _, _ := cl(RunFlags{}, map[string][]string{})
	if err := task(context.Background(), c, common(cfg)); err != nil {
		t.Fatalf("task: %v", err)
	}
	if status.Code() != ExitFailedInvocations {
		t.Fatalf("exit %d, want %d", status.Code(), ExitFailedInvocations)
	}

	status = &Status{}
	task = NewTask(status, RunTask(Deps{Executor: ex}))
	c, _, _ = cl(RunFlags{AllowFailures: true}, map[string][]string{})
	if err := task(context.Background(), c, common(cfg)); err != nil {
		t.Fatalf("task: %v", err)
	}
	if status.Code() != ExitOK {
		t.Fatalf("exit %d with --allow-failures", status.Code())
	}
}

func TestRunNoLabelExitCode(t *testing.T) {
	for _, tc := range []struct {
		yml  string
		want int
	}{
		{pipelineYML, 1},
		{pipelineYML + "no_label_exit_code: 0\n", 0},
	} {
		dir, cfg := project(t, tc.yml)
		write(t, filepath.Join(dir, "segs.bed"), "")
		ex := e1e2()
		status := &Status{}
		c, _, _ := cl(RunFlags{}, map[string][]string{})
		if err := NewTask(status, RunTask(Deps{Executor: ex}))(context.Background(), c, common(cfg)); err != nil {
			t.Fatalf("task: %v", err)
		}
		if status.Code() != tc.want {
			t.Fatalf("exit %d, want %d", status.Code(), tc.want)
		}
		if ex.calls != 0 {
			t.Fatalf("engine ran %d times", ex.calls)
		}
	}
}

func TestRunCancelled(t *testing.T) {
	_, cfg := project(t, pipelineYML)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	status := &Status{}
	c, _, _ := cl(RunFlags{}, map[string][]string{})
	if err := NewTask(status, RunTask(Deps{Executor: e1e2()}))(ctx, c, common(cfg)); err != nil {
		t.Fatalf("task: %v", err)
	}
	if status.Code() != ExitCancelled {
		t.Fatalf("exit %d, want %d", status.Code(), ExitCancelled)
	}
}

func TestRunBadModeIsUsage(t *testing.T) {
	_, cfg := project(t, pipelineYML)
	c, _, _ := cl(RunFlags{Mode: "sideways"}, map[string][]string{})
	err := NewTask(&Status{}, RunTask(Deps{Executor: e1e2()}))(context.Background(), c, common(cfg))
	if !errors.Is(err, flarc.ErrUsage) {
		t.Fatalf("want usage error, got %v", err)
	}
}

func TestBrokenConfigIsFatal(t *testing.T) {
	_, cfg := project(t, "mode: plain\nunknown_key: 1\n")
	status := &Status{}
	c, _, stderr := cl(RunFlags{}, map[string][]string{})
	if err := NewTask(status, RunTask(Deps{Executor: e1e2()}))(context.Background(), c, common(cfg)); err != nil {
		t.Fatalf("task: %v", err)
	}
	if status.Code() != ExitFatal {
		t.Fatalf("exit %d, want %d", status.Code(), ExitFatal)
	}
	if !strings.Contains(stderr.String(), "unknown_key") {
		t.Fatalf("stderr %q", stderr)
	}
}

func TestSplit(t *testing.T) {
	dir, cfg := project(t, pipelineYML)
	status := &Status{}
	out := filepath.Join(dir, "split")
	c, stdout, _ := cl(SplitFlags{OutDir: out}, map[string][]string{})
	if err := NewTask(status, SplitTask)(context.Background(), c, common(cfg)); err != nil {
		t.Fatalf("task: %v", err)
	}
	want := filepath.Join(out, "E1_segments.bed") + "\t2\n"
	lines := strings.Split(stdout.String(), "\n")
	if status.Code() != ExitOK || len(lines) != 3 || !strings.HasPrefix(lines[0], "E1\t") || !strings.HasSuffix(lines[0]+"\n", want) {
		t.Fatalf("exit %d stdout %q", status.Code(), stdout)
	}
}

func TestEnrichUsage(t *testing.T) {
	dir, cfg := project(t, pipelineYML)
	seg := write(t, filepath.Join(dir, "in", "E1_segments.bed"), "chr1\t0\t10\tE1\n")
	for name, flags := range map[string]EnrichFlags{
		"up without down":      {Up: "up.gff"},
		"annotations with dir": {Annotations: "a.bed", Up: "u", Down: "d"},
	} {
		c, _, _ := cl(flags, map[string][]string{ARG_SEGMENTS: {seg}})
		err := NewTask(&Status{}, EnrichTask(Deps{Executor: e1e2()}))(context.Background(), c, common(cfg))
		if !errors.Is(err, flarc.ErrUsage) {
			t.Errorf("%s: want usage error, got %v", name, err)
		}
	}

	bad := write(t, filepath.Join(dir, "in", "E1.bed"), "chr1\t0\t10\tE1\n")
	c, _, _ := cl(EnrichFlags{}, map[string][]string{ARG_SEGMENTS: {bad}})
	if err := NewTask(&Status{}, EnrichTask(Deps{Executor: e1e2()}))(context.Background(), c, common(cfg)); !errors.Is(err, flarc.ErrUsage) {
		t.Errorf("unlabelled file: want usage error, got %v", err)
	}
}

func TestEnrichDirectional(t *testing.T) {
	dir, cfg := project(t, pipelineYML)
	seg := write(t, filepath.Join(dir, "in", "E1_segments.bed"), "chr1\t0\t10\tE1\n")
	ex := &tableExec{fail: map[string]bool{"downregulated_E1": true}}
	status := &Status{}
	c, stdout, _ := cl(EnrichFlags{Up: "up.gff", Down: "down.gff"}, map[string][]string{ARG_SEGMENTS: {seg}})
	if err := NewTask(status, EnrichTask(Deps{Executor: ex}))(context.Background(), c, common(cfg)); err != nil {
		t.Fatalf("task: %v", err)
	}
	if status.Code() != ExitFailedInvocations {
		t.Fatalf("exit %d", status.Code())
	}
	got := stdout.String()
	if !strings.Contains(got, "upregulated_E1\t") || !strings.Contains(got, "\tok\n") || !strings.Contains(got, "downregulated_E1\t") || !strings.Contains(got, "\tfailed\n") {
		t.Fatalf("stdout %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", pipeline.DirectionsDir, "upregulated_E1_segments.out")); err != nil {
		t.Fatalf("result not written: %v", err)
	}
}

func TestAggregateToStdout(t *testing.T) {
	dir, cfg := project(t, pipelineYML)
	res := filepath.Join(dir, "res")
	write(t, filepath.Join(res, "E1_segments.out"), "annotation\tl2fold\nTSS\t1.2\nEnhancer\t0.3\n")
	write(t, filepath.Join(res, "E2_segments.out"), "annotation\tl2fold\nTSS\t-0.5\n")

	status := &Status{}
	c, stdout, _ := cl(AggregateFlags{Output: "-"}, map[string][]string{ARG_RESULT: {filepath.Join(res, "*_segments.out")}})
	if err := NewTask(status, AggregateTask)(context.Background(), c, common(cfg)); err != nil {
		t.Fatalf("task: %v", err)
	}
	if want := "annotation,E1,E2\nTSS,1.2,-0.5\nEnhancer,0.3,\n"; stdout.String() != want {
		t.Fatalf("stdout\n got %q\nwant %q", stdout, want)
	}
}

func TestAggregatePlainKeepsDirectionPrefixInLabels(t *testing.T) {
	dir, cfg := project(t, pipelineYML)
	res := filepath.Join(dir, "res")
	write(t, filepath.Join(res, "downregulated_E1_segments.out"), "annotation\tl2fold\nTSS\t-1\n")
	write(t, filepath.Join(res, "upregulated_E1_segments.out"), "annotation\tl2fold\nTSS\t1\n")

	status := &Status{}
	c, stdout, _ := cl(AggregateFlags{Output: "-"}, map[string][]string{ARG_RESULT: {filepath.Join(res, "*_segments.out")}})
	if err := NewTask(status, AggregateTask)(context.Background(), c, common(cfg)); err != nil {
		t.Fatalf("task: %v", err)
	}
	if want := "annotation,downregulated_E1,upregulated_E1\nTSS,-1,1\n"; stdout.String() != want {
		t.Fatalf("stdout\n got %q\nwant %q", stdout, want)
	}
}

func TestAggregateByDirection(t *testing.T) {
	dir, cfg := project(t, pipelineYML)
	res := filepath.Join(dir, "res")
	write(t, filepath.Join(res, "upregulated_E1_segments.out"), "annotation\tl2fold\nmerged\t1\n")
	write(t, filepath.Join(res, "downregulated_E1_segments.out"), "annotation\tl2fold\nmerged\t-1\n")

	status := &Status{}
	out := filepath.Join(dir, "mats")
	c, stdout, _ := cl(AggregateFlags{ByDirection: true, OutDir: out}, map[string][]string{ARG_RESULT: {filepath.Join(res, "*")}})
	if err := NewTask(status, AggregateTask)(context.Background(), c, common(cfg)); err != nil {
		t.Fatalf("task: %v", err)
	}
	want := filepath.Join(out, "upregulated_merged_gat.csv") + "\n" + filepath.Join(out, "downregulated_merged_gat.csv") + "\n"
	if status.Code() != ExitOK || stdout.String() != want {
		t.Fatalf("exit %d stdout %q", status.Code(), stdout)
	}
	b, err := os.ReadFile(filepath.Join(out, "downregulated_merged_gat.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "annotation,E1\nmerged,-1\n" {
		t.Fatalf("down matrix %q", b)
	}
}

func TestAggregateUnlabelledIsFatal(t *testing.T) {
	dir, cfg := project(t, pipelineYML)
	bad := write(t, filepath.Join(dir, "res", "result.tsv"), "annotation\tl2fold\nTSS\t1\n")
	status := &Status{}
	c, _, _ := cl(AggregateFlags{Output: "-"}, map[string][]string{ARG_RESULT: {bad}})
	if err := NewTask(status, AggregateTask)(context.Background(), c, common(cfg)); err != nil {
		t.Fatalf("task: %v", err)
	}
	if status.Code() != ExitFatal {
		t.Fatalf("exit %d", status.Code())
	}
}

func TestRender(t *testing.T) {
	dir, cfg := project(t, pipelineYML)
	m := write(t, filepath.Join(dir, "merged_gat.csv"), "annotation,E1,E2\nTSS,1.2,-0.5\nEnhancer,0.3,\n")
	status := &Status{}
	c, stdout, _ := cl(RenderFlags{Palette: "blue-red"}, map[string][]string{ARG_MATRIX: {m}})
	if err := NewTask(status, RenderTask)(context.Background(), c, common(cfg)); err != nil {
		t.Fatalf("task: %v", err)
	}
	png := filepath.Join(dir, "merged_gat.png")
	if status.Code() != ExitOK || strings.TrimSpace(stdout.String()) != png {
		t.Fatalf("exit %d stdout %q", status.Code(), stdout)
	}
	if st, err := os.Stat(png); err != nil || st.Size() == 0 {
		t.Fatalf("no image: %v", err)
	}
}

func TestFetchRepeatsNeedsDSN(t *testing.T) {
	_, cfg := project(t, pipelineYML)
	c, _, _ := cl(FetchRepeatsFlags{}, map[string][]string{})
	err := NewTask(&Status{}, FetchRepeatsTask(Deps{}))(context.Background(), c, common(cfg))
	if !errors.Is(err, flarc.ErrUsage) {
		t.Fatalf("want usage error, got %v", err)
	}
}

func TestFetchRepeatsConnectFailure(t *testing.T) {
	_, cfg := project(t, pipelineYML)
	status := &Status{}
	deps := Deps{Connect: func(context.Context, string) (remote.Queryer, func(), error) {
		return nil, nil, errors.New("connection refused")
	}}
	c, _, _ := cl(FetchRepeatsFlags{DSN: "postgres://nowhere/db"}, map[string][]string{})
	if err := NewTask(status, FetchRepeatsTask(deps))(context.Background(), c, common(cfg)); err != nil {
		t.Fatalf("task: %v", err)
	}
	if status.Code() != ExitFatal {
		t.Fatalf("exit %d", status.Code())
	}
}

func TestVersion(t *testing.T) {
	cmd, err := NewVersion(&Status{})
	if err != nil || cmd == nil {
		t.Fatalf("NewVersion: %v", err)
	}
	if _, err := New(&Status{}, Deps{}); err != nil {
		t.Fatalf("New: %v", err)
	}
}

func TestExitCode(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{context.Canceled, ExitCancelled},
		{errors.Join(errors.New("x"), context.DeadlineExceeded), ExitCancelled},
		{flarc.ErrUsage, ExitUsage},
		{pipeline.ErrNoLabels, 7},
		{pipeline.ErrInvocationsFailed, ExitFailedInvocations},
		{errors.New("boom"), ExitFatal},
	} {
		if got := ExitCode(tc.err, 7); got != tc.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestStatusResolve(t *testing.T) {
	s := &Status{}
	s.Set(ExitFailedInvocations)
	if s.Resolve(0) != ExitFailedInvocations || s.Resolve(ExitUsage) != ExitUsage {
		t.Fatalf("Resolve")
	}
}
