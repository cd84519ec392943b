package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/youta-t/flarc"

	"github.com/Acribbs/cribbslab/internal/cliutil"
	"github.com/Acribbs/cribbslab/internal/config"
	"github.com/Acribbs/cribbslab/internal/direction"
	"github.com/Acribbs/cribbslab/internal/genelists"
	"github.com/Acribbs/cribbslab/internal/logging"
	"github.com/Acribbs/cribbslab/internal/pipeline"
	"github.com/Acribbs/cribbslab/internal/workspace"
)

type AnnotateFlags struct {
	Coding      string   `flag:"coding" metavar:"GTF" help:"coding gene reference (default: geneexpression.coding_gene)"`
	TSS         string   `flag:"tss" metavar:"GTF" help:"start-site reference (default: geneexpression.tss)"`
	TTS         string   `flag:"tts" metavar:"GTF" help:"end-site reference (default: geneexpression.tts)"`
	Attribute   string   `flag:"attribute" help:"attribute matched against gene ids (default: geneexpression.gene_attribute)"`
	Flank       int      `flag:"flank" help:"bases added to both sides of coding genes; negative: from pipeline.yml"`
	GenomeSizes string   `flag:"genome-sizes" metavar:"FILE" help:"contig lengths for clamping (default: geneexpression.genome_sizes, then gat.contig)"`
	OutDir      string   `flag:"out-dir" help:"output directory (default: <output_dir>/genexpression.dir)"`
	Direction   []string `flag:"direction" metavar:"NAME=up|down" help:"direction of a gene list whose name does not tell. Repeatable."`
	Threads     int      `flag:"threads" help:"lists processed at once (0: from pipeline.yml)"`
}

const ARG_GENE_LIST = "GENE_LIST"

func NewAnnotate(status *Status) (flarc.Command, error) {
	return flarc.NewCommand(
		"build per-direction annotation sets from gene lists",
		AnnotateFlags{Flank: -1},
		flarc.Args{
			{
				Name: ARG_GENE_LIST, Required: false, Repeatable: true,
				Help: "gene list file or glob (default: geneexpression.gene_lists)",
			},
		},
		NewTask(status, AnnotateTask),
		flarc.WithDescription(`
For every gene list, select the listed genes from the coding, start-site and
end-site references, extend the coding genes by --flank, and concatenate the
result per direction into upregulated_merged.gff and downregulated_merged.gff.

The direction of a list comes from --direction (or geneexpression.directions),
otherwise from a trailing "upregulated"/"downregulated" in its file name.
`),
	)
}

// AnnotateTask prints one "direction<TAB>path" line per merged set.
func AnnotateTask(ctx context.Context, env Env, cl flarc.Commandline[AnnotateFlags], _ []any) error {
	cfg := env.Config
	ge := cfg.GeneExpression
	flags := cl.Flags()

	patterns := cl.Args()[ARG_GENE_LIST]
	if len(patterns) == 0 {
		patterns = cfg.Paths(ge.GeneLists)
	}
	if len(patterns) == 0 {
		return fmt.Errorf("%w: no gene lists given", flarc.ErrUsage)
	}
	lists, err := cliutil.ExpandPositionals(patterns)
	if err != nil {
		return fmt.Errorf("%w: %v", flarc.ErrUsage, err)
	}

	dirs := config.Directions{}
	for k, v := range ge.Directions {
		dirs[k] = v
	}
	for _, kv := range flags.Direction {
		name, val, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("%w: --direction %q: want NAME=up|down", flarc.ErrUsage, kv)
		}
		d, err := direction.Parse(val)
		if err != nil || d == direction.None {
			return fmt.Errorf("%w: --direction %q: want NAME=up|down", flarc.ErrUsage, kv)
		}
		dirs[strings.TrimSpace(name)] = d
	}

	refs := genelists.References{
		Coding: pick(flags.Coding, cfg.Path(ge.CodingGene)),
		TSS:    pick(flags.TSS, cfg.Path(ge.TSS)),
		TTS:    pick(flags.TTS, cfg.Path(ge.TTS)),
	}
	if refs.Coding == "" || refs.TSS == "" || refs.TTS == "" {
		return fmt.Errorf("%w: coding, tss and tts references are required", flarc.ErrUsage)
	}
	flank := cfg.Flank()
	if flags.Flank >= 0 {
		flank = flags.Flank
	}
	threads := cfg.Threads
	if flags.Threads > 0 {
		threads = flags.Threads
	}

	var contigs genelists.Contigs
	if sizes := pick(flags.GenomeSizes, cfg.Path(ge.GenomeSizes)); sizes != "" {
		g, err := workspace.LoadGenome(sizes)
		if err != nil {
			return err
		}
		contigs = g
	} else if cfg.GAT.Contig != "" {
		ws, err := workspace.Load(cfg.Path(cfg.GAT.Contig))
		if err != nil {
			return err
		}
		logging.Warnf(env.Logger, false, "no genome sizes given; contig ends are approximated by the workspace extents")
		contigs = ws.Genome()
	}

	out := flags.OutDir
	if out == "" {
		out = filepath.Join(cfg.Path(cfg.OutputDir), pipeline.GeneListsDir)
	}
	res, err := genelists.Build(ctx, genelists.Options{
		Lists:      lists,
		Directions: dirs,
		Refs:       refs,
		Attribute:  pick(flags.Attribute, ge.GeneAttribute),
		Flank:      flank,
		Contigs:    contigs,
		OutDir:     out,
		Threads:    threads,
		Logger:     env.Logger,
	})
	if err != nil {
		return err
	}

	ds := make([]direction.Direction, 0, len(res.Merged))
	for d := range res.Merged {
		ds = append(ds, d)
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i] < ds[j] })
	for _, d := range ds {
		if _, err := fmt.Fprintf(cl.Stdout(), "%s\t%s\n", d, res.Merged[d]); err != nil {
			return err
		}
	}
	return nil
}

// pick returns flag unless it is empty.
func pick(flag, fallback string) string {
	if flag != "" {
		return flag
	}
	return fallback
}
