// Package config loads pipeline.yml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/Acribbs/cribbslab/internal/direction"
	"github.com/Acribbs/cribbslab/internal/segments"
)

// DefaultFile is the configuration file name.
const DefaultFile = "pipeline.yml"

// SearchPath lists where Find looks, in order.
var SearchPath = []string{DefaultFile, filepath.Join("..", DefaultFile)}

var (
	ErrNotFound    = errors.New("config: pipeline.yml not found")
	ErrInvalidMode = errors.New("config: invalid mode")
)

// Mode selects the pipeline variant.
type Mode string

const (
	ModeUnset          Mode = ""
	ModePlain          Mode = "plain"
	ModeDirectionSplit Mode = "direction-split"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeUnset, ModePlain, ModeDirectionSplit:
		return Mode(s), nil
	}
	return ModeUnset, fmt.Errorf("%w: %q (want plain or direction-split)", ErrInvalidMode, s)
}

func (m *Mode) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Directions maps gene-list names to directions.
type Directions map[string]direction.Direction

func (d *Directions) UnmarshalYAML(node *yaml.Node) error {
	raw := map[string]string{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	out := Directions{}
	for name, s := range raw {
		v, err := direction.Parse(s)
		if err != nil {
			return fmt.Errorf("config: directions.%s: %w", name, err)
		}
		out[name] = v
	}
	*d = out
	return nil
}

type ChromHMM struct {
	SegmentBed     string `yaml:"segment_bed"`
	Format         string `yaml:"format"`
	LabelAttribute string `yaml:"label_attribute"`
}

type GAT struct {
	Command       string   `yaml:"command"`
	Contig        string   `yaml:"contig"`
	AnnotationBed string   `yaml:"annotation_bed"`
	Extra         []string `yaml:"extra"`
}

type GeneExpression struct {
	Present       bool       `yaml:"present"`
	GeneLists     []string   `yaml:"gene_lists"`
	Directions    Directions `yaml:"directions"`
	CodingGene    string     `yaml:"coding_gene"`
	TSS           string     `yaml:"tss"`
	TTS           string     `yaml:"tts"`
	GeneAttribute string     `yaml:"gene_attribute"`
	Flank         *int       `yaml:"flank"`
	GenomeSizes   string     `yaml:"genome_sizes"`
}

type Homer struct {
	Command string `yaml:"command"`
	Genome  string `yaml:"genome"`
}

type Plot struct {
	Enabled *bool  `yaml:"enabled"`
	Format  string `yaml:"format"`
	Palette string `yaml:"palette"`
}

type Remote struct {
	DSN            string   `yaml:"dsn"`
	Table          string   `yaml:"table"`
	RepeatClasses  []string `yaml:"repeat_classes"`
	ExcludeContigs []string `yaml:"exclude_contigs"`
	Output         string   `yaml:"output"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the whole of pipeline.yml.
type Config struct {
	Mode            Mode           `yaml:"mode"`
	OutputDir       string         `yaml:"output_dir"`
	Threads         int            `yaml:"threads"`
	NoLabelExitCode *int           `yaml:"no_label_exit_code"`
	ChromHMM        ChromHMM       `yaml:"chromhmm"`
	GAT             GAT            `yaml:"gat"`
	GeneExpression  GeneExpression `yaml:"geneexpression"`
	Homer           Homer          `yaml:"homer"`
	Plot            Plot           `yaml:"plot"`
	Remote          Remote         `yaml:"remote"`
	Log             Log            `yaml:"log"`

	// Dir is the directory the file was loaded from. Relative paths in the
	// file are resolved against it.
	Dir string `yaml:"-"`
}

// Load reads and validates path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c := &Config{}
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	c.Dir = filepath.Dir(path)
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Find returns the first existing file of SearchPath.
func Find() (string, error) {
	for _, p := range SearchPath {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, nil
		}
	}
	return "", ErrNotFound
}

// Default is the configuration used when no file is given.
func Default() *Config {
	c := &Config{Dir: "."}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.Threads < 1 {
		c.Threads = runtime.NumCPU()
	}
	if c.NoLabelExitCode == nil {
		one := 1
		c.NoLabelExitCode = &one
	}
	if c.ChromHMM.Format == "" {
		c.ChromHMM.Format = string(segments.BED)
	}
	if c.ChromHMM.LabelAttribute == "" {
		c.ChromHMM.LabelAttribute = segments.DefaultLabelAttribute
	}
	if c.GAT.Command == "" {
		c.GAT.Command = "gat-run.py"
	}
	if c.GeneExpression.GeneAttribute == "" {
		c.GeneExpression.GeneAttribute = "gene_id"
	}
	if c.GeneExpression.Flank == nil {
		f := 2000
		c.GeneExpression.Flank = &f
	}
	if c.Plot.Enabled == nil {
		t := true
		c.Plot.Enabled = &t
	}
	if c.Plot.Format == "" {
		c.Plot.Format = "png"
	}
	if c.Remote.Output == "" {
		c.Remote.Output = "repeats.gff.gz"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// EffectiveMode resolves an unset mode from geneexpression.present.
func (c *Config) EffectiveMode() Mode {
	if c.Mode != ModeUnset {
		return c.Mode
	}
	if c.GeneExpression.Present {
		return ModeDirectionSplit
	}
	return ModePlain
}

// Validate checks cross-field constraints. Missing input paths are reported
// by the stage that needs them.
func (c *Config) Validate() error {
	if _, err := segments.ParseFormat(c.ChromHMM.Format); err != nil {
		return fmt.Errorf("config: chromhmm.format: %w", err)
	}
	if c.GeneExpression.Flank != nil && *c.GeneExpression.Flank < 0 {
		return fmt.Errorf("config: geneexpression.flank must be >= 0")
	}
	if c.EffectiveMode() == ModeDirectionSplit && !c.GeneExpression.Present {
		return fmt.Errorf("%w: direction-split requires geneexpression.present", ErrInvalidMode)
	}
	return nil
}

// Path resolves p against the config directory.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || p == "-" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// Paths resolves every entry of ps.
func (c *Config) Paths(ps []string) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = c.Path(p)
	}
	return out
}

// PlotEnabled reports plot.enabled.
func (c *Config) PlotEnabled() bool { return c.Plot.Enabled == nil || *c.Plot.Enabled }

// Flank returns geneexpression.flank.
func (c *Config) Flank() int {
	if c.GeneExpression.Flank == nil {
		return 2000
	}
	return *c.GeneExpression.Flank
}
