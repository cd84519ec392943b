// Package segments splits a labelled segmentation into one interval file per label.
//
// The set of labels is not known in advance: it is discovered while the
// input is read, and the returned LabelFile slice is the only thing later
// stages iterate over.
package segments

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/Acribbs/cribbslab/internal/features"
	"github.com/Acribbs/cribbslab/internal/gzio"
)

// Format is the layout of the segmentation file.
type Format string

const (
	BED Format = "bed"
	GFF Format = "gff"
)

// ParseFormat accepts bed, gff or gtf (case-insensitive).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bed":
		return BED, nil
	case "gff", "gtf":
		return GFF, nil
	}
	return "", fmt.Errorf("unknown segment format %q (want bed or gff)", s)
}

// DefaultLabelAttribute names the GFF attribute holding the state label.
const DefaultLabelAttribute = "state"

// ReservedLabel names the index column of the aggregated matrices and
// cannot be used as a state label.
const ReservedLabel = "annotation"

const suffix = "_segments."

// Options configures Split.
type Options struct {
	Input          string // path or "-" for stdin; gzip is detected
	OutDir         string
	Format         Format
	LabelAttribute string // GFF only
	Logger         log.FieldLogger
}

// LabelFile is one entry of the label set.
type LabelFile struct {
	Label   string
	Path    string
	Records int
}

// SegmentsFileName is the per-label output name, e.g. "E1_segments.bed".
func SegmentsFileName(label string, f Format) string {
	return label + suffix + string(f)
}

// LabelOf recovers the label from a per-label file name. It reports false
// when base does not follow SegmentsFileName.
func LabelOf(path string) (string, bool) {
	base := filepath.Base(path)
	i := strings.LastIndex(base, suffix)
	if i <= 0 {
		return "", false
	}
	switch strings.TrimSuffix(base[i+len(suffix):], ".gz") {
	case string(BED), string(GFF), "out", "txt":
		return base[:i], true
	}
	return "", false
}

type sink struct {
	file *os.File
	w    *bufio.Writer
	idx  int
}

// Split reads opts.Input once and writes every record to the file of its
// label. Records are copied verbatim. Labels are returned in order of first
// appearance. Input with no records yields an empty, non-nil slice.
//
// On any error the files created so far are removed.
func Split(ctx context.Context, opts Options) (out []LabelFile, err error) {
	if opts.Format == "" {
		opts.Format = BED
	}
	if opts.LabelAttribute == "" {
		opts.LabelAttribute = DefaultLabelAttribute
	}
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return nil, err
	}

	r, err := gzio.Open(opts.Input)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	sinks := map[string]*sink{}
	out = []LabelFile{}
	defer func() {
		for _, s := range sinks {
			if ferr := s.w.Flush(); ferr != nil && err == nil {
				err = ferr
			}
			if cerr := s.file.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		if err != nil {
			for _, lf := range out {
				_ = os.Remove(lf.Path)
			}
			out = nil
		}
	}()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return out, err
			}
		}
		raw := sc.Text()
		if skipLine(raw) {
			continue
		}

		var label string
		switch opts.Format {
		case GFF:
			label, err = gffLabel(raw, opts.LabelAttribute)
		default:
			label, err = bedLabel(raw)
		}
		if err != nil {
			var me *MalformedInputError
			if errors.As(err, &me) {
				me.Path, me.Line = opts.Input, line
			}
			return out, err
		}
		if err := checkLabel(label); err != nil {
			return out, &MalformedInputError{Path: opts.Input, Line: line, Reason: err.Error()}
		}

		s, ok := sinks[label]
		if !ok {
			path := filepath.Join(opts.OutDir, SegmentsFileName(label, opts.Format))
			f, err := os.Create(path)
			if err != nil {
				return out, err
			}
			s = &sink{file: f, w: bufio.NewWriter(f), idx: len(out)}
			sinks[label] = s
			out = append(out, LabelFile{Label: label, Path: path})
			if opts.Logger != nil {
				opts.Logger.WithField("label", label).Debugf("new label at line %d", line)
			}
		}
		if _, err := s.w.WriteString(raw); err != nil {
			return out, err
		}
		if err := s.w.WriteByte('\n'); err != nil {
			return out, err
		}
		out[s.idx].Records++
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("read %s: %w", opts.Input, err)
	}
	if opts.Logger != nil {
		opts.Logger.Infof("split %s into %d labels", opts.Input, len(out))
	}
	return out, nil
}

func skipLine(s string) bool {
	t := strings.TrimSpace(s)
	return t == "" || strings.HasPrefix(t, "#") ||
		strings.HasPrefix(t, "track") || strings.HasPrefix(t, "browser")
}

func bedLabel(line string) (string, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < 4 {
		fields = strings.Fields(line)
	}
	if len(fields) < 4 {
		return "", &MalformedInputError{Reason: fmt.Sprintf("expected at least 4 fields, got %d", len(fields))}
	}
	return strings.TrimSpace(fields[3]), nil
}

func gffLabel(line, attr string) (string, error) {
	f, err := features.ParseLine(line)
	if err != nil {
		return "", &MalformedInputError{Reason: "unparseable GFF record", Err: err}
	}
	if v, ok := features.Attribute(f.FeatAttributes, attr); ok {
		return v, nil
	}
	return "", &MalformedInputError{Reason: fmt.Sprintf("missing %q attribute", attr)}
}

func checkLabel(l string) error {
	switch {
	case l == "":
		return errors.New("empty label")
	case l == "." || l == "..":
		return fmt.Errorf("label %q is not a usable file name", l)
	case strings.ContainsAny(l, `/\`) || strings.ContainsRune(l, os.PathSeparator):
		return fmt.Errorf("label %q contains a path separator", l)
	case l == ReservedLabel:
		return fmt.Errorf("label %q is reserved for the matrix index column", l)
	}
	return nil
}
