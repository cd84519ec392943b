// Package features holds the GFF/GTF helpers shared by the splitter, the
// annotation builder and the repeat downloader.
package features

import (
	"fmt"
	"io"
	"strings"

	"github.com/biogo/biogo/io/featio"
	"github.com/biogo/biogo/io/featio/gff"

	"github.com/Acribbs/cribbslab/internal/gzio"
)

// Attribute looks tag up in GFF2/GTF ("tag value") or GFF3 ("tag=value")
// attributes and returns it unquoted.
func Attribute(attrs gff.Attributes, tag string) (string, bool) {
	for _, a := range attrs {
		if a.Tag == tag {
			return strings.Trim(a.Value, `"`), true
		}
		if strings.HasPrefix(a.Tag, tag+"=") {
			return strings.Trim(a.Tag[len(tag)+1:], `"`), true
		}
	}
	return "", false
}

// ParseLine parses a single GFF/GTF record.
func ParseLine(line string) (*gff.Feature, error) {
	f, err := gff.NewReader(strings.NewReader(line + "\n")).Read()
	if err != nil {
		return nil, err
	}
	gf, ok := f.(*gff.Feature)
	if !ok {
		return nil, fmt.Errorf("unexpected feature type %T", f)
	}
	return gf, nil
}

// Each streams the features of a (possibly gzipped) GFF/GTF file to fn.
// Iteration stops at the first error returned by fn.
func Each(path string, fn func(*gff.Feature) error) error {
	r, err := gzio.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()
	return Scan(r, fn)
}

// Scan is Each over an open reader.
func Scan(r io.Reader, fn func(*gff.Feature) error) error {
	sc := featio.NewScanner(gff.NewReader(r))
	for sc.Next() {
		if err := fn(sc.Feat().(*gff.Feature)); err != nil {
			return err
		}
	}
	return sc.Error()
}

// Writer emits features without a version header so that per-list files can
// be concatenated.
type Writer struct {
	w *gff.Writer
	n int
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: gff.NewWriter(w, 60, false)} }

func (w *Writer) Write(f *gff.Feature) error {
	if _, err := w.w.Write(f); err != nil {
		return err
	}
	w.n++
	return nil
}

// Count is the number of features written so far.
func (w *Writer) Count() int { return w.n }
