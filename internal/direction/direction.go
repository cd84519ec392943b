// Package direction holds the up/down-regulated tag that partitions annotation
// sets and score matrices.
package direction

import (
	"fmt"
	"path/filepath"
	"strings"
)

type Direction int

const (
	// None tags plain-mode results.
	None Direction = iota
	Up
	Down
)

// All lists the real directions in the order they are processed.
var All = []Direction{Up, Down}

func (d Direction) String() string {
	switch d {
	case Up:
		return "upregulated"
	case Down:
		return "downregulated"
	default:
		return ""
	}
}

// Parse accepts the long form ("upregulated") as well as "up"/"down".
func Parse(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "upregulated":
		return Up, nil
	case "down", "downregulated":
		return Down, nil
	case "", "none":
		return None, nil
	}
	return None, fmt.Errorf("unknown direction %q (want upregulated | downregulated)", s)
}

// FromName resolves a direction from the suffix of a file base name, with any
// extensions removed. ok is false when the name ends in neither suffix.
func FromName(name string) (d Direction, ok bool) {
	stem := strings.ToLower(Stem(name))
	for _, c := range All {
		if strings.HasSuffix(stem, c.String()) {
			return c, true
		}
	}
	return None, false
}

// Stem strips the directory and every extension from path
// ("lists/a_upregulated.csv.gz" -> "a_upregulated").
func Stem(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base
}
