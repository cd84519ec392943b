package genelists

import (
	"errors"
	"fmt"

	"github.com/Acribbs/cribbslab/internal/direction"
)

var (
	// ErrAmbiguousDirection matches every *AmbiguousDirectionError.
	ErrAmbiguousDirection = errors.New("gene list has no direction")
	// ErrMissingDirection is returned when one direction has no gene lists at all.
	ErrMissingDirection = errors.New("no gene lists for direction")
)

// AmbiguousDirectionError names a gene list whose direction could not be
// derived from its name or from the explicit mapping.
type AmbiguousDirectionError struct {
	List string
	Path string
}

func (e *AmbiguousDirectionError) Error() string {
	return fmt.Sprintf("gene list %q (%s): name ends in neither %q nor %q and no direction is configured",
		e.List, e.Path, direction.Up, direction.Down)
}

func (e *AmbiguousDirectionError) Is(target error) bool { return target == ErrAmbiguousDirection }
