package aggregate

import (
	"errors"
	"fmt"
)

var (
	// ErrLabelRecovery matches every *LabelRecoveryError.
	ErrLabelRecovery = errors.New("cannot recover label")
	// ErrEmptyAggregation matches every *EmptyAggregationError.
	ErrEmptyAggregation = errors.New("no result tables to aggregate")
	// ErrReservedLabel matches every *ReservedLabelError.
	ErrReservedLabel = errors.New("reserved label")
)

// LabelRecoveryError is returned when a result file name does not follow
// the "<label>_segments.out" convention.
type LabelRecoveryError struct {
	Path string
}

func (e *LabelRecoveryError) Error() string {
	return fmt.Sprintf("%s: file name does not match [<direction>_]<label>_segments.out", e.Path)
}

func (e *LabelRecoveryError) Is(target error) bool { return target == ErrLabelRecovery }

// EmptyAggregationError is returned for zero input tables. Tables with zero
// rows are not an error.
type EmptyAggregationError struct {
	Direction string
}

func (e *EmptyAggregationError) Error() string {
	if e.Direction != "" {
		return fmt.Sprintf("no %s result tables to aggregate", e.Direction)
	}
	return ErrEmptyAggregation.Error()
}

func (e *EmptyAggregationError) Is(target error) bool { return target == ErrEmptyAggregation }

// ReservedLabelError is returned for a table whose label collides with the
// matrix index column.
type ReservedLabelError struct {
	Label  string
	Source string
}

func (e *ReservedLabelError) Error() string {
	return fmt.Sprintf("%s: label %q is reserved for the index column", e.Source, e.Label)
}

func (e *ReservedLabelError) Is(target error) bool { return target == ErrReservedLabel }
