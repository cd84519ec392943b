package segments

import (
	"errors"
	"fmt"
)

// ErrMalformedInput matches every *MalformedInputError.
var ErrMalformedInput = errors.New("malformed segmentation input")

// MalformedInputError reports a record the splitter could not label.
type MalformedInputError struct {
	Path   string
	Line   int
	Reason string
	Err    error
}

func (e *MalformedInputError) Error() string {
	msg := fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedInputError) Unwrap() error { return e.Err }

func (e *MalformedInputError) Is(target error) bool { return target == ErrMalformedInput }
