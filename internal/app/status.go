package app

import (
	"context"
	"errors"
	"io"
	"sync"
	"syscall"

	"github.com/youta-t/flarc"

	"github.com/Acribbs/cribbslab/internal/pipeline"
)

// Exit codes.
const (
	ExitOK                = 0
	ExitUsage             = 2
	ExitFatal             = 3
	ExitFailedInvocations = 4
	ExitCancelled         = 130
)

// Status carries the exit code chosen by a task out of flarc.Run.
type Status struct {
	mu   sync.Mutex
	code int
}

func (s *Status) Set(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code = code
}

func (s *Status) Code() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// Resolve combines flarc.Run's return value with the recorded status.
func (s *Status) Resolve(runCode int) int {
	if runCode != 0 {
		return runCode
	}
	return s.Code()
}

// IsBrokenPipe reports whether an error is a broken pipe / closed pipe.
// Useful when downstream consumers (like `head`) close early.
func IsBrokenPipe(err error) bool {
	return err != nil && (errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe))
}

// ExitCode maps a task error to the process exit code. noLabel is the
// configured code for a segmentation without records.
func ExitCode(err error, noLabel int) int {
	switch {
	case err == nil, IsBrokenPipe(err):
		return ExitOK
	case errors.Is(err, flarc.ErrUsage):
		return ExitUsage
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ExitCancelled
	case errors.Is(err, pipeline.ErrNoLabels):
		return noLabel
	case errors.Is(err, pipeline.ErrInvocationsFailed):
		return ExitFailedInvocations
	default:
		return ExitFatal
	}
}
