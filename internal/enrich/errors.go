package enrich

import (
	"errors"
	"fmt"

	"github.com/Acribbs/cribbslab/internal/direction"
)

// ErrEngine matches every *EngineError.
var ErrEngine = errors.New("enrichment engine failed")

// EngineError is one failed invocation. Partial outputs stay on disk.
type EngineError struct {
	Label     string
	Direction direction.Direction
	LogPath   string
	ExitCode  int
	Err       error
}

func (e *EngineError) Error() string {
	who := e.Label
	if e.Direction != direction.None {
		who = e.Direction.String() + "/" + e.Label
	}
	if e.ExitCode != 0 {
		return fmt.Sprintf("%s: engine exited %d (see %s)", who, e.ExitCode, e.LogPath)
	}
	return fmt.Sprintf("%s: %v (see %s)", who, e.Err, e.LogPath)
}

func (e *EngineError) Unwrap() error { return e.Err }

func (e *EngineError) Is(target error) bool { return target == ErrEngine }
