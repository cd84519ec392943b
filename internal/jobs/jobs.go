// Package jobs runs external commands with their output captured to files.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Job is one shell command. Stdout and Stderr name files that receive the
// command's streams; empty means discard.
type Job struct {
	Name    string
	Command string
	Stdout  string
	Stderr  string
}

// Executor submits a job and blocks until it finishes.
type Executor interface {
	Submit(ctx context.Context, j Job) error
}

// ExitError is returned when the command ran and exited non-zero.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

func (e *ExitError) Unwrap() error { return e.Err }

// Local runs jobs on this host through a shell.
type Local struct {
	Shell string // default "/bin/sh"
}

func (l Local) Submit(ctx context.Context, j Job) error {
	sh := l.Shell
	if sh == "" {
		sh = "/bin/sh"
	}
	cmd := exec.CommandContext(ctx, sh, "-c", j.Command)

	closeAll := []func() error{}
	defer func() {
		for _, c := range closeAll {
			_ = c()
		}
	}()
	if j.Stdout != "" {
		f, err := os.Create(j.Stdout)
		if err != nil {
			return err
		}
		closeAll = append(closeAll, f.Close)
		cmd.Stdout = f
	}
	if j.Stderr != "" {
		f, err := os.Create(j.Stderr)
		if err != nil {
			return err
		}
		closeAll = append(closeAll, f.Close)
		cmd.Stderr = f
	}

	err := cmd.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return &ExitError{Code: ee.ExitCode(), Err: err}
	}
	return err
}

// Quote single-quotes s for /bin/sh.
func Quote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`!*?[](){};&|<>#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
