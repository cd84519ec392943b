// Package appshell runs a flarc command tree as the process.
package appshell

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/youta-t/flarc"
)

// Resolver turns flarc.Run's return value into the process exit code.
type Resolver interface {
	Resolve(runCode int) int
}

// Main runs cmd under a context cancelled by SIGINT or SIGTERM and exits.
func Main(cmd flarc.Command, status Resolver) {
	os.Exit(Run(cmd, status))
}

// Run is Main without the exit.
func Run(cmd flarc.Command, status Resolver) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := status.Resolve(flarc.Run(ctx, cmd, flarc.WithHelp(true)))
	// Normalize cancellation exit code.
	if ctx.Err() != nil && code == 0 {
		code = 130
	}
	return code
}
