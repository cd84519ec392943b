package app

import (
	"context"
	"fmt"

	"github.com/youta-t/flarc"

	"github.com/Acribbs/cribbslab/internal/version"
)

type VersionFlags struct{}

func NewVersion(status *Status) (flarc.Command, error) {
	return flarc.NewCommand(
		"print the version",
		VersionFlags{},
		flarc.Args{},
		NewTask(status, func(ctx context.Context, env Env, cl flarc.Commandline[VersionFlags], _ []any) error {
			_, err := fmt.Fprintf(cl.Stdout(), "cribbslab %s\n", version.Version)
			return err
		}),
	)
}
