// Package app holds the cribbslab subcommands.
package app

import (
	"context"

	"github.com/youta-t/flarc"

	"github.com/Acribbs/cribbslab/internal/jobs"
	"github.com/Acribbs/cribbslab/internal/remote"
)

// Deps are the collaborators tasks talk to. Zero values use the real ones.
type Deps struct {
	Executor jobs.Executor
	// Connect opens the repeat database. The returned func releases it.
	Connect func(ctx context.Context, dsn string) (remote.Queryer, func(), error)
}

func (d Deps) executor() jobs.Executor {
	if d.Executor == nil {
		return jobs.Local{}
	}
	return d.Executor
}

func (d Deps) connect(ctx context.Context, dsn string) (remote.Queryer, func(), error) {
	if d.Connect != nil {
		return d.Connect(ctx, dsn)
	}
	pool, err := remote.Connect(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return pool, pool.Close, nil
}

// New builds the command tree. Exit codes chosen by tasks are recorded in
// status.
func New(status *Status, deps Deps) (flarc.Command, error) {
	run, err := NewRun(status, deps)
	if err != nil {
		return nil, err
	}
	split, err := NewSplit(status)
	if err != nil {
		return nil, err
	}
	annotate, err := NewAnnotate(status)
	if err != nil {
		return nil, err
	}
	enrich, err := NewEnrich(status, deps)
	if err != nil {
		return nil, err
	}
	aggregate, err := NewAggregate(status)
	if err != nil {
		return nil, err
	}
	render, err := NewRender(status)
	if err != nil {
		return nil, err
	}
	fetch, err := NewFetchRepeats(status, deps)
	if err != nil {
		return nil, err
	}
	version, err := NewVersion(status)
	if err != nil {
		return nil, err
	}

	return flarc.NewCommandGroup(
		"chromatin state enrichment against gene and annotation sets",
		CommonFlags{},
		flarc.WithSubcommand("run", run),
		flarc.WithSubcommand("split", split),
		flarc.WithSubcommand("annotate", annotate),
		flarc.WithSubcommand("enrich", enrich),
		flarc.WithSubcommand("aggregate", aggregate),
		flarc.WithSubcommand("render", render),
		flarc.WithSubcommand("fetch-repeats", fetch),
		flarc.WithSubcommand("version", version),
	)
}
