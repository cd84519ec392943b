package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/youta-t/flarc"

	"github.com/Acribbs/cribbslab/internal/remote"
)

type FetchRepeatsFlags struct {
	DSN     string   `flag:"dsn" help:"postgres connection string (default: remote.dsn)"`
	Table   string   `flag:"table" help:"rmsk table, schema-qualified (default: remote.table, then the first *rmsk table)"`
	Class   []string `flag:"class" help:"repeat class to keep. Repeatable. (default: remote.repeat_classes, then all)"`
	Exclude []string `flag:"exclude" metavar:"REGEXP" help:"drop contigs matching REGEXP. Repeatable."`
	Output  string   `flag:"output" alias:"o" metavar:"GFF" help:"output file, .gz compresses (default: remote.output)"`
}

func NewFetchRepeats(status *Status, deps Deps) (flarc.Command, error) {
	return flarc.NewCommand(
		"download a repeat annotation set from a UCSC-style database",
		FetchRepeatsFlags{},
		flarc.Args{},
		NewTask(status, FetchRepeatsTask(deps)),
		flarc.WithDescription(`
Read RepeatMasker records from a postgres mirror of the UCSC rmsk tables and
write them as GFF, usable as an annotation set for enrich or run.
`),
	)
}

func FetchRepeatsTask(deps Deps) Task[FetchRepeatsFlags] {
	return func(ctx context.Context, env Env, cl flarc.Commandline[FetchRepeatsFlags], _ []any) error {
		rc := env.Config.Remote
		flags := cl.Flags()

		dsn := pick(flags.DSN, rc.DSN)
		if dsn == "" {
			return errors.Join(flarc.ErrUsage, errors.New("no database given (--dsn or remote.dsn)"))
		}
		classes := flags.Class
		if len(classes) == 0 {
			classes = rc.RepeatClasses
		}
		exclude := append(append([]string{}, rc.ExcludeContigs...), flags.Exclude...)
		out := pick(flags.Output, env.Config.Path(rc.Output))

		q, closer, err := deps.connect(ctx, dsn)
		if err != nil {
			return err
		}
		defer closer()

		n, err := remote.FetchRepeats(ctx, q, remote.Options{
			Table:          pick(flags.Table, rc.Table),
			Classes:        classes,
			ExcludeContigs: exclude,
			Output:         out,
			Logger:         env.Logger,
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cl.Stdout(), "%s\t%d\n", out, n)
		return err
	}
}
