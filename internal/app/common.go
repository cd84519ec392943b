package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/youta-t/flarc"

	"github.com/Acribbs/cribbslab/internal/config"
	"github.com/Acribbs/cribbslab/internal/logging"
)

// CommonFlags are accepted by every subcommand.
type CommonFlags struct {
	Config    string `flag:"config" help:"path to pipeline.yml (default: ./pipeline.yml, then ../pipeline.yml)"`
	LogLevel  string `flag:"log-level" help:"debug | info | warn | error (overrides log.level)"`
	LogFormat string `flag:"log-format" help:"text | json (overrides log.format)"`
}

// Env is what every task receives besides its own flags.
type Env struct {
	Logger *log.Entry
	Config *config.Config
}

// Task is a subcommand body.
type Task[T any] func(ctx context.Context, env Env, cl flarc.Commandline[T], params []any) error

// NewTask adapts task to flarc. It resolves CommonFlags from params, loads
// the configuration and the logger, and records the exit code in status.
// Usage errors go back to flarc so that it can print help.
func NewTask[T any](status *Status, task Task[T]) flarc.Task[T] {
	return func(ctx context.Context, cl flarc.Commandline[T], params []any) error {
		var common CommonFlags
		rest := make([]any, 0, len(params))
		for _, p := range params {
			switch v := p.(type) {
			case CommonFlags:
				common = v
			default:
				rest = append(rest, p)
			}
		}

		cfg, err := loadConfig(common.Config)
		if err != nil {
			fmt.Fprintf(cl.Stderr(), "%s: %v\n", cl.Fullname(), err)
			status.Set(ExitFatal)
			return nil
		}
		level, format := cfg.Log.Level, cfg.Log.Format
		if common.LogLevel != "" {
			level = common.LogLevel
		}
		if common.LogFormat != "" {
			format = common.LogFormat
		}
		lg, err := logging.New(cl.Stderr(), level, logging.Format(format))
		if err != nil {
			return errors.Join(flarc.ErrUsage, err)
		}
		lg = lg.WithField("command", cl.Fullname())

		err = task(ctx, Env{Logger: lg, Config: cfg}, cl, rest)
		if errors.Is(err, flarc.ErrUsage) {
			return err
		}
		code := ExitCode(err, *cfg.NoLabelExitCode)
		status.Set(code)
		if err != nil && code != ExitOK {
			lg.Error(err)
		}
		return nil
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		p, err := config.Find()
		if errors.Is(err, config.ErrNotFound) {
			return config.Default(), nil
		}
		if err != nil {
			return nil, err
		}
		path = p
	}
	return config.Load(path)
}
