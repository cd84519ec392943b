// Package logging builds the logrus loggers shared by every subcommand.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Format selects the logrus formatter.
type Format string

const (
	Text Format = "text"
	JSON Format = "json"
)

// New returns a logger writing to out at the given level.
// Every entry carries the run id of the process.
func New(out io.Writer, level string, format Format) (*log.Entry, error) {
	l := log.New()
	l.SetOutput(out)

	if level == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	l.SetLevel(lvl)

	switch Format(strings.ToLower(string(format))) {
	case "", Text:
		l.SetFormatter(&log.TextFormatter{DisableColors: true, FullTimestamp: true})
	case JSON:
		l.SetFormatter(&log.JSONFormatter{})
	default:
		return nil, fmt.Errorf("log format %q: want text or json", format)
	}
	return l.WithField("run_id", uuid.NewString()), nil
}

// Discard returns a logger that drops everything. Tests use it.
func Discard() *log.Entry {
	l := log.New()
	l.SetOutput(io.Discard)
	return log.NewEntry(l)
}

// Warnf logs at warning level unless quiet is set.
func Warnf(dst log.FieldLogger, quiet bool, format string, a ...any) {
	if quiet || dst == nil {
		return
	}
	dst.Warnf(format, a...)
}
