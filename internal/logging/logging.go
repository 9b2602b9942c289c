// Package logging builds the process logger. Library packages never use a
// global logger; they receive a zerolog.Logger from here.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Options struct {
	Level string
	// Format is "console" (human readable) or "json".
	Format string
	Out    io.Writer
	// Tee receives a plain-text copy of every line, e.g. the web log
	// buffer. Nil disables it.
	Tee io.Writer
}

func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

func New(opts Options) (zerolog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), err
	}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	var primary io.Writer
	switch opts.Format {
	case "", "console":
		primary = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case "json":
		primary = out
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", opts.Format)
	}

	w := primary
	if opts.Tee != nil {
		tee := zerolog.ConsoleWriter{Out: opts.Tee, NoColor: true, TimeFormat: time.RFC3339}
		w = zerolog.MultiLevelWriter(primary, tee)
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
