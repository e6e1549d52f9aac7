package config

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ParseLevel accepts debug, info, warn and error.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	}
	return zerolog.NoLevel, errors.Wrapf(ErrInvalid, "unknown log level %q", s)
}

// Logger sets the global level and returns the root logger writing to w,
// through a console writer when Human is set. debug forces debug level.
func (l Log) Logger(w io.Writer, debug bool) zerolog.Logger {
	level, err := ParseLevel(l.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if w == nil {
		w = os.Stderr
	}
	if l.Human {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}
