// Package logging configures the process logger.
//
// Console output stays readable (short timestamps, key=value fields); the
// optional file sink keeps JSON-structured lines for later inspection.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Options selects the sinks and verbosity for New.
type Options struct {
	Level    string // trace|debug|info|warn|error, default info
	FilePath string // optional JSON log file, append-only
}

// New builds the root logger. The returned closer releases the file sink
// and is safe to call when no file was configured.
func New(opts Options) (zerolog.Logger, func() error) {
	zerolog.TimeFieldFormat = timeFormat
	zerolog.ErrorFieldName = "err"

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: timeFormat}}
	closer := func() error { return nil }

	if path := strings.TrimSpace(opts.FilePath); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: cannot open %q: %v\n", path, err)
		} else {
			writers = append(writers, zerolog.SyncWriter(f))
			closer = f.Close
		}
	}

	log := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(opts.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	return log, closer
}

// ParseLevel maps a config string to a zerolog level, falling back to def
// for anything it does not recognize.
func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return def
	}
}
