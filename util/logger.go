// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// Logger writes levelled messages to stderr through zerolog's console
// writer.  It is safe for concurrent use; child loggers created with
// With share the parent's output.
type Logger struct {
	level      LogLevel
	sink       io.Writer // synchronized, shared with every child
	timestamps bool      // if true, prepend wall-clock timestamps
	fields     []field
	zl         zerolog.Logger
}

type field struct {
	key   string
	value interface{}
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = quiet, 1 = normal, 2 = verbose, 3 = debug).
func NewLogger(verbosity int) *Logger {
	l := &Logger{
		level:      LogLevel(verbosity),
		sink:       zerolog.SyncWriter(os.Stderr),
		timestamps: verbosity >= 3, // auto-enable timestamps in debug mode
	}
	l.rebuild()
	return l
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) {
	l.timestamps = on
	l.rebuild()
}

// SetOutput overrides the output writer (default: os.Stderr).  Child
// loggers created afterwards share w and its lock.
func (l *Logger) SetOutput(w io.Writer) {
	l.sink = zerolog.SyncWriter(w)
	l.rebuild()
}

// With returns a child logger that tags every message with key=value.
func (l *Logger) With(key string, value interface{}) *Logger {
	child := &Logger{
		level:      l.level,
		sink:       l.sink,
		timestamps: l.timestamps,
		fields:     append(append([]field(nil), l.fields...), field{key, value}),
	}
	child.rebuild()
	return child
}

// Info prints when verbosity ≥ 1.
func (l *Logger) Info(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

// Warn prints when verbosity ≥ 1.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

// Verbose prints when verbosity ≥ 2.
func (l *Logger) Verbose(format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

// Debug prints when verbosity ≥ 3, at zerolog's debug level.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level >= LogDebug {
		l.zl.Debug().Msgf(format, args...)
	}
}

// Error always prints regardless of verbosity.
func (l *Logger) Error(format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
}

func (l *Logger) rebuild() {
	cw := zerolog.ConsoleWriter{
		Out:        l.sink,
		NoColor:    true,
		TimeFormat: "15:04:05.000",
	}
	if !l.timestamps {
		cw.PartsExclude = []string{zerolog.TimestampFieldName}
	}

	ctx := zerolog.New(cw).Level(zerologLevel(l.level)).With()
	if l.timestamps {
		ctx = ctx.Timestamp()
	}
	for _, f := range l.fields {
		ctx = ctx.Str(f.key, fmt.Sprint(f.value))
	}
	l.zl = ctx.Logger()
}

// zerologLevel maps the verbosity scale onto zerolog's minimum level.
func zerologLevel(level LogLevel) zerolog.Level {
	switch {
	case level <= LogQuiet:
		return zerolog.ErrorLevel
	case level < LogVerbose:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
