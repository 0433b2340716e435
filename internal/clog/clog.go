// Package clog is a tiny leveled wrapper over the standard log.Logger,
// gated by the configured log level (quiet, info, prod, debug), mirroring
// the environment-escape-hatch idiom of internal/mcpgodebug but wired to
// the host's own logLevel configuration key instead of an env var.
package clog

import (
	"io"
	"log"
	"os"
)

// Level is the closed set of verbosity levels a host may be configured
// with, ordered least to most verbose.
type Level int

const (
	// Quiet suppresses all output.
	Quiet Level = iota
	// Info logs lifecycle events: connect, reconnect, drain, shutdown.
	Info
	// Prod additionally logs recoverable failures and warnings (ping
	// failures, invalid slugs, failed re-initialize and shutdown calls).
	Prod
	// Debug logs every RPC send/receive, useful only during development.
	Debug
)

// ParseLevel maps the configuration string to a Level, defaulting to Info
// for an empty or unrecognized value.
func ParseLevel(s string) Level {
	switch s {
	case "quiet":
		return Quiet
	case "prod":
		return Prod
	case "debug":
		return Debug
	default:
		return Info
	}
}

// Logger gates a standard log.Logger by Level.
type Logger struct {
	level Level
	std   *log.Logger
}

// New returns a Logger at level, writing to w (os.Stderr if w is nil).
func New(level Level, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{level: level, std: log.New(w, "", log.LstdFlags)}
}

// Level reports the logger's configured verbosity.
func (l *Logger) Level() Level { return l.level }

// Info logs a lifecycle message if the level is Info or more verbose.
func (l *Logger) Info(format string, args ...any) {
	if l.level >= Info {
		l.std.Printf("INFO  "+format, args...)
	}
}

// Warn logs a recoverable-failure message if the level is Prod or more
// verbose.
func (l *Logger) Warn(format string, args ...any) {
	if l.level >= Prod {
		l.std.Printf("WARN  "+format, args...)
	}
}

// Debug logs a development-only message if the level is Debug.
func (l *Logger) Debug(format string, args ...any) {
	if l.level >= Debug {
		l.std.Printf("DEBUG "+format, args...)
	}
}
