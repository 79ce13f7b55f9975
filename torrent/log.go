package torrent

import (
	"fmt"
	"log"
	"os"

	"github.com/mitchellh/colorstring"
)

// Logger is the engine's leveled logger: stdlib log underneath, colorized
// tags on top so a terminal reader can scan failures at a glance. Debug
// lines (per-message wire tracing) are gated behind an explicit flag so
// normal runs stay terse.
type Logger struct {
	debug bool
	std   *log.Logger
}

// NewLogger builds a Logger writing to stderr. debug enables per-message
// wire tracing.
func NewLogger(debug bool) *Logger {
	return &Logger{debug: debug, std: log.New(os.Stderr, "", log.LstdFlags)}
}

func (l *Logger) line(tag, color, format string, args ...interface{}) {
	msg := colorstring.Color(fmt.Sprintf("[%s]%s[reset]\t%s", color, tag, fmt.Sprintf(format, args...)))
	l.std.Print(msg)
}

// Info logs a routine status line.
func (l *Logger) Info(format string, args ...interface{}) {
	l.line("INFO", "green", format, args...)
}

// Fail logs a recoverable failure (block retry, piece hash mismatch,
// session termination).
func (l *Logger) Fail(format string, args ...interface{}) {
	l.line("FAIL", "yellow", format, args...)
}

// Error logs a fatal, operator-facing failure.
func (l *Logger) Error(format string, args ...interface{}) {
	l.line("ERROR", "red", format, args...)
}

// Debug logs per-message wire tracing; a no-op unless debug mode is on.
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.line("DEBUG", "cyan", format, args...)
}
