package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Level orders log messages by severity
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a configuration string to a Level. Unknown values map to info.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger is a simple logger that writes to the console.
type Logger struct {
	*log.Logger
	level Level
}

// NewLogger creates a new Logger writing to stdout at info level.
func NewLogger() *Logger {
	return New(os.Stdout, LevelInfo)
}

// New creates a Logger writing to w, discarding messages below level.
func New(w io.Writer, level Level) *Logger {
	return &Logger{
		Logger: log.New(w, "", log.LstdFlags),
		level:  level,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return New(io.Discard, LevelError+1)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, kv ...interface{}) {
	l.output(LevelDebug, "DEBUG", msg, kv)
}

// Info logs an informational message.
func (l *Logger) Info(msg string, kv ...interface{}) {
	l.output(LevelInfo, "INFO", msg, kv)
}

// Warn logs a warning.
func (l *Logger) Warn(msg string, kv ...interface{}) {
	l.output(LevelWarn, "WARN", msg, kv)
}

// Error logs an error message.
func (l *Logger) Error(msg string, kv ...interface{}) {
	l.output(LevelError, "ERROR", msg, kv)
}

func (l *Logger) output(level Level, tag, msg string, kv []interface{}) {
	if l == nil || level < l.level {
		return
	}
	var b strings.Builder
	b.WriteString(tag)
	b.WriteString(": ")
	b.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		b.WriteByte(' ')
		if i+1 >= len(kv) {
			fmt.Fprintf(&b, "!BADKEY=%v", kv[i])
			break
		}
		fmt.Fprintf(&b, "%v=%s", kv[i], formatValue(kv[i+1]))
	}
	l.Print(b.String())
}

func formatValue(v interface{}) string {
	s := fmt.Sprint(v)
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
