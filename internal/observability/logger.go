// Package observability provides the logging and tracing plumbing shared by
// every component of the log sink.
package observability

import (
	"fmt"
	"log"
	"os"
	"time"
)

// LogLevel is a named logging level.
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
	LogLevelFatal LogLevel = "FATAL"
)

// ParseLevel maps a configuration string to a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch s {
	case "debug", "DEBUG":
		return LogLevelDebug
	case "warn", "WARN", "warning":
		return LogLevelWarn
	case "error", "ERROR":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Logger is the logging interface used across the service.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	WithPrefix(prefix string) Logger
}

// StandardLogger implements Logger over the standard log package.
type StandardLogger struct {
	prefix string
	level  LogLevel
}

// NewLogger creates a StandardLogger with the given prefix at INFO level.
func NewLogger(prefix string) Logger {
	return &StandardLogger{prefix: prefix, level: LogLevelInfo}
}

// NewLoggerWithLevel creates a StandardLogger with an explicit minimum level.
func NewLoggerWithLevel(prefix string, level LogLevel) Logger {
	return &StandardLogger{prefix: prefix, level: level}
}

func (l *StandardLogger) Debug(msg string, fields map[string]any) {
	if l.levelEnabled(LogLevelDebug) {
		l.log(LogLevelDebug, msg, fields)
	}
}

func (l *StandardLogger) Info(msg string, fields map[string]any) {
	if l.levelEnabled(LogLevelInfo) {
		l.log(LogLevelInfo, msg, fields)
	}
}

func (l *StandardLogger) Warn(msg string, fields map[string]any) {
	if l.levelEnabled(LogLevelWarn) {
		l.log(LogLevelWarn, msg, fields)
	}
}

func (l *StandardLogger) Error(msg string, fields map[string]any) {
	l.log(LogLevelError, msg, fields)
}

// Fatal logs and exits the process.
func (l *StandardLogger) Fatal(msg string, fields map[string]any) {
	l.log(LogLevelFatal, msg, fields)
	os.Exit(1)
}

// WithPrefix returns a logger with a new prefix at the same level.
func (l *StandardLogger) WithPrefix(prefix string) Logger {
	return &StandardLogger{prefix: prefix, level: l.level}
}

var levelHierarchy = map[LogLevel]int{
	LogLevelDebug: 0,
	LogLevelInfo:  1,
	LogLevelWarn:  2,
	LogLevelError: 3,
	LogLevelFatal: 4,
}

func (l *StandardLogger) levelEnabled(level LogLevel) bool {
	return levelHierarchy[level] >= levelHierarchy[l.level]
}

func (l *StandardLogger) log(level LogLevel, msg string, fields map[string]any) {
	timestamp := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	fieldsStr := ""
	for k, v := range fields {
		fieldsStr += fmt.Sprintf(" %s=%v", k, v)
	}
	log.Printf("%s [%s] [%s] %s%s", timestamp, level, l.prefix, msg, fieldsStr)
}

// NoopLogger discards everything; used in tests.
type NoopLogger struct{}

func (NoopLogger) Debug(msg string, fields map[string]any) {}
func (NoopLogger) Info(msg string, fields map[string]any)  {}
func (NoopLogger) Warn(msg string, fields map[string]any)  {}
func (NoopLogger) Error(msg string, fields map[string]any) {}
func (n NoopLogger) WithPrefix(prefix string) Logger       { return n }

// NewNoopLogger creates a NoopLogger.
func NewNoopLogger() Logger { return NoopLogger{} }
