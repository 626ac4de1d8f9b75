package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// LogLevel represents logging severity
type LogLevel int

const (
	// LogLevelDebug for detailed debugging information
	LogLevelDebug LogLevel = iota
	// LogLevelInfo for general informational messages
	LogLevelInfo
	// LogLevelWarn for warning messages
	LogLevelWarn
	// LogLevelError for error messages
	LogLevelError
	// LogLevelNone disables all logging
	LogLevelNone
)

// Logger is the leveled logger used by the executor, stores and CLI.
type Logger interface {
	Debug(format string, v ...any)
	Info(format string, v ...any)
	Warn(format string, v ...any)
	Error(format string, v ...any)
}

// DefaultLogger implements Logger using Go's standard log package
type DefaultLogger struct {
	logger *log.Logger
	level  LogLevel
}

// NewDefaultLogger creates a new default logger writing to stderr
func NewDefaultLogger(level LogLevel) *DefaultLogger {
	return NewCustomLogger(os.Stderr, level)
}

// NewCustomLogger creates a logger with custom output
func NewCustomLogger(out io.Writer, level LogLevel) *DefaultLogger {
	return &DefaultLogger{
		logger: log.New(out, "[debate] ", log.LstdFlags),
		level:  level,
	}
}

func (l *DefaultLogger) logf(level LogLevel, format string, v ...any) {
	if l.level <= level {
		l.logger.Printf("["+level.String()+"] "+format, v...)
	}
}

// Debug logs debug messages
func (l *DefaultLogger) Debug(format string, v ...any) { l.logf(LogLevelDebug, format, v...) }

// Info logs informational messages
func (l *DefaultLogger) Info(format string, v ...any) { l.logf(LogLevelInfo, format, v...) }

// Warn logs warning messages
func (l *DefaultLogger) Warn(format string, v ...any) { l.logf(LogLevelWarn, format, v...) }

// Error logs error messages
func (l *DefaultLogger) Error(format string, v ...any) { l.logf(LogLevelError, format, v...) }

// NoOpLogger is a logger that doesn't log anything
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(format string, v ...any) {}
func (l *NoOpLogger) Info(format string, v ...any)  {}
func (l *NoOpLogger) Warn(format string, v ...any)  {}
func (l *NoOpLogger) Error(format string, v ...any) {}

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelNone:
		return "NONE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", l)
	}
}

// ParseLevel converts a level name such as "debug" or "WARN" into a LogLevel.
// "warning", "off" and "disable" are accepted as aliases.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	case "none", "off", "disable":
		return LogLevelNone, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Package-level logger (default is DefaultLogger with info level)
var defaultLogger Logger = NewDefaultLogger(LogLevelInfo)

// SetDefaultLogger sets the package-level logger
func SetDefaultLogger(logger Logger) {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	defaultLogger = logger
}

// GetDefaultLogger returns the current package-level logger
func GetDefaultLogger() Logger {
	return defaultLogger
}

// SetLogLevel creates and sets a default logger with the specified log level
func SetLogLevel(level LogLevel) {
	defaultLogger = NewDefaultLogger(level)
}

// Debug logs a debug message using the package-level logger
func Debug(format string, v ...any) {
	defaultLogger.Debug(format, v...)
}

// Info logs an informational message using the package-level logger
func Info(format string, v ...any) {
	defaultLogger.Info(format, v...)
}

// Warn logs a warning message using the package-level logger
func Warn(format string, v ...any) {
	defaultLogger.Warn(format, v...)
}

// Error logs an error message using the package-level logger
func Error(format string, v ...any) {
	defaultLogger.Error(format, v...)
}

// WithPrefix returns a Logger that prepends prefix to every message of l,
// for example "session 3f2c: ".
func WithPrefix(l Logger, prefix string) Logger {
	if p, ok := l.(*prefixLogger); ok {
		return &prefixLogger{logger: p.logger, prefix: p.prefix + prefix}
	}
	return &prefixLogger{logger: l, prefix: prefix}
}

type prefixLogger struct {
	logger Logger
	prefix string
}

func (p *prefixLogger) Debug(format string, v ...any) { p.logger.Debug(p.prefix+format, v...) }
func (p *prefixLogger) Info(format string, v ...any)  { p.logger.Info(p.prefix+format, v...) }
func (p *prefixLogger) Warn(format string, v ...any)  { p.logger.Warn(p.prefix+format, v...) }
func (p *prefixLogger) Error(format string, v ...any) { p.logger.Error(p.prefix+format, v...) }
