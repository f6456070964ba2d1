package internal

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents different logging verbosity levels
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
	LogLevelTrace
)

// ParseLogLevel maps ERROR/WARN/INFO/DEBUG/TRACE (any case) to a level, defaulting to info
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return LogLevelError
	case "WARN", "WARNING":
		return LogLevelWarn
	case "DEBUG":
		return LogLevelDebug
	case "TRACE":
		return LogLevelTrace
	}
	return LogLevelInfo
}

func (l LogLevel) logrusLevel() logrus.Level {
	switch l {
	case LogLevelError:
		return logrus.ErrorLevel
	case LogLevelWarn:
		return logrus.WarnLevel
	case LogLevelDebug:
		return logrus.DebugLevel
	case LogLevelTrace:
		return logrus.TraceLevel
	}
	return logrus.InfoLevel
}

// LogOptions configures the logrus backend
type LogOptions struct {
	Level      string
	Format     string // text or json
	File       string // optional, rotated by lumberjack
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger provides leveled logging
type Logger struct {
	level     LogLevel
	backend   *logrus.Logger
	component string
}

// NewLogger creates a new logger with the specified level writing text to stderr
func NewLogger(level LogLevel) *Logger {
	backend := logrus.New()
	backend.SetOutput(os.Stderr)
	backend.SetLevel(level.logrusLevel())
	backend.SetFormatter(textFormatter())
	return &Logger{level: level, backend: backend}
}

// NewLoggerWithOptions builds a logger from explicit options
func NewLoggerWithOptions(opts LogOptions) *Logger {
	level := ParseLogLevel(opts.Level)
	backend := logrus.New()
	backend.SetLevel(level.logrusLevel())

	if strings.EqualFold(opts.Format, "json") {
		backend.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	} else {
		backend.SetFormatter(textFormatter())
	}

	var out io.Writer = os.Stderr
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 50),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 14),
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, rotator)
	}
	backend.SetOutput(out)

	return &Logger{level: level, backend: backend}
}

// NewDefaultLogger creates a logger based on LOG_LEVEL, LOG_FORMAT and LOG_FILE
func NewDefaultLogger() *Logger {
	return NewLoggerWithOptions(LogOptions{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
		File:   os.Getenv("LOG_FILE"),
	})
}

const timestampFormat = "2006-01-02 15:04:05.000"

func textFormatter() logrus.Formatter {
	return &logrus.TextFormatter{
		TimestampFormat: timestampFormat,
		FullTimestamp:   true,
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// With returns a logger that prefixes messages with [component]
func (l *Logger) With(component string) *Logger {
	return &Logger{level: l.level, backend: l.backend, component: component}
}

// SetOutput redirects the backend, mostly for tests
func (l *Logger) SetOutput(w io.Writer) {
	l.backend.SetOutput(w)
}

func (l *Logger) entry() *logrus.Entry {
	if l.component == "" {
		return logrus.NewEntry(l.backend)
	}
	return l.backend.WithField("component", l.component)
}

func (l *Logger) prefix(format string) string {
	if l.component == "" {
		return format
	}
	return "[" + l.component + "] " + format
}

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	if l.level >= LogLevelError {
		l.entry().Errorf(l.prefix(format), args...)
	}
}

// Warn logs warning messages
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level >= LogLevelWarn {
		l.entry().Warnf(l.prefix(format), args...)
	}
}

// Info logs info messages
func (l *Logger) Info(format string, args ...interface{}) {
	if l.level >= LogLevelInfo {
		l.entry().Infof(l.prefix(format), args...)
	}
}

// Debug logs debug messages
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level >= LogLevelDebug {
		l.entry().Debugf(l.prefix(format), args...)
	}
}

// Trace logs trace messages
func (l *Logger) Trace(format string, args ...interface{}) {
	if l.level >= LogLevelTrace {
		l.entry().Tracef(l.prefix(format), args...)
	}
}

// WithFields logs a structured info entry
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.entry().WithFields(logrus.Fields(fields))
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return l.level
}

// Global logger instance
var DefaultLogger = NewDefaultLogger()
