package core

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger interface for structured logging
// Implementations can provide custom logging behavior (e.g., integration with logrus, zap, etc.)
type Logger interface {
	// Debug logs a debug message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields
	Info(msg string, fields ...Field)

	// Warn logs a warning message with optional fields
	Warn(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value any
}

// F creates a new Field with the given key and value
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// ZerologLogger adapts a zerolog.Logger to Logger.
type ZerologLogger struct {
	zl zerolog.Logger
}

var _ Logger = (*ZerologLogger)(nil)

// NewZerologLogger wraps an existing zerolog logger.
func NewZerologLogger(zl zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{zl: zl}
}

// NewDefaultLogger returns a JSON logger on stderr at info level.
func NewDefaultLogger() *ZerologLogger {
	return NewWriterLogger(os.Stderr, zerolog.InfoLevel)
}

// NewWriterLogger returns a JSON logger writing to w at the given level.
func NewWriterLogger(w io.Writer, level zerolog.Level) *ZerologLogger {
	return &ZerologLogger{
		zl: zerolog.New(w).Level(level).With().Timestamp().Logger(),
	}
}

// Zerolog exposes the underlying logger.
func (l *ZerologLogger) Zerolog() zerolog.Logger {
	return l.zl
}

// Debug logs a debug message
func (l *ZerologLogger) Debug(msg string, fields ...Field) {
	l.log(l.zl.Debug(), msg, fields)
}

// Info logs an info message
func (l *ZerologLogger) Info(msg string, fields ...Field) {
	l.log(l.zl.Info(), msg, fields)
}

// Warn logs a warning message
func (l *ZerologLogger) Warn(msg string, fields ...Field) {
	l.log(l.zl.Warn(), msg, fields)
}

// Error logs an error message
func (l *ZerologLogger) Error(msg string, fields ...Field) {
	l.log(l.zl.Error(), msg, fields)
}

func (l *ZerologLogger) log(e *zerolog.Event, msg string, fields []Field) {
	// nil when the level is disabled
	if e == nil {
		return
	}
	for _, f := range fields {
		switch v := f.Value.(type) {
		case error:
			e = e.AnErr(f.Key, v)
		default:
			e = e.Interface(f.Key, v)
		}
	}
	e.Msg(msg)
}

// NoOpLogger is a logger that discards all log messages
// Useful for tests or when logging is not desired
type NoOpLogger struct{}

// NewNoOpLogger creates a new NoOpLogger
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(msg string, fields ...Field) {}
func (l *NoOpLogger) Info(msg string, fields ...Field)  {}
func (l *NoOpLogger) Warn(msg string, fields ...Field)  {}
func (l *NoOpLogger) Error(msg string, fields ...Field) {}
