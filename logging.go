// logging.go: Pluggable logging for the plugin runtime
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger defines the pluggable logging interface for the plugin runtime.
//
// The runtime logs through this interface only, so any logging framework can
// be plugged in. Per-plugin loggers are derived with With("plugin", id) so
// every line a plugin emits is attributable to it.
//
// Design principles:
//   - Level-based: standard log levels (Debug, Info, Warn, Error)
//   - Structured args: key-value pairs for structured logging
//   - Contextual logging: With() for adding persistent context
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an info message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error message with optional key-value pairs
	Error(msg string, args ...any)

	// With returns a new logger with persistent context key-value pairs
	With(args ...any) Logger
}

// NoOpLogger provides a silent logger implementation for testing and
// minimal setups.
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-operation logger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Debug implements Logger interface (no-op)
func (n *NoOpLogger) Debug(msg string, args ...any) {}

// Info implements Logger interface (no-op)
func (n *NoOpLogger) Info(msg string, args ...any) {}

// Warn implements Logger interface (no-op)
func (n *NoOpLogger) Warn(msg string, args ...any) {}

// Error implements Logger interface (no-op)
func (n *NoOpLogger) Error(msg string, args ...any) {}

// With implements Logger interface (no-op)
func (n *NoOpLogger) With(args ...any) Logger {
	return n // Stateless, same instance is fine
}

// DefaultLogger creates a reasonable default logger for the library.
//
// Returns NoOpLogger; hosts should provide their own Logger implementation.
func DefaultLogger() Logger {
	return NewNoOpLogger()
}

// LogrusAdapter adapts a *logrus.Logger (or *logrus.Entry) to the Logger
// interface so hosts already standardized on logrus can pass their logger
// straight through.
type LogrusAdapter struct {
	entry *logrus.Entry
}

// NewLogrusAdapter wraps a logrus logger in the runtime's Logger interface.
func NewLogrusAdapter(logger *logrus.Logger) *LogrusAdapter {
	return &LogrusAdapter{entry: logrus.NewEntry(logger)}
}

func argsToFields(args []any) logrus.Fields {
	fields := make(logrus.Fields, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		fields[key] = args[i+1]
	}
	return fields
}

// Debug implements Logger interface
func (a *LogrusAdapter) Debug(msg string, args ...any) {
	a.entry.WithFields(argsToFields(args)).Debug(msg)
}

// Info implements Logger interface
func (a *LogrusAdapter) Info(msg string, args ...any) {
	a.entry.WithFields(argsToFields(args)).Info(msg)
}

// Warn implements Logger interface
func (a *LogrusAdapter) Warn(msg string, args ...any) {
	a.entry.WithFields(argsToFields(args)).Warn(msg)
}

// Error implements Logger interface
func (a *LogrusAdapter) Error(msg string, args ...any) {
	a.entry.WithFields(argsToFields(args)).Error(msg)
}

// With implements Logger interface
func (a *LogrusAdapter) With(args ...any) Logger {
	return &LogrusAdapter{entry: a.entry.WithFields(argsToFields(args))}
}

// TestLogger captures log messages for assertions in tests.
type TestLogger struct {
	mu       sync.RWMutex
	fields   []any
	Messages []TestLogMessage
}

// TestLogMessage represents a captured log message.
type TestLogMessage struct {
	Level   string
	Message string
	Args    []any
}

// NewTestLogger creates a new test logger.
func NewTestLogger() *TestLogger {
	return &TestLogger{
		Messages: make([]TestLogMessage, 0),
	}
}

func (t *TestLogger) record(level, msg string, args []any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := append(append([]any{}, t.fields...), args...)
	t.Messages = append(t.Messages, TestLogMessage{
		Level:   level,
		Message: msg,
		Args:    all,
	})
}

// Debug implements Logger interface (captures message)
func (t *TestLogger) Debug(msg string, args ...any) { t.record("DEBUG", msg, args) }

// Info implements Logger interface (captures message)
func (t *TestLogger) Info(msg string, args ...any) { t.record("INFO", msg, args) }

// Warn implements Logger interface (captures message)
func (t *TestLogger) Warn(msg string, args ...any) { t.record("WARN", msg, args) }

// Error implements Logger interface (captures message)
func (t *TestLogger) Error(msg string, args ...any) { t.record("ERROR", msg, args) }

// With implements Logger interface. The returned logger writes into this
// logger's buffer so captured output stays observable from the root.
func (t *TestLogger) With(args ...any) Logger {
	return &sharedTestLogger{root: t, fields: append(append([]any{}, t.fields...), args...)}
}

// sharedTestLogger writes into its root TestLogger's buffer.
type sharedTestLogger struct {
	root   *TestLogger
	fields []any
}

func (s *sharedTestLogger) Debug(msg string, args ...any) {
	s.root.record("DEBUG", msg, append(append([]any{}, s.fields...), args...))
}

func (s *sharedTestLogger) Info(msg string, args ...any) {
	s.root.record("INFO", msg, append(append([]any{}, s.fields...), args...))
}

func (s *sharedTestLogger) Warn(msg string, args ...any) {
	s.root.record("WARN", msg, append(append([]any{}, s.fields...), args...))
}

func (s *sharedTestLogger) Error(msg string, args ...any) {
	s.root.record("ERROR", msg, append(append([]any{}, s.fields...), args...))
}

func (s *sharedTestLogger) With(args ...any) Logger {
	return &sharedTestLogger{root: s.root, fields: append(append([]any{}, s.fields...), args...)}
}

// HasMessage checks if the logger captured a message with the given level
// and exact text.
func (t *TestLogger) HasMessage(level, message string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, msg := range t.Messages {
		if msg.Level == level && msg.Message == message {
			return true
		}
	}
	return false
}

// Clear removes all captured messages.
func (t *TestLogger) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = t.Messages[:0]
}
