// Package logging provides types.Logger implementations.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/arloliu/quizflow/types"
)

// SlogLogger implements types.Logger using Go's standard log/slog package.
type SlogLogger struct {
	logger *slog.Logger
}

// Compile-time assertion that SlogLogger implements Logger.
var _ types.Logger = (*SlogLogger)(nil)

// NewSlog wraps an existing slog.Logger.
//
// Example:
//
//	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
//	logger := NewSlog(slog.New(handler))
//	logger.Info("listener started", "subject", "quiz.generated")
func NewSlog(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

// NewSlogDefault wraps slog.Default().
func NewSlogDefault() *SlogLogger {
	return &SlogLogger{logger: slog.Default()}
}

// New builds a logger from configuration values.
//
// Parameters:
//   - level: "debug", "info", "warn" or "error"
//   - format: "text" or "json"
//   - w: Destination; os.Stderr when nil
func New(level, format string, w io.Writer) (*SlogLogger, error) {
	if w == nil {
		w = os.Stderr
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	return NewSlog(slog.New(handler)), nil
}

// With returns a logger that adds keysAndValues to every record.
func (l *SlogLogger) With(keysAndValues ...any) *SlogLogger {
	return &SlogLogger{logger: l.logger.With(keysAndValues...)}
}

// Debug logs a debug-level message with optional key-value pairs.
func (l *SlogLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

// Info logs an info-level message with optional key-value pairs.
func (l *SlogLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info(msg, keysAndValues...)
}

// Warn logs a warning-level message with optional key-value pairs.
func (l *SlogLogger) Warn(msg string, keysAndValues ...any) {
	l.logger.Warn(msg, keysAndValues...)
}

// Error logs an error-level message with optional key-value pairs.
func (l *SlogLogger) Error(msg string, keysAndValues ...any) {
	l.logger.Error(msg, keysAndValues...)
}

// Fatal logs at Error level (slog has no Fatal level) and exits the process.
func (l *SlogLogger) Fatal(msg string, keysAndValues ...any) {
	l.logger.Error(msg, keysAndValues...)
	os.Exit(1) //nolint:revive // Fatal should exit the program
}
