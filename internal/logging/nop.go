package logging

import "github.com/arloliu/quizflow/types"

// NopLogger discards all log messages. Components fall back to it when no
// logger is configured.
type NopLogger struct{}

// Compile-time assertion that NopLogger implements Logger.
var _ types.Logger = (*NopLogger)(nil)

// NewNop creates a new no-op logger.
func NewNop() *NopLogger {
	return &NopLogger{}
}

// OrNop returns l, or a NopLogger when l is nil.
func OrNop(l types.Logger) types.Logger {
	if l == nil {
		return NewNop()
	}

	return l
}

func (n *NopLogger) Debug(_ string, _ ...any) {}
func (n *NopLogger) Info(_ string, _ ...any)  {}
func (n *NopLogger) Warn(_ string, _ ...any)  {}
func (n *NopLogger) Error(_ string, _ ...any) {}

// Fatal discards the message and does NOT call os.Exit.
func (n *NopLogger) Fatal(_ string, _ ...any) {}
