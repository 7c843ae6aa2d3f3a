package types

// Logger defines methods for structured logging.
//
// Every quizflow component takes a Logger; all methods accept alternating
// key-value pairs for structured fields. The slog adapter in internal/logging and
// *zap.SugaredLogger both satisfy it.
type Logger interface {
	// Debug logs per-message detail such as idempotent skips.
	Debug(msg string, keysAndValues ...any)

	// Info logs state transitions and lifecycle events.
	Info(msg string, keysAndValues ...any)

	// Warn logs recoverable failures: best-effort publish errors, dropped events.
	Warn(msg string, keysAndValues ...any)

	// Error logs failures that need operator attention.
	Error(msg string, keysAndValues ...any)

	// Fatal logs the message and terminates the process with os.Exit(1).
	Fatal(msg string, keysAndValues ...any)
}
