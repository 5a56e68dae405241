package log

// NoopLogger discards all log messages. Useful as a default when the
// embedding application does not provide a logger.
type NoopLogger struct{}

// NewNoopLogger creates a logger that does nothing.
func NewNoopLogger() *NoopLogger {
	return &NoopLogger{}
}

// Debug does nothing.
func (NoopLogger) Debug(msg string, fields ...Field) {}

// Info does nothing.
func (NoopLogger) Info(msg string, fields ...Field) {}

// Warn does nothing.
func (NoopLogger) Warn(msg string, fields ...Field) {}

// Error does nothing.
func (NoopLogger) Error(msg string, fields ...Field) {}
