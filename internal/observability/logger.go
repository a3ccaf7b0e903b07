// Package observability holds the logging, metrics, and event-bus primitives
// shared by the oracle, ledger, and relay layers.
package observability

// Field is a single key/value attribute attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// F builds a Field. Shorthand for call sites that log several attributes.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Logger is the structured logging contract used throughout the service.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

var activeLogger Logger = nopLogger{}

// SetLogger installs the process-wide logger. Passing nil restores the no-op
// logger.
func SetLogger(logger Logger) {
	if logger == nil {
		activeLogger = nopLogger{}
		return
	}
	activeLogger = logger
}

// Log returns the installed process-wide logger.
func Log() Logger {
	return activeLogger
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...Field) {}
func (nopLogger) Info(string, ...Field)  {}
func (nopLogger) Error(string, ...Field) {}
