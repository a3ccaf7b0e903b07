package observability

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogrusLogger adapts a logrus.Logger to the Logger interface.
type LogrusLogger struct {
	logger *logrus.Logger
}

// NewLogrusLogger builds a JSON-formatted logrus logger at the given level.
// Unknown levels fall back to info.
func NewLogrusLogger(level string) *LogrusLogger {
	logger := logrus.New()
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	return &LogrusLogger{logger: logger}
}

// Underlying exposes the wrapped logrus logger.
func (l *LogrusLogger) Underlying() *logrus.Logger {
	return l.logger
}

// Debug logs at debug level.
func (l *LogrusLogger) Debug(msg string, fields ...Field) {
	l.logger.WithFields(toLogrusFields(fields)).Debug(msg)
}

// Info logs at info level.
func (l *LogrusLogger) Info(msg string, fields ...Field) {
	l.logger.WithFields(toLogrusFields(fields)).Info(msg)
}

// Error logs at error level.
func (l *LogrusLogger) Error(msg string, fields ...Field) {
	l.logger.WithFields(toLogrusFields(fields)).Error(msg)
}

func toLogrusFields(fields []Field) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for _, field := range fields {
		out[field.Key] = field.Value
	}
	return out
}
