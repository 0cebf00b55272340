package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger represents a logger instance
type Logger = *logrus.Logger

// Fields represents structured logging fields
type Fields = logrus.Fields

// New creates a logger writing to stderr. format is "json" or "text".
func New(level, format string) Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logger.SetLevel(ParseLevel(level))
	return logger
}

// ParseLevel maps a level name to a logrus level, defaulting to info.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Discard returns a logger that drops everything. Used by tests and as the
// fallback when a component is built without a logger.
func Discard() Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l Logger) Logger {
	if l == nil {
		return Discard()
	}
	return l
}
