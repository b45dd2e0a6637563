package log

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return l
}

// Field is a single structured logging field.
type Field struct {
	Key   string
	Value interface{}
}

// F builds a Field for use with LogWithFields.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// SetVerbose switches the log level between Info and Debug. Per-event
// filter and trigger decisions are logged at Debug.
func SetVerbose(verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
}

// SetOutput redirects log output. Used by tests.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// LogWithFields returns a log entry carrying the given fields.
func LogWithFields(fields ...Field) *logrus.Entry {
	lf := make(logrus.Fields, len(fields))
	for _, f := range fields {
		lf[f.Key] = f.Value
	}
	return logger.WithFields(lf)
}

// Debug logs a formatted message at debug level
func Debug(format string, args ...interface{}) {
	logger.Debugf(format, args...)
}

// Info logs a formatted message at info level
func Info(format string, args ...interface{}) {
	logger.Infof(format, args...)
}

// Warn logs a formatted warning message
func Warn(format string, args ...interface{}) {
	logger.Warnf(format, args...)
}

// Error logs a formatted error message
func Error(format string, args ...interface{}) {
	logger.Errorf(format, args...)
}
