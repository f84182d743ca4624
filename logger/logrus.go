package logger

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/alexhholmes/pagetree"
)

// Logrus wraps a logrus.Logger to implement pagetree.Logger.
type Logrus struct {
	logger *logrus.Logger
}

// NewLogrus creates a pagetree.Logger from a logrus.Logger.
func NewLogrus(logger *logrus.Logger) pagetree.Logger {
	return &Logrus{logger: logger}
}

// Error logs an error message with key-value pairs.
func (l *Logrus) Error(msg string, args ...any) {
	l.logger.WithFields(fields(args)).Error(msg)
}

// Warn logs a warning message with key-value pairs.
func (l *Logrus) Warn(msg string, args ...any) {
	l.logger.WithFields(fields(args)).Warn(msg)
}

// Info logs an info message with key-value pairs.
func (l *Logrus) Info(msg string, args ...any) {
	l.logger.WithFields(fields(args)).Info(msg)
}

// fields pairs up args. Non-string keys are formatted; a dangling value is
// kept under "!BADKEY", as slog does.
func fields(args []any) logrus.Fields {
	f := make(logrus.Fields, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		if i == len(args)-1 {
			f["!BADKEY"] = args[i]
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		f[key] = args[i+1]
	}
	return f
}
