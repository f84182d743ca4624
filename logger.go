package pagetree

// Logger receives the tree's structural events: root growth and shrink at
// Info, corruption found while traversing at Error. The method set matches
// *slog.Logger; package logger adapts zap and logrus.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

// DiscardLogger drops every message. It is the default.
type DiscardLogger struct{}

func (DiscardLogger) Error(string, ...any) {}
func (DiscardLogger) Warn(string, ...any)  {}
func (DiscardLogger) Info(string, ...any)  {}
