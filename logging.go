package nodetree

import (
	"context"
	"log/slog"
	"time"
)

// LogEvent describes one tree operation for logging.
type LogEvent struct {
	// Op is the operation: "evaluate", "validate", "assemble", "save", "load".
	Op       string
	Target   string
	Engine   string
	Expr     string
	Duration time.Duration
	Err      error
}

// Logger records tree operation events.
type Logger interface {
	Log(LogEvent)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(LogEvent)

// Log implements Logger.
func (f LoggerFunc) Log(event LogEvent) {
	if f != nil {
		f(event)
	}
}

type noopLogger struct{}

func (noopLogger) Log(LogEvent) {}

// NopLogger returns a Logger that discards every event.
func NopLogger() Logger {
	return noopLogger{}
}

// WithLogger attaches a logger to the Tree wrapper.
func WithLogger(logger Logger) Option {
	return func(cfg *treeConfig) {
		if logger == nil {
			cfg.logger = noopLogger{}
			return
		}
		cfg.logger = logger
	}
}

// SlogLogger forwards events to logger: successes at debug level, failures
// at error level.
func SlogLogger(logger *slog.Logger) Logger {
	if logger == nil {
		return noopLogger{}
	}
	return LoggerFunc(func(event LogEvent) {
		attrs := []slog.Attr{
			slog.String("op", event.Op),
			slog.Duration("duration", event.Duration),
		}
		if event.Target != "" {
			attrs = append(attrs, slog.String("target", event.Target))
		}
		if event.Engine != "" {
			attrs = append(attrs, slog.String("engine", event.Engine))
		}
		if event.Expr != "" {
			attrs = append(attrs, slog.String("expr", event.Expr))
		}
		level := slog.LevelDebug
		if event.Err != nil {
			level = slog.LevelError
			attrs = append(attrs, slog.Any("error", event.Err))
		}
		logger.LogAttrs(context.Background(), level, "nodetree "+event.Op, attrs...)
	})
}
