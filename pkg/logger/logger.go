package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger represents a leveled key/value logger
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
	With(keyvals ...interface{}) Logger
}

type slogLogger struct {
	l *slog.Logger
}

// NewLogger creates a new logger with the specified level writing to stdout.
// Production environments get JSON output, everything else gets text.
func NewLogger(level string, env string) Logger {
	return New(os.Stdout, level, env)
}

// New creates a logger writing to w
func New(w io.Writer, level string, env string) Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(env, "production") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &slogLogger{l: slog.New(handler)}
}

// Nop returns a logger that discards everything
func Nop() Logger {
	return &slogLogger{l: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (s *slogLogger) Debug(msg string, keyvals ...interface{}) {
	s.l.Debug(msg, normalize(keyvals)...)
}

func (s *slogLogger) Info(msg string, keyvals ...interface{}) {
	s.l.Info(msg, normalize(keyvals)...)
}

func (s *slogLogger) Warn(msg string, keyvals ...interface{}) {
	s.l.Warn(msg, normalize(keyvals)...)
}

func (s *slogLogger) Error(msg string, keyvals ...interface{}) {
	s.l.Error(msg, normalize(keyvals)...)
}

// With returns a child logger carrying the given fields on every record
func (s *slogLogger) With(keyvals ...interface{}) Logger {
	return &slogLogger{l: s.l.With(normalize(keyvals)...)}
}

type ctxKey struct{}

// WithContext stores l in ctx
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or fallback
func FromContext(ctx context.Context, fallback Logger) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok {
		return l
	}
	return fallback
}

// normalize turns error values into strings and pads a dangling key
func normalize(keyvals []interface{}) []interface{} {
	if len(keyvals) == 0 {
		return nil
	}

	out := make([]interface{}, 0, len(keyvals)+1)
	for i := 0; i < len(keyvals); i++ {
		v := keyvals[i]
		if err, ok := v.(error); ok && i%2 == 1 {
			v = err.Error()
		}
		out = append(out, v)
	}

	if len(out)%2 == 1 {
		out = append(out, "missing")
	}
	return out
}
