package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a production-friendly structured logger writing JSON to stdout.
func New(appEnv string) *slog.Logger {
	return NewWithWriter(os.Stdout, appEnv, "")
}

// NewWithWriter builds the JSON logger on w. level overrides the env-derived
// default when it names a slog level ("debug", "info", "warn", "error").
func NewWithWriter(w io.Writer, appEnv, level string) *slog.Logger {
	lvl := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		lvl = slog.LevelDebug
	}
	if level != "" {
		var parsed slog.Level
		if err := parsed.UnmarshalText([]byte(strings.ToUpper(level))); err == nil {
			lvl = parsed
		}
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// ForCall returns l annotated with the call id, the key every reconciliation
// log line is correlated on.
func ForCall(l *slog.Logger, callID string) *slog.Logger {
	if callID == "" {
		return l
	}
	return l.With("call_id", callID)
}
