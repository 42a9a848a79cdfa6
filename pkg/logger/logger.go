package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// New builds the process logger writing to stdout.
func New(appEnv string) *slog.Logger {
	return NewWriter(appEnv, os.Stdout)
}

// NewWriter builds a logger on w. Local runs get readable text at debug;
// dev gets JSON at debug; everything else JSON at info. LOG_LEVEL overrides.
func NewWriter(appEnv string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: levelFor(appEnv, os.Getenv("LOG_LEVEL"))}
	if appEnv == "local" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func levelFor(appEnv, override string) slog.Level {
	var lvl slog.Level
	if override != "" && lvl.UnmarshalText([]byte(strings.ToUpper(override))) == nil {
		return lvl
	}
	if appEnv == "local" || appEnv == "dev" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

type ctxKey struct{}

// With stores l in ctx.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From returns the logger in ctx or slog.Default().
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// WithCall scopes the context logger to one call leg.
func WithCall(ctx context.Context, callID, tenantID string) context.Context {
	var attrs []any
	if callID != "" {
		attrs = append(attrs, "call_id", callID)
	}
	if tenantID != "" {
		attrs = append(attrs, "tenant_id", tenantID)
	}
	if len(attrs) == 0 {
		return ctx
	}
	return With(ctx, From(ctx).With(attrs...))
}
