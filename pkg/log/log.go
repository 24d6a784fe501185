// Package log carries a *slog.Logger through contexts so HTTP handlers, the
// refresh loop and the upstream client all log through the handler main
// configures.
package log

import (
	"context"
	"log/slog"
)

type contextKey struct{}

var loggerKey = contextKey{}

// Ctx returns the logger carried by ctx. Contexts without one fall back to
// the process-wide slog default, which main replaces once flags are parsed.
func Ctx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// With returns a child context carrying logger.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithAttrs returns a child context whose logger attaches args to every
// record, e.g. the phone number a session is bound to.
func WithAttrs(ctx context.Context, args ...any) context.Context {
	return With(ctx, Ctx(ctx).With(args...))
}
