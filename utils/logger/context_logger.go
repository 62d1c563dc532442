package logger

import (
	"context"
	"log/slog"
)

// GlobalContext is the process-wide context logger, set by Init.
var GlobalContext *ContextLogger

type contextKey string

const (
	operationKey contextKey = "osusu.auth.operation"
	accountIDKey contextKey = "osusu.auth.account.id"
	sessionIDKey contextKey = "osusu.auth.session.id"
	providerKey  contextKey = "osusu.auth.provider"
)

// WithOperation tags the context with the lifecycle operation in progress.
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationKey, op)
}

// WithAccountID tags the context with the account acted on.
func WithAccountID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, accountIDKey, id)
}

// WithSessionID tags the context with the session acted on.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// WithProvider tags the context with the identity provider in use.
func WithProvider(ctx context.Context, provider string) context.Context {
	return context.WithValue(ctx, providerKey, provider)
}

// ContextLogger emits logs enriched with the business keys carried by the
// context.
type ContextLogger struct {
	logger *slog.Logger
}

func NewContextLogger(logger *slog.Logger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// FromContext returns a logger enriched with the business keys in ctx,
// falling back to the default logger before Init has run.
func FromContext(ctx context.Context) *slog.Logger {
	if GlobalContext != nil {
		return GlobalContext.WithContext(ctx)
	}
	return slog.Default()
}

// WithContext returns a logger carrying whichever business keys are present
// in ctx.
func (cl *ContextLogger) WithContext(ctx context.Context) *slog.Logger {
	logger := cl.logger
	for _, key := range []contextKey{operationKey, accountIDKey, sessionIDKey, providerKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			logger = logger.With(string(key), v)
		}
	}
	return logger
}
