package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"identra.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes a structured audit event enriched with request context.
// Durable audit rows are the identity store's concern; this stream exists so
// operators can tail security-relevant events without a database query.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	attrs := make([]any, 0, 2+2*len(fields))
	attrs = append(attrs, slog.String("type", "audit"))
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	obs.Logger().InfoContext(ctx, event, attrs...)
	return nil
}
