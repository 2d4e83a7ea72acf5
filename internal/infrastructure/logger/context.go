package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey      contextKey = "logger"
	requestIDKey   contextKey = "request_id"
	marketplaceKey contextKey = "marketplace"
	userIDKey      contextKey = "user_id"
)

// WithContext attaches logger to ctx
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the attached logger or a no-op logger
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.NewNop()
}

// WithRequestID records the request id on ctx
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithMarketplace records the marketplace being served on ctx
func WithMarketplace(ctx context.Context, marketplace string) context.Context {
	return context.WithValue(ctx, marketplaceKey, marketplace)
}

// WithUserID records the acting user on ctx
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// RequestID returns the request id on ctx or ""
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// Marketplace returns the marketplace on ctx or ""
func Marketplace(ctx context.Context) string {
	v, _ := ctx.Value(marketplaceKey).(string)
	return v
}

// UserID returns the user id on ctx or ""
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// L returns base enriched with the request id, marketplace, user and trace/span ids found on ctx.
// With a nil base the context logger is used.
func L(ctx context.Context, base ...*zap.Logger) *zap.Logger {
	l := FromContext(ctx)
	if len(base) > 0 && base[0] != nil {
		l = base[0]
	}
	return l.With(Fields(ctx)...)
}

// Fields returns the correlation fields present on ctx
func Fields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if v := RequestID(ctx); v != "" {
		fields = append(fields, zap.String("request_id", v))
	}
	if v := Marketplace(ctx); v != "" {
		fields = append(fields, zap.String("marketplace", v))
	}
	if v := UserID(ctx); v != "" {
		fields = append(fields, zap.String("user_id", v))
	}
	return fields
}
