package logger

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader is echoed back on every response.
const RequestIDHeader = "X-Request-ID"

// WithTraceID adds a trace ID to the context, generating one when traceID is empty.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = uuid.New().String()
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID extracts the trace ID from the context, or "".
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// Middleware tags each request with a trace ID (taken from X-Request-ID when the
// client sends one) and writes one access log line when the handler returns.
func Middleware(l *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		ctx := WithTraceID(c.Request.Context(), c.GetHeader(RequestIDHeader))
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, GetTraceID(ctx))

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			l.ErrorContext(ctx, "request failed", fields...)
		case status >= 400:
			l.WarnContext(ctx, "request rejected", fields...)
		default:
			l.InfoContext(ctx, "request handled", fields...)
		}
	}
}
