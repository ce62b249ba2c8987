// Package middleware holds the gin middleware of the bridge HTTP API.
package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/contatto/pkg/constants"
	"github.com/turtacn/contatto/pkg/logger"
)

// HeaderRequestID carries the request id back to the caller.
const HeaderRequestID = "X-Request-ID"

// HTTPMetrics records request totals and latency.
type HTTPMetrics interface {
	RecordHTTPRequest(method, path string, status int, duration time.Duration)
}

// ObservabilityMiddleware starts a span for every request, exposes its trace
// id to handlers and logs, and records request metrics under the route
// template to keep label cardinality low.
func ObservabilityMiddleware(tracer trace.Tracer, metrics HTTPMetrics, log logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	log = log.WithComponent("http")
	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = "not_found"
		}

		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+path,
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		traceID := TraceIDFromSpan(span)
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = context.WithValue(ctx, constants.ContextKeyTraceID, traceID)
		ctx = context.WithValue(ctx, constants.ContextKeyRequestID, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(constants.ContextKeyTraceID), traceID)
		c.Header(HeaderRequestID, requestID)

		c.Next()

		status := c.Writer.Status()
		duration := time.Since(start)
		if metrics != nil {
			metrics.RecordHTTPRequest(c.Request.Method, path, status, duration)
		}

		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", path),
			attribute.Int("http.status_code", status),
			attribute.String("http.client_ip", c.ClientIP()),
		)
		if status >= 500 {
			span.SetStatus(codes.Error, "server error")
		}

		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", path),
			logger.Int("status", status),
			logger.Duration("latency", duration),
			logger.String("request_id", requestID),
		}
		switch {
		case status >= 500:
			log.Warn(ctx, "Request failed", fields...)
		case path == "/metrics" || path == "/live":
			log.Debug(ctx, "Request processed", fields...)
		default:
			log.Info(ctx, "Request processed", fields...)
		}
	}
}

// TraceIDFromSpan returns the span's trace id, or a random id when tracing
// is disabled and the span carries no valid context.
func TraceIDFromSpan(span trace.Span) string {
	if sc := span.SpanContext(); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return uuid.NewString()
}

// TraceID returns the trace id the middleware stored on c.
func TraceID(c *gin.Context) string {
	return c.GetString(string(constants.ContextKeyTraceID))
}
