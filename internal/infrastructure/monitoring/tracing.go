// Package monitoring wires the bridge to zap, Prometheus and OpenTelemetry.
package monitoring

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/contatto/internal/config"
	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/pkg/logger"
)

const tracerName = "contatto-bridge"

// TracingManager owns the tracer provider. With tracing disabled it hands out
// the global no-op tracer, so callers never branch on configuration.
type TracingManager struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	logger   logger.Logger

	// connection session span, driven by phase changes
	mu      sync.Mutex
	session trace.Span
	phase   models.Phase
}

// NewTracingManager creates the provider and exports spans to Jaeger when
// cfg.Enabled is set.
func NewTracingManager(cfg config.TracingConfig, log logger.Logger) (*TracingManager, error) {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	log = log.WithComponent("tracing")
	if !cfg.Enabled {
		log.Info(context.Background(), "Tracing is disabled")
		return &TracingManager{tracer: otel.Tracer(tracerName), logger: log}, nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerEndpoint)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.ServiceName),
		attribute.String("environment", cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	)
	// Vendor calls go through otelhttp, which reads the global provider.
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(context.Background(), "Tracing initialized",
		logger.String("endpoint", cfg.JaegerEndpoint),
		logger.Float64("sample_rate", cfg.SamplingRate),
	)
	return newTracingManager(provider, log), nil
}

func newTracingManager(provider *sdktrace.TracerProvider, log logger.Logger) *TracingManager {
	return &TracingManager{
		tracer:   provider.Tracer(tracerName),
		provider: provider,
		logger:   log,
	}
}

// Tracer returns the tracer handed to components that open their own spans.
func (tm *TracingManager) Tracer() trace.Tracer {
	return tm.tracer
}

// ObserveConnection turns real-time connection phases into spans. One span
// covers a session from the first dial to the end of the connection; each
// phase is an event on it, and a session that ends with an error is marked
// failed. Register it with the supervisor's phase listener.
func (tm *TracingManager) ObserveConnection(state models.ConnectionState) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if state.Phase == tm.phase {
		return
	}
	prev := tm.phase
	tm.phase = state.Phase

	switch state.Phase {
	case models.PhaseConnecting:
		if tm.session == nil {
			_, tm.session = tm.tracer.Start(context.Background(), "realtime.session",
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(attribute.Int("retry_count", state.RetryCount)),
			)
		}
	case models.PhaseConnected:
		if tm.session != nil {
			tm.session.SetAttributes(attribute.String("connection_id", state.ConnectionID))
		}
	case models.PhaseBackingOff, models.PhaseDisconnected:
		if tm.session == nil {
			return
		}
		if state.LastError != "" {
			tm.session.SetStatus(codes.Error, state.LastError)
		} else if prev == models.PhaseConnected {
			tm.session.SetStatus(codes.Ok, "")
		}
		tm.session.AddEvent(string(state.Phase), trace.WithAttributes(
			attribute.Int64("backoff_ms", state.BackoffDelay.Milliseconds()),
		))
		tm.session.End()
		tm.session = nil
		return
	}
	if tm.session != nil {
		tm.session.AddEvent(string(state.Phase))
	}
}

// Shutdown ends any open session span and flushes the exporter.
func (tm *TracingManager) Shutdown(ctx context.Context) error {
	tm.mu.Lock()
	if tm.session != nil {
		tm.session.End()
		tm.session = nil
	}
	tm.mu.Unlock()

	if tm.provider == nil {
		return nil
	}
	if err := tm.provider.Shutdown(ctx); err != nil {
		tm.logger.Error(ctx, "Failed to shutdown tracing provider", err)
		return err
	}
	tm.logger.Info(ctx, "Tracing provider shut down")
	return nil
}
