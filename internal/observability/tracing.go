package observability

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TracingConfig configures the optional OTLP trace export.
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
}

// Tracing wraps the OpenTelemetry tracer. When disabled every method is a
// cheap no-op, so call sites never branch.
type Tracing struct {
	logger   *zap.Logger
	config   TracingConfig
	tracer   oteltrace.Tracer
	provider *trace.TracerProvider
	enabled  bool
}

// NewTracing builds a Tracing. With Enabled false no exporter is created.
func NewTracing(logger *zap.Logger, config TracingConfig) (*Tracing, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tm := &Tracing{
		logger:  logger,
		config:  config,
		enabled: config.Enabled,
	}
	if !config.Enabled {
		return tm, nil
	}
	if err := tm.init(); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	logger.Info("tracing enabled",
		zap.String("service", config.ServiceName),
		zap.String("endpoint", config.OTLPEndpoint),
		zap.Float64("sample_rate", config.SampleRate))
	return tm, nil
}

func (tm *Tracing) init() error {
	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(tm.config.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(tm.config.ServiceName),
			semconv.ServiceVersionKey.String(tm.config.ServiceVersion),
		),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	tm.provider = trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(tm.config.SampleRate)),
	)
	otel.SetTracerProvider(tm.provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tm.tracer = otel.Tracer(tm.config.ServiceName)
	return nil
}

// Close flushes and shuts down the exporter.
func (tm *Tracing) Close(ctx context.Context) error {
	if !tm.enabled || tm.provider == nil {
		return nil
	}
	return tm.provider.Shutdown(ctx)
}

// IsEnabled reports whether spans are actually exported.
func (tm *Tracing) IsEnabled() bool {
	return tm.enabled
}

// StartSpan starts a named span, or returns the ambient one when disabled.
func (tm *Tracing) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	if !tm.enabled {
		return ctx, oteltrace.SpanFromContext(ctx)
	}
	return tm.tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// TraceToolCall spans one dispatch to an upstream tool.
func (tm *Tracing) TraceToolCall(ctx context.Context, upstreamName, toolName string) (context.Context, oteltrace.Span) {
	return tm.StartSpan(ctx, "tool.call",
		attribute.String("tool.upstream", upstreamName),
		attribute.String("tool.name", toolName),
	)
}

// TraceSmartSearch spans one similarity query of the smart scope.
func (tm *Tracing) TraceSmartSearch(ctx context.Context, query string, k int) (context.Context, oteltrace.Span) {
	return tm.StartSpan(ctx, "smart.search",
		attribute.String("search.query", query),
		attribute.Int("search.k", k),
	)
}

// TraceUpstreamOp spans a connection-level upstream operation.
func (tm *Tracing) TraceUpstreamOp(ctx context.Context, upstreamName, operation string) (context.Context, oteltrace.Span) {
	return tm.StartSpan(ctx, "upstream."+operation,
		attribute.String("upstream.name", upstreamName),
	)
}

// SetSpanError marks the ambient span as failed.
func (tm *Tracing) SetSpanError(ctx context.Context, err error) {
	if !tm.enabled || err == nil {
		return
	}
	span := oteltrace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Bool("error", true),
		attribute.String("error.message", err.Error()),
	)
}

// HTTPMiddleware propagates incoming trace context and spans each request.
func (tm *Tracing) HTTPMiddleware() func(http.Handler) http.Handler {
	if !tm.enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tm.tracer.Start(ctx, r.Method+" "+r.URL.Path,
				oteltrace.WithAttributes(
					semconv.HTTPMethodKey.String(r.Method),
					semconv.HTTPTargetKey.String(r.URL.Path),
					semconv.HTTPHostKey.String(r.Host),
					semconv.HTTPUserAgentKey.String(r.UserAgent()),
				),
			)
			defer span.End()

			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(w.Header()))
			next.ServeHTTP(ww, r.WithContext(ctx))

			span.SetAttributes(semconv.HTTPStatusCodeKey.Int(ww.status))
			if ww.status >= 400 {
				span.SetAttributes(attribute.Bool("error", true))
			}
		})
	}
}
