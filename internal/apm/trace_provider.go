package apm

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"

	"github.com/sawpanic/gateway/internal/logx"
)

// Provider names the span exporter backing a TraceProvider.
type Provider string

const (
	// OTLPProvider exports spans to an OTLP/gRPC collector, configured via
	// the standard OTEL_EXPORTER_OTLP_ENDPOINT environment variable.
	OTLPProvider Provider = "OTLP_PROVIDER"
	// EmptyProvider installs no exporter; spans are created but dropped.
	EmptyProvider Provider = "EMPTY_PROVIDER"
)

// TraceProvider owns the process-wide tracer provider lifecycle.
type TraceProvider interface {
	Stop() error
}

type traceProvider struct {
	tp *sdktrace.TracerProvider
}

// TracerOptions configures NewTraceProvider.
type TracerOptions struct {
	exporter           sdktrace.SpanExporter
	tracerProviderName string
	useEmpty           bool
}

// TracerOption configures a TracerOptions.
type TracerOption func(*TracerOptions)

// WithProvider selects the span exporter by name.
func WithProvider(provider Provider, log *logx.Logger) TracerOption {
	if provider == OTLPProvider {
		return useOTLP(log)
	}
	log.Warn(context.Background(), "unknown trace provider, falling back to empty", "provider", string(provider))
	return useEmpty()
}

func useEmpty() TracerOption {
	return func(option *TracerOptions) {
		option.useEmpty = true
		option.tracerProviderName = string(EmptyProvider)
	}
}

func useOTLP(log *logx.Logger) TracerOption {
	return func(option *TracerOptions) {
		url := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		if url == "" {
			log.Warn(context.Background(), "OTEL_EXPORTER_OTLP_ENDPOINT unset, tracing disabled")
			option.useEmpty = true
			option.tracerProviderName = string(EmptyProvider)
			return
		}

		exp, err := otlptracegrpc.New(
			context.Background(),
			otlptracegrpc.WithEndpointURL(url),
		)
		if err != nil {
			log.Error(context.Background(), "failed to build OTLP trace exporter", "error", err)
			option.useEmpty = true
			option.tracerProviderName = string(EmptyProvider)
			return
		}

		option.exporter = exp
		option.tracerProviderName = string(OTLPProvider)
	}
}

// NewTraceProvider builds and installs a global TracerProvider. With no
// options it defaults to EmptyProvider, since the gateway's hot path must
// not block on a missing collector.
func NewTraceProvider(log *logx.Logger, options ...TracerOption) TraceProvider {
	serviceName := os.Getenv("OTEL_SERVICE_NAME")
	if serviceName == "" {
		serviceName = "trading-gateway"
	}

	if len(options) == 0 {
		options = []TracerOption{useEmpty()}
	}

	opts := &TracerOptions{}
	for _, opt := range options {
		opt(opts)
	}

	if opts.useEmpty {
		return NewEmptyTraceProvider()
	}

	rsrc, _ := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			attribute.String("otel.provider", opts.tracerProviderName),
		))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(opts.exporter),
		sdktrace.WithResource(rsrc),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))

	return &traceProvider{tp}
}

func (o *traceProvider) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return o.tp.Shutdown(ctx)
}
