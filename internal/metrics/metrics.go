package metrics

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	metric2 "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
)

// MetricProvider is the OTEL meter provider the gateway builds its
// Instruments on top of.
type MetricProvider interface {
	Meter(name string, options ...metric.MeterOption) metric.Meter
	Shutdown(ctx context.Context) error
}

func getReaders(ctx context.Context, cfg Config, opt []otlpmetricgrpc.Option) []metric2.Reader {
	var readers []metric2.Reader

	for _, provider := range cfg.Provider {
		switch provider.Provider {
		case PrometheusProvider:
			promExporter, err := prometheus.New()
			if err != nil {
				panic(err)
			}

			readers = append(readers, promExporter)
		case OtelCollector:
			cfg := []otlpmetricgrpc.Option{
				otlpmetricgrpc.WithEndpointURL(provider.Endpoint),
				otlpmetricgrpc.WithHeaders(provider.Headers),
			}

			if provider.Insecure {
				cfg = append(cfg, otlpmetricgrpc.WithInsecure())
			}

			exp, err := otlpmetricgrpc.New(ctx, cfg...)
			if err != nil {
				panic(err)
			}

			readers = append(readers, metric2.NewPeriodicReader(exp))
		}
	}

	if len(cfg.Provider) == 0 {
		promExporter, err := prometheus.New()
		if err != nil {
			panic(err)
		}
		readers = append(readers, promExporter)
	}

	return readers
}

// NewMetricProvider builds an OTEL MeterProvider from the given options and
// registers it globally via otel.SetMeterProvider. With no provider option
// supplied it defaults to a Prometheus reader, matching the /metrics
// surface healthsrv exposes.
func NewMetricProvider(options ...OptionFn) MetricProvider {
	ctx := context.Background()

	var cfg Config

	for _, opt := range options {
		cfg = opt(cfg)
	}

	readers := getReaders(ctx, cfg, nil)

	var metricsOps []metric2.Option

	for _, reader := range readers {
		metricsOps = append(metricsOps, metric2.WithReader(reader))
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = os.Getenv("OTEL_SERVICE_NAME")
	}
	if serviceName == "" {
		serviceName = "trading-gateway"
	}
	metricsOps = append(metricsOps, metric2.WithResource(
		resource.NewSchemaless(semconv.ServiceNameKey.String(serviceName)),
	))

	meterProvider := metric2.NewMeterProvider(metricsOps...)

	otel.SetMeterProvider(meterProvider)

	return meterProvider
}

// ServePrometheusMetrics serves the Prometheus scrape surface on the given
// port. It blocks; callers run it in its own goroutine.
func ServePrometheusMetrics(opt ...PromOptionFn) {
	var cfg PromServerConfig
	var port = "9090"

	for _, o := range opt {
		cfg = o(cfg)
	}

	if cfg.port != "" {
		port = cfg.port
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.Printf("serving metrics at :%s/metrics", port)
	srv := &http.Server{Addr: fmt.Sprintf(":%s", port), Handler: mux}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("error serving metrics http: %v", err)
	}
}

// Instruments holds the gateway's domain counters and gauges, recorded
// against venue/data_type attributes so Prometheus queries can slice by
// either dimension.
type Instruments struct {
	MessagesIn          metric.Int64Counter
	MessagesOut         metric.Int64Counter
	ParseErrors         metric.Int64Counter
	ProtocolErrors      metric.Int64Counter
	PublicationFailures metric.Int64Counter
	Backpressure        metric.Int64Counter
	Reconnects          metric.Int64Counter
	ConnectionState     metric.Int64Gauge
	StaleStreams        metric.Int64Gauge
}

// NewInstruments registers the gateway's metric instruments against the
// given meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)

	if in.MessagesIn, err = meter.Int64Counter("gateway_messages_in_total",
		metric.WithDescription("raw frames received per venue and data type")); err != nil {
		return nil, err
	}
	if in.MessagesOut, err = meter.Int64Counter("gateway_messages_out_total",
		metric.WithDescription("normalized records published per venue and data type")); err != nil {
		return nil, err
	}
	if in.ParseErrors, err = meter.Int64Counter("gateway_parse_errors_total",
		metric.WithDescription("frames rejected by the wire-format parsers")); err != nil {
		return nil, err
	}
	if in.ProtocolErrors, err = meter.Int64Counter("gateway_protocol_errors_total",
		metric.WithDescription("control-plane frames violating a venue's schema")); err != nil {
		return nil, err
	}
	if in.PublicationFailures, err = meter.Int64Counter("gateway_publication_failures_total",
		metric.WithDescription("records that could not be encoded or offered to a stream")); err != nil {
		return nil, err
	}
	if in.Backpressure, err = meter.Int64Counter("gateway_backpressure_events_total",
		metric.WithDescription("non-blocking offers that found a stream full")); err != nil {
		return nil, err
	}
	if in.Reconnects, err = meter.Int64Counter("gateway_reconnects_total",
		metric.WithDescription("reconnect attempts issued per venue")); err != nil {
		return nil, err
	}
	if in.ConnectionState, err = meter.Int64Gauge("gateway_connection_state",
		metric.WithDescription("current client state per venue and data type, as a small integer code")); err != nil {
		return nil, err
	}
	if in.StaleStreams, err = meter.Int64Gauge("gateway_stale_streams",
		metric.WithDescription("1 if a stream has received no message within its staleness window, else 0")); err != nil {
		return nil, err
	}

	return &in, nil
}
