package otelx

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"github.com/bakkerme/marketwatch/internal/config"
)

const (
	protocolGRPC = "grpc"
	protocolHTTP = "http/protobuf"
)

// exportSettings is OTelEnvConfig with defaults filled in.
type exportSettings struct {
	service  string
	protocol string
	endpoint string
	insecure bool
	headers  map[string]string
	ratio    float64
}

func resolve(cfg config.OTelEnvConfig) exportSettings {
	s := exportSettings{
		service:  strings.TrimSpace(cfg.ServiceName),
		protocol: strings.ToLower(strings.TrimSpace(cfg.Protocol)),
		endpoint: strings.TrimSpace(cfg.Endpoint),
		insecure: cfg.Insecure,
		headers:  cfg.Headers,
		ratio:    math.Min(math.Max(cfg.SampleRatio, 0), 1),
	}
	if s.service == "" {
		s.service = "marketwatch"
	}
	switch s.protocol {
	case "":
		s.protocol = protocolGRPC
	case "http":
		s.protocol = protocolHTTP
	}
	if s.endpoint == "" {
		s.endpoint = "localhost:4317"
		if s.protocol == protocolHTTP {
			s.endpoint = "localhost:4318"
		}
	}
	return s
}

// Init installs a global tracer provider exporting over OTLP. It returns a nil
// shutdown func when tracing is disabled.
func Init(ctx context.Context, logger *slog.Logger, cfg config.OTelEnvConfig) (func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		return nil, nil
	}
	s := resolve(cfg)

	exp, err := s.exporter(ctx)
	if err != nil {
		return nil, err
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(s.service),
		semconv.ServiceNamespace("marketwatch"),
	))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(2*time.Second)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(s.ratio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	logger.Info("Tracing enabled",
		slog.String("service_name", s.service),
		slog.String("otlp_endpoint", s.endpoint),
		slog.String("otlp_protocol", s.protocol),
		slog.Float64("sample_ratio", s.ratio),
	)
	return tp.Shutdown, nil
}

func (s exportSettings) exporter(ctx context.Context) (*otlptrace.Exporter, error) {
	hasScheme := strings.Contains(s.endpoint, "://")
	switch s.protocol {
	case protocolHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(s.endpoint)}
		if hasScheme {
			opts = []otlptracehttp.Option{otlptracehttp.WithEndpointURL(s.endpoint)}
		}
		if s.insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(s.headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(s.headers))
		}
		return otlptracehttp.New(ctx, opts...)
	case protocolGRPC:
		host := s.endpoint
		if hasScheme {
			u, err := url.Parse(s.endpoint)
			if err != nil {
				return nil, fmt.Errorf("parse OTEL_EXPORTER_OTLP_ENDPOINT: %w", err)
			}
			host = u.Host
		}
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(host)}
		if s.insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(s.headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(s.headers))
		}
		return otlptracegrpc.New(ctx, opts...)
	}
	return nil, fmt.Errorf("unsupported OTEL_EXPORTER_OTLP_PROTOCOL %q (expected grpc or http/protobuf)", s.protocol)
}
