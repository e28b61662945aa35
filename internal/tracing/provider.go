package tracing

import (
	"context"
	"errors"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"coldwatch/internal/config"
	"coldwatch/internal/logger"
)

// ErrMissingEndpoint is returned when tracing is enabled without an endpoint
var ErrMissingEndpoint = errors.New("tracing endpoint is required")

// ShutdownFunc flushes and stops the provider
type ShutdownFunc func(context.Context) error

// NewProvider installs a global TracerProvider exporting over OTLP/HTTP.
// When tracing is disabled the global no-op provider is left in place.
func NewProvider(ctx context.Context, cfg config.TracingConfig, deviceID, version string) (ShutdownFunc, error) {
	log := logger.WithComponent("tracing")
	if !cfg.Enabled {
		log.Debug().Msg("tracing disabled")
		return func(context.Context) error { return nil }, nil
	}
	if cfg.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
			semconv.ServiceInstanceID(deviceID),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithTimeout(cfg.Timeout)}
	if u, perr := url.Parse(cfg.Endpoint); perr == nil && u.Host != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(u.Host))
		if u.Scheme == "http" {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if u.Path != "" && u.Path != "/" {
			opts = append(opts, otlptracehttp.WithURLPath(u.Path))
		}
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	)
	otel.SetTracerProvider(tp)

	log.Info().
		Str("endpoint", cfg.Endpoint).
		Str("service_name", cfg.ServiceName).
		Float64("sampling_rate", cfg.SamplingRate).
		Msg("tracing initialized")

	return tp.Shutdown, nil
}
