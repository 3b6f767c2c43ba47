// Package exporters provides factory functions for creating OpenTelemetry exporters.
package exporters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var (
	// ErrUnknownExporter indicates an exporter name the factory does not know.
	ErrUnknownExporter = errors.New("exporters: unknown exporter")

	// ErrEndpointNotConfigured indicates a network exporter with no endpoint
	// in its options or the environment.
	ErrEndpointNotConfigured = errors.New("exporters: endpoint not configured")
)

// Options configures the exporters built by this package.
type Options struct {
	// Endpoint is an absolute collector URL. When empty the OTEL_EXPORTER_*
	// environment variables must provide one.
	Endpoint string
	Headers  map[string]string

	// Writer receives stdout exporter output. Defaults to os.Stdout.
	Writer io.Writer

	// Registerer receives the prometheus collector. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer

	ExportInterval time.Duration
	ExportTimeout  time.Duration
}

// Option mutates Options.
type Option func(*Options)

// WithEndpoint sets the collector URL.
func WithEndpoint(endpoint string) Option {
	return func(o *Options) { o.Endpoint = endpoint }
}

// WithHeaders sets headers sent with every OTLP export.
func WithHeaders(headers map[string]string) Option {
	return func(o *Options) { o.Headers = headers }
}

// WithWriter redirects stdout exporters.
func WithWriter(w io.Writer) Option {
	return func(o *Options) { o.Writer = w }
}

// WithRegisterer sets the prometheus registerer.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *Options) { o.Registerer = r }
}

// WithExportInterval sets the periodic metric reader interval.
func WithExportInterval(d time.Duration) Option {
	return func(o *Options) { o.ExportInterval = d }
}

// WithExportTimeout sets the periodic metric reader timeout.
func WithExportTimeout(d time.Duration) Option {
	return func(o *Options) { o.ExportTimeout = d }
}

func buildOptions(opts []Option) Options {
	o := Options{Writer: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Writer == nil {
		o.Writer = os.Stdout
	}
	return o
}

// NewTracingExporter creates a trace span exporter based on the exporter name.
// Supported exporters: stdout, otlp (gRPC), otlphttp, jaeger (OTLP/gRPC), none
func NewTracingExporter(ctx context.Context, name string, opts ...Option) (sdktrace.SpanExporter, error) {
	o := buildOptions(opts)

	switch name {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(o.Writer))

	case "otlp":
		endpoint, err := endpointFor(o, "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT")
		if err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx, traceGRPCOptions(o, endpoint)...)

	case "otlphttp":
		endpoint, err := endpointFor(o, "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT")
		if err != nil {
			return nil, err
		}
		var httpOpts []otlptracehttp.Option
		if endpoint != "" {
			httpOpts = append(httpOpts, otlptracehttp.WithEndpointURL(endpoint))
		}
		if len(o.Headers) > 0 {
			httpOpts = append(httpOpts, otlptracehttp.WithHeaders(o.Headers))
		}
		return otlptracehttp.New(ctx, httpOpts...)

	case "jaeger":
		// Jaeger accepts OTLP natively.
		endpoint, err := endpointFor(o, "OTEL_EXPORTER_JAEGER_ENDPOINT")
		if err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx, traceGRPCOptions(o, endpoint)...)

	case "none", "":
		return stdouttrace.New(stdouttrace.WithWriter(io.Discard))

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, name)
	}
}

// NewMetricsReader creates a metrics reader based on the exporter name.
// Supported exporters: stdout, otlp (gRPC), otlphttp, prometheus, none
func NewMetricsReader(ctx context.Context, name string, opts ...Option) (sdkmetric.Reader, error) {
	o := buildOptions(opts)

	switch name {
	case "stdout":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(o.Writer))
		if err != nil {
			return nil, fmt.Errorf("create stdout metrics exporter: %w", err)
		}
		return periodicReader(exp, o), nil

	case "otlp":
		endpoint, err := endpointFor(o, "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
		if err != nil {
			return nil, err
		}
		var grpcOpts []otlpmetricgrpc.Option
		if endpoint != "" {
			grpcOpts = append(grpcOpts, otlpmetricgrpc.WithEndpointURL(endpoint))
		}
		if len(o.Headers) > 0 {
			grpcOpts = append(grpcOpts, otlpmetricgrpc.WithHeaders(o.Headers))
		}
		exp, err := otlpmetricgrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, fmt.Errorf("create OTLP metrics exporter: %w", err)
		}
		return periodicReader(exp, o), nil

	case "otlphttp":
		endpoint, err := endpointFor(o, "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
		if err != nil {
			return nil, err
		}
		var httpOpts []otlpmetrichttp.Option
		if endpoint != "" {
			httpOpts = append(httpOpts, otlpmetrichttp.WithEndpointURL(endpoint))
		}
		if len(o.Headers) > 0 {
			httpOpts = append(httpOpts, otlpmetrichttp.WithHeaders(o.Headers))
		}
		exp, err := otlpmetrichttp.New(ctx, httpOpts...)
		if err != nil {
			return nil, fmt.Errorf("create OTLP/HTTP metrics exporter: %w", err)
		}
		return periodicReader(exp, o), nil

	case "prometheus":
		var promOpts []otelprom.Option
		if o.Registerer != nil {
			promOpts = append(promOpts, otelprom.WithRegisterer(o.Registerer))
		}
		exp, err := otelprom.New(promOpts...)
		if err != nil {
			return nil, fmt.Errorf("create Prometheus exporter: %w", err)
		}
		return exp, nil

	case "none", "":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(io.Discard))
		if err != nil {
			return nil, err
		}
		return periodicReader(exp, o), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, name)
	}
}

// endpointFor returns the configured endpoint, or the first set variable in
// envVars. An endpoint supplied only through the standard OTLP variables is
// returned empty so the exporter reads the environment itself.
func endpointFor(o Options, envVars ...string) (string, error) {
	if o.Endpoint != "" {
		return o.Endpoint, nil
	}
	for _, key := range envVars {
		if v := os.Getenv(key); v != "" {
			if key == "OTEL_EXPORTER_JAEGER_ENDPOINT" {
				return v, nil
			}
			return "", nil
		}
	}
	return "", fmt.Errorf("%w: set one of %v", ErrEndpointNotConfigured, envVars)
}

func traceGRPCOptions(o Options, endpoint string) []otlptracegrpc.Option {
	var grpcOpts []otlptracegrpc.Option
	if endpoint != "" {
		grpcOpts = append(grpcOpts, otlptracegrpc.WithEndpointURL(endpoint))
	}
	if len(o.Headers) > 0 {
		grpcOpts = append(grpcOpts, otlptracegrpc.WithHeaders(o.Headers))
	}
	return grpcOpts
}

func periodicReader(exp sdkmetric.Exporter, o Options) sdkmetric.Reader {
	var readerOpts []sdkmetric.PeriodicReaderOption
	if o.ExportInterval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(o.ExportInterval))
	}
	if o.ExportTimeout > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithTimeout(o.ExportTimeout))
	}
	return sdkmetric.NewPeriodicReader(exp, readerOpts...)
}
