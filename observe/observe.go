package observe

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/httpobserve/observe/exporters"
)

// Observer provides access to telemetry primitives.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Shutdown must honor cancellation/deadlines.
// - Errors: Shutdown is idempotent and returns the first error encountered.
type Observer interface {
	// Tracer returns the span adapter. Disabled tracing yields a no-op.
	Tracer() Tracer

	// Metrics returns the metric adapter. Disabled metrics yield a no-op.
	Metrics() Metrics

	// Meter returns the underlying meter for instruments not covered by Metrics.
	Meter() metric.Meter

	// Logger returns the configured logger.
	Logger() Logger

	// Identity returns the service identity stamped on telemetry.
	Identity() Identity

	// MetricsHandler serves the prometheus exposition when the prometheus
	// metrics exporter is selected, and is nil otherwise.
	MetricsHandler() http.Handler

	// Shutdown flushes and stops all telemetry providers.
	Shutdown(ctx context.Context) error
}

// observer is the concrete implementation of Observer.
type observer struct {
	identity       Identity
	tracer         Tracer
	metrics        Metrics
	meter          metric.Meter
	logger         Logger
	metricsHandler http.Handler
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewObserver creates a new Observer with the given configuration and
// installs its providers and the W3C propagator as the otel globals.
func NewObserver(ctx context.Context, cfg Config) (Observer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	obs := &observer{identity: cfg.Identity()}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("observe: create resource: %w", err)
	}

	if cfg.Tracing.Enabled {
		tp, err := setupTracing(ctx, cfg, res)
		if err != nil {
			return nil, fmt.Errorf("observe: setup tracing: %w", err)
		}
		obs.tracerProvider = tp
		obs.tracer = NewTracer(tp.Tracer(cfg.ServiceName), obs.identity, TracerOptions{
			MaxTagValueLength: cfg.Tracing.MaxTagValueLength,
		})
	} else {
		obs.tracer = NewTracer(tracenoop.NewTracerProvider().Tracer("noop"), obs.identity, TracerOptions{})
	}

	if cfg.Metrics.Enabled {
		mp, handler, err := setupMetrics(ctx, cfg, res)
		if err != nil {
			_ = obs.shutdownProviders(ctx)
			return nil, fmt.Errorf("observe: setup metrics: %w", err)
		}
		obs.meterProvider = mp
		obs.metricsHandler = handler
		obs.meter = mp.Meter(cfg.ServiceName)
	} else {
		obs.meter = noop.NewMeterProvider().Meter("noop")
	}

	obs.metrics, err = NewMetrics(obs.meter, obs.identity, MetricsOptions{})
	if err != nil {
		_ = obs.shutdownProviders(ctx)
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}

	if cfg.Logging.Enabled {
		obs.logger = newLogger(cfg.Logging, os.Stderr).With(
			Field{Key: "service.name", Value: cfg.ServiceName},
		)
	} else {
		obs.logger = NewNoopLogger()
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return obs, nil
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.Version),
	}
	if cfg.Namespace != "" {
		attrs = append(attrs, semconv.ServiceNamespace(cfg.Namespace))
	}
	if cfg.InstanceID != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(cfg.InstanceID))
	}
	id := Identity{Attributes: cfg.Attributes}
	attrs = append(attrs, id.KeyValues()...)

	return resource.New(ctx, resource.WithAttributes(attrs...))
}

func setupTracing(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exporter, err := exporters.NewTracingExporter(ctx, cfg.Tracing.Exporter, exporterOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	// Configure sampler based on SamplePct
	var sampler sdktrace.Sampler
	if cfg.Tracing.SamplePct >= MaxSamplePct {
		sampler = sdktrace.AlwaysSample()
	} else if cfg.Tracing.SamplePct <= MinSamplePct {
		sampler = sdktrace.NeverSample()
	} else {
		sampler = sdktrace.TraceIDRatioBased(cfg.Tracing.SamplePct)
	}

	var batchOpts []sdktrace.BatchSpanProcessorOption
	if cfg.Tracing.BatchSize > 0 {
		batchOpts = append(batchOpts, sdktrace.WithMaxExportBatchSize(cfg.Tracing.BatchSize))
	}
	if cfg.Tracing.ExportTimeout > 0 {
		batchOpts = append(batchOpts, sdktrace.WithExportTimeout(cfg.Tracing.ExportTimeout))
	}

	limits := sdktrace.NewSpanLimits()
	if cfg.Tracing.MaxTagValueLength > 0 {
		limits.AttributeValueLengthLimit = cfg.Tracing.MaxTagValueLength
	}
	if cfg.Tracing.MaxTagCount > 0 {
		limits.AttributeCountLimit = cfg.Tracing.MaxTagCount
	}
	if cfg.Tracing.MaxEventCount > 0 {
		limits.EventCountLimit = cfg.Tracing.MaxEventCount
	}
	if cfg.Tracing.MaxLinkCount > 0 {
		limits.LinkCountLimit = cfg.Tracing.MaxLinkCount
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
		sdktrace.WithRawSpanLimits(limits),
		sdktrace.WithBatcher(exporter, batchOpts...),
	)
	otel.SetTracerProvider(tp)

	return tp, nil
}

func setupMetrics(ctx context.Context, cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, http.Handler, error) {
	opts := exporterOptions(cfg)
	opts = append(opts,
		exporters.WithExportInterval(cfg.Metrics.ExportInterval),
		exporters.WithExportTimeout(cfg.Metrics.ExportTimeout),
	)

	var handler http.Handler
	if cfg.Metrics.Exporter == "prometheus" {
		registry := prometheus.NewRegistry()
		opts = append(opts, exporters.WithRegisterer(registry))
		handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	reader, err := exporters.NewMetricsReader(ctx, cfg.Metrics.Exporter, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create metrics reader: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	return mp, handler, nil
}

func exporterOptions(cfg Config) []exporters.Option {
	return []exporters.Option{
		exporters.WithEndpoint(cfg.OTLP.Endpoint),
		exporters.WithHeaders(cfg.OTLP.Headers),
	}
}

func (o *observer) Tracer() Tracer {
	return o.tracer
}

func (o *observer) Metrics() Metrics {
	return o.metrics
}

func (o *observer) Meter() metric.Meter {
	return o.meter
}

func (o *observer) Logger() Logger {
	return o.logger
}

func (o *observer) Identity() Identity {
	return o.identity
}

func (o *observer) MetricsHandler() http.Handler {
	return o.metricsHandler
}

func (o *observer) Shutdown(ctx context.Context) error {
	o.shutdownOnce.Do(func() {
		o.shutdownErr = o.shutdownProviders(ctx)
		if zl, ok := o.logger.(interface{ Sync() }); ok {
			zl.Sync()
		}
	})
	return o.shutdownErr
}

func (o *observer) shutdownProviders(ctx context.Context) error {
	var g errgroup.Group

	if o.tracerProvider != nil {
		g.Go(func() error {
			if err := o.tracerProvider.Shutdown(ctx); err != nil {
				return fmt.Errorf("tracer shutdown: %w", err)
			}
			return nil
		})
	}

	if o.meterProvider != nil {
		g.Go(func() error {
			if err := o.meterProvider.Shutdown(ctx); err != nil {
				return fmt.Errorf("meter shutdown: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}
