package observe

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Fixed instrument names.
const (
	MetricRequests          = "http.server.requests"
	MetricRequestDuration   = "http.server.request.duration_ms"
	MetricErrors            = "errors.total"
	MetricActiveConnections = "active.connections"
	MetricActiveRequests    = "http.server.active_requests"
	MetricDownstreamLatency = "downstream.call.duration_ms"
)

// DefaultMaxCustomInstruments bounds each kind of ad-hoc instrument.
const DefaultMaxCustomInstruments = 1000

const maxMetricNameLength = 255

var metricNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]*$`)

// Metrics records HTTP server metrics plus ad-hoc instruments. Every
// measurement carries the service identity tags.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: fixed-instrument methods never fail; ad-hoc methods return an
//   error for an invalid name or a full cache. Implementations must not panic.
type Metrics interface {
	// RecordRequestDuration records one request duration in milliseconds.
	RecordRequestDuration(ctx context.Context, d time.Duration, method, route string, status int)

	// IncrementRequestCount counts one completed request.
	IncrementRequestCount(ctx context.Context, method, route string, status int)

	// RecordErrorCount counts one error of errorType during operation.
	RecordErrorCount(ctx context.Context, errorType, operation string)

	IncrementActiveRequests(ctx context.Context)
	DecrementActiveRequests(ctx context.Context)

	// AddActiveConnections moves the active connection gauge by delta.
	AddActiveConnections(ctx context.Context, delta int64)

	// RecordDownstreamDuration records a call made to a dependency.
	RecordDownstreamDuration(ctx context.Context, d time.Duration, operation, target string)

	IncrementCounter(ctx context.Context, name string, attrs ...attribute.KeyValue) error
	AddCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) error
	RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) error
	AddUpDownCounter(ctx context.Context, name string, delta int64, attrs ...attribute.KeyValue) error
}

// MetricsOptions tunes a Metrics.
type MetricsOptions struct {
	// MaxCustomInstruments caps each ad-hoc instrument kind. Zero means
	// DefaultMaxCustomInstruments.
	MaxCustomInstruments int
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter    metric.Meter
	identity []attribute.KeyValue

	requestCount      metric.Int64Counter
	requestDuration   metric.Float64Histogram
	errorCount        metric.Int64Counter
	activeConnections metric.Int64UpDownCounter
	activeRequests    metric.Int64UpDownCounter
	downstream        metric.Float64Histogram

	counters   *instrumentCache[metric.Int64Counter]
	histograms *instrumentCache[metric.Float64Histogram]
	upDowns    *instrumentCache[metric.Int64UpDownCounter]
}

// NewMetrics creates the fixed instruments on meter.
func NewMetrics(meter metric.Meter, id Identity, opts MetricsOptions) (Metrics, error) {
	maxCustom := opts.MaxCustomInstruments
	if maxCustom <= 0 {
		maxCustom = DefaultMaxCustomInstruments
	}

	m := &metricsImpl{
		meter:      meter,
		identity:   id.KeyValues(),
		counters:   newInstrumentCache[metric.Int64Counter](maxCustom),
		histograms: newInstrumentCache[metric.Float64Histogram](maxCustom),
		upDowns:    newInstrumentCache[metric.Int64UpDownCounter](maxCustom),
	}

	var err error
	m.requestCount, err = meter.Int64Counter(MetricRequests,
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricRequests, err)
	}

	m.requestDuration, err = meter.Float64Histogram(MetricRequestDuration,
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricRequestDuration, err)
	}

	m.errorCount, err = meter.Int64Counter(MetricErrors,
		metric.WithDescription("Total number of errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricErrors, err)
	}

	m.activeConnections, err = meter.Int64UpDownCounter(MetricActiveConnections,
		metric.WithDescription("Number of active connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricActiveConnections, err)
	}

	m.activeRequests, err = meter.Int64UpDownCounter(MetricActiveRequests,
		metric.WithDescription("Number of HTTP requests in flight"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricActiveRequests, err)
	}

	m.downstream, err = meter.Float64Histogram(MetricDownstreamLatency,
		metric.WithDescription("Downstream call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricDownstreamLatency, err)
	}

	return m, nil
}

// NewNoopMetrics returns a Metrics that records nothing. Ad-hoc instrument
// names are still validated.
func NewNoopMetrics() Metrics {
	m, err := NewMetrics(noop.NewMeterProvider().Meter("noop"), Identity{}, MetricsOptions{})
	if err != nil {
		// The noop meter never fails to create instruments.
		panic(err)
	}
	return m
}

func (m *metricsImpl) with(attrs ...attribute.KeyValue) metric.MeasurementOption {
	all := make([]attribute.KeyValue, 0, len(m.identity)+len(attrs))
	all = append(all, m.identity...)
	all = append(all, attrs...)
	return metric.WithAttributes(all...)
}

func (m *metricsImpl) requestAttrs(method, route string, status int) metric.MeasurementOption {
	return m.with(
		attribute.String("http.request.method", method),
		attribute.String("http.route", NormalizeRoute(route)),
		attribute.Int("http.response.status_code", status),
		attribute.String("http.status_class", StatusClass(status)),
	)
}

func (m *metricsImpl) RecordRequestDuration(ctx context.Context, d time.Duration, method, route string, status int) {
	m.requestDuration.Record(ctx, durationMs(d), m.requestAttrs(method, route, status))
}

func (m *metricsImpl) IncrementRequestCount(ctx context.Context, method, route string, status int) {
	m.requestCount.Add(ctx, 1, m.requestAttrs(method, route, status))
}

func (m *metricsImpl) RecordErrorCount(ctx context.Context, errorType, operation string) {
	m.errorCount.Add(ctx, 1, m.with(
		attribute.String("error.type", errorType),
		attribute.String("operation", operation),
	))
}

func (m *metricsImpl) IncrementActiveRequests(ctx context.Context) {
	m.activeRequests.Add(ctx, 1, m.with())
}

func (m *metricsImpl) DecrementActiveRequests(ctx context.Context) {
	m.activeRequests.Add(ctx, -1, m.with())
}

func (m *metricsImpl) AddActiveConnections(ctx context.Context, delta int64) {
	m.activeConnections.Add(ctx, delta, m.with())
}

func (m *metricsImpl) RecordDownstreamDuration(ctx context.Context, d time.Duration, operation, target string) {
	m.downstream.Record(ctx, durationMs(d), m.with(
		attribute.String("operation", operation),
		attribute.String("target", target),
	))
}

func (m *metricsImpl) IncrementCounter(ctx context.Context, name string, attrs ...attribute.KeyValue) error {
	return m.AddCounter(ctx, name, 1, attrs...)
}

func (m *metricsImpl) AddCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) error {
	counter, err := m.counters.getOrCreate(name, func(name string) (metric.Int64Counter, error) {
		return m.meter.Int64Counter(name, metric.WithDescription("Custom counter"))
	})
	if err != nil {
		return fmt.Errorf("add counter %q: %w", name, err)
	}
	counter.Add(ctx, value, m.with(attrs...))
	return nil
}

func (m *metricsImpl) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) error {
	histogram, err := m.histograms.getOrCreate(name, func(name string) (metric.Float64Histogram, error) {
		return m.meter.Float64Histogram(name, metric.WithDescription("Custom histogram"))
	})
	if err != nil {
		return fmt.Errorf("record histogram %q: %w", name, err)
	}
	histogram.Record(ctx, value, m.with(attrs...))
	return nil
}

func (m *metricsImpl) AddUpDownCounter(ctx context.Context, name string, delta int64, attrs ...attribute.KeyValue) error {
	upDown, err := m.upDowns.getOrCreate(name, func(name string) (metric.Int64UpDownCounter, error) {
		return m.meter.Int64UpDownCounter(name, metric.WithDescription("Custom up/down counter"))
	})
	if err != nil {
		return fmt.Errorf("add up/down counter %q: %w", name, err)
	}
	upDown.Add(ctx, delta, m.with(attrs...))
	return nil
}

// instrumentCache holds at most one instrument per name.
type instrumentCache[T any] struct {
	mu    sync.RWMutex
	items map[string]T
	limit int
}

func newInstrumentCache[T any](limit int) *instrumentCache[T] {
	return &instrumentCache[T]{items: make(map[string]T), limit: limit}
}

func (c *instrumentCache[T]) getOrCreate(name string, create func(string) (T, error)) (T, error) {
	// Fast path: read lock
	c.mu.RLock()
	if inst, ok := c.items[name]; ok {
		c.mu.RUnlock()
		return inst, nil
	}
	c.mu.RUnlock()

	var zero T
	if err := validateMetricName(name); err != nil {
		return zero, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if inst, ok := c.items[name]; ok {
		return inst, nil
	}
	if len(c.items) >= c.limit {
		return zero, fmt.Errorf("%w: limit %d", ErrMetricLimit, c.limit)
	}

	inst, err := create(name)
	if err != nil {
		return zero, err
	}
	c.items[name] = inst
	return inst, nil
}

func (c *instrumentCache[T]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func validateMetricName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidMetricName)
	}
	if len(name) > maxMetricNameLength {
		return fmt.Errorf("%w: %d characters (max %d)", ErrInvalidMetricName, len(name), maxMetricNameLength)
	}
	if !metricNameRegex.MatchString(name) {
		return fmt.Errorf("%w: %q must start with a letter and contain only letters, digits, '_', '.' or '-'", ErrInvalidMetricName, name)
	}
	return nil
}

// StatusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx).
func StatusClass(status int) string {
	switch status / 100 {
	case 1:
		return "1xx"
	case 2:
		return "2xx"
	case 3:
		return "3xx"
	case 4:
		return "4xx"
	case 5:
		return "5xx"
	default:
		return "unknown"
	}
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
