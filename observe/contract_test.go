package observe

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func TestObserverContract_Noops(t *testing.T) {
	cfg := Config{
		ServiceName: "observe-test",
		Tracing:     TracingConfig{Enabled: false, Exporter: "none"},
		Metrics:     MetricsConfig{Enabled: false, Exporter: "none"},
		Logging:     LoggingConfig{Enabled: false, Level: "info"},
	}

	obs, err := NewObserver(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewObserver failed: %v", err)
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	if obs.Tracer() == nil {
		t.Fatalf("expected non-nil tracer")
	}
	if obs.Meter() == nil {
		t.Fatalf("expected non-nil meter")
	}
	if obs.Logger() == nil {
		t.Fatalf("expected non-nil logger")
	}
}

func TestLoggerContract_With(t *testing.T) {
	logger := NewNoopLogger()
	if logger.With(Field{Key: "k", Value: "v"}) == nil {
		t.Fatalf("With should return non-nil logger")
	}
}

func TestMetricsContract_NoPanic(t *testing.T) {
	ctx := context.Background()
	m := NewNoopMetrics()

	m.RecordRequestDuration(ctx, 10*time.Millisecond, http.MethodGet, "/", 200)
	m.IncrementRequestCount(ctx, http.MethodGet, "/", 200)
	m.RecordErrorCount(ctx, "timeout", "GET /")
	m.IncrementActiveRequests(ctx)
	m.DecrementActiveRequests(ctx)
	m.AddActiveConnections(ctx, 1)
	m.RecordDownstreamDuration(ctx, time.Millisecond, "query", "db")

	if err := m.IncrementCounter(ctx, "noop.counter"); err != nil {
		t.Errorf("IncrementCounter: %v", err)
	}
	if err := m.RecordHistogram(ctx, "9bad", 1); !errors.Is(err, ErrInvalidMetricName) {
		t.Errorf("noop metrics should still validate names, got: %v", err)
	}
}

func TestTracerContract_NoPanic(t *testing.T) {
	tracer := NewNoopTracer()
	ctx := context.Background()

	_, span := tracer.StartActivity(ctx, "noop", trace.SpanKindServer, trace.SpanContext{})
	tracer.AddTag(span, "k", "v")
	tracer.AddEvent(span, "evt", map[string]any{"a": 1})
	tracer.SetStatus(span, codes.Ok, "")
	tracer.RecordException(span, errors.New("boom"))
	tracer.EndSpan(span, nil)

	// Nil spans are tolerated.
	tracer.AddTag(nil, "k", "v")
	tracer.EndSpan(nil, nil)
}
