package observe

import (
	"context"
	"fmt"
	"sort"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with identity stamping and nil-safe
// span helpers.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: helper methods are best-effort and must not panic; a nil span is a no-op.
// - Status: callers should move a span out of Unset at most once. The SDK
//   ignores any transition away from Ok.
type Tracer interface {
	// StartActivity starts a span. A valid parent continues the parent's
	// trace; otherwise the span is parented by ctx, or starts a new trace.
	StartActivity(ctx context.Context, name string, kind trace.SpanKind, parent trace.SpanContext) (context.Context, trace.Span)

	// AddTag sets a single attribute. Empty keys, nil values and empty
	// strings are ignored.
	AddTag(span trace.Span, key string, value any)

	// AddEvent adds a timestamped event with optional attributes.
	AddEvent(span trace.Span, name string, attrs map[string]any)

	// SetStatus sets the span status.
	SetStatus(span trace.Span, code codes.Code, description string)

	// RecordException records err as an exception event and sets Error status.
	RecordException(span trace.Span, err error)

	// EndSpan sets Ok on a nil error, records the exception otherwise, and
	// ends the span.
	EndSpan(span trace.Span, err error)
}

// TracerOptions tunes a Tracer.
type TracerOptions struct {
	// MaxTagValueLength truncates string tag values. Zero means
	// DefaultMaxTagValueLength; negative disables truncation.
	MaxTagValueLength int
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer    trace.Tracer
	identity  []attribute.KeyValue
	maxTagLen int
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(t trace.Tracer, id Identity, opts TracerOptions) Tracer {
	maxLen := opts.MaxTagValueLength
	if maxLen == 0 {
		maxLen = DefaultMaxTagValueLength
	}
	return &tracerImpl{
		tracer:    t,
		identity:  id.KeyValues(),
		maxTagLen: maxLen,
	}
}

// NewNoopTracer returns a Tracer whose spans record nothing. Parent span
// contexts still propagate through it.
func NewNoopTracer() Tracer {
	return &tracerImpl{
		tracer:    tracenoop.NewTracerProvider().Tracer("noop"),
		maxTagLen: DefaultMaxTagValueLength,
	}
}

func (t *tracerImpl) StartActivity(ctx context.Context, name string, kind trace.SpanKind, parent trace.SpanContext) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	if parent.IsValid() {
		if parent.IsRemote() {
			ctx = trace.ContextWithRemoteSpanContext(ctx, parent)
		} else {
			ctx = trace.ContextWithSpanContext(ctx, parent)
		}
	}
	if kind == trace.SpanKindUnspecified {
		kind = trace.SpanKindInternal
	}

	return t.tracer.Start(ctx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(t.identity...),
	)
}

func (t *tracerImpl) AddTag(span trace.Span, key string, value any) {
	if span == nil || key == "" || value == nil {
		return
	}
	kv, ok := t.keyValue(key, value)
	if !ok {
		return
	}
	span.SetAttributes(kv)
}

func (t *tracerImpl) AddEvent(span trace.Span, name string, attrs map[string]any) {
	if span == nil || name == "" {
		return
	}
	if len(attrs) == 0 {
		span.AddEvent(name)
		return
	}

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kvs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		if k == "" || attrs[k] == nil {
			continue
		}
		if kv, ok := t.keyValue(k, attrs[k]); ok {
			kvs = append(kvs, kv)
		}
	}
	span.AddEvent(name, trace.WithAttributes(kvs...))
}

func (t *tracerImpl) SetStatus(span trace.Span, code codes.Code, description string) {
	if span == nil {
		return
	}
	span.SetStatus(code, description)
}

func (t *tracerImpl) RecordException(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err, trace.WithStackTrace(true))
	span.SetStatus(codes.Error, err.Error())
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		t.RecordException(span, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (t *tracerImpl) keyValue(key string, value any) (attribute.KeyValue, bool) {
	switch v := value.(type) {
	case string:
		if v == "" {
			return attribute.KeyValue{}, false
		}
		return attribute.String(key, t.truncate(v)), true
	case bool:
		return attribute.Bool(key, v), true
	case int:
		return attribute.Int(key, v), true
	case int64:
		return attribute.Int64(key, v), true
	case float64:
		return attribute.Float64(key, v), true
	case []string:
		return attribute.StringSlice(key, v), true
	default:
		s := fmt.Sprint(v)
		if s == "" {
			return attribute.KeyValue{}, false
		}
		return attribute.String(key, t.truncate(s)), true
	}
}

func (t *tracerImpl) truncate(s string) string {
	if t.maxTagLen < 0 || len(s) <= t.maxTagLen {
		return s
	}
	s = s[:t.maxTagLen]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
