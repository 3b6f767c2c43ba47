package observe

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
)

// PanicError carries a value recovered from a panic so it can be recorded
// as an exception.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the recovered value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Trace runs fn inside a span named name.
//
// The span status moves exactly once: Ok when fn returns nil, Error with
// the exception recorded otherwise. A panic in fn is recorded the same way
// and then re-panicked with the original value.
func Trace(ctx context.Context, t Tracer, name string, kind trace.SpanKind, fn func(ctx context.Context, span trace.Span) error) error {
	_, err := TraceValue(ctx, t, name, kind, func(ctx context.Context, span trace.Span) (struct{}, error) {
		return struct{}{}, fn(ctx, span)
	})
	return err
}

// TraceValue is Trace for functions that return a value.
func TraceValue[T any](ctx context.Context, t Tracer, name string, kind trace.SpanKind, fn func(ctx context.Context, span trace.Span) (T, error)) (result T, err error) {
	if t == nil {
		t = NewNoopTracer()
	}
	ctx, span := t.StartActivity(ctx, name, kind, trace.SpanContext{})

	defer func() {
		if r := recover(); r != nil {
			t.RecordException(span, &PanicError{Value: r})
			span.End()
			panic(r)
		}
		t.EndSpan(span, err)
	}()

	return fn(ctx, span)
}
