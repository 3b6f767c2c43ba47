package observe

import (
	"context"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// W3C trace context header names.
const (
	TraceParentHeader = "traceparent"
	TraceStateHeader  = "tracestate"
)

const traceParentVersion = "00"

var traceContext = propagation.TraceContext{}

// ParseTraceParent decodes a W3C traceparent header of the exact form
// 00-<32 hex>-<16 hex>-<2 hex>. Any other shape, including all-zero ids,
// reports false. A well-formed tracestate is attached to the result; a
// malformed one is dropped.
func ParseTraceParent(traceparent, tracestate string) (trace.SpanContext, bool) {
	parts := strings.Split(strings.TrimSpace(traceparent), "-")
	if len(parts) != 4 {
		return trace.SpanContext{}, false
	}
	version, traceHex, spanHex, flagsHex := parts[0], parts[1], parts[2], parts[3]

	if version != traceParentVersion || len(flagsHex) != 2 || !isLowerHex(flagsHex) {
		return trace.SpanContext{}, false
	}

	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanID, err := trace.SpanIDFromHex(spanHex)
	if err != nil {
		return trace.SpanContext{}, false
	}

	var flags trace.TraceFlags
	if hexVal(flagsHex[1])&0x1 == 1 {
		flags = trace.FlagsSampled
	}

	cfg := trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	}
	if tracestate != "" {
		if ts, err := trace.ParseTraceState(tracestate); err == nil {
			cfg.TraceState = ts
		}
	}

	sc := trace.NewSpanContext(cfg)
	return sc, sc.IsValid()
}

// ExtractParent reads the traceparent and tracestate headers.
func ExtractParent(h http.Header) (trace.SpanContext, bool) {
	if h == nil {
		return trace.SpanContext{}, false
	}
	return ParseTraceParent(h.Get(TraceParentHeader), h.Get(TraceStateHeader))
}

// InjectTraceContext writes the span context carried by ctx into h.
func InjectTraceContext(ctx context.Context, h http.Header) {
	if h == nil {
		return
	}
	traceContext.Inject(ctx, propagation.HeaderCarrier(h))
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func hexVal(c byte) byte {
	if c >= 'a' {
		return c - 'a' + 10
	}
	return c - '0'
}
