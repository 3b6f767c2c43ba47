package capture

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/httpobserve/observe"
)

// Transport records outbound calls: a client span continuing the caller's
// trace, W3C trace context and X-Request-ID on the wire, redacted records and
// the downstream latency histogram.
type Transport struct {
	core
	base http.RoundTripper
}

var _ http.RoundTripper = (*Transport)(nil)

// NewTransport wraps base, or http.DefaultTransport when base is nil.
func NewTransport(base http.RoundTripper, deps Deps, opts Options) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{core: newCore(deps, opts), base: base}
}

// RoundTrip implements http.RoundTripper. The caller's request is not
// modified.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.opts.Enabled {
		return t.base.RoundTrip(req)
	}

	ctx, span := t.tracer.StartActivity(req.Context(), spanName(req.Method, req.URL.Path), trace.SpanKindClient, trace.SpanContext{})
	defer span.End()

	out := req.Clone(ctx)
	observe.InjectTraceContext(ctx, out.Header)
	id := correlationID(req)
	if out.Header.Get(RequestIDHeader) == "" {
		out.Header.Set(RequestIDHeader, id)
	}

	ex := &Exchange{
		ID:     id,
		Start:  time.Now(),
		Method: out.Method,
		Path:   out.URL.Path,
		URL:    requestURL(out, t.redactor),
		span:   span,
	}
	t.tracer.AddTag(span, "http.request.method", out.Method)
	t.tracer.AddTag(span, "url.full", ex.URL)
	t.tracer.AddTag(span, "server.address", out.URL.Hostname())
	t.tracer.AddTag(span, "http.request_id", id)

	body := t.peekRequestBody(out)
	var reqRec RequestRecord
	if t.safely(ctx, id, "request", func() {
		reqRec = t.requestRecord(out, ex, body)
		reqRec.URL = ex.URL
	}) {
		t.logRequest(ctx, MsgClientRequest, reqRec)
	}

	resp, err := t.base.RoundTrip(out)
	duration := time.Since(ex.Start)
	t.metrics.RecordDownstreamDuration(ctx, duration, out.Method, out.URL.Host)

	if err != nil {
		errType := errorTypeOf(err)
		t.tracer.RecordException(span, err)
		t.tracer.AddTag(span, "error.type", errType)
		t.metrics.RecordErrorCount(ctx, errType, operationName(out.Method, out.URL.Path))
		t.logger.Error(ctx, "HTTP client request failed",
			observe.Field{Key: "request_id", Value: id},
			observe.Field{Key: "error.type", Value: errType},
			observe.Field{Key: "error", Value: err.Error()},
		)
		return nil, err
	}

	t.finishSpan(ex, resp.StatusCode)

	contentType := resp.Header.Get("Content-Type")
	var raw string
	if t.opts.LogResponseBody && t.opts.Loggable(contentType) {
		raw, resp.Body = peek(resp.Body, t.opts.MaxBodySize)
	}
	var respRec ResponseRecord
	if t.safely(ctx, id, "response", func() {
		respRec = t.responseRecord(ex, resp.StatusCode, duration, resp.Header, t.responseBody([]byte(raw), contentType, 0))
	}) {
		t.logResponse(ctx, MsgClientResponse, respRec)
	}
	return resp, nil
}

// correlationID reuses the id of the inbound exchange or of the request, and
// mints one otherwise.
func correlationID(req *http.Request) string {
	if ex := ExchangeFromContext(req.Context()); ex != nil {
		return ex.ID
	}
	if id := req.Header.Get(RequestIDHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

// Client returns an *http.Client using t.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}
