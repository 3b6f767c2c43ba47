package capture

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/httpobserve/observe"
	"github.com/jonwraymond/httpobserve/redact"
)

// Pipeline wraps an http.Handler with exchange capture.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: telemetry failures never fail the exchange; handler panics are
//   re-panicked unchanged.
type Pipeline interface {
	Handler(next http.Handler) http.Handler
}

// Hooks drives capture from discrete lifecycle callbacks.
//
// OnBegin returns nil for excluded or disabled requests; OnEnd and OnError
// accept that nil and do nothing.
type Hooks interface {
	OnBegin(w http.ResponseWriter, r *http.Request) *Exchange
	OnEnd(ex *Exchange)
	OnError(ex *Exchange, err error)
}

// Deps are the collaborators a pipeline reports to. Nil fields fall back to
// no-op telemetry and redact.Default().
type Deps struct {
	Tracer   observe.Tracer
	Metrics  observe.Metrics
	Logger   observe.Logger
	Redactor *redact.Redactor
}

func (d Deps) withDefaults() Deps {
	if d.Tracer == nil {
		d.Tracer = observe.NewNoopTracer()
	}
	if d.Metrics == nil {
		d.Metrics = observe.NewNoopMetrics()
	}
	if d.Logger == nil {
		d.Logger = observe.NewNoopLogger()
	}
	if d.Redactor == nil {
		d.Redactor = redact.Default()
	}
	return d
}

// DroppedLogsMetric counts records Module could not schedule.
const DroppedLogsMetric = "httpobserve.log.dropped"

// core is the state and behavior both pipelines share.
type core struct {
	tracer   observe.Tracer
	metrics  observe.Metrics
	logger   observe.Logger
	redactor *redact.Redactor
	opts     Options
}

func newCore(deps Deps, opts Options) core {
	deps = deps.withDefaults()
	return core{
		tracer:   deps.Tracer,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		redactor: deps.Redactor,
		opts:     opts.withDefaults(),
	}
}

// skip reports whether r bypasses capture entirely.
func (c *core) skip(r *http.Request) bool {
	return !c.opts.Enabled || c.opts.Excluded(r.URL.Path)
}

func spanName(method, path string) string {
	return "HTTP " + method + " " + observe.NormalizeRoute(path)
}

func operationName(method, path string) string {
	return method + " " + observe.NormalizeRoute(path)
}

// startServerSpan opens the server span, continuing a W3C parent when the
// request carries a valid one.
func (c *core) startServerSpan(r *http.Request, ex *Exchange) (context.Context, trace.Span) {
	parent, _ := observe.ExtractParent(r.Header)
	ctx, span := c.tracer.StartActivity(r.Context(), spanName(r.Method, r.URL.Path), trace.SpanKindServer, parent)

	c.tracer.AddTag(span, "http.request.method", r.Method)
	c.tracer.AddTag(span, "url.path", r.URL.Path)
	c.tracer.AddTag(span, "http.request_id", ex.ID)
	return ctx, span
}

// recordPanic marks the span failed by a recovered handler panic.
func (c *core) recordPanic(ctx context.Context, ex *Exchange, value any) {
	err := &observe.PanicError{Value: value}
	c.tracer.RecordException(ex.span, err)
	c.tracer.AddTag(ex.span, "error.type", errorTypeOf(err))
	c.metrics.RecordErrorCount(ctx, errorTypeOf(err), operationName(ex.Method, ex.Path))
	ex.markException()
}

// recordCancel marks the span failed by the client going away.
func (c *core) recordCancel(ex *Exchange, err error) {
	c.tracer.RecordException(ex.span, err)
	c.tracer.AddTag(ex.span, "error.type", errorTypeOf(err))
	ex.markException()
}

// finishSpan tags the final status and moves the span out of Unset, unless
// an exception already did.
func (c *core) finishSpan(ex *Exchange, status int) {
	c.tracer.AddTag(ex.span, "http.response.status_code", status)
	if ex.exceptionRecorded() {
		return
	}
	if status >= 400 {
		c.tracer.AddTag(ex.span, "error.type", ErrorType(status))
		c.tracer.SetStatus(ex.span, codes.Error, http.StatusText(status))
		return
	}
	c.tracer.SetStatus(ex.span, codes.Ok, "")
}

func (c *core) recordRequestMetrics(ctx context.Context, ex *Exchange, status int, d time.Duration) {
	c.metrics.RecordRequestDuration(ctx, d, ex.Method, ex.Path, status)
	c.metrics.IncrementRequestCount(ctx, ex.Method, ex.Path, status)
}
