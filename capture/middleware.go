package capture

import (
	"context"
	"net/http"
	"time"

	"github.com/jonwraymond/httpobserve/observe"
)

// Middleware is the linear pipeline. It buffers the whole response, logs
// both records inline and releases the buffered bytes after cleanup.
type Middleware struct {
	core
}

var _ Pipeline = (*Middleware)(nil)

// NewMiddleware creates a linear pipeline.
func NewMiddleware(deps Deps, opts Options) *Middleware {
	return &Middleware{core: newCore(deps, opts)}
}

// Handler wraps next.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skip(r) {
			next.ServeHTTP(w, r)
			return
		}
		m.serve(next, w, r)
	})
}

func (m *Middleware) serve(next http.Handler, w http.ResponseWriter, r *http.Request) {
	ex := newExchange(r, m.redactor)
	ctx, span := m.startServerSpan(r, ex)
	ex.span = span
	m.tagNetwork(span, r)

	w.Header().Set(RequestIDHeader, ex.ID)
	m.metrics.IncrementActiveRequests(ctx)

	ctx = withExchange(ctx, ex)
	r = r.WithContext(ctx)
	ex.ctx = ctx
	ex.req = r

	body := m.peekRequestBody(r)
	var rec RequestRecord
	if m.safely(ctx, ex.ID, "request", func() { rec = m.requestRecord(r, ex, body) }) {
		m.logRequest(ctx, MsgRequest, rec)
	}
	ex.markRequestLogged()

	bw := newBufferedWriter(w)
	ex.respond = bw

	defer func() {
		recovered := recover()
		m.finish(ex, bw, recovered)
		if recovered != nil {
			panic(recovered)
		}
	}()

	next.ServeHTTP(bw, r)
}

// finish runs on every path out of the handler.
func (m *Middleware) finish(ex *Exchange, bw *bufferedWriter, recovered any) {
	ctx := context.WithoutCancel(ex.ctx)
	defer ex.span.End()
	defer m.metrics.DecrementActiveRequests(ctx)

	duration := time.Since(ex.Start)
	status := bw.StatusCode()

	switch {
	case recovered != nil:
		m.recordPanic(ctx, ex, recovered)
		if status == 0 {
			status = http.StatusInternalServerError
		}
	case ex.req.Context().Err() != nil:
		m.recordCancel(ex, ex.req.Context().Err())
		if status == 0 {
			status = StatusClientClosedRequest
		}
	}
	if status == 0 {
		status = http.StatusOK
	}

	m.tracer.AddTag(ex.span, "http.route", observe.NormalizeRoute(ex.Path))
	m.tracer.AddTag(ex.span, "http.response.body.size", len(bw.Bytes()))
	m.finishSpan(ex, status)
	m.recordRequestMetrics(ctx, ex, status, duration)

	var rec ResponseRecord
	if m.safely(ctx, ex.ID, "response", func() {
		body := m.responseBody(bw.Bytes(), bw.Header().Get("Content-Type"), m.opts.MaxBodySize)
		rec = m.responseRecord(ex, status, duration, bw.Header(), body)
	}) {
		m.logResponse(ctx, MsgResponse, rec)
	}

	// A panicking handler leaves no response to release; net/http aborts
	// the connection once the panic propagates.
	if recovered != nil {
		return
	}
	if err := bw.commit(); err != nil {
		m.logger.Debug(ctx, "failed to write buffered response",
			observe.Field{Key: "request_id", Value: ex.ID},
			observe.Field{Key: "error", Value: err.Error()},
		)
	}
}
