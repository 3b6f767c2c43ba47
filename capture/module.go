package capture

import (
	"context"
	"net/http"
	"time"

	"github.com/jonwraymond/httpobserve/observe"
)

// Module is the event-based pipeline. The response streams straight to the
// client through a capture writer; request and response records are logged
// off the response path, the response record always after the request
// record of the same exchange.
type Module struct {
	core
	logs *dispatcher
}

var (
	_ Pipeline = (*Module)(nil)
	_ Hooks    = (*Module)(nil)
)

// NewModule creates an event-based pipeline. Call Close on shutdown to
// flush pending records.
func NewModule(deps Deps, opts Options) *Module {
	m := &Module{core: newCore(deps, opts)}
	m.logs = newDispatcher(m.opts.MaxPendingLogs, m.recordDrop)
	return m
}

func (m *Module) recordDrop() {
	_ = m.metrics.IncrementCounter(context.Background(), DroppedLogsMetric)
}

// OnBegin starts capturing an exchange. The application must continue with
// ex.ResponseWriter() and ex.Request(). It returns nil when the request is
// not captured.
func (m *Module) OnBegin(w http.ResponseWriter, r *http.Request) *Exchange {
	if w == nil || r == nil || m.skip(r) {
		return nil
	}

	ex := newExchange(r, m.redactor)
	limit := 0
	if m.opts.LogResponseBody {
		limit = m.opts.MaxCaptureSize
	}
	ex.writer = newCaptureWriter(w, limit)
	ex.respond = ex.writer

	ctx, span := m.startServerSpan(r, ex)
	ex.span = span
	m.tagNetwork(span, r)

	w.Header().Set(RequestIDHeader, ex.ID)
	m.metrics.IncrementActiveRequests(ctx)

	ctx = withExchange(ctx, ex)
	r = r.WithContext(ctx)
	ex.ctx = ctx
	ex.req = r

	// The body is peeked before the handler consumes it; logging is deferred.
	body := m.peekRequestBody(r)
	logCtx := context.WithoutCancel(ctx)
	var rec RequestRecord
	if !m.safely(logCtx, ex.ID, "request", func() { rec = m.requestRecord(r, ex, body) }) {
		ex.markRequestLogged()
		return ex
	}
	scheduled := m.logs.dispatch(func() {
		defer ex.markRequestLogged()
		m.logRequest(logCtx, MsgRequest, rec)
	})
	if !scheduled {
		ex.markRequestLogged()
	}
	return ex
}

// OnEnd closes the exchange. Only the first call has an effect.
func (m *Module) OnEnd(ex *Exchange) {
	if ex == nil || ex.span == nil || !ex.ended.CompareAndSwap(false, true) {
		return
	}

	ctx := context.WithoutCancel(ex.ctx)
	defer m.metrics.DecrementActiveRequests(ctx)

	duration := time.Since(ex.Start)
	status := ex.writer.StatusCode()

	if err := ex.req.Context().Err(); err != nil && !ex.exceptionRecorded() {
		m.recordCancel(ex, err)
		if status == 0 {
			status = StatusClientClosedRequest
		}
	}
	if status == 0 {
		status = http.StatusOK
		if ex.exceptionRecorded() {
			status = http.StatusInternalServerError
		}
	}

	m.tracer.AddTag(ex.span, "http.route", observe.NormalizeRoute(ex.Path))
	m.tracer.AddTag(ex.span, "http.response.body.size", ex.writer.Size())
	m.finishSpan(ex, status)
	ex.span.End()

	m.recordRequestMetrics(ctx, ex, status, duration)

	var rec ResponseRecord
	ok := m.safely(ctx, ex.ID, "response", func() {
		header := ex.writer.Header()
		body := m.resolveResponseBody(ex, header.Get("Content-Type"))
		rec = m.responseRecord(ex, status, duration, header, body)
	})
	if !ok {
		return
	}
	m.logs.dispatch(func() {
		<-ex.requestLogged
		m.logResponse(ctx, MsgResponse, rec)
	})
}

// resolveResponseBody prefers a body set through SetCapturedBody over the
// capture buffer.
func (m *Module) resolveResponseBody(ex *Exchange, contentType string) string {
	if body, ok := ex.outOfBandBody(); ok {
		return m.responseBody([]byte(body), contentType, 0)
	}
	return m.responseBody([]byte(ex.writer.Captured()), contentType, 0)
}

// OnError records err on the exchange's open span and counts it. The error
// is always logged.
func (m *Module) OnError(ex *Exchange, err error) {
	if ex == nil || err == nil {
		return
	}
	ctx := context.WithoutCancel(ex.Context())
	errType := errorTypeOf(err)

	if ex.span != nil && !ex.ended.Load() {
		m.tracer.RecordException(ex.span, err)
		m.tracer.AddTag(ex.span, "error.type", errType)
		ex.markException()
	}
	m.metrics.RecordErrorCount(ctx, errType, operationName(ex.Method, ex.Path))
	m.logger.Error(ctx, "Unhandled exception in HTTP request",
		observe.Field{Key: "request_id", Value: ex.ID},
		observe.Field{Key: "error.type", Value: errType},
		observe.Field{Key: "error", Value: err.Error()},
	)
}

// Handler drives the hooks around next. A panic in next is reported
// through OnError and OnEnd, then re-panicked.
func (m *Module) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ex := m.OnBegin(w, r)
		if ex == nil {
			next.ServeHTTP(w, r)
			return
		}

		defer func() {
			if recovered := recover(); recovered != nil {
				m.OnError(ex, &observe.PanicError{Value: recovered})
				m.OnEnd(ex)
				panic(recovered)
			}
			m.OnEnd(ex)
		}()

		next.ServeHTTP(ex.ResponseWriter(), ex.Request())
	})
}

// Backlog reports how many records are waiting to be logged and how many
// may wait before new ones are dropped.
func (m *Module) Backlog() (pending, capacity int) {
	return m.logs.backlog()
}

// Close stops asynchronous logging and waits for pending records until ctx
// is done. Records produced after Close are logged synchronously.
func (m *Module) Close(ctx context.Context) error {
	return m.logs.close(ctx)
}
