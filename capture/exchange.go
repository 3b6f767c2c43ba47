package capture

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/httpobserve/redact"
)

// Exchange is the per-request state shared by the pipeline hooks. It is
// created for one request and never reused.
type Exchange struct {
	// ID is the correlation id, also sent as X-Request-ID.
	ID    string
	Start time.Time

	Method string
	Path   string
	URL    string

	RequestContentType string

	span    trace.Span
	ctx     context.Context
	req     *http.Request
	writer  *captureWriter
	respond http.ResponseWriter

	mu            sync.Mutex
	capturedBody  string
	hasCaptured   bool
	exceptionSeen bool

	requestLogged chan struct{}
	logOnce       sync.Once
	ended         atomic.Bool
}

type exchangeKey struct{}

func newExchange(r *http.Request, rd *redact.Redactor) *Exchange {
	return &Exchange{
		ID:                 uuid.NewString(),
		Start:              time.Now(),
		Method:             r.Method,
		Path:               r.URL.Path,
		URL:                requestURL(r, rd),
		RequestContentType: r.Header.Get("Content-Type"),
		requestLogged:      make(chan struct{}),
	}
}

// ExchangeFromContext returns the exchange a pipeline attached to ctx, or nil.
func ExchangeFromContext(ctx context.Context) *Exchange {
	if ctx == nil {
		return nil
	}
	ex, _ := ctx.Value(exchangeKey{}).(*Exchange)
	return ex
}

func withExchange(ctx context.Context, ex *Exchange) context.Context {
	return context.WithValue(ctx, exchangeKey{}, ex)
}

// Span returns the server span, or nil before it was started.
func (ex *Exchange) Span() trace.Span {
	if ex == nil {
		return nil
	}
	return ex.span
}

// Context returns the context carrying the server span and the exchange.
func (ex *Exchange) Context() context.Context {
	if ex == nil || ex.ctx == nil {
		return context.Background()
	}
	return ex.ctx
}

// Request returns the request to hand to the application: its context
// carries the span and the exchange, and a peeked body is fully readable.
func (ex *Exchange) Request() *http.Request {
	if ex == nil {
		return nil
	}
	return ex.req
}

// ResponseWriter returns the writer the application must write through so
// the status and body are captured.
func (ex *Exchange) ResponseWriter() http.ResponseWriter {
	if ex == nil {
		return nil
	}
	return ex.respond
}

// SetCapturedBody records a response body captured closer to the code that
// produced it. It takes precedence over the capture buffer when the response
// record is logged.
func (ex *Exchange) SetCapturedBody(body string) {
	if ex == nil {
		return
	}
	ex.mu.Lock()
	ex.capturedBody = body
	ex.hasCaptured = true
	ex.mu.Unlock()
}

func (ex *Exchange) outOfBandBody() (string, bool) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.capturedBody, ex.hasCaptured
}

func (ex *Exchange) markException() {
	ex.mu.Lock()
	ex.exceptionSeen = true
	ex.mu.Unlock()
}

func (ex *Exchange) exceptionRecorded() bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.exceptionSeen
}

// markRequestLogged releases the response record. Safe to call more than
// once.
func (ex *Exchange) markRequestLogged() {
	ex.logOnce.Do(func() { close(ex.requestLogged) })
}

// requestURL rebuilds the absolute URL with a redacted query and no
// fragment or user info.
func requestURL(r *http.Request, rd *redact.Redactor) string {
	u := *r.URL
	if !u.IsAbs() {
		u.Scheme = schemeOf(r)
		u.Host = r.Host
	}
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""
	u.ForceQuery = false
	u.RawQuery = rd.RedactQueryString(u.RawQuery)
	return u.String()
}

func schemeOf(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if r.URL != nil && r.URL.Scheme != "" {
		return r.URL.Scheme
	}
	return "http"
}
