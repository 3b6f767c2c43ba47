package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/httpobserve/observe"
)

// Log messages of the captured records.
const (
	MsgRequest        = "HTTP Request"
	MsgResponse       = "HTTP Response"
	MsgClientRequest  = "HTTP Client Request"
	MsgClientResponse = "HTTP Client Response"
)

// RequestRecord is logged under the "request" field. Empty parts are
// omitted.
type RequestRecord struct {
	RequestID string            `json:"request_id"`
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	URL       string            `json:"url,omitempty"`
	Query     string            `json:"query,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
}

// ResponseRecord is logged under the "response" field. Empty parts are
// omitted.
type ResponseRecord struct {
	RequestID  string            `json:"request_id"`
	StatusCode int               `json:"status_code"`
	DurationMs float64           `json:"duration_ms"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
}

// replayBody puts peeked bytes back in front of the unread remainder.
type replayBody struct {
	io.Reader
	io.Closer
}

// peek reads up to limit bytes from body and returns them with a body that
// still yields the full stream.
func peek(body io.ReadCloser, limit int) (string, io.ReadCloser) {
	if body == nil || body == http.NoBody || limit <= 0 {
		return "", body
	}
	buf, _ := io.ReadAll(io.LimitReader(body, int64(limit)))
	return string(buf), replayBody{
		Reader: io.MultiReader(bytes.NewReader(buf), body),
		Closer: body,
	}
}

// peekRequestBody returns the redacted request body when it may be logged,
// leaving r.Body fully readable.
func (c *core) peekRequestBody(r *http.Request) string {
	contentType := r.Header.Get("Content-Type")
	if !c.opts.LogRequestBody || !c.opts.Loggable(contentType) {
		return ""
	}
	raw, body := peek(r.Body, c.opts.MaxBodySize)
	r.Body = body
	if raw == "" {
		return ""
	}
	return c.redactor.RedactRequestBody(raw, contentType)
}

// responseBody returns the redacted response body when it may be logged.
func (c *core) responseBody(raw []byte, contentType string, limit int) string {
	if !c.opts.LogResponseBody || len(raw) == 0 || !c.opts.Loggable(contentType) {
		return ""
	}
	if limit > 0 && len(raw) > limit {
		raw = raw[:limit]
	}
	return c.redactor.RedactResponseBody(string(raw), contentType)
}

func (c *core) requestRecord(r *http.Request, ex *Exchange, body string) RequestRecord {
	rec := RequestRecord{
		RequestID: ex.ID,
		Method:    r.Method,
		Path:      r.URL.Path,
		Query:     c.redactor.RedactQueryString(r.URL.RawQuery),
		Body:      body,
	}
	if c.opts.LogRequestHeaders {
		rec.Headers = c.redactor.RedactHTTPHeader(r.Header)
	}
	return rec
}

func (c *core) responseRecord(ex *Exchange, status int, d time.Duration, header http.Header, body string) ResponseRecord {
	rec := ResponseRecord{
		RequestID:  ex.ID,
		StatusCode: status,
		DurationMs: float64(d) / float64(time.Millisecond),
		Body:       body,
	}
	if c.opts.LogResponseHeaders {
		rec.Headers = c.redactor.RedactHTTPHeader(header)
	}
	return rec
}

// safely runs fn and turns a panic into an Error entry. It reports whether
// fn completed.
func (c *core) safely(ctx context.Context, id, what string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error(ctx, "failed to log HTTP "+what,
				observe.Field{Key: "request_id", Value: id},
				observe.Field{Key: "error", Value: fmt.Sprint(r)},
			)
			ok = false
		}
	}()
	fn()
	return true
}

func (c *core) logRequest(ctx context.Context, msg string, rec RequestRecord) {
	c.safely(ctx, rec.RequestID, "request", func() {
		c.logger.Info(ctx, msg, observe.Field{Key: "request", Value: rec})
	})
}

// logResponse logs at Warn for statuses of 400 and above, Info otherwise.
func (c *core) logResponse(ctx context.Context, msg string, rec ResponseRecord) {
	c.safely(ctx, rec.RequestID, "response", func() {
		field := observe.Field{Key: "response", Value: rec}
		if rec.StatusCode >= 400 {
			c.logger.Warn(ctx, msg, field)
			return
		}
		c.logger.Info(ctx, msg, field)
	})
}

// tagNetwork adds the connection attributes available from r.
func (c *core) tagNetwork(span trace.Span, r *http.Request) {
	scheme := schemeOf(r)
	c.tracer.AddTag(span, "url.scheme", scheme)
	c.tracer.AddTag(span, "url.query", c.redactor.RedactQueryString(r.URL.RawQuery))
	if host, port, ok := serverAddress(r.Host, scheme); ok {
		c.tracer.AddTag(span, "server.address", host)
		if port != 0 {
			c.tracer.AddTag(span, "server.port", port)
		}
	}
	c.tracer.AddTag(span, "user_agent.original", r.UserAgent())
	c.tracer.AddTag(span, "client.address", clientAddress(r))
	c.tracer.AddTag(span, "network.protocol.version", fmt.Sprintf("%d.%d", r.ProtoMajor, r.ProtoMinor))
	if c.opts.EnduserFromBearer {
		c.tracer.AddTag(span, "enduser.id", enduserFromBearer(r.Header.Get("Authorization")))
	}
}

// serverAddress splits host into name and port. The port is 0 when absent or
// the default for scheme.
func serverAddress(hostport, scheme string) (string, int, bool) {
	if hostport == "" {
		return "", 0, false
	}
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, 0, true
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0, true
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}
	return host, port, true
}

// clientAddressHeaders are consulted in order before RemoteAddr.
var clientAddressHeaders = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"CF-Connecting-IP",
	"X-Client-IP",
}

func clientAddress(r *http.Request) string {
	for _, name := range clientAddressHeaders {
		v := r.Header.Get(name)
		if v == "" {
			continue
		}
		first, _, _ := strings.Cut(v, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// enduserFromBearer returns the sub claim of a bearer JWT without verifying
// the signature.
func enduserFromBearer(authorization string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authorization), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), jwt.MapClaims{})
	if err != nil {
		return ""
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}
