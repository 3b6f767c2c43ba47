package capture

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jonwraymond/httpobserve/observe"
)

// ErrInvalidOptions indicates Options that cannot drive a pipeline.
var ErrInvalidOptions = errors.New("capture: invalid options")

// StatusClientClosedRequest is recorded when the client goes away before the
// handler wrote a response.
const StatusClientClosedRequest = 499

var statusErrorTypes = map[int]string{
	http.StatusBadRequest:            "bad_request",
	http.StatusUnauthorized:          "unauthorized",
	http.StatusForbidden:             "forbidden",
	http.StatusNotFound:              "not_found",
	http.StatusMethodNotAllowed:      "method_not_allowed",
	http.StatusRequestTimeout:        "request_timeout",
	http.StatusConflict:              "conflict",
	http.StatusRequestEntityTooLarge: "payload_too_large",
	http.StatusUnprocessableEntity:   "unprocessable_entity",
	http.StatusTooManyRequests:       "too_many_requests",
	StatusClientClosedRequest:        "client_closed_request",
	http.StatusInternalServerError:   "internal_server_error",
	http.StatusNotImplemented:        "not_implemented",
	http.StatusBadGateway:            "bad_gateway",
	http.StatusServiceUnavailable:    "service_unavailable",
	http.StatusGatewayTimeout:        "gateway_timeout",
}

// ErrorType names the failure class of an HTTP status. Statuses below 400
// have no error type.
func ErrorType(status int) string {
	if status < 400 {
		return ""
	}
	if t, ok := statusErrorTypes[status]; ok {
		return t
	}
	if status >= 500 {
		return "server_error"
	}
	return "client_error"
}

// errorTypeOf names the failure class of a Go error.
func errorTypeOf(err error) string {
	var panicErr *observe.PanicError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &panicErr):
		return "panic"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}
