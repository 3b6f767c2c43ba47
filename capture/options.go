package capture

import (
	"fmt"
	"mime"
	"strings"

	"github.com/caarlos0/env/v10"
)

const (
	// DefaultMaxBodySize bounds the request body peeked for logging and the
	// buffered response body logged by Middleware.
	DefaultMaxBodySize = 4096

	// DefaultMaxCaptureSize bounds the response bytes Module tees aside.
	DefaultMaxCaptureSize = 32 * 1024

	// DefaultMaxPendingLogs bounds the records Module logs concurrently.
	DefaultMaxPendingLogs = 256
)

// RequestIDHeader carries the exchange correlation id on responses and on
// outbound calls.
const RequestIDHeader = "X-Request-ID"

// DefaultExcludePaths are skipped entirely.
var DefaultExcludePaths = []string{"/health", "/metrics"}

// DefaultIncludeContentTypes are the media type prefixes whose bodies are
// logged.
var DefaultIncludeContentTypes = []string{
	"application/json",
	"application/xml",
	"text/plain",
	"text/xml",
}

// Options configures what a pipeline records.
type Options struct {
	// Enabled turns the whole pipeline on or off. A disabled pipeline only
	// calls the next handler.
	Enabled bool `env:"ENABLED"`

	LogRequestHeaders  bool `env:"LOG_REQUEST_HEADERS"`
	LogResponseHeaders bool `env:"LOG_RESPONSE_HEADERS"`
	LogRequestBody     bool `env:"LOG_REQUEST_BODY"`
	LogResponseBody    bool `env:"LOG_RESPONSE_BODY"`

	MaxBodySize    int `env:"MAX_BODY_SIZE"`
	MaxCaptureSize int `env:"MAX_CAPTURE_SIZE"`

	// ExcludePaths are matched as case-insensitive prefixes, so "/health"
	// also excludes "/healthcheck-ui".
	ExcludePaths []string `env:"EXCLUDE_PATHS" envSeparator:","`

	// IncludeContentTypes are matched as case-insensitive prefixes of the
	// media type. Parameters such as charset are ignored.
	IncludeContentTypes []string `env:"INCLUDE_CONTENT_TYPES" envSeparator:","`

	// EnduserFromBearer tags server spans with enduser.id taken from the
	// sub claim of a bearer JWT. The token is not verified.
	EnduserFromBearer bool `env:"ENDUSER_FROM_BEARER"`

	// MaxPendingLogs bounds asynchronous records in Module. Records beyond
	// it are dropped and counted.
	MaxPendingLogs int `env:"MAX_PENDING_LOGS"`
}

// DefaultOptions returns Options with every surface logged.
func DefaultOptions() Options {
	return Options{
		Enabled:             true,
		LogRequestHeaders:   true,
		LogResponseHeaders:  true,
		LogRequestBody:      true,
		LogResponseBody:     true,
		MaxBodySize:         DefaultMaxBodySize,
		MaxCaptureSize:      DefaultMaxCaptureSize,
		ExcludePaths:        append([]string(nil), DefaultExcludePaths...),
		IncludeContentTypes: append([]string(nil), DefaultIncludeContentTypes...),
		MaxPendingLogs:      DefaultMaxPendingLogs,
	}
}

// OptionsFromEnv returns DefaultOptions overridden by OBSERVE_HTTP_* variables.
func OptionsFromEnv() (Options, error) {
	o := DefaultOptions()
	if err := env.ParseWithOptions(&o, env.Options{Prefix: "OBSERVE_HTTP_"}); err != nil {
		return Options{}, fmt.Errorf("capture: parse environment: %w", err)
	}
	return o, nil
}

// Validate checks the size limits.
func (o Options) Validate() error {
	if o.MaxBodySize < 0 {
		return fmt.Errorf("%w: max body size %d", ErrInvalidOptions, o.MaxBodySize)
	}
	if o.MaxCaptureSize < 0 {
		return fmt.Errorf("%w: max capture size %d", ErrInvalidOptions, o.MaxCaptureSize)
	}
	if o.MaxPendingLogs < 0 {
		return fmt.Errorf("%w: max pending logs %d", ErrInvalidOptions, o.MaxPendingLogs)
	}
	return nil
}

// withDefaults fills zero limits.
func (o Options) withDefaults() Options {
	if o.MaxBodySize == 0 {
		o.MaxBodySize = DefaultMaxBodySize
	}
	if o.MaxCaptureSize == 0 {
		o.MaxCaptureSize = DefaultMaxCaptureSize
	}
	if o.MaxPendingLogs == 0 {
		o.MaxPendingLogs = DefaultMaxPendingLogs
	}
	return o
}

// Excluded reports whether path is skipped by the pipeline.
func (o Options) Excluded(path string) bool {
	lower := strings.ToLower(path)
	for _, prefix := range o.ExcludePaths {
		if prefix == "" {
			continue
		}
		if strings.HasPrefix(lower, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

// Loggable reports whether a body with contentType may be logged.
func (o Options) Loggable(contentType string) bool {
	mediaType := mediaTypeOf(contentType)
	if mediaType == "" {
		return false
	}
	for _, prefix := range o.IncludeContentTypes {
		if prefix == "" {
			continue
		}
		if strings.HasPrefix(mediaType, strings.ToLower(strings.TrimSpace(prefix))) {
			return true
		}
	}
	return false
}

func mediaTypeOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		return mediaType
	}
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mediaType))
}
