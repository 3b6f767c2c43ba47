package capture

import (
	"errors"
	"reflect"
	"testing"
)

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	if !o.Enabled || !o.LogRequestBody || !o.LogResponseBody || !o.LogRequestHeaders || !o.LogResponseHeaders {
		t.Errorf("expected everything on by default: %+v", o)
	}
	if o.EnduserFromBearer {
		t.Error("enduser extraction should be opt-in")
	}
	if o.MaxBodySize != 4096 || o.MaxCaptureSize != 32*1024 {
		t.Errorf("unexpected limits %d %d", o.MaxBodySize, o.MaxCaptureSize)
	}
	if err := o.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}

	o.ExcludePaths[0] = "/changed"
	if DefaultExcludePaths[0] != "/health" {
		t.Error("DefaultOptions must copy the default slices")
	}
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"negative body size", func(o *Options) { o.MaxBodySize = -1 }},
		{"negative capture size", func(o *Options) { o.MaxCaptureSize = -1 }},
		{"negative pending logs", func(o *Options) { o.MaxPendingLogs = -5 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := DefaultOptions()
			tc.mutate(&o)
			if err := o.Validate(); !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("expected ErrInvalidOptions, got %v", err)
			}
		})
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.MaxBodySize != DefaultMaxBodySize || o.MaxCaptureSize != DefaultMaxCaptureSize || o.MaxPendingLogs != DefaultMaxPendingLogs {
		t.Errorf("zero limits not filled: %+v", o)
	}
}

func TestOptions_Excluded(t *testing.T) {
	o := DefaultOptions()
	tests := []struct {
		path string
		want bool
	}{
		{"/health", true},
		{"/Health/Ready", true},
		{"/healthcheck-ui", true},
		{"/metrics", true},
		{"/metricsz", true},
		{"/", false},
		{"/api/health", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := o.Excluded(tc.path); got != tc.want {
			t.Errorf("Excluded(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}

	o.ExcludePaths = []string{""}
	if o.Excluded("/anything") {
		t.Error("an empty prefix must not exclude everything")
	}
}

func TestOptions_Loggable(t *testing.T) {
	o := DefaultOptions()
	tests := []struct {
		contentType string
		want        bool
	}{
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"APPLICATION/JSON", true},
		{"application/xml", true},
		{"text/plain", true},
		{"text/xml; charset=iso-8859-1", true},
		{"text/html", false},
		{"application/octet-stream", false},
		{"multipart/form-data; boundary=x", false},
		{"application/json;;bad", true},
		{"", false},
	}
	for _, tc := range tests {
		if got := o.Loggable(tc.contentType); got != tc.want {
			t.Errorf("Loggable(%q) = %v, want %v", tc.contentType, got, tc.want)
		}
	}
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("OBSERVE_HTTP_LOG_RESPONSE_BODY", "false")
	t.Setenv("OBSERVE_HTTP_MAX_BODY_SIZE", "1024")
	t.Setenv("OBSERVE_HTTP_EXCLUDE_PATHS", "/internal,/debug")
	t.Setenv("OBSERVE_HTTP_ENDUSER_FROM_BEARER", "true")

	o, err := OptionsFromEnv()
	if err != nil {
		t.Fatalf("OptionsFromEnv: %v", err)
	}
	if o.LogResponseBody || !o.LogRequestBody {
		t.Errorf("unexpected body toggles: %+v", o)
	}
	if o.MaxBodySize != 1024 || o.MaxCaptureSize != DefaultMaxCaptureSize {
		t.Errorf("unexpected limits %d %d", o.MaxBodySize, o.MaxCaptureSize)
	}
	if !reflect.DeepEqual(o.ExcludePaths, []string{"/internal", "/debug"}) {
		t.Errorf("exclude paths %v", o.ExcludePaths)
	}
	if !o.EnduserFromBearer {
		t.Error("expected enduser extraction enabled")
	}
}

func TestOptionsFromEnv_Invalid(t *testing.T) {
	t.Setenv("OBSERVE_HTTP_MAX_BODY_SIZE", "lots")
	if _, err := OptionsFromEnv(); err == nil {
		t.Fatal("expected parse error")
	}
}
