package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/httpobserve/capture"
	"github.com/jonwraymond/httpobserve/health"
	"github.com/jonwraymond/httpobserve/observe"
)

// connMetrics counts active connection deltas and ignores everything else.
type connMetrics struct {
	observe.Metrics
	active int64
}

func (m *connMetrics) AddActiveConnections(_ context.Context, delta int64) {
	m.active += delta
}

func TestNewPipeline(t *testing.T) {
	for _, mode := range []string{modeLinear, modeEvent} {
		p, closeLog, err := newPipeline(mode, capture.Deps{}, capture.DefaultOptions())
		if err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		if p == nil || closeLog == nil {
			t.Fatalf("%s: incomplete pipeline", mode)
		}
		if err := closeLog(context.Background()); err != nil {
			t.Errorf("%s close: %v", mode, err)
		}
	}

	if _, _, err := newPipeline("batch", capture.Deps{}, capture.DefaultOptions()); !errors.Is(err, errUnknownMode) {
		t.Errorf("expected errUnknownMode, got %v", err)
	}
}

func TestMux_Routes(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(capture.RequestIDHeader) == "" {
			t.Error("relay should carry X-Request-ID")
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "from upstream")
	}))
	defer upstream.Close()

	client := capture.NewTransport(nil, capture.Deps{}, capture.DefaultOptions()).Client()
	handler := capture.NewMiddleware(capture.Deps{}, capture.DefaultOptions()).Handler(newMux(nil, health.NewRegistry(0), client, upstream.URL))

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"health", http.MethodGet, "/health", "", http.StatusOK, `"status":"healthy"`},
		{"liveness", http.MethodGet, "/health/live", "", http.StatusOK, "OK"},
		{"echo", http.MethodPost, "/v1/echo", `{"a":1}`, http.StatusOK, `{"a":1}`},
		{"echo invalid", http.MethodPost, "/v1/echo", `nope`, http.StatusBadRequest, "invalid JSON body"},
		{"user", http.MethodGet, "/v1/users/42", "", http.StatusOK, `"id":"42"`},
		{"relay", http.MethodGet, "/v1/relay", "", http.StatusOK, "from upstream"},
		{"no metrics exporter", http.MethodGet, "/metrics", "", http.StatusNotFound, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Errorf("status %d, want %d", rec.Code, tc.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tc.wantBody) {
				t.Errorf("body %q does not contain %q", rec.Body.String(), tc.wantBody)
			}
		})
	}
}

func TestTrackConnections(t *testing.T) {
	m := &connMetrics{Metrics: observe.NewNoopMetrics()}
	hook := trackConnections(m)

	for _, state := range []http.ConnState{http.StateNew, http.StateNew, http.StateActive, http.StateIdle} {
		hook(nil, state)
	}
	if m.active != 2 {
		t.Fatalf("after two new connections active = %d", m.active)
	}

	hook(nil, http.StateClosed)
	hook(nil, http.StateHijacked)
	if m.active != 0 {
		t.Errorf("after close and hijack active = %d", m.active)
	}
}

func TestTrackConnections_Server(t *testing.T) {
	m := &connMetrics{Metrics: observe.NewNoopMetrics()}
	var mu sync.Mutex
	hook := trackConnections(m)
	closed := make(chan struct{}, 1)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	srv.Config.ConnState = func(c net.Conn, state http.ConnState) {
		mu.Lock()
		hook(c, state)
		mu.Unlock()
		if state == http.StateClosed {
			closed <- struct{}{}
		}
	}
	srv.Start()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Close = true
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	_ = resp.Body.Close()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection never closed")
	}
	srv.Close()

	mu.Lock()
	defer mu.Unlock()
	if m.active != 0 {
		t.Errorf("active = %d after the connection closed", m.active)
	}
}

func TestMux_RelayWithoutUpstream(t *testing.T) {
	rec := httptest.NewRecorder()
	newMux(nil, health.NewRegistry(0), http.DefaultClient, "").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/relay", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status %d", rec.Code)
	}
}

func TestNewApp_InvalidMode(t *testing.T) {
	t.Setenv("OBSERVE_TRACING_ENABLED", "false")
	t.Setenv("OBSERVE_METRICS_ENABLED", "false")
	if _, err := newApp(context.Background(), serveOptions{mode: "nope"}); !errors.Is(err, errUnknownMode) {
		t.Errorf("expected errUnknownMode, got %v", err)
	}
}

func TestNewApp_InvalidCaptureOptions(t *testing.T) {
	t.Setenv("OBSERVE_HTTP_MAX_BODY_SIZE", "-1")
	if _, err := newApp(context.Background(), serveOptions{mode: modeEvent}); !errors.Is(err, capture.ErrInvalidOptions) {
		t.Errorf("expected ErrInvalidOptions, got %v", err)
	}
}

func TestRootCommand(t *testing.T) {
	root := newRootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	if !names["serve"] || !names["version"] {
		t.Fatalf("missing subcommands: %v", names)
	}

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "httpobserve dev") {
		t.Errorf("unexpected version output %q", out.String())
	}
}

func TestServeCommand_Flags(t *testing.T) {
	cmd := newServeCommand()
	for _, name := range []string{"addr", "mode", "upstream", "shutdown-timeout"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("missing flag --%s", name)
		}
	}
	if got := cmd.Flags().Lookup("mode").DefValue; got != modeEvent {
		t.Errorf("default mode %q", got)
	}
}
