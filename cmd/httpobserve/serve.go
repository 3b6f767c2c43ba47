package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/httpobserve/capture"
	"github.com/jonwraymond/httpobserve/health"
	"github.com/jonwraymond/httpobserve/observe"
	"github.com/jonwraymond/httpobserve/redact"
)

// Pipeline variants selectable with --mode.
const (
	modeLinear = "linear"
	modeEvent  = "event"
)

const defaultServiceName = "httpobserve"

var errUnknownMode = errors.New("unknown pipeline mode")

type serveOptions struct {
	addr            string
	mode            string
	upstream        string
	shutdownTimeout time.Duration
}

func newServeCommand() *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo API behind a capture pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", ":8080", "listen address")
	flags.StringVar(&opts.mode, "mode", modeEvent, "pipeline variant: linear or event")
	flags.StringVar(&opts.upstream, "upstream", "", "base URL that /v1/relay forwards to")
	flags.DurationVar(&opts.shutdownTimeout, "shutdown-timeout", 10*time.Second, "graceful shutdown deadline")
	return cmd
}

// app is the wired server with everything that needs closing.
type app struct {
	obs      observe.Observer
	handler  http.Handler
	closeLog func(context.Context) error
}

func newApp(ctx context.Context, opts serveOptions) (*app, error) {
	cfg, err := observe.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	if cfg.Version == "" || cfg.Version == observe.DefaultConfig().Version {
		cfg.Version = version
	}

	policy, err := redact.PolicyFromEnv()
	if err != nil {
		return nil, err
	}
	rd, err := redact.New(policy)
	if err != nil {
		return nil, err
	}

	capOpts, err := capture.OptionsFromEnv()
	if err != nil {
		return nil, err
	}
	if err := capOpts.Validate(); err != nil {
		return nil, err
	}

	obs, err := observe.NewObserver(ctx, cfg)
	if err != nil {
		return nil, err
	}

	deps := capture.Deps{
		Tracer:   obs.Tracer(),
		Metrics:  obs.Metrics(),
		Logger:   obs.Logger(),
		Redactor: rd,
	}
	pipeline, closeLog, err := newPipeline(opts.mode, deps, capOpts)
	if err != nil {
		_ = obs.Shutdown(ctx)
		return nil, err
	}

	checks := health.NewRegistry(2 * time.Second)
	if b, ok := pipeline.(health.Backlogger); ok {
		checks.Register("capture.logs", health.BacklogChecker(b, 0.8))
	}

	client := capture.NewTransport(nil, deps, capOpts).Client()
	mux := newMux(obs.MetricsHandler(), checks, client, opts.upstream)
	return &app{obs: obs, handler: pipeline.Handler(mux), closeLog: closeLog}, nil
}

// newPipeline builds the variant named by mode and the function that drains
// its pending records.
func newPipeline(mode string, deps capture.Deps, opts capture.Options) (capture.Pipeline, func(context.Context) error, error) {
	switch mode {
	case modeLinear:
		return capture.NewMiddleware(deps, opts), func(context.Context) error { return nil }, nil
	case modeEvent:
		m := capture.NewModule(deps, opts)
		return m, m.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", errUnknownMode, mode)
	}
}

func runServe(ctx context.Context, opts serveOptions) error {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	logger := a.obs.Logger()

	ln, err := net.Listen("tcp", opts.addr)
	if err != nil {
		_ = a.shutdown(context.Background())
		return fmt.Errorf("listen %s: %w", opts.addr, err)
	}
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ConnState:         trackConnections(a.obs.Metrics()),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(ctx, "server listening",
			observe.Field{Key: "addr", Value: ln.Addr().String()},
			observe.Field{Key: "mode", Value: opts.mode},
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.shutdownTimeout)
		defer cancel()

		logger.Info(shutdownCtx, "shutting down")
		return errors.Join(srv.Shutdown(shutdownCtx), a.shutdown(shutdownCtx))
	})
	return g.Wait()
}

// trackConnections keeps active.connections in step with the server's open
// connections. A hijacked connection leaves the server's accounting.
func trackConnections(m observe.Metrics) func(net.Conn, http.ConnState) {
	return func(_ net.Conn, state http.ConnState) {
		switch state {
		case http.StateNew:
			m.AddActiveConnections(context.Background(), 1)
		case http.StateClosed, http.StateHijacked:
			m.AddActiveConnections(context.Background(), -1)
		}
	}
}

// shutdown drains capture records before stopping the telemetry providers
// they are written to.
func (a *app) shutdown(ctx context.Context) error {
	logErr := a.closeLog(ctx)
	return errors.Join(logErr, a.obs.Shutdown(ctx))
}

// newMux serves the demo routes. /health and /metrics are excluded from
// capture by the default options.
func newMux(metrics http.Handler, checks *health.Registry, client *http.Client, upstream string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /health", health.Handler(checks))
	mux.Handle("GET /health/live", health.LivenessHandler())
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	mux.HandleFunc("POST /v1/echo", handleEcho)
	mux.HandleFunc("GET /v1/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"id": r.PathValue("id"), "name": "demo"})
	})
	mux.HandleFunc("GET /v1/relay", func(w http.ResponseWriter, r *http.Request) {
		handleRelay(w, r, client, upstream)
	})
	return mux
}

func handleEcho(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleRelay forwards to upstream through the capturing transport so the
// outbound call joins the inbound trace.
func handleRelay(w http.ResponseWriter, r *http.Request, client *http.Client, upstream string) {
	if upstream == "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no upstream configured"})
		return
	}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, upstream, nil)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	resp, err := client.Do(req)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream unavailable"})
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
