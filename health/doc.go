// Package health reports whether the observability pipeline keeps up.
//
// A Registry runs named Checkers concurrently and folds their results into
// one Status. Handler serves the report as JSON, with 503 when any check is
// unhealthy.
//
//	reg := health.NewRegistry(2 * time.Second)
//	reg.Register("capture.logs", health.BacklogChecker(module, 0.8))
//	mux.Handle("GET /health", health.Handler(reg))
package health
