// Package capture records HTTP exchanges: it starts a server span per
// request, counts and times it, and logs redacted request and response
// records through an observe.Logger.
//
// Two pipelines share the same semantics:
//
//   - Middleware is a linear http.Handler wrapper. It buffers the response,
//     logs the request and response records inline and releases the buffered
//     bytes to the client after cleanup.
//   - Module exposes discrete OnBegin / OnEnd / OnError hooks for hosts that
//     drive the exchange lifecycle themselves. The response is tee'd into a
//     bounded capture buffer and the records are logged asynchronously.
//
// Both implement Pipeline, so the embedding application picks one:
//
//	mw := capture.NewMiddleware(capture.Deps{
//		Tracer:  obs.Tracer(),
//		Metrics: obs.Metrics(),
//		Logger:  obs.Logger(),
//	}, capture.DefaultOptions())
//	http.ListenAndServe(":8080", mw.Handler(mux))
//
// Excluded paths bypass the pipeline entirely. Handler panics are recorded on
// the span and re-panicked unchanged; failures in telemetry never fail the
// exchange.
//
// Transport is the outbound counterpart: an http.RoundTripper that starts a
// client span, injects W3C trace context and logs redacted records for calls
// made to downstream services.
package capture
