// Package observe provides the telemetry primitives behind HTTP exchange
// capture: a span adapter (Tracer), an HTTP metrics adapter (Metrics), a
// structured Logger, and the Observer that bootstraps OpenTelemetry providers
// from Config.
//
// It is a pure instrumentation library. Nothing here intercepts requests;
// the capture package drives these primitives around an http.Handler.
//
// Every span started through a Tracer and every measurement recorded through
// Metrics carries the service Identity (service.name, service.version,
// service.namespace, service.instance.id and any custom service.* tags), so
// callers never repeat them.
//
// W3C trace context is handled by ParseTraceParent, ExtractParent and
// InjectTraceContext. Malformed headers are treated as absent, never as
// errors.
package observe
