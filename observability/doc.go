// Package observability provides an OpenTelemetry metrics extension for
// taskfair. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for every transition, the amount currently held
// in escrow, and how long results took to land.
//
// For per-execution tracing and metrics on the worker side, see the
// middleware package: middleware.Tracing() and middleware.Metrics().
package observability
