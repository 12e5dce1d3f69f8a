// Package observability provides an OpenTelemetry metrics extension for
// taskrun. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for claims, skipped fires, unit outcomes, ledger
// write failures and cron fires.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
