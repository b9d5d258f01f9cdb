// Package telemetry provides tracing spans and Prometheus metrics for the
// simulation driver.
//
// Tracing goes through the global OpenTelemetry tracer provider; until Init
// installs one, every span is a no-op. Metrics are registered on a caller
// supplied prometheus.Registerer so tests can use a private registry.
package telemetry
