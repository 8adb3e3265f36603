// Package telemetry provides logging, metrics, and distributed tracing for
// the updraft engine: a zerolog-based structured logger, Prometheus metrics
// for update/step/instance activity, and an OpenTelemetry tracer with OTLP
// and stdout exporters.
package telemetry
