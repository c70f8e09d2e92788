// Package telemetry traces task log and indexer operations with
// OpenTelemetry and exports task log events to files or webhooks.
//
// Spans are opt-in: NewNoopTracer is the default everywhere, and
// InitProvider wires an OTLP exporter when an endpoint is configured.
package telemetry
