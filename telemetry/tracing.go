// OpenTelemetry tracing for task log operations.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with indexing-specific helpers.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer with the given name from the global provider.
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// NewTracerFromProvider creates a tracer from an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: tp.Tracer(name)}
}

// NewNoopTracer returns a tracer that records nothing.
func NewNoopTracer() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Task log spans ---

// TaskSpanOptions contains attributes for task log spans.
type TaskSpanOptions struct {
	Action        string
	ContentItemID string
	TaskCount     int
}

// StartTaskSpan starts a span for a task log operation.
func (t *Tracer) StartTaskSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
}

// EndTaskSpan ends a task log span with attributes.
func (t *Tracer) EndTaskSpan(span trace.Span, opts TaskSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.Int("indexing.task_count", opts.TaskCount),
	}
	if opts.Action != "" {
		attrs = append(attrs, attribute.String("indexing.action", opts.Action))
	}
	if opts.ContentItemID != "" {
		attrs = append(attrs, attribute.String("indexing.content_item_id", opts.ContentItemID))
	}

	span.SetAttributes(attrs...)
	endSpan(span, err)
}

// --- Indexer spans ---

// BatchSpanOptions contains attributes for indexer batch spans.
type BatchSpanOptions struct {
	Indexer   string
	Fetched   int
	Applied   int
	Watermark string
}

// StartBatchSpan starts a span for one indexer poll.
func (t *Tracer) StartBatchSpan(ctx context.Context, indexer string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "indexer.batch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("indexer.name", indexer)),
	)
}

// EndBatchSpan ends an indexer batch span with attributes.
func (t *Tracer) EndBatchSpan(span trace.Span, opts BatchSpanOptions, err error) {
	span.SetAttributes(
		attribute.Int("indexer.fetched", opts.Fetched),
		attribute.Int("indexer.applied", opts.Applied),
		attribute.String("indexer.watermark", opts.Watermark),
	)
	endSpan(span, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
