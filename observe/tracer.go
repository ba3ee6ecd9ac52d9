package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// ToolMeta describes an MCP tool for telemetry.
type ToolMeta struct {
	ID        string // Fully qualified tool ID (namespace.name or just name)
	Namespace string // Server the tool belongs to, e.g. "customer" (may be empty)
	Name      string // Tool name (required)
	Version   string // Server version (optional)

	// Capability is the capability a caller needs to run the tool.
	Capability string
}

// Validate reports whether the metadata is usable.
func (m ToolMeta) Validate() error {
	if m.Name == "" {
		return ErrMissingToolName
	}
	return nil
}

// SpanName returns the deterministic span name for this tool.
// Format: tool.exec.<namespace>.<name> or tool.exec.<name>
func (m ToolMeta) SpanName() string {
	if m.Namespace != "" {
		return "tool.exec." + m.Namespace + "." + m.Name
	}
	return "tool.exec." + m.Name
}

// ToolID returns the fully qualified tool identifier.
func (m ToolMeta) ToolID() string {
	if m.ID != "" {
		return m.ID
	}
	if m.Namespace != "" {
		return m.Namespace + "." + m.Name
	}
	return m.Name
}

// Tracer starts and ends tool execution spans.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	StartSpan(ctx context.Context, meta ToolMeta) (context.Context, trace.Span)
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	if t == nil {
		return newNoopTracer()
	}
	return &tracerImpl{tracer: t}
}

// StartSpan starts a server span carrying the tool metadata.
func (t *tracerImpl) StartSpan(ctx context.Context, meta ToolMeta) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("tool.id", meta.ToolID()),
		attribute.String("tool.name", meta.Name),
		attribute.Bool("tool.error", false),
	}
	if meta.Namespace != "" {
		attrs = append(attrs, attribute.String("tool.namespace", meta.Namespace))
	}
	if meta.Version != "" {
		attrs = append(attrs, attribute.String("tool.version", meta.Version))
	}
	if meta.Capability != "" {
		attrs = append(attrs, attribute.String("tool.capability", meta.Capability))
	}

	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("tool.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type noopTracer struct {
	noop trace.Tracer
}

func newNoopTracer() Tracer {
	return &noopTracer{noop: tracenoop.NewTracerProvider().Tracer("noop")}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta ToolMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, _ error) {
	span.End()
}
