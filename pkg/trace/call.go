package trace

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys used throughout the application
const (
	AttrCallSid       = "call.sid"
	AttrStreamSid     = "call.stream_sid"
	AttrCallDirection = "call.direction"
	AttrCallMode      = "call.mode"
	AttrToolName      = "tool.name"
	AttrToolCallID    = "tool.call_id"
	AttrErrorType     = "error.type"
)

// CallAttrs creates attributes for a call session span.
func CallAttrs(callSid, streamSid, direction string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCallSid, callSid),
		attribute.String(AttrStreamSid, streamSid),
		attribute.String(AttrCallDirection, direction),
	}
}

// ToolAttrs creates attributes for a tool dispatch span.
func ToolAttrs(toolName, toolCallID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrToolName, toolName),
		attribute.String(AttrToolCallID, toolCallID),
	}
}

// WithSpan executes a function within a new span
func WithSpan(ctx context.Context, spanName string, fn func(context.Context) error, opts ...trace.SpanStartOption) error {
	ctx, span := StartSpan(ctx, spanName, opts...)
	defer span.End()

	if err := fn(ctx); err != nil {
		RecordError(span, err)
		return err
	}

	return nil
}

// RecordError records an error on a span
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// AddEvent adds an event to a span
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
