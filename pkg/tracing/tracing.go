// Package tracing wraps the OpenTelemetry global tracer for exchange spans.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "conduit"

	AttrEndpoint   = "conduit.endpoint"
	AttrExchangeID = "conduit.exchange_id"
	AttrRouteID    = "conduit.route_id"
	AttrScheme     = "conduit.scheme"
)

// SpanOption is a function that configures span start options
type SpanOption func(*spanOptions)

type spanOptions struct {
	attributes []attribute.KeyValue
	kind       trace.SpanKind
}

// WithAttribute adds an attribute to the span
func WithAttribute(key string, value interface{}) SpanOption {
	return func(opts *spanOptions) {
		opts.attributes = append(opts.attributes, toAttribute(key, value))
	}
}

// WithSpanKind sets the span kind
func WithSpanKind(kind trace.SpanKind) SpanOption {
	return func(opts *spanOptions) {
		opts.kind = kind
	}
}

// StartSpan starts a span from the global tracer provider. The caller ends it.
func StartSpan(ctx context.Context, spanName string, opts ...SpanOption) (context.Context, trace.Span) {
	options := &spanOptions{
		kind: trace.SpanKindInternal,
	}
	for _, opt := range opts {
		opt(options)
	}

	tracer := otel.GetTracerProvider().Tracer(TracerName)

	startOpts := []trace.SpanStartOption{
		trace.WithSpanKind(options.kind),
	}
	if len(options.attributes) > 0 {
		startOpts = append(startOpts, trace.WithAttributes(options.attributes...))
	}

	return tracer.Start(ctx, spanName, startOpts...)
}

// StartProducerSpan starts a client span around a producer call.
func StartProducerSpan(ctx context.Context, scheme, endpoint, exchangeID, routeID string) (context.Context, trace.Span) {
	return StartSpan(ctx, scheme+".send",
		WithSpanKind(trace.SpanKindClient),
		WithAttribute(AttrScheme, scheme),
		WithAttribute(AttrEndpoint, endpoint),
		WithAttribute(AttrExchangeID, exchangeID),
		WithAttribute(AttrRouteID, routeID),
	)
}

// StartConsumerSpan starts a server span for an exchange created by a consumer.
func StartConsumerSpan(ctx context.Context, routeID, endpoint, exchangeID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "route."+routeID,
		WithSpanKind(trace.SpanKindServer),
		WithAttribute(AttrRouteID, routeID),
		WithAttribute(AttrEndpoint, endpoint),
		WithAttribute(AttrExchangeID, exchangeID),
	)
}

// RecordError marks the span failed. A nil error sets status Ok.
func RecordError(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func toAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
