package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Alwanly/conduit/pkg/logger"
)

// Setup installs a global tracer provider for serviceName whose finished
// spans are written to log at debug level. The returned func flushes and
// shuts the provider down.
func Setup(serviceName string, log *logger.CanonicalLogger) func(context.Context) error {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
		sdktrace.WithBatcher(&logExporter{log: log.Component("tracing")}),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

type logExporter struct {
	log *logger.CanonicalLogger
}

func (e *logExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		e.log.Debug("span finished",
			logger.String("span", s.Name()),
			logger.String("trace_id", s.SpanContext().TraceID().String()),
			logger.String("span_id", s.SpanContext().SpanID().String()),
			logger.String("status", s.Status().Code.String()),
			logger.Duration("duration", s.EndTime().Sub(s.StartTime())),
		)
	}
	return nil
}

func (e *logExporter) Shutdown(context.Context) error {
	return nil
}
