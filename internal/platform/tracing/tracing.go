package tracing

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/the-marketplace/project/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/the-marketplace/project"

// Tracer returns the named tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Setup installs the W3C propagator and, when enabled, a tracer provider that
// writes finished spans to logger. The returned function flushes and stops it.
func Setup(cfg config.Tracing, service string, logger *log.Entry) func(context.Context) error {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		return func(context.Context) error { return nil }
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(NewLogExporter(logger)),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", service))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// LogExporter writes each finished span as one debug log line.
type LogExporter struct {
	logger *log.Entry
}

func NewLogExporter(logger *log.Entry) *LogExporter {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &LogExporter{logger: logger}
}

func (e *LogExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		fields := log.Fields{
			"trace_id":    span.SpanContext().TraceID().String(),
			"span_id":     span.SpanContext().SpanID().String(),
			"span":        span.Name(),
			"duration_ms": float64(span.EndTime().Sub(span.StartTime()).Microseconds()) / 1000,
			"status":      span.Status().Code.String(),
		}
		if span.Parent().IsValid() {
			fields["parent_span_id"] = span.Parent().SpanID().String()
		}
		for _, kv := range span.Attributes() {
			fields[string(kv.Key)] = kv.Value.AsInterface()
		}
		e.logger.WithFields(fields).Debug("span")
	}
	return nil
}

func (e *LogExporter) Shutdown(context.Context) error { return nil }

// Inject writes the trace context of ctx into headers.
func Inject(ctx context.Context, headers map[string]string) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
}

// Extract returns ctx enriched with the trace context carried by headers.
func Extract(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
}
