// Package trace wraps an opentelemetry tracer provider whose spans are
// tagged with a data-encryption key id. Spans are started by the
// service around its calls into the codec; the codec itself emits none.
package trace

import (
	"context"

	"github.com/sunet/fieldcrypt/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

var attrKeyID = attribute.Key("fieldcrypt.key_id")

// Tracer wraps an otel tracer provider for the fieldcrypt service.
type Tracer struct {
	TP *sdktrace.TracerProvider
	trace.Tracer
	log *logger.Log
}

// New builds a Tracer backed by exp, registering it as the default
// global provider for the named service.
func New(exp sdktrace.SpanExporter, serviceName string, log *logger.Log) *Tracer {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)
	otel.SetTracerProvider(tp)

	return &Tracer{
		TP:     tp,
		Tracer: tp.Tracer(serviceName),
		log:    log,
	}
}

// Start begins a span named op, tagged with the document's key id so
// traces can be correlated back to a data-encryption key without
// ever including key material.
func (t *Tracer) Start(ctx context.Context, op, keyID string) (context.Context, trace.Span) {
	ctx, span := t.Tracer.Start(ctx, op)
	span.SetAttributes(attrKeyID.String(keyID))
	return ctx, span
}

// Shutdown flushes and releases the underlying exporter.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.TP.Shutdown(ctx)
}
