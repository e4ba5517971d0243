// Package tracing wraps the OpenTelemetry SDK in the handful of span
// helpers the hook pipeline and automation loop use to mark frame
// dispatch and tick boundaries. There is no OTLP exporter wired in — spans
// are created against a local TracerProvider so the instrumentation point
// exists and the types are exercised even where no collector is present; a
// deployment that wants spans shipped somewhere attaches a real exporter to
// the provider this package returns.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is a thin wrapper over an otel.Tracer scoped to one service name.
type Tracer struct {
	tracer trace.Tracer
}

// New returns a Tracer backed by a local TracerProvider registered as the
// process-wide default, plus a shutdown func to call on exit.
func New(serviceName string) (*Tracer, func(context.Context) error) {
	provider := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(provider)
	return &Tracer{tracer: provider.Tracer(serviceName)}, provider.Shutdown
}

// Start begins a span named name, attaching attrs as key/value pairs
// (string, int, int64, bool, or fmt.Stringer values).
func (t *Tracer) Start(ctx context.Context, name string, attrs ...any) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attributesFrom(attrs)...)
	}
	return ctx, span
}

// End records err (if any) on span as a failure status and closes it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func attributesFrom(kv []any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case string:
			out = append(out, attribute.String(key, v))
		case int:
			out = append(out, attribute.Int(key, v))
		case int64:
			out = append(out, attribute.Int64(key, v))
		case bool:
			out = append(out, attribute.Bool(key, v))
		case fmt.Stringer:
			out = append(out, attribute.String(key, v.String()))
		default:
			out = append(out, attribute.String(key, fmt.Sprintf("%v", v)))
		}
	}
	return out
}
