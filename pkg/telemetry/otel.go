package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of scheduler spans.
const TracerName = "kernsched/scheduler"

// InitTracing builds a tracer provider that exports spans to w (stdout when
// nil). The caller owns the provider and must Shutdown it.
func InitTracing(serviceName, instance string, w io.Writer) (*sdktrace.TracerProvider, error) {
	if w == nil {
		w = os.Stdout
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.instance.id", instance),
		),
	)
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	), nil
}

// OTelSink records each event as a zero-length span.
type OTelSink struct {
	tracer trace.Tracer
}

// NewOTelSink uses tp, or the global provider when tp is nil.
func NewOTelSink(tp trace.TracerProvider) *OTelSink {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &OTelSink{tracer: tp.Tracer(TracerName)}
}

// Emit starts and ends a span named after the event kind.
func (s *OTelSink) Emit(e Event) {
	attrs := []attribute.KeyValue{
		attribute.Int64("pid", int64(e.PID)),
		attribute.Int("cpu", e.CPU),
	}
	switch e.Kind {
	case KindProcessTerminated:
		attrs = append(attrs, attribute.Int("exit_code", e.Code))
	case KindStateChanged:
		attrs = append(attrs, attribute.String("from", e.From), attribute.String("to", e.To))
	case KindContextSwitch:
		attrs = append(attrs,
			attribute.Int64("from_pid", int64(e.FromPID)),
			attribute.Int64("to_pid", int64(e.ToPID)))
	}

	_, span := s.tracer.Start(context.Background(), string(e.Kind),
		trace.WithTimestamp(e.Time),
		trace.WithAttributes(attrs...),
	)
	if e.Kind == KindProcessTerminated && e.Code != 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("exit code %d", e.Code))
	}
	span.End(trace.WithTimestamp(e.Time))
}
