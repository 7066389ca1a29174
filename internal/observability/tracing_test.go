package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordingTracer builds a Tracer backed by an in-memory span recorder so
// tests can inspect finished spans without an OTLP endpoint.
func recordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer("test"),
	}, recorder
}

func TestNewTracer_NoEndpointIsNoop(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "mozi"})
	defer func() { _ = shutdown(context.Background()) }()

	_, span := tracer.Start(context.Background(), "op")
	span.End()
	if tracer.provider != nil {
		t.Fatal("expected no provider without an endpoint")
	}
}

func TestTraceLLMRequest_SetsProviderAndModel(t *testing.T) {
	tracer, recorder := recordingTracer(t)

	_, span := tracer.TraceLLMRequest(context.Background(), "anthropic", "claude-sonnet-4")
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	got := spans[0]
	if got.Name() != "llm.anthropic" {
		t.Fatalf("span name = %q", got.Name())
	}
	attrs := got.Attributes()
	want := map[attribute.Key]string{
		"llm.provider": "anthropic",
		"llm.model":    "claude-sonnet-4",
	}
	for _, a := range attrs {
		if expected, ok := want[a.Key]; ok && a.Value.AsString() == expected {
			delete(want, a.Key)
		}
	}
	if len(want) != 0 {
		t.Fatalf("missing attributes: %v", want)
	}
}

func TestRecordError_MarksSpan(t *testing.T) {
	tracer, recorder := recordingTracer(t)

	_, span := tracer.Start(context.Background(), "op")
	tracer.RecordError(span, errors.New("boom"))
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if len(spans[0].Events()) == 0 {
		t.Fatal("expected an exception event on the span")
	}
}

func TestSetAttributes_SkipsNonStringKeys(t *testing.T) {
	tracer, recorder := recordingTracer(t)

	_, span := tracer.Start(context.Background(), "op")
	tracer.SetAttributes(span, "count", 3, 42, "ignored", "flag", true)
	span.End()

	attrs := recorder.Ended()[0].Attributes()
	keys := map[attribute.Key]bool{}
	for _, a := range attrs {
		keys[a.Key] = true
	}
	if !keys["count"] || !keys["flag"] {
		t.Fatalf("expected count and flag attributes, got %v", keys)
	}
	if len(keys) != 2 {
		t.Fatalf("expected exactly 2 attributes, got %v", keys)
	}
}

func TestTraceSandboxExec_LabelsMode(t *testing.T) {
	tracer, recorder := recordingTracer(t)

	_, span := tracer.TraceSandboxExec(context.Background(), "docker")
	span.End()

	got := recorder.Ended()[0]
	if got.Name() != "sandbox.exec" {
		t.Fatalf("span name = %q", got.Name())
	}
}
