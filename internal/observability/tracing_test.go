package observability

import (
	"context"
	"errors"
	"testing"
)

func TestNewTracerWithoutEndpointIsNoop(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "relay-test"})
	if tracer == nil {
		t.Fatal("tracer is nil")
	}
	_, span := tracer.Start(context.Background(), "test.span")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestRecordError(t *testing.T) {
	tracer, _ := NewTracer(TraceConfig{ServiceName: "relay-test"})
	_, span := tracer.Start(context.Background(), "test.span")
	defer span.End()

	// All three must be safe: a real error, a nil error, and a nil span.
	RecordError(span, errors.New("provider timeout"))
	RecordError(span, nil)
	RecordError(nil, errors.New("ignored"))
}
