package emit

import (
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestOTelEmitter(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	emitter := NewOTelEmitter(tp.Tracer("test"))

	emitter.Emit(Event{
		RunID: "user-1",
		Step:  2,
		Node:  "respond",
		Msg:   "node completed",
		Meta:  map[string]interface{}{"flow_name": "booking", "depth": 1},
	})
	emitter.Emit(Event{
		RunID: "user-1",
		Node:  "execute_flow",
		Msg:   "flow failed",
		Meta:  map[string]interface{}{"error": "action timed out"},
	})

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}

	t.Run("span name and attributes", func(t *testing.T) {
		span := spans[0]
		if span.Name() != "node completed" {
			t.Errorf("span name = %q, want %q", span.Name(), "node completed")
		}

		attrs := map[string]string{}
		for _, kv := range span.Attributes() {
			attrs[string(kv.Key)] = kv.Value.Emit()
		}
		if attrs["run_id"] != "user-1" {
			t.Errorf("run_id = %q, want user-1", attrs["run_id"])
		}
		if attrs["node"] != "respond" {
			t.Errorf("node = %q, want respond", attrs["node"])
		}
		if attrs["flow_name"] != "booking" {
			t.Errorf("flow_name = %q, want booking", attrs["flow_name"])
		}
	})

	t.Run("error meta sets span status", func(t *testing.T) {
		span := spans[1]
		if span.Status().Code != codes.Error {
			t.Errorf("status = %v, want Error", span.Status().Code)
		}
	})
}
