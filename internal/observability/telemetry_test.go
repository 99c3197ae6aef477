package observability_test

import (
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/musher-dev/termbuild/internal/observability"
)

func TestSetupTelemetry_DisabledLeavesGlobalProvider(t *testing.T) {
	origTP := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	sentinelTP := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = sentinelTP.Shutdown(t.Context()) })

	otel.SetTracerProvider(sentinelTP)

	for _, cfg := range []*observability.TelemetryConfig{nil, {Enabled: false}} {
		shutdown, err := observability.SetupTelemetry(t.Context(), cfg)
		if err != nil {
			t.Fatalf("SetupTelemetry() error = %v", err)
		}

		if err := shutdown(t.Context()); err != nil {
			t.Fatalf("shutdown error = %v", err)
		}

		if got := otel.GetTracerProvider(); got != sentinelTP {
			t.Fatal("tracer provider changed when telemetry disabled")
		}
	}
}

func TestTracer_UsesGlobalProvider(t *testing.T) {
	origTP := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })

	otel.SetTracerProvider(tp)

	_, span := observability.Tracer("termbuild/test").Start(t.Context(), "build.session")
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 || ended[0].Name() != "build.session" {
		t.Fatalf("recorded spans = %v, want one build.session span", ended)
	}
}

func TestIsTelemetryEnabled(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{value: "", want: false},
		{value: "1", want: true},
		{value: "TRUE", want: true},
		{value: " yes ", want: true},
		{value: "no", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("OTEL_ENABLED", tt.value)

			if got := observability.IsTelemetryEnabled(); got != tt.want {
				t.Errorf("IsTelemetryEnabled() with %q = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
