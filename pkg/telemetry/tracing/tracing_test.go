package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"mercator-hq/sentinel/pkg/config"
)

func TestNew_Disabled(t *testing.T) {
	tracer, err := New(context.Background(), &config.TracingConfig{Enabled: false}, "test")
	if err != nil {
		t.Fatal(err)
	}
	if tracer.Enabled() {
		t.Error("Enabled() = true")
	}
	ctx, span := tracer.Start(context.Background(), "noop")
	span.End()
	if TraceID(ctx) != "" {
		t.Error("no-op tracer produced a trace id")
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(context.Background(), nil, "test"); err == nil {
		t.Error("nil config accepted")
	}
	_, err := New(context.Background(), &config.TracingConfig{Enabled: true, Sampler: "sometimes"}, "test")
	if err == nil {
		t.Error("unknown sampler accepted")
	}
}

func TestNew_EnabledIsLazy(t *testing.T) {
	prevProvider, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevProp)
	})

	tracer, err := New(context.Background(), &config.TracingConfig{
		Enabled:     true,
		Sampler:     SamplerAlways,
		Endpoint:    "127.0.0.1:1",
		ServiceName: "sentinel-test",
		Insecure:    true,
	}, "test")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, span := tracer.Start(context.Background(), "engine.OnSnapshot")
	if TraceID(ctx) == "" {
		t.Error("sampled span has no trace id")
	}
	span.End()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = tracer.Shutdown(ctx)
}

func TestCreateSampler(t *testing.T) {
	tests := []struct {
		strategy string
		ratio    float64
		wantErr  bool
	}{
		{SamplerAlways, 0, false},
		{SamplerNever, 0, false},
		{SamplerRatio, 0.25, false},
		{"", 1, false},
		{SamplerRatio, 1.5, true},
		{SamplerRatio, -0.1, true},
		{"random", 0.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			_, err := createSampler(tt.strategy, tt.ratio)
			if (err != nil) != tt.wantErr {
				t.Errorf("createSampler(%q, %v) error = %v, wantErr %v", tt.strategy, tt.ratio, err, tt.wantErr)
			}
		})
	}
}

func TestPropagation_RoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	provider := sdktrace.NewTracerProvider()
	ctx, span := provider.Tracer("test").Start(context.Background(), "outgoing")
	defer span.End()

	headers := http.Header{}
	Inject(ctx, headers)
	if headers.Get("traceparent") == "" {
		t.Fatal("traceparent not injected")
	}

	extracted := Extract(context.Background(), headers)
	if TraceID(extracted) != span.SpanContext().TraceID().String() {
		t.Errorf("extracted trace id = %q", TraceID(extracted))
	}
}

func TestHTTPMiddleware(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	var seen string
	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/rollout", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("handler saw trace id %q", seen)
	}
	if rec.Header().Get("X-Trace-ID") != seen {
		t.Errorf("X-Trace-ID = %q", rec.Header().Get("X-Trace-ID"))
	}
}

func TestSetRequestAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := provider.Tracer("test").Start(context.Background(), "enforcement.Check")
	SetRequestAttributes(span, "checkout", "", "deploy", "alice")
	SetStatus(span, nil)
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d", len(ended))
	}
	attrs := ended[0].Attributes()
	if len(attrs) != 3 {
		t.Errorf("attributes = %v, want service, operation and actor only", attrs)
	}
}
