package ingest

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/sentinel/pkg/config"
	"mercator-hq/sentinel/pkg/engine"
	"mercator-hq/sentinel/pkg/snapshot"
)

type fakeHandler struct {
	got  []snapshot.Snapshot
	ctxs []context.Context
	err  error
}

func (h *fakeHandler) OnSnapshot(ctx context.Context, snap snapshot.Snapshot) (*engine.Evaluation, error) {
	h.got = append(h.got, snap)
	h.ctxs = append(h.ctxs, ctx)
	if h.err != nil {
		return nil, h.err
	}
	return &engine.Evaluation{Date: snap.Date}, nil
}

func TestDecodeSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    map[string]float64
		wantErr bool
	}{
		{
			name: "nested form",
			data: `{"date":"2026-03-01","metrics":{"passRate":0.8}}`,
			want: map[string]float64{"passRate": 0.8},
		},
		{
			name: "flat producer form",
			data: `{"date":"2026-03-01","passRate":0.8,"regressionCount":2}`,
			want: map[string]float64{"passRate": 0.8, "regressionCount": 2},
		},
		{name: "empty", data: "  ", wantErr: true},
		{name: "invalid json", data: `{"date":`, wantErr: true},
		{name: "no metrics", data: `{"date":"2026-03-01"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := DecodeSnapshot([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeSnapshot() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			for k, v := range tt.want {
				if snap.Metrics[k] != v {
					t.Errorf("Metrics[%s] = %v, want %v", k, snap.Metrics[k], v)
				}
			}
		})
	}
}

func TestDecodeEvents(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    int
		wantErr bool
	}{
		{"single object", `{"type":"eval","passed":true}`, 1, false},
		{"array", `[{"type":"eval","passed":true},{"type":"eval","passed":false}]`, 2, false},
		{"empty array", `[]`, 0, false},
		{"blank", "", 0, true},
		{"garbage", `[{`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := DecodeEvents([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeEvents() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(events) != tt.want {
				t.Errorf("len = %d, want %d", len(events), tt.want)
			}
		})
	}
}

func TestHandleSnapshot(t *testing.T) {
	h := &fakeHandler{}
	c := New(config.IngestConfig{}, h, nil)

	eval, err := c.HandleSnapshot(context.Background(), []byte(`{"date":"2026-03-01","passRate":0.5}`), nil)
	if err != nil {
		t.Fatalf("HandleSnapshot() error = %v", err)
	}
	if eval.Date != "2026-03-01" || len(h.got) != 1 {
		t.Errorf("eval = %+v, handled = %d", eval, len(h.got))
	}

	h.err = errors.New("store down")
	if _, err := c.HandleSnapshot(context.Background(), []byte(`{"passRate":0.5}`), nil); !errors.Is(err, h.err) {
		t.Errorf("error = %v, want handler error", err)
	}

	if _, err := c.HandleSnapshot(context.Background(), []byte(`not json`), nil); err == nil {
		t.Error("expected decode error")
	}
	if len(h.got) != 2 {
		t.Errorf("decode failures must not reach the handler, handled = %d", len(h.got))
	}
}

func TestHandleSnapshot_ExtractsTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	h := &fakeHandler{}
	c := New(config.IngestConfig{}, h, nil)

	header := nats.Header{}
	http.Header(header).Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	if _, err := c.HandleSnapshot(context.Background(), []byte(`{"passRate":1}`), header); err != nil {
		t.Fatalf("HandleSnapshot() error = %v", err)
	}

	sc := trace.SpanContextFromContext(h.ctxs[0])
	if got := sc.TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("trace id = %s, want the propagated one", got)
	}
}

func TestHandleEvents(t *testing.T) {
	buf := snapshot.NewBuffer()
	c := New(config.IngestConfig{}, nil, buf)

	n, err := c.HandleEvents(context.Background(), []byte(`[{"type":"eval","passed":true},{"type":"eval","regression":true}]`), nil)
	if err != nil {
		t.Fatalf("HandleEvents() error = %v", err)
	}
	if n != 2 || buf.Len() != 2 {
		t.Errorf("accepted = %d, buffered = %d", n, buf.Len())
	}

	if _, err := c.HandleEvents(context.Background(), []byte(`{`), nil); err == nil {
		t.Error("expected decode error")
	}
	if buf.Len() != 2 {
		t.Errorf("buffered = %d after bad message", buf.Len())
	}
}

func TestClient_NotConnected(t *testing.T) {
	c := New(config.IngestConfig{SnapshotSubject: "governance.snapshots"}, &fakeHandler{}, nil)

	if err := c.Subscribe(context.Background()); !errors.Is(err, errNotConnected) {
		t.Errorf("Subscribe() = %v", err)
	}
	if err := c.PublishSnapshot(context.Background(), snapshot.Snapshot{}); !errors.Is(err, errNotConnected) {
		t.Errorf("PublishSnapshot() = %v", err)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Error("Ping() should fail while disconnected")
	}
	if c.Connected() {
		t.Error("Connected() = true")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestHandlers_MissingCollaborators(t *testing.T) {
	c := New(config.IngestConfig{}, nil, nil)
	if _, err := c.HandleSnapshot(context.Background(), []byte(`{"passRate":1}`), nil); err == nil {
		t.Error("expected error without snapshot handler")
	}
	if _, err := c.HandleEvents(context.Background(), []byte(`[]`), nil); err == nil {
		t.Error("expected error without event sink")
	}
}
