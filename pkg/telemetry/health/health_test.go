package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

func TestChecker_Readiness(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]CheckFunc
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checks",
			wantStatus: StatusReady,
			wantChecks: map[string]string{},
		},
		{
			name: "all healthy",
			checks: map[string]CheckFunc{
				"store": func(context.Context) error { return nil },
				"audit": func(context.Context) error { return nil },
			},
			wantStatus: StatusReady,
			wantChecks: map[string]string{"store": StatusOK, "audit": StatusOK},
		},
		{
			name: "store down",
			checks: map[string]CheckFunc{
				"store": func(context.Context) error { return errors.New("connection refused") },
				"audit": func(context.Context) error { return nil },
			},
			wantStatus: StatusDegraded,
			wantChecks: map[string]string{"store": StatusUnhealthy, "audit": StatusOK},
		},
		{
			name: "check times out",
			checks: map[string]CheckFunc{
				"policy": func(ctx context.Context) error {
					<-ctx.Done()
					time.Sleep(10 * time.Millisecond)
					return nil
				},
			},
			wantStatus: StatusDegraded,
			wantChecks: map[string]string{"policy": StatusUnhealthy},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(20 * time.Millisecond)
			for name, check := range tt.checks {
				c.RegisterCheck(name, check)
			}
			status := c.CheckReadiness(context.Background())
			if status.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", status.Status, tt.wantStatus)
			}
			got := make(map[string]string, len(status.Checks))
			for name, r := range status.Checks {
				got[name] = r.Status
			}
			if !reflect.DeepEqual(got, tt.wantChecks) {
				t.Errorf("checks = %v, want %v", got, tt.wantChecks)
			}
		})
	}
}

func TestChecker_TimeoutMessage(t *testing.T) {
	c := New(10 * time.Millisecond)
	c.RegisterCheck("slow", func(ctx context.Context) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	status := c.CheckReadiness(context.Background())
	if msg := status.Checks["slow"].Message; msg != ErrCheckTimeout.Error() {
		t.Errorf("Message = %q", msg)
	}
}

func TestChecker_ListChecks(t *testing.T) {
	c := New(0)
	c.RegisterCheck("store", nil)
	c.RegisterCheck("audit", nil)
	c.RegisterCheck("store", nil)
	if got := c.ListChecks(); !reflect.DeepEqual(got, []string{"audit", "store"}) {
		t.Errorf("ListChecks() = %v", got)
	}
}

func TestHandlers(t *testing.T) {
	c := New(time.Second)
	c.RegisterCheck("store", func(context.Context) error { return errors.New("down") })

	tests := []struct {
		name     string
		handler  http.HandlerFunc
		method   string
		wantCode int
		wantBody bool
	}{
		{"liveness", c.LivenessHandler(), http.MethodGet, http.StatusOK, true},
		{"readiness degraded", c.ReadinessHandler(), http.MethodGet, http.StatusServiceUnavailable, true},
		{"readiness head", c.ReadinessHandler(), http.MethodHead, http.StatusServiceUnavailable, false},
		{"version", VersionHandler("1.2.3", "abc", "now"), http.MethodGet, http.StatusOK, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler(rec, httptest.NewRequest(tt.method, "/", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if (rec.Body.Len() > 0) != tt.wantBody {
				t.Errorf("body = %q", rec.Body.String())
			}
			if tt.wantBody {
				var m map[string]any
				if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
					t.Errorf("invalid JSON: %v", err)
				}
			}
		})
	}
}
