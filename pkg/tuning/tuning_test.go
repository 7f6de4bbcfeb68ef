package tuning

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPInvoker_Invoke(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.URL+"/", nil)
	if err := inv.Invoke(context.Background(), "tuningLoop"); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if gotPath != "/tuningLoop" || gotMethod != http.MethodPost {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
}

func TestHTTPInvoker_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.URL, nil)

	tests := []struct {
		name    string
		entry   string
		wantErr string
	}{
		{"non-2xx", "tuningLoop", "status 429: quota exceeded"},
		{"empty name", "", "name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := inv.Invoke(context.Background(), tt.entry)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Invoke() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
