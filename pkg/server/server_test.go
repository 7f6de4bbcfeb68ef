package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/sentinel/pkg/audit"
	auditstorage "mercator-hq/sentinel/pkg/audit/storage"
	"mercator-hq/sentinel/pkg/config"
	"mercator-hq/sentinel/pkg/engine"
	"mercator-hq/sentinel/pkg/policy"
	"mercator-hq/sentinel/pkg/store/memory"
	"mercator-hq/sentinel/pkg/telemetry/health"
	"mercator-hq/sentinel/pkg/telemetry/metrics"
)

func newTestServer(t *testing.T, fallback bool) (*httptest.Server, *engine.Engine) {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Policy.FallbackToDefault = fallback
	cfg.Server.MaxBodyBytes = 4096

	eng, err := engine.New(engine.Config{FallbackToDefault: fallback}, engine.Deps{
		Store:        memory.New(),
		AuditStorage: auditstorage.NewMemoryStorage(),
		Metrics:      metrics.NewCollector(&cfg.Telemetry.Metrics, prometheus.NewRegistry()),
	})
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}
	checker := health.New(time.Second)
	eng.RegisterHealthChecks(checker)

	srv := New(cfg, eng, checker, BuildInfo{Version: "1.2.3", Commit: "abc"})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, eng
}

func do(t *testing.T, method, url, body string, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func decode(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

func TestPolicies(t *testing.T) {
	ts, _ := newTestServer(t, false)

	resp, body := do(t, http.MethodPost, ts.URL+"/v1/policies", policy.DefaultSource, map[string]string{ActorHeader: "alice"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("compile status = %d, body = %s", resp.StatusCode, body)
	}
	var res engine.CompileResult
	decode(t, body, &res)
	if res.Policy.ID != policy.DefaultPolicyID || res.Policy.CompiledBy != "alice" || res.AuditID == "" {
		t.Errorf("compile result = %+v", res)
	}

	resp, body = do(t, http.MethodGet, ts.URL+"/v1/policies/"+policy.DefaultPolicyID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get status = %d, body = %s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodGet, ts.URL+"/v1/policies", "", nil)
	var list struct {
		Count int `json:"count"`
	}
	decode(t, body, &list)
	if resp.StatusCode != http.StatusOK || list.Count != 1 {
		t.Errorf("list status = %d, count = %d", resp.StatusCode, list.Count)
	}

	resp, _ = do(t, http.MethodGet, ts.URL+"/v1/policies/missing", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing policy status = %d, want 404", resp.StatusCode)
	}
}

func TestCompilePolicy_Errors(t *testing.T) {
	ts, _ := newTestServer(t, false)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "bad operator",
			body:       "id: broken\nrules:\n  - metric: passRate\n    operator: \"!=\"\n    value: 1\n    action: alert\n",
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_policy",
		},
		{
			name:       "empty body",
			body:       "   ",
			wantStatus: http.StatusBadRequest,
			wantError:  "bad_request",
		},
		{
			name:       "too large",
			body:       "id: big\n#" + strings.Repeat("x", 5000) + "\n",
			wantStatus: http.StatusRequestEntityTooLarge,
			wantError:  "body_too_large",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, http.MethodPost, ts.URL+"/v1/policies", tt.body, nil)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, tt.wantStatus, body)
			}
			var eb errorBody
			decode(t, body, &eb)
			if eb.Error != tt.wantError {
				t.Errorf("error = %q, want %q", eb.Error, tt.wantError)
			}
		})
	}

	_, body := do(t, http.MethodGet, ts.URL+"/v1/policies", "", nil)
	if !strings.Contains(string(body), `"count":0`) {
		t.Errorf("rejected policies must not be stored: %s", body)
	}
}

func TestSnapshotThenEnforce(t *testing.T) {
	ts, _ := newTestServer(t, true)

	resp, body := do(t, http.MethodPost, ts.URL+"/v1/enforce", `{"service":"checkout","teamId":"team-a","action":"deploy_model"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("enforce before snapshot = %d, body = %s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodPost, ts.URL+"/v1/snapshots", `{"date":"2026-03-01","passRate":0.6}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("snapshot status = %d, body = %s", resp.StatusCode, body)
	}
	var eval engine.Evaluation
	decode(t, body, &eval)
	if eval.Skipped || len(eval.Triggered) == 0 {
		t.Errorf("evaluation = %+v", eval)
	}

	resp, body = do(t, http.MethodPost, ts.URL+"/v1/enforce", `{"service":"checkout","teamId":"team-a","action":"deploy_model"}`,
		map[string]string{ActorHeader: "deployer"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("enforce after block = %d, body = %s", resp.StatusCode, body)
	}
	var eb errorBody
	decode(t, body, &eb)
	if !strings.HasPrefix(eb.Error, "blocked_by_policy:") {
		t.Errorf("error = %q", eb.Error)
	}

	resp, body = do(t, http.MethodGet, ts.URL+"/v1/overrides", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"*"`) {
		t.Errorf("overrides = %d %s", resp.StatusCode, body)
	}

	resp, _ = do(t, http.MethodDelete, ts.URL+"/v1/overrides?reason=recovered", "", map[string]string{ActorHeader: "ops"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPost, ts.URL+"/v1/enforce", `{"service":"checkout","teamId":"team-a","action":"deploy_model"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("enforce after clear = %d", resp.StatusCode)
	}
}

func TestEnforce_BadRequest(t *testing.T) {
	ts, _ := newTestServer(t, true)
	for _, body := range []string{`{`, `{"teamId":"a"}`} {
		resp, _ := do(t, http.MethodPost, ts.URL+"/v1/enforce", body, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestEvents(t *testing.T) {
	ts, eng := newTestServer(t, true)

	tests := []struct {
		name       string
		url        string
		body       string
		wantStatus int
	}{
		{"object form", "/v1/events", `{"date":"2026-03-02","events":[{"type":"eval","passed":true}]}`, http.StatusOK},
		{"array form", "/v1/events?date=2026-03-03", `[{"type":"eval","passed":true},{"type":"eval","passed":false}]`, http.StatusOK},
		{"buffered", "/v1/events?buffer=true", `[{"type":"eval","passed":true}]`, http.StatusAccepted},
		{"missing events", "/v1/events", `{"date":"2026-03-02"}`, http.StatusBadRequest},
		{"garbage", "/v1/events", `[{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, http.MethodPost, ts.URL+tt.url, tt.body, nil)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", resp.StatusCode, tt.wantStatus, body)
			}
		})
	}

	if n := eng.Events().Len(); n != 1 {
		t.Errorf("buffered events = %d, want 1", n)
	}
}

func TestRollout(t *testing.T) {
	ts, _ := newTestServer(t, false)

	resp, body := do(t, http.MethodPost, ts.URL+"/v1/rollout/advance", "", nil)
	if resp.StatusCode != http.StatusNotFound || !strings.Contains(string(body), "policy_not_found") {
		t.Fatalf("advance without policy = %d %s", resp.StatusCode, body)
	}

	do(t, http.MethodPost, ts.URL+"/v1/policies", policy.DefaultSource, nil)

	resp, body = do(t, http.MethodPost, ts.URL+"/v1/rollout/advance", `{"approvedBy":"dana"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first advance = %d %s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodPost, ts.URL+"/v1/rollout/advance", `{"approvedBy":"dana"}`, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second advance = %d %s", resp.StatusCode, body)
	}
	var eb errorBody
	decode(t, body, &eb)
	if eb.Error != "min_hours_not_met" {
		t.Errorf("error = %q, want min_hours_not_met", eb.Error)
	}

	resp, body = do(t, http.MethodGet, ts.URL+"/v1/rollout", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d %s", resp.StatusCode, body)
	}
}

func TestAlerts(t *testing.T) {
	ts, _ := newTestServer(t, true)
	do(t, http.MethodPost, ts.URL+"/v1/snapshots", `{"date":"2026-03-01","passRate":0.8}`, nil)

	resp, body := do(t, http.MethodGet, ts.URL+"/v1/alerts?resolved=false", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list = %d %s", resp.StatusCode, body)
	}
	var list struct {
		Alerts []struct {
			ID string `json:"id"`
		} `json:"alerts"`
		Count int `json:"count"`
	}
	decode(t, body, &list)
	if list.Count != 1 {
		t.Fatalf("alerts = %d, want 1 (%s)", list.Count, body)
	}

	resp, body = do(t, http.MethodPost, ts.URL+"/v1/alerts/"+list.Alerts[0].ID+"/resolve", "", map[string]string{ActorHeader: "oncall"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve = %d %s", resp.StatusCode, body)
	}

	_, body = do(t, http.MethodGet, ts.URL+"/v1/alerts?resolved=false", "", nil)
	decode(t, body, &list)
	if list.Count != 0 {
		t.Errorf("unresolved after resolve = %d", list.Count)
	}

	resp, _ = do(t, http.MethodPost, ts.URL+"/v1/alerts/nope/resolve", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown alert = %d, want 404", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, ts.URL+"/v1/alerts?resolved=maybe", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad filter = %d, want 400", resp.StatusCode)
	}
}

func TestAudit(t *testing.T) {
	ts, _ := newTestServer(t, false)
	do(t, http.MethodPost, ts.URL+"/v1/policies", policy.DefaultSource, map[string]string{ActorHeader: "alice"})
	do(t, http.MethodPost, ts.URL+"/v1/policies?by=alice", strings.Replace(policy.DefaultSource, `version: "1"`, `version: "2"`, 1), nil)

	resp, body := do(t, http.MethodGet, ts.URL+"/v1/audit?actor=alice&limit=1", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query = %d %s", resp.StatusCode, body)
	}
	var page auditPage
	decode(t, body, &page)
	if len(page.Entries) != 1 || page.Total != 2 || page.Limit != 1 {
		t.Fatalf("page = %d entries, total %d, limit %d", len(page.Entries), page.Total, page.Limit)
	}
	id := page.Entries[0].ID

	resp, body = do(t, http.MethodGet, ts.URL+"/v1/audit/"+id, "", nil)
	var entry audit.Entry
	decode(t, body, &entry)
	if resp.StatusCode != http.StatusOK || entry.Action != audit.ActionPolicyCompile {
		t.Errorf("get = %d, action %q", resp.StatusCode, entry.Action)
	}

	resp, body = do(t, http.MethodGet, ts.URL+"/v1/audit/"+id+"/explain", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"verified":true`) {
		t.Errorf("explain = %d %s", resp.StatusCode, body)
	}

	resp, _ = do(t, http.MethodGet, ts.URL+"/v1/audit/missing", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing entry = %d, want 404", resp.StatusCode)
	}

	for _, q := range []string{"limit=0", "offset=-1", "start=yesterday", "start=2026-03-02&end=2026-03-01"} {
		resp, _ = do(t, http.MethodGet, ts.URL+"/v1/audit?"+q, "", nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestAuditExport(t *testing.T) {
	ts, _ := newTestServer(t, false)
	do(t, http.MethodPost, ts.URL+"/v1/policies", policy.DefaultSource, map[string]string{ActorHeader: "alice"})

	tests := []struct {
		query       string
		wantStatus  int
		contentType string
	}{
		{"uid=alice", http.StatusOK, "application/json"},
		{"uid=alice&format=csv", http.StatusOK, "text/csv; charset=utf-8"},
		{"uid=alice&format=xml", http.StatusBadRequest, "application/json"},
		{"format=json", http.StatusBadRequest, "application/json"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp, body := do(t, http.MethodGet, ts.URL+"/v1/audit/export?"+tt.query, "", nil)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", resp.StatusCode, tt.wantStatus, body)
			}
			if got := resp.Header.Get("Content-Type"); got != tt.contentType {
				t.Errorf("Content-Type = %q, want %q", got, tt.contentType)
			}
			if tt.wantStatus == http.StatusOK {
				if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "audit-export-alice-") {
					t.Errorf("Content-Disposition = %q", cd)
				}
			}
		})
	}
}

func TestOperationalEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, true)

	tests := []struct {
		path       string
		wantStatus int
		contains   string
	}{
		{"/health", http.StatusOK, "ok"},
		{"/ready", http.StatusOK, "store"},
		{"/version", http.StatusOK, "1.2.3"},
		{"/metrics", http.StatusOK, "governance"},
		{"/v1/nope", http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			do(t, http.MethodPost, ts.URL+"/v1/enforce", `{"service":"checkout"}`, nil)
			resp, body := do(t, http.MethodGet, ts.URL+tt.path, "", nil)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if !strings.Contains(string(body), tt.contains) {
				t.Errorf("body %s does not contain %q", body, tt.contains)
			}
		})
	}
}

func TestRequestIDPropagation(t *testing.T) {
	ts, _ := newTestServer(t, true)

	resp, _ := do(t, http.MethodGet, ts.URL+"/health", "", map[string]string{RequestIDHeader: "req-42"})
	if got := resp.Header.Get(RequestIDHeader); got != "req-42" {
		t.Errorf("echoed request id = %q", got)
	}
	resp, _ = do(t, http.MethodGet, ts.URL+"/health", "", nil)
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Error("expected a generated request id")
	}
}

func TestRecoverer(t *testing.T) {
	h := recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Error("panic value leaked to the client")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad request", badRequest("x", nil), http.StatusBadRequest},
		{"query", audit.NewQueryError("limit", "bad"), http.StatusBadRequest},
		{"audit not found", audit.ErrNotFound, http.StatusNotFound},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, _ := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	_, eng := newTestServer(t, true)
	cfg := config.NewDefaultConfig()
	srv := New(cfg, eng, nil, BuildInfo{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !srv.IsRunning() {
		t.Error("IsRunning() = false while serving")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
	if srv.IsRunning() {
		t.Error("IsRunning() = true after shutdown")
	}
}

func TestServe_TLS(t *testing.T) {
	// Borrow httptest's certificate; its client trusts it for 127.0.0.1.
	certSrc := httptest.NewUnstartedServer(http.NotFoundHandler())
	certSrc.StartTLS()
	defer certSrc.Close()
	client := certSrc.Client()

	_, eng := newTestServer(t, true)
	srv := New(config.NewDefaultConfig(), eng, nil, BuildInfo{Version: "9.9.9"})
	srv.UseTLS(&tls.Config{Certificates: certSrc.TLS.Certificates, MinVersion: tls.VersionTLS12})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-done
	}()

	url := "https://" + ln.Addr().String() + "/version"
	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = client.Get(url)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("TLS server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	defer resp.Body.Close()
	if resp.TLS == nil {
		t.Fatal("response was not served over TLS")
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "9.9.9") {
		t.Errorf("version body = %s", body)
	}

	if plain, err := http.Get("http://" + ln.Addr().String() + "/version"); err == nil {
		plain.Body.Close()
		if plain.StatusCode == http.StatusOK {
			t.Error("plain HTTP request succeeded on a TLS listener")
		}
	}
}
