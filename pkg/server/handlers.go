package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"mercator-hq/sentinel/pkg/audit"
	"mercator-hq/sentinel/pkg/enforcement"
	"mercator-hq/sentinel/pkg/ingest"
	"mercator-hq/sentinel/pkg/snapshot"
	"mercator-hq/sentinel/pkg/store"
	"mercator-hq/sentinel/pkg/telemetry/logging"
)

// actor names the caller: ?by= first, then the actor header.
func actor(r *http.Request) string {
	if by := r.URL.Query().Get("by"); by != "" {
		return by
	}
	return logging.GetActor(r.Context())
}

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, badRequest("read request body", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, badRequest("request body is empty", nil)
	}
	return data, nil
}

func (s *Server) handleCompilePolicy(w http.ResponseWriter, r *http.Request) {
	src, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.CompilePolicy(r.Context(), src, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	docs, err := s.engine.ListPolicies(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": docs, "count": len(docs)})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	doc, err := s.engine.GetPolicy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := ingest.DecodeSnapshot(data)
	if err != nil {
		s.writeError(w, r, badRequest("invalid snapshot", err))
		return
	}
	eval, err := s.engine.OnSnapshot(r.Context(), snap)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

// eventBatch is the object form of POST /v1/events.
type eventBatch struct {
	Date   string           `json:"date"`
	Events []snapshot.Event `json:"events"`
}

// handleEvents accepts {"date", "events": [...]} or a bare array. Events
// are rolled up and evaluated immediately unless ?buffer=true, in which
// case they wait for the scheduled rollup.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	batch := eventBatch{Date: r.URL.Query().Get("date")}
	if trimmed := bytes.TrimSpace(data); trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			s.writeError(w, r, badRequest("invalid event batch", err))
			return
		}
		if batch.Events == nil {
			s.writeError(w, r, badRequest("event batch has no events field", nil))
			return
		}
	} else {
		batch.Events, err = ingest.DecodeEvents(trimmed)
		if err != nil {
			s.writeError(w, r, badRequest("invalid events", err))
			return
		}
	}

	if buffer, _ := strconv.ParseBool(r.URL.Query().Get("buffer")); buffer {
		s.engine.Events().Add(batch.Events...)
		writeJSON(w, http.StatusAccepted, map[string]int{"buffered": len(batch.Events)})
		return
	}

	eval, err := s.engine.IngestEvents(r.Context(), batch.Date, batch.Events)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

// handleEnforce answers 200 with the decision when allowed and 403 with
// the blocked_by_policy error otherwise.
func (s *Server) handleEnforce(w http.ResponseWriter, r *http.Request) {
	var req enforcement.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, badRequest("invalid enforcement request", err))
		return
	}
	if req.Service == "" {
		s.writeError(w, r, badRequest("service is required", nil))
		return
	}
	if req.ActorUID == "" {
		req.ActorUID = logging.GetActor(r.Context())
	}

	d, err := s.engine.Check(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !d.Allowed {
		s.writeError(w, r, enforcement.NewBlockedError(req, d))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleRolloutStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.RolloutStatus(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ApprovedBy string `json:"approvedBy"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			s.writeError(w, r, badRequest("invalid advance request", err))
			return
		}
	}
	if body.ApprovedBy == "" {
		body.ApprovedBy = actor(r)
	}
	res, err := s.engine.Advance(r.Context(), body.ApprovedBy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetOverrides(w http.ResponseWriter, r *http.Request) {
	o, err := s.engine.Override(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleClearOverrides(w http.ResponseWriter, r *http.Request) {
	o, err := s.engine.ClearOverrides(r.Context(), actor(r), r.URL.Query().Get("reason"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.AlertFilter{Type: q.Get("type")}
	if v := q.Get("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, r, badRequest("resolved must be a boolean", err))
			return
		}
		f.Resolved = &b
	}
	if v := q.Get("since"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			s.writeError(w, r, badRequest("invalid since", err))
			return
		}
		f.Since = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, badRequest("limit must be a non-negative integer", err))
			return
		}
		f.Limit = n
	}

	alerts, err := s.engine.Alerts(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.engine.ResolveAlert(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleCheckDrift(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.CheckDrift(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// auditPage is the GET /v1/audit response.
type auditPage struct {
	Entries []*audit.Entry `json:"entries"`
	Total   int64          `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}

func (s *Server) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	query, err := s.parseAuditQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, total, err := s.engine.QueryAudit(r.Context(), query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*audit.Entry{}
	}
	writeJSON(w, http.StatusOK, auditPage{Entries: entries, Total: total, Limit: query.Limit, Offset: query.Offset})
}

func (s *Server) parseAuditQuery(r *http.Request) (*audit.Query, error) {
	q := r.URL.Query()
	query := &audit.Query{
		ActorUID:   q.Get("actor"),
		SubjectUID: q.Get("subject"),
		TeamID:     q.Get("team"),
		Action:     q.Get("action"),
		Limit:      s.audit.Query.DefaultLimit,
	}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"start", &query.Start}, {"end", &query.End}} {
		if v := q.Get(p.name); v != "" {
			t, err := parseTime(v)
			if err != nil {
				return nil, audit.NewQueryError(p.name, err.Error())
			}
			*p.dst = t
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, audit.NewQueryError("limit", "must be a positive integer")
		}
		query.Limit = n
	}
	if maxLimit := s.audit.Query.MaxLimit; maxLimit > 0 && query.Limit > maxLimit {
		query.Limit = maxLimit
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, audit.NewQueryError("offset", "must be a non-negative integer")
		}
		query.Offset = n
	}
	if !query.Start.IsZero() && !query.End.IsZero() && query.End.Before(query.Start) {
		return nil, audit.NewQueryError("end", "must not be before start")
	}
	return query, nil
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	e, err := s.engine.AuditEntry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	x, err := s.engine.Explain(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, x)
}

// handleExportSubject streams every entry a user appears in as a JSON or
// CSV attachment.
func (s *Server) handleExportSubject(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	uid := q.Get("uid")
	if uid == "" {
		s.writeError(w, r, badRequest("uid is required", nil))
		return
	}
	format := q.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		s.writeError(w, r, badRequest(fmt.Sprintf("unsupported export format %q", format), nil))
		return
	}

	report, err := s.engine.ExportSubject(r.Context(), uid, s.audit.Query.MaxLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	contentType := "application/json"
	if format == "csv" {
		contentType = "text/csv; charset=utf-8"
		err = report.WriteCSV(&buf)
	} else {
		err = report.WriteJSON(&buf)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename(format)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// parseTime accepts RFC 3339 timestamps and plain dates.
func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 or YYYY-MM-DD, got %q", v)
	}
	return t, nil
}
