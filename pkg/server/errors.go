package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"mercator-hq/sentinel/pkg/audit"
	"mercator-hq/sentinel/pkg/enforcement"
	"mercator-hq/sentinel/pkg/policy"
	"mercator-hq/sentinel/pkg/rollout"
	"mercator-hq/sentinel/pkg/store"
	"mercator-hq/sentinel/pkg/telemetry/logging"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// badRequestError marks malformed request input.
type badRequestError struct {
	msg   string
	cause error
}

func (e *badRequestError) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *badRequestError) Unwrap() error { return e.cause }

func badRequest(msg string, cause error) error {
	return &badRequestError{msg: msg, cause: cause}
}

// statusFor maps an engine error to its HTTP status and response body.
func statusFor(err error) (int, errorBody) {
	var (
		rej     *rollout.RejectionError
		blocked *enforcement.BlockedError
		unavail *enforcement.UnavailableError
		cfgErr  *policy.ConfigError
		qErr    *audit.QueryError
		badReq  *badRequestError
		tooBig  *http.MaxBytesError
	)
	switch {
	case errors.As(err, &rej):
		status := http.StatusConflict
		if rej.Code == rollout.CodePolicyNotFound {
			status = http.StatusNotFound
		}
		body := errorBody{Error: rej.Code, Message: rej.Message}
		if len(rej.Details) > 0 {
			body.Details = rej.Details
		}
		return status, body
	case errors.As(err, &blocked):
		return http.StatusForbidden, errorBody{
			Error:   blocked.Error(),
			Message: blocked.Reason,
			Details: map[string]any{
				"code":     blocked.Code,
				"service":  blocked.Service,
				"teamId":   blocked.TeamID,
				"action":   blocked.Action,
				"disabled": blocked.Disabled,
				"auditId":  blocked.AuditID,
			},
		}
	case errors.As(err, &unavail), store.IsUnavailable(err):
		return http.StatusServiceUnavailable, errorBody{Error: "store_unavailable", Message: err.Error()}
	case errors.As(err, &cfgErr):
		body := errorBody{Error: "invalid_policy", Message: cfgErr.Error()}
		if cfgErr.Field != "" {
			body.Details = map[string]any{"field": cfgErr.Field}
		}
		return http.StatusBadRequest, body
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge, errorBody{Error: "body_too_large", Message: err.Error()}
	case errors.As(err, &qErr), errors.As(err, &badReq):
		return http.StatusBadRequest, errorBody{Error: "bad_request", Message: err.Error()}
	case errors.Is(err, store.ErrNotFound), errors.Is(err, audit.ErrNotFound):
		return http.StatusNotFound, errorBody{Error: "not_found", Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal_error", Message: "an internal error occurred"}
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context(), s.logger).Error("request failed",
			"path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}
