package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jiqinga/strmforge/internal/apperr"
	"github.com/jiqinga/strmforge/internal/log"
	"github.com/jiqinga/strmforge/internal/store"
)

// writeProblem writes an RFC 7807 problem-details body, adapted from the
// teacher's problem.Write: a stable machine code, a human title, and the
// request's instance path, plus the request ID for correlation.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, title, detail string) {
	reqID := log.RequestIDFromContext(r.Context())
	body := map[string]any{
		"type":     "about:blank",
		"title":    title,
		"status":   status,
		"code":     code,
		"instance": r.URL.EscapedPath(),
	}
	if detail != "" {
		body["detail"] = detail
	}
	if reqID != "" {
		body["request_id"] = reqID
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithComponent("httpapi").Error().Err(err).Msg("failed to encode problem response")
	}
}

// writeError maps a core error to an HTTP problem response via apperr.Code.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, r, http.StatusNotFound, "not_found", "Not Found", err.Error())
		return
	}

	status, code, title := http.StatusInternalServerError, "internal_error", "Internal Server Error"
	switch apperr.CodeOf(err) {
	case apperr.CodeNotFound:
		status, code, title = http.StatusNotFound, "not_found", "Not Found"
	case apperr.CodePermissionDenied:
		status, code, title = http.StatusForbidden, "permission_denied", "Forbidden"
	case apperr.CodePrecondition:
		status, code, title = http.StatusConflict, "precondition_failed", "Conflict"
	case apperr.CodeConfiguration:
		status, code, title = http.StatusUnprocessableEntity, "configuration_error", "Unprocessable Entity"
	case apperr.CodeDataCorruption:
		status, code, title = http.StatusUnprocessableEntity, "data_corruption", "Unprocessable Entity"
	case apperr.CodeTransientIO, apperr.CodePermanentIO:
		status, code, title = http.StatusBadGateway, "upstream_io_error", "Bad Gateway"
	}
	writeProblem(w, r, status, code, title, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
