package httpapi

import (
	"net/http"

	"github.com/jiqinga/strmforge/internal/preview"
)

// handleDirectory implements "Get directory content for a Task" (spec §6,
// §4.8).
func (s *Server) handleDirectory(w http.ResponseWriter, r *http.Request) {
	id, err := taskIDParam(r)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_id", "Bad Request", err.Error())
		return
	}
	prefix := r.URL.Query().Get("path")

	entries, err := preview.Listing(r.Context(), s.Store, id, prefix)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handlePreview implements "get file preview for a Sub-Task" (spec §6,
// §4.8).
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id, err := taskIDParam(r)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_id", "Bad Request", err.Error())
		return
	}
	sourcePath := r.URL.Query().Get("path")
	if sourcePath == "" {
		writeProblem(w, r, http.StatusBadRequest, "missing_path", "Bad Request", "path query parameter is required")
		return
	}

	file, err := preview.Preview(r.Context(), s.Store, id, sourcePath)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}
