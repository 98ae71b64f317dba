package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jiqinga/strmforge/internal/apperr"
	"github.com/jiqinga/strmforge/internal/model"
	"github.com/jiqinga/strmforge/internal/parser"
)

type createUploadRequest struct {
	OriginalName  string `json:"original_name"`
	OwnerUserID   int64  `json:"owner_user_id"`
	ContentBase64 string `json:"content_base64"`
}

// handleCreateUpload implements the Tree Parser's entry point (spec
// §4.1): decode the uploaded tree export, classify and type every entry
// against the current Settings snapshot, and persist the UploadRecord
// already in its terminal "parsed" (or "failed") state. This is the
// route the Task Aggregate Builder's upload.Parsed precondition depends
// on; without it no Task can ever be created through the HTTP surface.
func (s *Server) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	var req createUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_body", "Bad Request", err.Error())
		return
	}
	blob, err := base64.StdEncoding.DecodeString(req.ContentBase64)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_content", "Bad Request", "content_base64 is not valid base64")
		return
	}

	settings, err := s.Store.GetSettings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	upload := &model.UploadRecord{
		OriginalName: req.OriginalName,
		ByteSize:     int64(len(blob)),
		Blob:         blob,
		OwnerUserID:  req.OwnerUserID,
		State:        model.UploadParsing,
	}

	result, err := parser.BuildResult(blob, settings)
	if err != nil {
		upload.State = model.UploadFailed
		if putErr := s.Store.PutUpload(r.Context(), upload); putErr != nil {
			writeError(w, r, putErr)
			return
		}
		writeError(w, r, err)
		return
	}

	upload.State = model.UploadParsed
	upload.Parsed = result
	upload.ParsedAt = model.Now()
	if err := s.Store.PutUpload(r.Context(), upload); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, upload)
}

func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	id, err := uploadIDParam(r)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_id", "Bad Request", err.Error())
		return
	}
	upload, err := s.Store.GetUpload(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if upload == nil {
		writeError(w, r, apperr.New(apperr.CodeNotFound, "upload not found", nil))
		return
	}
	writeJSON(w, http.StatusOK, upload)
}

func uploadIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "uploadID"), 10, 64)
}
