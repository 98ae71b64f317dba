package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/jiqinga/strmforge/internal/classify"
	"github.com/jiqinga/strmforge/internal/model"
)

// handleGetSettings returns the current Settings row.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.Store.GetSettings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

type putSettingsRequest struct {
	VideoExts    []string `json:"video_exts"`
	AudioExts    []string `json:"audio_exts"`
	ImageExts    []string `json:"image_exts"`
	SubtitleExts []string `json:"subtitle_exts"`
	MetadataExts []string `json:"metadata_exts"`

	PathRewriteEnabled bool   `json:"path_rewrite_enabled"`
	PathRewritePrefix  string `json:"path_rewrite_prefix"`

	WorkerCount int `json:"worker_count"`

	RetryMaxAttempts int `json:"retry_max_attempts"`
	RetryBackoffSecs int `json:"retry_backoff_secs"`

	LogLevel      string `json:"log_level"`
	LogDir        string `json:"log_dir"`
	LogRetainDays int    `json:"log_retain_days"`
}

// handlePutSettings implements the Settings write path (spec §4.2,
// §4.9): the proposed row is validated (extension sets pairwise
// disjoint, logs directory writable), Version is bumped only if the
// extension sets actually changed, then the result is persisted.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req putSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_body", "Bad Request", err.Error())
		return
	}

	current, err := s.Store.GetSettings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	proposed := &model.Settings{
		VideoExts:          req.VideoExts,
		AudioExts:          req.AudioExts,
		ImageExts:          req.ImageExts,
		SubtitleExts:       req.SubtitleExts,
		MetadataExts:       req.MetadataExts,
		PathRewriteEnabled: req.PathRewriteEnabled,
		PathRewritePrefix:  req.PathRewritePrefix,
		WorkerCount:        req.WorkerCount,
		RetryMaxAttempts:   req.RetryMaxAttempts,
		RetryBackoffSecs:   req.RetryBackoffSecs,
		LogLevel:           req.LogLevel,
		LogDir:             req.LogDir,
		LogRetainDays:      req.LogRetainDays,
	}
	if current != nil {
		proposed.ID = current.ID
		proposed.RecoveryPeriodicCheck = current.RecoveryPeriodicCheck
		proposed.RecoveryIntervalSecs = current.RecoveryIntervalSecs
		proposed.RecoveryTaskTimeoutHours = current.RecoveryTaskTimeoutHours
		proposed.RecoveryHeartbeatTimeoutMin = current.RecoveryHeartbeatTimeoutMin
		proposed.RecoveryActivityWindowMin = current.RecoveryActivityWindowMin
		proposed.RecoveryRecentActivityMin = current.RecoveryRecentActivityMin
		proposed.DefaultMediaServerID = current.DefaultMediaServerID
		proposed.DefaultDownloadServerID = current.DefaultDownloadServerID
		proposed.LogVerboseSQL = current.LogVerboseSQL
	}

	next, err := classify.Apply(current, proposed)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Store.PutSettings(r.Context(), next); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}
