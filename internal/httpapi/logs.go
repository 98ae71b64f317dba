package httpapi

import (
	"net/http"
	"strings"

	"github.com/jiqinga/strmforge/internal/apperr"
	"github.com/jiqinga/strmforge/internal/model"
)

type logLine struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// handleTaskLogs implements "Get Task logs (paginated, filterable by
// level, free text, and log-stream: task/download/strm)" (spec §6).
func (s *Server) handleTaskLogs(w http.ResponseWriter, r *http.Request) {
	id, err := taskIDParam(r)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_id", "Bad Request", err.Error())
		return
	}

	q := r.URL.Query()
	stream := q.Get("stream")
	if stream == "" {
		stream = "task"
	}
	level := strings.ToLower(q.Get("level"))
	search := q.Get("q")
	page, limit := paginationParams(q)

	switch stream {
	case "download":
		logs, err := s.Store.ListDownloadLogs(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filtered := filterDownloadLogs(logs, level, search)
		writeJSON(w, http.StatusOK, paginate(filtered, page, limit))
	case "strm":
		logs, err := s.Store.ListStrmLogs(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filtered := filterStrmLogs(logs, level, search)
		writeJSON(w, http.StatusOK, paginate(filtered, page, limit))
	case "task":
		task, err := s.Store.GetTask(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if task == nil {
			writeError(w, r, apperr.New(apperr.CodeNotFound, "task not found", nil))
			return
		}
		lines := filterTaskLogLines(task.LogContent, level, search)
		writeJSON(w, http.StatusOK, paginate(lines, page, limit))
	default:
		writeProblem(w, r, http.StatusBadRequest, "invalid_stream", "Bad Request", "stream must be task, download, or strm")
	}
}

// filterTaskLogLines splits the append-only "level: message" lines
// AppendTaskLogLine writes and applies the level/free-text filters.
func filterTaskLogLines(content, level, search string) []logLine {
	var out []logLine
	for _, raw := range strings.Split(content, "\n") {
		if raw == "" {
			continue
		}
		lvl, msg, ok := strings.Cut(raw, ": ")
		if !ok {
			lvl, msg = "info", raw
		}
		if level != "" && lvl != level {
			continue
		}
		if search != "" && !containsFold(msg, search) {
			continue
		}
		out = append(out, logLine{Level: lvl, Message: msg})
	}
	return out
}

func filterDownloadLogs(logs []*model.DownloadLog, level, search string) []*model.DownloadLog {
	var out []*model.DownloadLog
	for _, l := range logs {
		if level != "" && string(l.Level) != level {
			continue
		}
		if search != "" && !containsFold(l.Message, search) && !containsFold(l.SourcePath, search) {
			continue
		}
		out = append(out, l)
	}
	return out
}

func filterStrmLogs(logs []*model.StrmLog, level, search string) []*model.StrmLog {
	var out []*model.StrmLog
	for _, l := range logs {
		if level != "" && string(l.Level) != level {
			continue
		}
		if search != "" && !containsFold(l.Message, search) && !containsFold(l.SourcePath, search) {
			continue
		}
		out = append(out, l)
	}
	return out
}
