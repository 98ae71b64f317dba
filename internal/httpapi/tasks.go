package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jiqinga/strmforge/internal/apperr"
	"github.com/jiqinga/strmforge/internal/bus"
	"github.com/jiqinga/strmforge/internal/model"
	"github.com/jiqinga/strmforge/internal/store"
	"github.com/jiqinga/strmforge/internal/taskbuilder"
	"github.com/jiqinga/strmforge/internal/tasklifecycle"
	"github.com/jiqinga/strmforge/internal/worker"
)

type createTaskRequest struct {
	UploadID         int64  `json:"upload_id"`
	MediaServerID    int64  `json:"media_server_id"`
	DownloadServerID *int64 `json:"download_server_id"`
	OutputDir        string `json:"output_dir"`
	WorkerCount      int    `json:"worker_count"`
	Name             string `json:"name"`
}

// handleCreateTask implements spec §6's "Create Task" route: build the
// Task Aggregate, then start the Processor asynchronously and return the
// pending Task immediately.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_body", "Bad Request", err.Error())
		return
	}

	task, err := taskbuilder.Build(r.Context(), s.Store, taskbuilder.Request{
		UploadID:         req.UploadID,
		MediaServerID:    req.MediaServerID,
		DownloadServerID: req.DownloadServerID,
		OutputDir:        req.OutputDir,
		WorkerCount:      req.WorkerCount,
		Name:             req.Name,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	// The Processor outlives this request; it must not inherit the
	// request's context, which is canceled the moment the handler returns.
	p := worker.NewProcessor(s.Store, s.WorkerOwner)
	p.Bus = s.Bus
	go func(taskID int64) {
		if err := p.Run(context.Background(), taskID); err != nil {
			logWarn("processor run failed after task creation", err)
		}
	}(task.ID)

	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskIDParam(r)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_id", "Bad Request", err.Error())
		return
	}
	task, err := s.Store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if task == nil {
		writeError(w, r, apperr.New(apperr.CodeNotFound, "task not found", nil))
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := strconv.ParseInt(r.URL.Query().Get("owner_id"), 10, 64)
	tasks, err := s.Store.ListTasks(r.Context(), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// handleListSubTasks implements the "list Sub-Tasks (paginated, filterable
// by type and status and free-text search)" route.
func (s *Server) handleListSubTasks(w http.ResponseWriter, r *http.Request) {
	taskID, err := taskIDParam(r)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_id", "Bad Request", err.Error())
		return
	}

	filter := store.SubTaskFilter{TaskID: taskID}
	q := r.URL.Query()
	if kind := q.Get("type"); kind != "" {
		filter.ProcessKind = model.ProcessKind(kind)
	}
	if status := q.Get("status"); status != "" {
		filter.Statuses = []model.SubTaskStatus{model.SubTaskStatus(status)}
	}

	subs, err := s.Store.ListSubTasks(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if search := q.Get("q"); search != "" {
		subs = filterSubTasksBySourcePath(subs, search)
	}

	page, limit := paginationParams(q)
	writeJSON(w, http.StatusOK, paginate(subs, page, limit))
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskIDParam(r)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_id", "Bad Request", err.Error())
		return
	}
	task, err := tasklifecycle.Cancel(r.Context(), s.Store, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.publish(r.Context(), bus.TopicTaskCancel, id)
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleContinueTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskIDParam(r)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_id", "Bad Request", err.Error())
		return
	}
	task, err := tasklifecycle.Continue(r.Context(), s.Store, id, s.WorkerOwner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.publish(r.Context(), bus.TopicTaskContinue, id)
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskIDParam(r)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_id", "Bad Request", err.Error())
		return
	}
	if err := tasklifecycle.Delete(r.Context(), s.Store, id); err != nil {
		writeError(w, r, err)
		return
	}
	s.publish(r.Context(), bus.TopicTaskDelete, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecoverNow(w http.ResponseWriter, r *http.Request) {
	if s.recover == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "recovery not configured"})
		return
	}
	if err := s.recover(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recovery sweep triggered"})
}

func taskIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "taskID"), 10, 64)
}

func paginationParams(q map[string][]string) (page, limit int) {
	page, limit = 1, 50
	if v := first(q, "page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := first(q, "limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	return page, limit
}

func first(q map[string][]string, key string) string {
	if vs, ok := q[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

type page_ struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Items any `json:"items"`
}

func paginate[T any](items []T, page, limit int) page_ {
	total := len(items)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return page_{Page: page, Limit: limit, Total: total, Items: items[start:end]}
}

func filterSubTasksBySourcePath(subs []*model.SubTask, q string) []*model.SubTask {
	var out []*model.SubTask
	for _, s := range subs {
		if containsFold(s.SourcePath, q) {
			out = append(out, s)
		}
	}
	return out
}

func applogWarn(msg string, err error) {
	// Processor failures from the fire-and-forget create-task dispatch are
	// logged, not propagated: the HTTP response already returned 201.
	logWarn(msg, err)
}
