// Package taskbuilder implements the Task Aggregate Builder (spec §4.3):
// it expands a cached ParseResult into a Task and its Sub-Tasks. The Task
// and its Sub-Tasks are written in separate store calls, not in one
// transaction.
package taskbuilder

import (
	"context"
	"fmt"
	"time"

	"github.com/jiqinga/strmforge/internal/apperr"
	"github.com/jiqinga/strmforge/internal/model"
	"github.com/jiqinga/strmforge/internal/parser"
	"github.com/jiqinga/strmforge/internal/store"
)

// Request names everything the builder needs to expand an UploadRecord's
// cached parse into a Task.
type Request struct {
	UploadID         int64
	MediaServerID    int64
	DownloadServerID *int64
	OutputDir        string
	WorkerCount      int
	Name             string
	OwnerUserID      int64
}

// Build creates a Task in "pending" and a Sub-Task per non-directory
// ParseEntry in the upload's cached result whose category is not "other",
// process-kind assigned by category and max-attempts from
// Settings.RetryMaxAttempts. The Task is stored first, then the Sub-Tasks,
// then the Task's Total counter; a failure part-way leaves the earlier
// writes in place. Task.OutputDir is req.OutputDir as given: Build applies
// no default directory. DefaultOutputDir renders the conventional
// per-Task name for a caller that has an output base.
func Build(ctx context.Context, st store.StateStore, req Request) (*model.Task, error) {
	upload, err := st.GetUpload(ctx, req.UploadID)
	if err != nil {
		return nil, err
	}
	if upload == nil {
		return nil, apperr.New(apperr.CodeNotFound, "upload record not found", nil)
	}
	if upload.Parsed == nil {
		return nil, apperr.New(apperr.CodePrecondition, "upload has not been parsed", nil)
	}

	server, err := st.GetMediaServer(ctx, req.MediaServerID)
	if err != nil {
		return nil, err
	}
	if server == nil {
		return nil, apperr.New(apperr.CodeNotFound, "media server not found", nil)
	}

	settings, err := st.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	// Version adaptation (spec §4.1): a cached ParseResult read with a
	// stale Version is re-typed against the current Settings snapshot
	// and persisted back atomically before its entries are expanded.
	if settings != nil && upload.Parsed.Version != settings.Version {
		parser.ReType(upload.Parsed, settings)
		if _, err := st.UpdateUpload(ctx, upload.ID, func(u *model.UploadRecord) error {
			u.Parsed = upload.Parsed
			u.ParsedAt = model.Now()
			return nil
		}); err != nil {
			return nil, err
		}
	}

	maxAttempts := 3
	if settings != nil && settings.RetryMaxAttempts > 0 {
		maxAttempts = settings.RetryMaxAttempts
	}
	workerCount := req.WorkerCount
	if workerCount < 1 {
		workerCount = 1
	}

	task := &model.Task{
		Name:             req.Name,
		Status:           model.TaskPending,
		MediaServerID:    req.MediaServerID,
		DownloadServerID: req.DownloadServerID,
		SourceUploadID:   req.UploadID,
		OutputDir:        req.OutputDir,
		WorkerCount:      workerCount,
		OwnerUserID:      req.OwnerUserID,
	}
	if err := st.PutTask(ctx, task); err != nil {
		return nil, err
	}

	var subs []*model.SubTask
	for _, entry := range upload.Parsed.Entries {
		if entry.IsDirectory || entry.Category == model.CategoryOther {
			continue
		}
		subs = append(subs, &model.SubTask{
			TaskID:      task.ID,
			SourcePath:  entry.VirtualPath,
			Category:    entry.Category,
			ProcessKind: model.ProcessKindFor(entry.Category),
			Status:      model.SubPending,
			MaxAttempts: maxAttempts,
		})
	}
	if err := st.PutSubTasks(ctx, subs); err != nil {
		return nil, err
	}

	task.Counters.Total = len(subs)
	if _, err := st.UpdateTask(ctx, task.ID, func(t *model.Task) error {
		t.Counters.Total = len(subs)
		return nil
	}); err != nil {
		return nil, err
	}

	return st.GetTask(ctx, task.ID)
}

// DefaultOutputDir renders the conventional per-Task directory name under
// base: "task_<UTC-timestamp>_<ownerID>".
func DefaultOutputDir(base string, ownerID int64, now time.Time) string {
	return fmt.Sprintf("%s/task_%s_%d", base, now.UTC().Format("20060102T150405Z"), ownerID)
}
