// Package tasklifecycle implements the Cancel / Continue / Delete Task
// actions (spec §4.7).
package tasklifecycle

import (
	"context"
	"os"

	"github.com/jiqinga/strmforge/internal/apperr"
	"github.com/jiqinga/strmforge/internal/model"
	"github.com/jiqinga/strmforge/internal/store"
	"github.com/jiqinga/strmforge/internal/worker"
)

// Cancel is permitted only when the Task is pending or running. It sets
// the Task canceled, stamps end_time, logs "user canceled", and
// bulk-cancels every non-terminal Sub-Task.
func Cancel(ctx context.Context, st store.StateStore, taskID int64) (*model.Task, error) {
	task, err := st.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, store.ErrNotFound
	}
	if task.Status != model.TaskPending && task.Status != model.TaskRunning {
		return nil, apperr.New(apperr.CodePrecondition, "task is not cancelable in its current status", nil)
	}

	now := model.Now()
	updated, err := st.UpdateTask(ctx, taskID, func(t *model.Task) error {
		t.Status = model.TaskCanceled
		t.EndedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := st.AppendTaskLogLine(ctx, taskID, model.LogInfo, "user canceled"); err != nil {
		return nil, err
	}

	subs, err := st.ListSubTasks(ctx, store.SubTaskFilter{
		TaskID:   taskID,
		Statuses: []model.SubTaskStatus{model.SubPending, model.SubDownloading, model.SubRetry},
	})
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		if _, err := st.UpdateSubTask(ctx, sub.ID, func(s *model.SubTask) error {
			s.Status = model.SubCanceled
			return nil
		}); err != nil {
			return nil, err
		}
	}

	return updated, nil
}

// Continue is permitted only when the Task is canceled. Each Sub-Task is
// reclassified per spec §4.7's table, then the Processor is re-run on the
// resulting pending set.
func Continue(ctx context.Context, st store.StateStore, taskID int64, owner string) (*model.Task, error) {
	task, err := st.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, store.ErrNotFound
	}
	if task.Status != model.TaskCanceled {
		return nil, apperr.New(apperr.CodePrecondition, "task is not canceled", nil)
	}

	subs, err := st.ListSubTasks(ctx, store.SubTaskFilter{TaskID: taskID})
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		next := classifyContinue(sub)
		if next == sub.Status {
			continue
		}
		if _, err := st.UpdateSubTask(ctx, sub.ID, func(s *model.SubTask) error {
			s.Status = next
			if next == model.SubPending {
				s.Attempts = 0
				s.ErrorMessage = ""
				s.RetryAfter = nil
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}

	if _, err := st.UpdateTask(ctx, taskID, func(t *model.Task) error {
		t.Status = model.TaskRunning
		t.EndedAt = nil
		return nil
	}); err != nil {
		return nil, err
	}
	if err := st.AppendTaskLogLine(ctx, taskID, model.LogInfo, "user continued task"); err != nil {
		return nil, err
	}

	p := worker.NewProcessor(st, owner)
	if err := p.Run(ctx, taskID); err != nil {
		// Mirror the original continue_task's except-and-reset behavior:
		// an unexpected error while resuming is not a fresh failure, it
		// returns the Task to canceled rather than leaving Run's own
		// "failed" marking stand.
		now := model.Now()
		_, _ = st.UpdateTask(ctx, taskID, func(t *model.Task) error {
			t.Status = model.TaskCanceled
			t.EndedAt = &now
			return nil
		})
		return nil, err
	}
	return st.GetTask(ctx, taskID)
}

// classifyContinue implements spec §4.7's per-Sub-Task reclassification
// table.
func classifyContinue(sub *model.SubTask) model.SubTaskStatus {
	switch sub.Status {
	case model.SubCompleted:
		if targetExists(sub.TargetPath) {
			return model.SubCompleted
		}
		return model.SubPending
	case model.SubCanceled:
		if targetExists(sub.TargetPath) && integrityHolds(sub) {
			return model.SubCompleted
		}
		return model.SubPending
	case model.SubFailed, model.SubRetry:
		return model.SubPending
	default:
		return sub.Status
	}
}

func targetExists(target *string) bool {
	if target == nil || *target == "" {
		return false
	}
	_, err := os.Stat(*target)
	return err == nil
}

// integrityHolds checks the per-kind rule spec §4.7 names: a resource's
// byte size must match the recorded size; a strm file must be non-empty.
func integrityHolds(sub *model.SubTask) bool {
	if sub.TargetPath == nil {
		return false
	}
	info, err := os.Stat(*sub.TargetPath)
	if err != nil {
		return false
	}
	if sub.ProcessKind == model.ProcessStrmGeneration {
		return info.Size() > 0
	}
	return sub.FileSize > 0 && info.Size() == sub.FileSize
}

// Delete removes a Task and all its Sub-Tasks, then best-effort unlinks
// its output subtree. Directory removal failure does not fail the call,
// mirroring the original task_controller.py:delete_task behavior.
func Delete(ctx context.Context, st store.StateStore, taskID int64) error {
	task, err := st.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return store.ErrNotFound
	}
	if err := st.DeleteSubTasks(ctx, taskID); err != nil {
		return err
	}
	if err := st.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	if task.OutputDir != "" {
		_ = os.RemoveAll(task.OutputDir)
	}
	return nil
}
