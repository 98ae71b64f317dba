package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jiqinga/strmforge/internal/model"
	"github.com/jiqinga/strmforge/internal/store"
)

func TestMemoryStore_TaskIdempotentCreateReturnsSameID(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	id1, exists, err := s.PutTaskWithIdempotency(ctx, &model.Task{Name: "a"}, "key-1", time.Minute)
	require.NoError(t, err)
	require.False(t, exists)

	id2, exists, err := s.PutTaskWithIdempotency(ctx, &model.Task{Name: "b"}, "key-1", time.Minute)
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, id1, id2)

	task, err := s.GetTask(ctx, id1)
	require.NoError(t, err)
	require.Equal(t, "a", task.Name)
}

func TestMemoryStore_UpdateTaskIsCopyOnWrite(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.PutTask(ctx, &model.Task{ID: 1, Status: model.TaskPending}))

	updated, err := s.UpdateTask(ctx, 1, func(t *model.Task) error {
		t.Status = model.TaskRunning
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, model.TaskRunning, updated.Status)

	fetched, err := s.GetTask(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, model.TaskRunning, fetched.Status)
}

func TestMemoryStore_ListSubTasksAppliesRunnableFilter(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	now := model.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	require.NoError(t, s.PutSubTasks(ctx, []*model.SubTask{
		{ID: 1, TaskID: 1, ProcessKind: model.ProcessStrmGeneration, Status: model.SubPending},
		{ID: 2, TaskID: 1, ProcessKind: model.ProcessStrmGeneration, Status: model.SubRetry, RetryAfter: &future},
		{ID: 3, TaskID: 1, ProcessKind: model.ProcessStrmGeneration, Status: model.SubRetry, RetryAfter: &past},
		{ID: 4, TaskID: 1, ProcessKind: model.ProcessResourceDownload, Status: model.SubPending},
		{ID: 5, TaskID: 1, ProcessKind: model.ProcessStrmGeneration, Status: model.SubCompleted},
	}))

	runnable, err := s.ListSubTasks(ctx, store.SubTaskFilter{
		TaskID:      1,
		ProcessKind: model.ProcessStrmGeneration,
		Statuses:    []model.SubTaskStatus{model.SubPending, model.SubRetry},
		Now:         now,
	})
	require.NoError(t, err)
	require.Len(t, runnable, 2)
	require.Equal(t, int64(1), runnable[0].ID)
	require.Equal(t, int64(3), runnable[1].ID)
}

func TestMemoryStore_ListSubTasksHonorsLimit(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.PutSubTasks(ctx, []*model.SubTask{
		{ID: 1, TaskID: 1, ProcessKind: model.ProcessStrmGeneration, Status: model.SubPending},
		{ID: 2, TaskID: 1, ProcessKind: model.ProcessStrmGeneration, Status: model.SubPending},
		{ID: 3, TaskID: 1, ProcessKind: model.ProcessStrmGeneration, Status: model.SubPending},
	}))

	runnable, err := s.ListSubTasks(ctx, store.SubTaskFilter{
		TaskID:      1,
		ProcessKind: model.ProcessStrmGeneration,
		Statuses:    []model.SubTaskStatus{model.SubPending},
		Limit:       2,
	})
	require.NoError(t, err)
	require.Len(t, runnable, 2)
	require.Equal(t, int64(1), runnable[0].ID)
	require.Equal(t, int64(2), runnable[1].ID)
}

func TestMemoryStore_LeaseIsSingleWriter(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	lease, ok, err := s.TryAcquireLease(ctx, "subtask:1", "worker-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "worker-a", lease.Owner())

	_, ok, err = s.TryAcquireLease(ctx, "subtask:1", "worker-b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.ReleaseLease(ctx, "subtask:1", "worker-a"))

	_, ok, err = s.TryAcquireLease(ctx, "subtask:1", "worker-b", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemoryStore_RenewLeaseFailsForNonOwner(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	_, ok, err := s.TryAcquireLease(ctx, "subtask:2", "worker-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.RenewLease(ctx, "subtask:2", "worker-b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = s.RenewLease(ctx, "subtask:2", "worker-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemoryStore_DeleteTaskCascadesSubTasks(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.PutTask(ctx, &model.Task{ID: 1}))
	require.NoError(t, s.PutSubTasks(ctx, []*model.SubTask{
		{ID: 1, TaskID: 1},
		{ID: 2, TaskID: 1},
	}))

	require.NoError(t, s.DeleteTask(ctx, 1))

	remaining, err := s.ListSubTasks(ctx, store.SubTaskFilter{TaskID: 1})
	require.NoError(t, err)
	require.Empty(t, remaining)
}
