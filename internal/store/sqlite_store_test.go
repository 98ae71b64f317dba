package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jiqinga/strmforge/internal/model"
	"github.com/jiqinga/strmforge/internal/store"
)

func newTestSqliteStore(t *testing.T) *store.SqliteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	s, err := store.NewSqliteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSqliteStore_TaskRoundTripsThroughJSONCounters(t *testing.T) {
	s := newTestSqliteStore(t)
	ctx := context.Background()

	task := &model.Task{
		Name:        "scan-1",
		Status:      model.TaskPending,
		OutputDir:   "/data/out",
		WorkerCount: 4,
		Counters:    model.TaskCounters{Total: 10, Processed: 3, Success: 2, Failed: 1},
		OwnerUserID: 7,
	}
	require.NoError(t, s.PutTask(ctx, task))
	require.NotZero(t, task.ID)

	fetched, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, task.Counters, fetched.Counters)
	require.Equal(t, "scan-1", fetched.Name)
}

func TestSqliteStore_TaskIdempotentCreateReturnsSameID(t *testing.T) {
	s := newTestSqliteStore(t)
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

func TestSqliteStore_UpdateTaskPersistsAcrossReload(t *testing.T) {
	s := newTestSqliteStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutTask(ctx, &model.Task{Status: model.TaskPending}))

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

func TestSqliteStore_UpdateTaskMissingReturnsErrNotFound(t *testing.T) {
	s := newTestSqliteStore(t)
	_, err := s.UpdateTask(context.Background(), 999, func(t *model.Task) error { return nil })
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSqliteStore_ListSubTasksAppliesRunnableFilter(t *testing.T) {
	s := newTestSqliteStore(t)
	ctx := context.Background()
	now := model.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	require.NoError(t, s.PutSubTasks(ctx, []*model.SubTask{
		{TaskID: 1, ProcessKind: model.ProcessStrmGeneration, Status: model.SubPending},
		{TaskID: 1, ProcessKind: model.ProcessStrmGeneration, Status: model.SubRetry, RetryAfter: &future},
		{TaskID: 1, ProcessKind: model.ProcessStrmGeneration, Status: model.SubRetry, RetryAfter: &past},
	}))

	runnable, err := s.ListSubTasks(ctx, store.SubTaskFilter{
		TaskID:      1,
		ProcessKind: model.ProcessStrmGeneration,
		Statuses:    []model.SubTaskStatus{model.SubPending, model.SubRetry},
		Now:         now,
	})
	require.NoError(t, err)
	require.Len(t, runnable, 2)
}

func TestSqliteStore_DeleteTaskCascadesSubTasks(t *testing.T) {
	s := newTestSqliteStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutTask(ctx, &model.Task{Status: model.TaskPending}))
	require.NoError(t, s.PutSubTasks(ctx, []*model.SubTask{{TaskID: 1, Status: model.SubPending}}))

	require.NoError(t, s.DeleteTask(ctx, 1))

	task, err := s.GetTask(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, task)

	subs, err := s.ListSubTasks(ctx, store.SubTaskFilter{TaskID: 1})
	require.NoError(t, err)
	require.Empty(t, subs)
}

func TestSqliteStore_AppendTaskLogLineAccumulates(t *testing.T) {
	s := newTestSqliteStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutTask(ctx, &model.Task{Status: model.TaskPending}))

	require.NoError(t, s.AppendTaskLogLine(ctx, 1, model.LogInfo, "starting"))
	require.NoError(t, s.AppendTaskLogLine(ctx, 1, model.LogError, "boom"))

	task, err := s.GetTask(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "info: starting\nerror: boom", task.LogContent)
}

func TestSqliteStore_LeaseIsExclusiveUntilExpiry(t *testing.T) {
	s := newTestSqliteStore(t)
	ctx := context.Background()

	lease, ok, err := s.TryAcquireLease(ctx, "batch-1", "worker-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "worker-a", lease.Owner())

	_, ok, err = s.TryAcquireLease(ctx, "batch-1", "worker-b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.ReleaseLease(ctx, "batch-1", "worker-a"))

	_, ok, err = s.TryAcquireLease(ctx, "batch-1", "worker-b", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSqliteStore_SettingsRoundTrip(t *testing.T) {
	s := newTestSqliteStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutSettings(ctx, &model.Settings{Version: 1, RetryMaxAttempts: 5, WorkerCount: 3}))

	got, err := s.GetSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, got.RetryMaxAttempts)
	require.Equal(t, 3, got.WorkerCount)
}
