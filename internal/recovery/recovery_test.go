package recovery_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jiqinga/strmforge/internal/model"
	"github.com/jiqinga/strmforge/internal/recovery"
	"github.com/jiqinga/strmforge/internal/store"
)

func TestSweep_HeartbeatTimeoutReclaimsTask(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	start := model.Now().Add(-time.Hour)
	stale := model.Now().Add(-time.Hour)
	require.NoError(t, st.PutTask(ctx, &model.Task{
		ID:            1,
		Status:        model.TaskRunning,
		StartedAt:     &start,
		LastHeartbeat: &stale,
	}))
	require.NoError(t, st.PutSubTasks(ctx, []*model.SubTask{
		{ID: 1, TaskID: 1, Status: model.SubDownloading},
	}))

	svc := recovery.New(st, time.Hour)
	require.NoError(t, svc.Sweep(ctx, recovery.WithHeartbeatWindow(time.Minute), recovery.WithTaskTimeout(24*time.Hour)))

	task, err := st.GetTask(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, model.TaskFailed, task.Status)

	sub, err := st.GetSubTask(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, model.SubFailed, sub.Status)
}

func TestSweep_LeavesHealthyTaskRunning(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	start := model.Now().Add(-time.Minute)
	fresh := model.Now()
	require.NoError(t, st.PutTask(ctx, &model.Task{
		ID:            1,
		Status:        model.TaskRunning,
		StartedAt:     &start,
		LastHeartbeat: &fresh,
	}))

	svc := recovery.New(st, time.Hour)
	require.NoError(t, svc.Sweep(ctx))

	task, err := st.GetTask(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, model.TaskRunning, task.Status)
}

func TestSweep_PromotesOrphanedDownloadingSubTaskAfterTaskFailed(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	require.NoError(t, st.PutTask(ctx, &model.Task{ID: 1, Status: model.TaskFailed}))
	require.NoError(t, st.PutSubTasks(ctx, []*model.SubTask{
		{ID: 1, TaskID: 1, Status: model.SubDownloading},
	}))

	svc := recovery.New(st, time.Hour)
	require.NoError(t, svc.Sweep(ctx))

	sub, err := st.GetSubTask(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, model.SubFailed, sub.Status)
}
