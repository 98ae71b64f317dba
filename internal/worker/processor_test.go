package worker_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jiqinga/strmforge/internal/model"
	"github.com/jiqinga/strmforge/internal/store"
	"github.com/jiqinga/strmforge/internal/worker"
)

func setupTask(t *testing.T, st store.StateStore, mediaServerID, downloadServerID int64, subs []*model.SubTask) int64 {
	t.Helper()
	ctx := context.Background()
	outputDir := t.TempDir()

	task := &model.Task{
		Status:           model.TaskRunning,
		MediaServerID:    mediaServerID,
		DownloadServerID: &downloadServerID,
		OutputDir:        outputDir,
		WorkerCount:      2,
	}
	require.NoError(t, st.PutTask(ctx, task))

	for _, s := range subs {
		s.TaskID = task.ID
		if s.MaxAttempts == 0 {
			s.MaxAttempts = 3
		}
		if s.Status == "" {
			s.Status = model.SubPending
		}
	}
	require.NoError(t, st.PutSubTasks(ctx, subs))
	return task.ID
}

func TestProcessor_WritesStrmFileWithQuotedURL(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	require.NoError(t, st.PutMediaServer(ctx, &model.MediaServer{ID: 1, BaseURL: "http://origin.example"}))
	require.NoError(t, st.PutSettings(ctx, &model.Settings{Version: 1, RetryBackoffSecs: 1}))

	taskID := setupTask(t, st, 1, 0, []*model.SubTask{
		{SourcePath: "/movies/a movie.mkv", Category: model.CategoryVideo, ProcessKind: model.ProcessStrmGeneration},
	})

	p := worker.NewProcessor(st, "worker-1")
	require.NoError(t, p.Run(ctx, taskID))

	task, err := st.GetTask(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, model.TaskCompleted, task.Status)
	require.Equal(t, 1, task.Counters.Success)

	subs, err := st.ListSubTasks(ctx, store.SubTaskFilter{TaskID: taskID})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, model.SubCompleted, subs[0].Status)
	require.NotNil(t, subs[0].TargetPath)

	contents, err := os.ReadFile(*subs[0].TargetPath)
	require.NoError(t, err)
	require.Equal(t, "http://origin.example/movies/a%20movie.mkv", string(contents))
	require.Equal(t, ".strm", filepath.Ext(*subs[0].TargetPath))
}

func TestProcessor_DownloadsResourceAndRecordsThroughput(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("poster-bytes"))
	}))
	defer srv.Close()

	st := store.NewMemoryStore()
	require.NoError(t, st.PutMediaServer(ctx, &model.MediaServer{ID: 1, BaseURL: "http://unused.example"}))
	require.NoError(t, st.PutMediaServer(ctx, &model.MediaServer{ID: 2, BaseURL: srv.URL}))
	require.NoError(t, st.PutSettings(ctx, &model.Settings{Version: 1, RetryBackoffSecs: 1}))

	taskID := setupTask(t, st, 1, 2, []*model.SubTask{
		{SourcePath: "/show/poster.jpg", Category: model.CategoryImage, ProcessKind: model.ProcessResourceDownload},
	})

	p := worker.NewProcessor(st, "worker-1")
	require.NoError(t, p.Run(ctx, taskID))

	subs, err := st.ListSubTasks(ctx, store.SubTaskFilter{TaskID: taskID})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, model.SubCompleted, subs[0].Status)
	require.EqualValues(t, len("poster-bytes"), subs[0].FileSize)

	logs, err := st.ListDownloadLogs(ctx, taskID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.True(t, logs[0].Success)
}

func TestProcessor_FailsPermanentlyWhenAttemptsExhausted(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := store.NewMemoryStore()
	require.NoError(t, st.PutMediaServer(ctx, &model.MediaServer{ID: 1, BaseURL: "http://unused.example"}))
	require.NoError(t, st.PutMediaServer(ctx, &model.MediaServer{ID: 2, BaseURL: srv.URL}))
	require.NoError(t, st.PutSettings(ctx, &model.Settings{Version: 1, RetryBackoffSecs: 9999}))

	taskID := setupTask(t, st, 1, 2, []*model.SubTask{
		{SourcePath: "/show/broken.jpg", Category: model.CategoryImage, ProcessKind: model.ProcessResourceDownload, MaxAttempts: 1},
	})

	p := worker.NewProcessor(st, "worker-1")
	require.NoError(t, p.Run(ctx, taskID))

	subs, err := st.ListSubTasks(ctx, store.SubTaskFilter{TaskID: taskID})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, model.SubFailed, subs[0].Status)
	require.Equal(t, 1, subs[0].Attempts)

	task, err := st.GetTask(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, model.TaskFailed, task.Status)
}

func TestProcessor_TransitionsPendingTaskToRunningAndStampsStartedAt(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.PutMediaServer(ctx, &model.MediaServer{ID: 1, BaseURL: "http://origin.example"}))
	require.NoError(t, st.PutSettings(ctx, &model.Settings{Version: 1}))

	task := &model.Task{Status: model.TaskPending, MediaServerID: 1, OutputDir: t.TempDir(), WorkerCount: 1}
	require.NoError(t, st.PutTask(ctx, task))
	require.NoError(t, st.PutSubTasks(ctx, []*model.SubTask{
		{TaskID: task.ID, SourcePath: "/a.mkv", Category: model.CategoryVideo, ProcessKind: model.ProcessStrmGeneration, MaxAttempts: 1, Status: model.SubPending},
	}))

	p := worker.NewProcessor(st, "worker-1")
	require.NoError(t, p.Run(ctx, task.ID))

	final, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, final.StartedAt, "Run must stamp StartedAt rather than leave it nil")
	require.Equal(t, model.TaskCompleted, final.Status)
}

func TestProcessor_MarksTaskFailedOnUnexpectedError(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.PutSettings(ctx, &model.Settings{Version: 1}))

	task := &model.Task{Status: model.TaskPending, MediaServerID: 999, OutputDir: t.TempDir(), WorkerCount: 1}
	require.NoError(t, st.PutTask(ctx, task))

	p := worker.NewProcessor(st, "worker-1")
	err := p.Run(ctx, task.ID)
	require.Error(t, err, "unresolvable media server must surface as an error")

	final, getErr := st.GetTask(ctx, task.ID)
	require.NoError(t, getErr)
	require.Equal(t, model.TaskFailed, final.Status, "Run must mark the Task failed itself rather than leave it running")
	require.NotNil(t, final.EndedAt)
	require.Contains(t, final.LogContent, "task failed")
}

func TestProcessor_CanceledTaskSkipsRemainingSubTasks(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.PutMediaServer(ctx, &model.MediaServer{ID: 1, BaseURL: "http://origin.example"}))
	require.NoError(t, st.PutSettings(ctx, &model.Settings{Version: 1}))

	taskID := setupTask(t, st, 1, 0, []*model.SubTask{
		{SourcePath: "/movies/a.mkv", Category: model.CategoryVideo, ProcessKind: model.ProcessStrmGeneration},
	})
	_, err := st.UpdateTask(ctx, taskID, func(task *model.Task) error {
		task.Status = model.TaskCanceled
		return nil
	})
	require.NoError(t, err)

	p := worker.NewProcessor(st, "worker-1")
	require.NoError(t, p.Run(ctx, taskID))

	task, err := st.GetTask(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, model.TaskCanceled, task.Status)

	subs, err := st.ListSubTasks(ctx, store.SubTaskFilter{TaskID: taskID})
	require.NoError(t, err)
	require.Equal(t, model.SubPending, subs[0].Status)
}
