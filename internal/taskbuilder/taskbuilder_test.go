package taskbuilder_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jiqinga/strmforge/internal/model"
	"github.com/jiqinga/strmforge/internal/store"
	"github.com/jiqinga/strmforge/internal/taskbuilder"
)

func TestBuild_ExpandsParsedEntriesIntoSubTasksByCategory(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	require.NoError(t, st.PutMediaServer(ctx, &model.MediaServer{ID: 1, BaseURL: "http://origin.example"}))
	require.NoError(t, st.PutSettings(ctx, &model.Settings{Version: 1, RetryMaxAttempts: 5}))
	require.NoError(t, st.PutUpload(ctx, &model.UploadRecord{
		ID:    1,
		State: model.UploadParsed,
		Parsed: &model.ParseResult{
			Version: 1,
			Entries: []model.ParseEntry{
				{VirtualPath: "/movies/a.mkv", BaseName: "a.mkv", Category: model.CategoryVideo},
				{VirtualPath: "/movies/poster.jpg", BaseName: "poster.jpg", Category: model.CategoryImage},
				{VirtualPath: "/movies", BaseName: "movies", IsDirectory: true},
			},
		},
	}))

	task, err := taskbuilder.Build(ctx, st, taskbuilder.Request{
		UploadID:      1,
		MediaServerID: 1,
		OutputDir:     "/data/task_1",
		WorkerCount:   2,
		Name:          "movies import",
	})
	require.NoError(t, err)
	require.Equal(t, model.TaskPending, task.Status)
	require.Equal(t, 2, task.Counters.Total)

	subs, err := st.ListSubTasks(ctx, store.SubTaskFilter{TaskID: task.ID})
	require.NoError(t, err)
	require.Len(t, subs, 2)
	for _, s := range subs {
		require.Equal(t, 5, s.MaxAttempts)
		require.Equal(t, model.SubPending, s.Status)
		if s.Category == model.CategoryVideo {
			require.Equal(t, model.ProcessStrmGeneration, s.ProcessKind)
		} else {
			require.Equal(t, model.ProcessResourceDownload, s.ProcessKind)
		}
	}
}

func TestBuild_ReTypesStaleParseResultBeforeExpanding(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	require.NoError(t, st.PutMediaServer(ctx, &model.MediaServer{ID: 1, BaseURL: "http://origin.example"}))
	require.NoError(t, st.PutSettings(ctx, &model.Settings{
		Version:          2,
		VideoExts:        []string{".mkv", ".foo"},
		RetryMaxAttempts: 5,
	}))
	require.NoError(t, st.PutUpload(ctx, &model.UploadRecord{
		ID:    1,
		State: model.UploadParsed,
		Parsed: &model.ParseResult{
			Version: 1,
			Entries: []model.ParseEntry{
				{VirtualPath: "/movies/a.foo", BaseName: "a.foo", Category: model.CategoryOther},
			},
		},
	}))

	task, err := taskbuilder.Build(ctx, st, taskbuilder.Request{
		UploadID:      1,
		MediaServerID: 1,
		OutputDir:     "/data/task_1",
		WorkerCount:   1,
	})
	require.NoError(t, err)
	require.Equal(t, 1, task.Counters.Total)

	subs, err := st.ListSubTasks(ctx, store.SubTaskFilter{TaskID: task.ID})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, model.CategoryVideo, subs[0].Category, "stale entry must be re-typed against current Settings before expansion")

	upload, err := st.GetUpload(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), upload.Parsed.Version, "re-typed result must be persisted back to the store")
	require.Equal(t, model.CategoryVideo, upload.Parsed.Entries[0].Category)
}

func TestBuild_RejectsUnparsedUpload(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.PutMediaServer(ctx, &model.MediaServer{ID: 1}))
	require.NoError(t, st.PutUpload(ctx, &model.UploadRecord{ID: 1, State: model.UploadUploaded}))

	_, err := taskbuilder.Build(ctx, st, taskbuilder.Request{UploadID: 1, MediaServerID: 1})
	require.Error(t, err)
}

func TestDefaultOutputDir_UsesUTCTimestampAndOwnerID(t *testing.T) {
	when, err := time.Parse(time.RFC3339, "2026-01-02T03:04:05Z")
	require.NoError(t, err)
	dir := taskbuilder.DefaultOutputDir("/data", 7, when)
	require.Equal(t, "/data/task_20260102T030405Z_7", dir)
}
