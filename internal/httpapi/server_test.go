package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jiqinga/strmforge/internal/httpapi"
	"github.com/jiqinga/strmforge/internal/model"
	"github.com/jiqinga/strmforge/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, store.StateStore) {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.PutMediaServer(ctx, &model.MediaServer{ID: 1, BaseURL: "http://origin.example"}))
	require.NoError(t, st.PutSettings(ctx, &model.Settings{Version: 1, RetryMaxAttempts: 3}))
	require.NoError(t, st.PutUpload(ctx, &model.UploadRecord{
		ID:    1,
		State: model.UploadParsed,
		Parsed: &model.ParseResult{
			Version: 1,
			Entries: []model.ParseEntry{
				{VirtualPath: "/movies/a.mkv", BaseName: "a.mkv", Category: model.CategoryVideo},
			},
		},
	}))

	srv := httpapi.NewServer(st, "test-worker", 0, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, st
}

func TestCreateTask_RejectsMissingRequiredFieldsViaOpenAPIValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/tasks", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateTask_SucceedsAndReturnsPendingTask(t *testing.T) {
	ts, st := newTestServer(t)

	body := `{"upload_id":1,"media_server_id":1,"output_dir":"/tmp/out","worker_count":1}`
	resp, err := http.Post(ts.URL+"/api/v1/tasks", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var task model.Task
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&task))
	require.NotZero(t, task.ID)

	stored, err := st.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestGetTask_NotFoundMapsTo404(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/tasks/999")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
}

func TestCancelTask_RejectsTerminalTaskWithConflict(t *testing.T) {
	ts, st := newTestServer(t)
	require.NoError(t, st.PutTask(context.Background(), &model.Task{ID: 5, Status: model.TaskCompleted}))

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/tasks/5/cancel", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}
