package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jiqinga/strmforge/internal/model"
)

func TestGetSettings_ReturnsCurrentRow(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/settings")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var settings model.Settings
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&settings))
	require.Equal(t, int64(1), settings.Version)
}

func TestPutSettings_BumpsVersionWhenExtensionSetsChange(t *testing.T) {
	ts, st := newTestServer(t)

	body := `{"video_exts":["mkv","mp4"],"audio_exts":["mp3"],"worker_count":2}`
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/settings", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var settings model.Settings
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&settings))
	require.Equal(t, int64(2), settings.Version, "extension sets changed, version must bump")

	stored, err := st.GetSettings(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), stored.Version)
	require.ElementsMatch(t, []string{"mkv", "mp4"}, stored.VideoExts)
}

func TestPutSettings_RejectsOverlappingExtensionSets(t *testing.T) {
	ts, _ := newTestServer(t)

	body := `{"video_exts":["mkv"],"audio_exts":["mkv"]}`
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/settings", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}
