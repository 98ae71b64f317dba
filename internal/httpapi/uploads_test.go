package httpapi_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jiqinga/strmforge/internal/model"
)

func TestCreateUpload_ParsesAndPersistsRecord(t *testing.T) {
	ts, st := newTestServer(t)

	blob := []byte("|root\n||movies\n|||a.mkv\n|||poster.jpg\n")
	body := fmt.Sprintf(`{"original_name":"export.txt","owner_user_id":1,"content_base64":%q}`,
		base64.StdEncoding.EncodeToString(blob))

	resp, err := http.Post(ts.URL+"/api/v1/uploads", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var upload model.UploadRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&upload))
	require.Equal(t, model.UploadParsed, upload.State)
	require.NotNil(t, upload.Parsed)
	require.Len(t, upload.Parsed.Entries, 2)

	stored, err := st.GetUpload(context.Background(), upload.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, model.UploadParsed, stored.State)
}

func TestCreateUpload_RejectsMissingContentViaOpenAPIValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/uploads", "application/json", bytes.NewBufferString(`{"original_name":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetUpload_NotFoundMapsTo404(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/uploads/999")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
