package preview_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jiqinga/strmforge/internal/model"
	"github.com/jiqinga/strmforge/internal/preview"
	"github.com/jiqinga/strmforge/internal/store"
)

func TestListing_SortsDirectoriesFirstThenLexicographic(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.PutTask(ctx, &model.Task{ID: 1}))
	require.NoError(t, st.PutSubTasks(ctx, []*model.SubTask{
		{ID: 1, TaskID: 1, SourcePath: "/show/season1/e1.mkv"},
		{ID: 2, TaskID: 1, SourcePath: "/show/season2/e1.mkv"},
		{ID: 3, TaskID: 1, SourcePath: "/show/poster.jpg"},
		{ID: 4, TaskID: 1, SourcePath: "/show/about.nfo"},
	}))

	entries, err := preview.Listing(ctx, st, 1, "/show")
	require.NoError(t, err)
	require.Len(t, entries, 4)
	require.Equal(t, "season1", entries[0].Name)
	require.True(t, entries[0].IsDirectory)
	require.Equal(t, "season2", entries[1].Name)
	require.True(t, entries[1].IsDirectory)
	require.Equal(t, "about.nfo", entries[2].Name)
	require.False(t, entries[2].IsDirectory)
	require.Equal(t, "poster.jpg", entries[3].Name)
}

func TestPreview_StrmReturnsRawAndDecodedURL(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	dir := t.TempDir()
	target := filepath.Join(dir, "a.strm")
	require.NoError(t, os.WriteFile(target, []byte("http://origin.example/movies/a%20movie.mkv"), 0o644))

	require.NoError(t, st.PutTask(ctx, &model.Task{ID: 1}))
	require.NoError(t, st.PutSubTasks(ctx, []*model.SubTask{
		{ID: 1, TaskID: 1, SourcePath: "/movies/a movie.mkv", TargetPath: &target},
	}))

	p, err := preview.Preview(ctx, st, 1, "/movies/a movie.mkv")
	require.NoError(t, err)
	require.Equal(t, preview.PreviewURL, p.Kind)
	require.Equal(t, "http://origin.example/movies/a%20movie.mkv", p.RawURL)
	require.Equal(t, "http://origin.example/movies/a movie.mkv", p.URL)
}

func TestPreview_TextTruncatesAtCharLimit(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	dir := t.TempDir()
	target := filepath.Join(dir, "sub.srt")

	huge := make([]byte, 20000)
	for i := range huge {
		huge[i] = 'a'
	}
	require.NoError(t, os.WriteFile(target, huge, 0o644))

	require.NoError(t, st.PutTask(ctx, &model.Task{ID: 1}))
	require.NoError(t, st.PutSubTasks(ctx, []*model.SubTask{
		{ID: 1, TaskID: 1, SourcePath: "/show/sub.srt", TargetPath: &target},
	}))

	p, err := preview.Preview(ctx, st, 1, "/show/sub.srt")
	require.NoError(t, err)
	require.Equal(t, preview.PreviewText, p.Kind)
	require.True(t, p.Truncated)
	require.Len(t, p.Text, 10000)
}

func TestPreview_ImageReturnsImageKindWithoutText(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	dir := t.TempDir()
	target := filepath.Join(dir, "poster.jpg")
	require.NoError(t, os.WriteFile(target, []byte("fake-jpeg"), 0o644))

	require.NoError(t, st.PutTask(ctx, &model.Task{ID: 1}))
	require.NoError(t, st.PutSubTasks(ctx, []*model.SubTask{
		{ID: 1, TaskID: 1, SourcePath: "/show/poster.jpg", TargetPath: &target},
	}))

	p, err := preview.Preview(ctx, st, 1, "/show/poster.jpg")
	require.NoError(t, err)
	require.Equal(t, preview.PreviewImage, p.Kind)
	require.Empty(t, p.Text)
}
