package parser_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jiqinga/strmforge/internal/model"
	"github.com/jiqinga/strmforge/internal/parser"
)

func settingsFor(video, audio, image, subtitle, metadata []string) *model.Settings {
	return &model.Settings{
		Version:      1,
		VideoExts:    video,
		AudioExts:    audio,
		ImageExts:    image,
		SubtitleExts: subtitle,
		MetadataExts: metadata,
	}
}

func TestParse_MinimalSTRMScenario(t *testing.T) {
	blob := []byte("|root\n||movies\n|||a.mkv\n")
	s := settingsFor([]string{"mkv"}, nil, nil, nil, nil)

	entries, err := parser.Parse(blob, s)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "/movies/a.mkv", entries[0].VirtualPath)
	require.Equal(t, model.CategoryVideo, entries[0].Category)
	require.Equal(t, "mkv", entries[0].Extension)
}

func TestParse_DirectoriesAreSkipped(t *testing.T) {
	blob := []byte("|root\n||movies\n|||sub\n||||b.mp4\n")
	s := settingsFor([]string{"mp4"}, nil, nil, nil, nil)

	entries, err := parser.Parse(blob, s)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "/movies/sub/b.mp4", entries[0].VirtualPath)
}

func TestParse_UnmatchedExtensionIsOther(t *testing.T) {
	blob := []byte("|root\n||show\n|||poster.jpg\n")
	s := settingsFor([]string{"mkv"}, nil, nil, nil, nil)

	entries, err := parser.Parse(blob, s)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, model.CategoryOther, entries[0].Category)
}

func TestParse_IsDeterministicAcrossRuns(t *testing.T) {
	blob := []byte("|root\n||a\n|||x.mkv\n||b\n|||y.jpg\n")
	s := settingsFor([]string{"mkv"}, nil, []string{"jpg"}, nil, nil)

	first, err := parser.Parse(blob, s)
	require.NoError(t, err)
	second, err := parser.Parse(blob, s)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestBuildResult_ReType_OnVersionChange(t *testing.T) {
	blob := []byte("|root\n||show\n|||clip.mp4\n")
	old := settingsFor([]string{}, nil, nil, nil, nil)
	old.Version = 1

	result, err := parser.BuildResult(blob, old)
	require.NoError(t, err)
	require.Equal(t, model.CategoryOther, result.Entries[0].Category)
	require.Equal(t, int64(1), result.Version)

	newer := settingsFor([]string{"mp4"}, nil, nil, nil, nil)
	newer.Version = 2

	parser.ReType(result, newer)
	require.Equal(t, model.CategoryVideo, result.Entries[0].Category)
	require.Equal(t, int64(2), result.Version)
	require.Equal(t, 1, result.Counts[model.CategoryVideo])
}

func TestParse_PipeCountDepthToleratesOvershoot(t *testing.T) {
	// A line whose pipe count exceeds stack length by more than one is
	// tolerated by padding with a synthetic empty segment (spec §4.1),
	// rather than aborting the parse.
	blob := []byte("|root\n||||deep.mkv\n")
	s := settingsFor([]string{"mkv"}, nil, nil, nil, nil)

	entries, err := parser.Parse(blob, s)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
