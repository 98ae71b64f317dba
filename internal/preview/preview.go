// Package preview implements the Preview & Directory View component
// (spec §4.8): reconstructing a directory listing from stored Sub-Task
// source paths, and previewing one file's target by extension.
package preview

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jiqinga/strmforge/internal/apperr"
	"github.com/jiqinga/strmforge/internal/model"
	"github.com/jiqinga/strmforge/internal/parser"
	"github.com/jiqinga/strmforge/internal/store"
)

// Entry is one child of a directory listing.
type Entry struct {
	Name        string
	IsDirectory bool
}

// Listing reconstructs the tree under prefix from the Task's Sub-Task
// source paths: children are the unique first segments under prefix;
// entries are sorted lexicographically, directories first.
func Listing(ctx context.Context, st store.StateStore, taskID int64, prefix string) ([]Entry, error) {
	subs, err := st.ListSubTasks(ctx, store.SubTaskFilter{TaskID: taskID})
	if err != nil {
		return nil, err
	}

	normalizedPrefix := normalizePrefix(prefix)
	dirs := make(map[string]struct{})
	files := make(map[string]struct{})

	for _, sub := range subs {
		rel, ok := stripPrefix(sub.SourcePath, normalizedPrefix)
		if !ok || rel == "" {
			continue
		}
		segments := strings.SplitN(rel, "/", 2)
		if len(segments) == 1 {
			files[segments[0]] = struct{}{}
		} else {
			dirs[segments[0]] = struct{}{}
		}
	}

	entries := make([]Entry, 0, len(dirs)+len(files))
	for name := range dirs {
		entries = append(entries, Entry{Name: name, IsDirectory: true})
	}
	for name := range files {
		entries = append(entries, Entry{Name: name, IsDirectory: false})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDirectory != entries[j].IsDirectory {
			return entries[i].IsDirectory
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

func normalizePrefix(prefix string) string {
	p := strings.Trim(prefix, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// stripPrefix returns sourcePath with normalizedPrefix removed, or
// ok=false if sourcePath does not fall under it.
func stripPrefix(sourcePath, normalizedPrefix string) (string, bool) {
	trimmed := strings.TrimPrefix(sourcePath, "/")
	if normalizedPrefix == "" {
		return trimmed, true
	}
	if !strings.HasPrefix(trimmed, normalizedPrefix) {
		return "", false
	}
	return strings.TrimPrefix(trimmed, normalizedPrefix), true
}

// PreviewKind classifies how File resolved its content.
type PreviewKind string

const (
	PreviewURL      PreviewKind = "url"
	PreviewText     PreviewKind = "text"
	PreviewImage    PreviewKind = "image"
	PreviewMetadata PreviewKind = "metadata"
)

const (
	maxPreviewBytes = 1 << 20 // 1 MiB
	maxPreviewChars = 10000
)

var textLikeExts = map[string]bool{
	"txt": true, "nfo": true, "srt": true, "ass": true, "ssa": true,
	"vtt": true, "json": true, "xml": true, "log": true,
}

var imageExts = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "bmp": true, "webp": true,
}

// File is the result of Preview: the kind of preview and the content
// produced for it.
type File struct {
	Kind      PreviewKind
	RawURL    string // PreviewURL: the .strm file's raw body
	URL       string // PreviewURL: percent-decoded
	Text      string // PreviewText
	Truncated bool   // PreviewText
	SubTask   *model.SubTask
}

// Preview resolves the Sub-Task whose source path equals sourcePath and
// dispatches on its target extension, per spec §4.8.
func Preview(ctx context.Context, st store.StateStore, taskID int64, sourcePath string) (*File, error) {
	subs, err := st.ListSubTasks(ctx, store.SubTaskFilter{TaskID: taskID})
	if err != nil {
		return nil, err
	}

	var sub *model.SubTask
	for _, s := range subs {
		if s.SourcePath == sourcePath {
			sub = s
			break
		}
	}
	if sub == nil {
		return nil, apperr.New(apperr.CodeNotFound, "no sub-task for source path", nil)
	}

	ext := ""
	if sub.TargetPath != nil {
		ext = strings.ToLower(strings.TrimPrefix(filepath.Ext(*sub.TargetPath), "."))
	}

	switch {
	case ext == "strm":
		return previewStrm(sub)
	case textLikeExts[ext]:
		return previewText(sub)
	case imageExts[ext]:
		return &File{Kind: PreviewImage, SubTask: sub}, nil
	default:
		return &File{Kind: PreviewMetadata, SubTask: sub}, nil
	}
}

func previewStrm(sub *model.SubTask) (*File, error) {
	if sub.TargetPath == nil {
		return nil, apperr.New(apperr.CodeNotFound, "strm target not yet written", nil)
	}
	raw, err := os.ReadFile(*sub.TargetPath)
	if err != nil {
		return nil, apperr.New(apperr.CodePermanentIO, "cannot read strm file", err)
	}
	rawURL := strings.TrimSpace(string(raw))
	decoded, err := url.PathUnescape(rawURL)
	if err != nil {
		decoded = rawURL
	}
	return &File{Kind: PreviewURL, RawURL: rawURL, URL: decoded, SubTask: sub}, nil
}

func previewText(sub *model.SubTask) (*File, error) {
	if sub.TargetPath == nil {
		return nil, apperr.New(apperr.CodeNotFound, "target not yet written", nil)
	}
	f, err := os.Open(*sub.TargetPath)
	if err != nil {
		return nil, apperr.New(apperr.CodePermanentIO, "cannot open target file", err)
	}
	defer f.Close()

	blob, err := io.ReadAll(io.LimitReader(f, maxPreviewBytes))
	if err != nil {
		return nil, apperr.New(apperr.CodeTransientIO, "cannot read target file", err)
	}

	text, err := parser.DecodeText(blob)
	if err != nil {
		return nil, apperr.New(apperr.CodeDataCorruption, "cannot decode text preview", err)
	}

	runes := []rune(text)
	truncated := false
	if len(runes) > maxPreviewChars {
		runes = runes[:maxPreviewChars]
		truncated = true
	}
	return &File{Kind: PreviewText, Text: string(runes), Truncated: truncated, SubTask: sub}, nil
}
