// Package parser implements the Tree Parser (spec §4.1): it turns the
// textual export of a remote directory tree into an ordered list of
// typed file entries.
package parser

import (
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"

	"github.com/jiqinga/strmforge/internal/apperr"
	"github.com/jiqinga/strmforge/internal/classify"
	"github.com/jiqinga/strmforge/internal/model"
)

// Parse decodes blob (auto-detecting its encoding, preferring UTF-8) and
// returns the typed entries it describes, classified against snapshot.
// Directories are never emitted: a line whose basename carries no dot is
// treated as a directory component and skipped.
func Parse(blob []byte, snapshot *model.Settings) ([]model.ParseEntry, error) {
	text, err := decode(blob)
	if err != nil {
		return nil, apperr.New(apperr.CodeDataCorruption, "cannot decode tree export", err)
	}

	var entries []model.ParseEntry
	var stack []string

	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimRight(strings.TrimPrefix(rawLine, "﻿"), "\r \t")
		if line == "" {
			continue
		}

		depth := strings.Count(line, "|")
		name := lastSegment(line)
		if name == "" {
			continue
		}

		for len(stack) > depth {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == depth && len(stack) > 0 {
			stack = stack[:len(stack)-1]
		}
		// A line whose pipe count exceeds stack length by more than one
		// is tolerated by padding with a synthetic empty segment rather
		// than aborting the parse, per spec §4.1.
		for len(stack) < depth-1 {
			stack = append(stack, "")
		}
		stack = append(stack, name)

		fullPath := "/" + strings.Join(stack, "/")
		base := path.Base(fullPath)

		if !strings.Contains(base, ".") {
			// No extension in the basename: this is a directory node,
			// not a file. Skip it but keep it on the stack so deeper
			// lines still resolve relative to it.
			continue
		}

		virtualPath := stripFirstTopLevelComponent(fullPath)
		ext := classify.ExtOf(base)
		cat := classify.Category(ext, snapshot)

		entries = append(entries, model.ParseEntry{
			VirtualPath: virtualPath,
			BaseName:    base,
			Extension:   ext,
			Category:    cat,
			IsDirectory: false,
		})
	}

	return entries, nil
}

// lastSegment strips the leading run of '|' pipes (and an optional '-'
// separator immediately after them) to recover the entry's label. Both
// "|-name" and the bare "|name" forms are accepted, since real tree
// exports are not always consistent about the dash.
func lastSegment(line string) string {
	i := 0
	for i < len(line) && line[i] == '|' {
		i++
	}
	if i < len(line) && line[i] == '-' {
		i++
	}
	return strings.TrimSpace(line[i:])
}

// stripFirstTopLevelComponent removes the export's synthetic root segment
// (e.g. the drive name), per spec §4.1.
func stripFirstTopLevelComponent(fullPath string) string {
	first := strings.Index(fullPath, "/")
	if first == -1 {
		return fullPath
	}
	second := strings.Index(fullPath[first+1:], "/")
	if second == -1 {
		return fullPath
	}
	return fullPath[first+1+second:]
}

// DecodeText decodes blob the same way the tree parser does: UTF-8 first,
// then a charset-detected fallback. Exposed for the file preview
// component, which streams text-like target files through the same
// codec cascade.
func DecodeText(blob []byte) (string, error) {
	return decode(blob)
}

// decode returns blob as UTF-8 text, preferring UTF-8 itself and falling
// back to charset auto-detection (mirroring the original parser's use of
// chardet) for legacy-encoded exports.
func decode(blob []byte) (string, error) {
	if utf8.Valid(blob) {
		return string(blob), nil
	}

	_, enc, _ := charset.DetermineEncoding(blob, "")
	if enc == nil {
		return "", fmt.Errorf("unable to determine text encoding")
	}
	decoded, _, err := transform.Bytes(enc.NewDecoder(), blob)
	if err != nil {
		return "", fmt.Errorf("decode with detected charset: %w", err)
	}
	return string(decoded), nil
}
