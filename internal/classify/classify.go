// Package classify implements the File-Type Classifier and the Settings
// validator (spec §4.2): it types a single extension against a Settings
// snapshot, and it validates a proposed Settings write before it is
// persisted.
package classify

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jiqinga/strmforge/internal/apperr"
	"github.com/jiqinga/strmforge/internal/model"
)

// Category returns the typed category for a lower-cased, dot-stripped
// extension against a Settings snapshot. First matching set wins, in the
// fixed order video, audio, image, subtitle, metadata; an extension
// matching none of them types as "other". The function is pure: it reads
// only the snapshot it is given.
func Category(ext string, s *model.Settings) model.FileCategory {
	ext = normalizeExt(ext)
	switch {
	case contains(s.VideoExts, ext):
		return model.CategoryVideo
	case contains(s.AudioExts, ext):
		return model.CategoryAudio
	case contains(s.ImageExts, ext):
		return model.CategoryImage
	case contains(s.SubtitleExts, ext):
		return model.CategorySubtitle
	case contains(s.MetadataExts, ext):
		return model.CategoryMetadata
	default:
		return model.CategoryOther
	}
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	return ext
}

func contains(set []string, ext string) bool {
	for _, e := range set {
		if normalizeExt(e) == ext {
			return true
		}
	}
	return false
}

// ExtOf extracts the classifier-ready extension from a base file name.
func ExtOf(baseName string) string {
	return normalizeExt(filepath.Ext(baseName))
}

// ValidationError describes one field-level diagnostic from ValidateSettings.
type ValidationError struct {
	Field  string
	Reason string
}

func (v ValidationError) String() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Reason)
}

// ValidateSettings checks a proposed Settings row before it is persisted.
// It rejects (a) any of the five extension sets containing internal
// duplicates, (b) any pair of the five sets intersecting, and (c) a logs
// directory that cannot be created and probed with a write. It returns
// the full set of violations so the caller can surface every problem at
// once rather than one-at-a-time.
func ValidateSettings(proposed *model.Settings) []ValidationError {
	var errs []ValidationError

	sets := map[string][]string{
		"video":    proposed.VideoExts,
		"audio":    proposed.AudioExts,
		"image":    proposed.ImageExts,
		"subtitle": proposed.SubtitleExts,
		"metadata": proposed.MetadataExts,
	}

	// Internal duplicates.
	names := []string{"video", "audio", "image", "subtitle", "metadata"}
	for _, name := range names {
		if dup, ok := findDuplicate(sets[name]); ok {
			errs = append(errs, ValidationError{
				Field:  name,
				Reason: fmt.Sprintf("duplicate extension %q", dup),
			})
		}
	}

	// Pairwise intersection.
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			if ext, ok := intersects(sets[names[i]], sets[names[j]]); ok {
				errs = append(errs, ValidationError{
					Field:  fmt.Sprintf("%s,%s", names[i], names[j]),
					Reason: fmt.Sprintf("extension %q present in both sets", ext),
				})
			}
		}
	}

	if proposed.LogDir != "" {
		if err := probeWritable(proposed.LogDir); err != nil {
			errs = append(errs, ValidationError{
				Field:  "log_dir",
				Reason: err.Error(),
			})
		}
	}

	return errs
}

func findDuplicate(set []string) (string, bool) {
	seen := make(map[string]struct{}, len(set))
	for _, e := range set {
		n := normalizeExt(e)
		if _, ok := seen[n]; ok {
			return n, true
		}
		seen[n] = struct{}{}
	}
	return "", false
}

func intersects(a, b []string) (string, bool) {
	set := make(map[string]struct{}, len(a))
	for _, e := range a {
		set[normalizeExt(e)] = struct{}{}
	}
	for _, e := range b {
		if _, ok := set[normalizeExt(e)]; ok {
			return normalizeExt(e), true
		}
	}
	return "", false
}

func probeWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	probe := filepath.Join(dir, ".strmforge-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("cannot write probe file: %w", err)
	}
	_ = os.Remove(probe)
	return nil
}

// Changed reports whether the five extension sets differ between current
// and proposed, the only condition under which Version is bumped.
func Changed(current, proposed *model.Settings) bool {
	return !setEqual(current.VideoExts, proposed.VideoExts) ||
		!setEqual(current.AudioExts, proposed.AudioExts) ||
		!setEqual(current.ImageExts, proposed.ImageExts) ||
		!setEqual(current.SubtitleExts, proposed.SubtitleExts) ||
		!setEqual(current.MetadataExts, proposed.MetadataExts)
}

func setEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	na := make(map[string]struct{}, len(a))
	for _, e := range a {
		na[normalizeExt(e)] = struct{}{}
	}
	for _, e := range b {
		if _, ok := na[normalizeExt(e)]; !ok {
			return false
		}
	}
	return true
}

// Apply validates proposed against ValidateSettings and, if it passes,
// returns a copy with Version bumped iff the extension sets changed
// relative to current. It returns a ConfigurationError wrapping the
// validation diagnostics otherwise.
func Apply(current, proposed *model.Settings) (*model.Settings, error) {
	if errs := ValidateSettings(proposed); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.String()
		}
		return nil, apperr.New(apperr.CodeConfiguration, strings.Join(msgs, "; "), nil)
	}
	next := *proposed
	if current != nil && Changed(current, proposed) {
		next.Version = current.Version + 1
	} else if current != nil {
		next.Version = current.Version
	} else {
		next.Version = 1
	}
	return &next, nil
}
