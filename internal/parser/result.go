package parser

import (
	"github.com/jiqinga/strmforge/internal/classify"
	"github.com/jiqinga/strmforge/internal/model"
)

// BuildResult runs Parse and packages the entries into a ParseResult
// stamped with snapshot.Version, including per-category counts.
func BuildResult(blob []byte, snapshot *model.Settings) (*model.ParseResult, error) {
	entries, err := Parse(blob, snapshot)
	if err != nil {
		return nil, err
	}
	return &model.ParseResult{
		Version: snapshot.Version,
		Entries: entries,
		Counts:  countByCategory(entries),
	}, nil
}

// ReType re-classifies every entry in result against a newer snapshot and
// recomputes counts, in place. Called when a cached ParseResult's version
// no longer matches the current Settings.Version (spec §4.1's
// "version adaptation" clause); the caller is responsible for persisting
// the result back atomically afterward.
func ReType(result *model.ParseResult, snapshot *model.Settings) {
	for i := range result.Entries {
		e := &result.Entries[i]
		e.Extension = classify.ExtOf(e.BaseName)
		e.Category = classify.Category(e.Extension, snapshot)
	}
	result.Version = snapshot.Version
	result.Counts = countByCategory(result.Entries)
}

func countByCategory(entries []model.ParseEntry) map[model.FileCategory]int {
	counts := make(map[model.FileCategory]int, 6)
	for _, e := range entries {
		counts[e.Category]++
	}
	return counts
}
