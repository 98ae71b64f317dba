// Package fsatomic provides crash-safe file writes for the worker's STRM
// and resource-download outputs: write to a temp file in the target
// directory, fsync, then rename over the destination.
package fsatomic

import (
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// WriteFile atomically replaces path's contents with data, creating
// parent directories as needed. perm governs the final file's mode.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(path, data, perm)
}
