package config

import (
	"context"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/jiqinga/strmforge/internal/log"
)

// Snapshot is an immutable point-in-time FileConfig. ConfigHolder always
// hands out a *Snapshot, never the mutable struct, so callers never race
// a concurrent reload.
type Snapshot = FileConfig

// ConfigHolder serves the current configuration snapshot and swaps it
// atomically when the backing file changes, the way the teacher's
// internal/config.ConfigHolder does for its own YAML file.
type ConfigHolder struct {
	path string
	cur  atomic.Pointer[Snapshot]
}

// NewConfigHolder loads path once and returns a holder serving it. Watch
// must be called separately to enable hot reload.
func NewConfigHolder(path string) (*ConfigHolder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	h := &ConfigHolder{path: path}
	h.cur.Store(&cfg)
	return h, nil
}

// Current returns the most recently loaded snapshot.
func (h *ConfigHolder) Current() *Snapshot {
	return h.cur.Load()
}

// Watch starts an fsnotify watch on the holder's file and reloads on every
// write event, until ctx is canceled. It is a no-op (returns nil
// immediately) when the holder was constructed with an empty path, since
// there is nothing on disk to watch.
func (h *ConfigHolder) Watch(ctx context.Context) error {
	if h.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(h.path); err != nil {
		watcher.Close()
		return err
	}

	logger := log.WithComponent("config")
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(h.path)
				if err != nil {
					logger.Warn().Err(err).Msg("config reload failed, keeping previous snapshot")
					continue
				}
				h.cur.Store(&cfg)
				logger.Info().Msg("config reloaded from file")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()
	return nil
}
