package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/matsen/litsearch/internal/artifact"
)

// reloadDebounce collapses the burst of events a single publish produces.
const reloadDebounce = 200 * time.Millisecond

// Watch reloads the active snapshot whenever another process repoints the
// artifact store's CURRENT file. It blocks until ctx is done.
func (e *Engine) Watch(ctx context.Context) error {
	dir := e.store.Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating artifact directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	e.logger.Debug("watching for new snapshots", "dir", dir)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != artifact.CurrentFileName || !ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("snapshot watcher error", "error", err)

		case <-fire:
			fire = nil
			e.reloadIfChanged()
		}
	}
}

// reloadIfChanged loads the snapshot CURRENT names unless it is already
// active.
func (e *Engine) reloadIfChanged() {
	id, err := e.store.Current()
	if err != nil {
		e.logger.Warn("reading current snapshot", "error", err)
		return
	}
	if snap := e.active.Load(); snap != nil && snap.Manifest.SnapshotID == id {
		return
	}
	if err := e.LoadLatest(); err != nil {
		var mismatch *ModelMismatchError
		if errors.As(err, &mismatch) {
			e.logger.Error("ignoring snapshot from another model", "snapshot", id, "error", err)
			return
		}
		e.logger.Error("reloading snapshot", "snapshot", id, "error", err)
	}
}
