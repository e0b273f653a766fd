package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a watched change triggers a
// reload.
const DefaultDebounce = 500 * time.Millisecond

// Watch reloads the registry when either plugin location changes. It blocks
// until ctx is cancelled. Bursts of events within debounce collapse into one
// reload.
func (r *Registry) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range []string{r.opts.FolderDir, r.opts.FileDir} {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch plugin location %s: %w", dir, err)
		}
	}
	r.watchUnitDirs(watcher)
	r.logger.Info("plugin hot reload enabled", "folder_dir", r.opts.FolderDir, "file_dir", r.opts.FileDir)

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	reload := func() {
		if ctx.Err() != nil {
			return
		}
		r.logger.Info("plugin locations changed, reloading")
		if _, err := r.Reload(ctx); err != nil {
			r.logger.Error("plugin reload failed", "error", err)
			return
		}
		r.watchUnitDirs(watcher)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("watcher error", "error", err)
		}
	}
}

// watchUnitDirs adds every folder unit directory so edits to unit.yaml are
// seen. Adding an already watched path is a no-op.
func (r *Registry) watchUnitDirs(w *fsnotify.Watcher) {
	entries, err := os.ReadDir(r.opts.FolderDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, _, ok := splitPrefix(e.Name()); !ok {
			continue
		}
		if err := w.Add(filepath.Join(r.opts.FolderDir, e.Name())); err != nil {
			r.logger.Debug("failed to watch unit dir", "dir", e.Name(), "error", err)
		}
	}
}
