package loads

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultReloadDelay = 200 * time.Millisecond

// Watcher reloads the repository when the load file changes on disk.
type Watcher struct {
	path     string
	repo     *Repository
	logger   *zap.Logger
	delay    time.Duration
	OnReload func(count int)
}

func NewWatcher(path string, repo *Repository, logger *zap.Logger) *Watcher {
	return &Watcher{path: filepath.Clean(path), repo: repo, logger: logger, delay: defaultReloadDelay}
}

// Run watches the file's directory until ctx is done. Watching the directory
// keeps working when editors replace the file by rename.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching load file", zap.String("path", w.path))

	timer := time.NewTimer(w.delay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != w.path {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.delay)
		case <-timer.C:
			w.reload()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("load watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	if err := w.repo.Reload(w.path); err != nil {
		w.logger.Warn("load reload failed, keeping previous set", zap.String("path", w.path), zap.Error(err))
		return
	}
	count := w.repo.Len()
	w.logger.Info("loads reloaded", zap.String("path", w.path), zap.Int("count", count))
	if w.OnReload != nil {
		w.OnReload(count)
	}
}
