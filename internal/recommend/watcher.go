package recommend

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads an Engine whenever its playbook pack changes on disk.
type Watcher struct {
	engine   *Engine
	path     string
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher constructs a Watcher for path.
func NewWatcher(engine *Engine, path string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{engine: engine, path: path, debounce: 250 * time.Millisecond, logger: logger}
}

// Run blocks until ctx is cancelled. The parent directory is watched so that
// editors replacing the file via rename are picked up.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create playbook watcher: %w", err)
	}
	defer fw.Close()

	target := filepath.Clean(w.path)
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				pending = time.After(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("playbook watcher error", slog.Any("error", err))
		case <-pending:
			pending = nil
			if err := w.engine.Reload(w.path); err != nil {
				w.logger.Error("playbook reload failed, keeping previous playbooks", slog.Any("error", err))
			}
		}
	}
}
