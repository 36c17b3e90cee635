package settings

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const watchDebounce = 500 * time.Millisecond

// Watcher monitors the settings file and reloads the store when it changes
// on disk. Editors and the hub itself replace the file atomically (write
// temp, rename), so the parent directory is watched rather than the file.
//
// A reload that fails validation keeps the current settings; the error is
// logged and the previous snapshot stays active.
type Watcher struct {
	store  *Store
	logger *zap.Logger

	watcher *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a watcher bound to the store's settings file path.
func NewWatcher(store *Store, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		store:   store,
		logger:  logger,
		watcher: fsw,
	}, nil
}

// Start begins watching and blocks until ctx is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	path := w.store.Current().Path
	if path == "" {
		return fmt.Errorf("settings store has no file path to watch")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve settings path %s: %w", path, err)
	}
	parent := filepath.Dir(absPath)
	filename := filepath.Base(absPath)

	if err := w.watcher.Add(parent); err != nil {
		return fmt.Errorf("failed to watch %s: %w", parent, err)
	}

	w.logger.Info("watching settings file",
		zap.String("path", absPath))

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			// Editor backup files
			if strings.HasSuffix(event.Name, "~") {
				continue
			}
			// Atomic saves arrive as Create (temp) then Rename onto the
			// target, so any of these ops on the target name counts.
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("settings watcher error", zap.Error(err))
		}
	}
}

// scheduleReload debounces bursts of file events into a single reload.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(watchDebounce, func() {
		diff, err := w.store.ReloadFromFile("file_watcher")
		if err != nil {
			w.logger.Error("settings reload rejected, keeping current settings",
				zap.Error(err))
			return
		}
		if diff.Empty() {
			w.logger.Debug("settings file changed on disk with no effective difference")
			return
		}
		w.logger.Info("settings reloaded from disk",
			zap.Int64("version", w.store.Version()))
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.stopTimer()
	return w.watcher.Close()
}
