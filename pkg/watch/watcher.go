// Package watch detects raster partitions as they arrive in the input
// directory.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a directory for files matching a glob pattern. A file
// is reported once no write to it has been seen for the debounce period,
// so partially copied rasters are not picked up.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	pattern  string
	debounce time.Duration
	logger   *slog.Logger

	// OnReady is called sequentially for each settled file.
	OnReady func(ctx context.Context, path string) error
	// OnError receives watcher and OnReady errors.
	OnError func(path string, err error)
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir, pattern string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	if _, err := os.Stat(absDir); err != nil {
		return nil, fmt.Errorf("failed to stat directory: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsWatcher.Add(absDir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		watcher:  fsWatcher,
		dir:      absDir,
		pattern:  pattern,
		debounce: debounce,
		logger:   logger,
	}, nil
}

// Matches reports whether path names a partition.
func (w *Watcher) Matches(path string) bool {
	ok, _ := filepath.Match(w.pattern, filepath.Base(path))
	return ok
}

// Run starts the watch loop. Blocks until ctx is cancelled; the watcher is
// closed on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	ready := make(chan string)
	timers := make(map[string]*time.Timer)
	var timerMu sync.Mutex
	defer func() {
		timerMu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !w.Matches(event.Name) {
				continue
			}

			path := event.Name
			// Debounce rapid changes
			timerMu.Lock()
			if timer, exists := timers[path]; exists {
				timer.Stop()
			}
			timers[path] = time.AfterFunc(w.debounce, func() {
				select {
				case ready <- path:
				case <-ctx.Done():
				}
			})
			timerMu.Unlock()

		case path := <-ready:
			timerMu.Lock()
			delete(timers, path)
			timerMu.Unlock()

			w.logger.Debug("partition settled", "path", path)
			if w.OnReady != nil {
				if err := w.OnReady(ctx, path); err != nil && w.OnError != nil {
					w.OnError(path, err)
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if w.OnError != nil {
				w.OnError("", err)
			}
		}
	}
}

// Close stops the watcher without running the loop.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
