package cache

import (
	"Go2NetSentinel/internal/logging"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher invalidates cache entries of file sources as soon as the files change on disk,
// instead of waiting for the next fingerprint check.
type Watcher struct {
	cache    *Cache
	fs       *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger

	mu    sync.Mutex
	files map[string]string // absolute path -> source id
}

// NewWatcher creates a watcher that drops entries of cache. Events for one file arriving
// within debounce of each other cause a single invalidation.
func NewWatcher(cache *Cache, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		cache:    cache,
		fs:       fsw,
		debounce: debounce,
		logger:   logger.With(logging.Component("cache-watch")),
		files:    make(map[string]string),
	}, nil
}

// Add watches the file at path, which is cached under id. The parent directory is watched
// so the file may be created, replaced or removed.
func (w *Watcher) Add(id, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.fs.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	w.mu.Lock()
	w.files[abs] = id
	w.mu.Unlock()
	return nil
}

func (w *Watcher) lookup(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.files[filepath.Clean(path)]
	return id, ok
}

// Run processes events until ctx is done, then closes the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(max(w.debounce/2, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			id, ok := w.lookup(event.Name)
			if !ok {
				continue
			}
			if w.debounce <= 0 {
				w.invalidate(id, event.Op)
				continue
			}
			pending[id] = time.Now()

		case now := <-ticker.C:
			for id, seen := range pending {
				if now.Sub(seen) >= w.debounce {
					delete(pending, id)
					w.invalidate(id, fsnotify.Write)
				}
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fsnotify error", zap.Error(err))
		}
	}
}

func (w *Watcher) invalidate(id string, op fsnotify.Op) {
	w.cache.Invalidate(id)
	w.logger.Debug("source changed, entry dropped", logging.Source(id), zap.String("op", op.String()))
}
