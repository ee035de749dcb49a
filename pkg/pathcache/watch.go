package pathcache

import (
	"context"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// identityOps are the events that can change what a path resolves to.
// Plain writes keep the file where it is.
const identityOps = fsnotify.Create | fsnotify.Remove | fsnotify.Rename | fsnotify.Chmod

// Watcher invalidates canonical paths when watched directories change, since a
// replaced symlink or a moved file makes cached entries stale.
type Watcher struct {
	watcher    *fsnotify.Watcher
	invalidate func()
	logger     *zap.SugaredLogger
	closeOnce  sync.Once
}

// NewWatcher watches dirs and calls invalidate on every event that may change
// path identity. invalidate is called from the goroutine running Run.
func NewWatcher(dirs []string, invalidate func(), logger *zap.SugaredLogger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fs watcher for path cache: %w", err)
	}
	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, fmt.Errorf("watching %q: %w", dir, err)
		}
	}
	return &Watcher{
		watcher:    w,
		invalidate: invalidate,
		logger:     logger,
	}, nil
}

// Run dispatches events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&identityOps == 0 {
				continue
			}
			w.logger.Debugw("path cache invalidated", "path", event.Name, "op", event.Op.String())
			w.invalidate()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnf("Failure in path cache watcher: %v", err)
		}
	}
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.watcher.Close()
	})
	return err
}
