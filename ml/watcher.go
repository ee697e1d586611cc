package ml

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher drops registry entries whose model file changes on disk.
type Watcher struct {
	watcher  *fsnotify.Watcher
	registry *Registry
	paths    map[string]string // cleaned path -> registry key
	logger   *zap.Logger
	onChange func(path string)

	mu      sync.Mutex
	running bool
	doneCh  chan struct{}
}

// NewWatcher watches the directories of paths. Directories that do not exist are skipped.
func NewWatcher(registry *Registry, paths []string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fw,
		registry: registry,
		paths:    make(map[string]string, len(paths)),
		logger:   logger,
		doneCh:   make(chan struct{}),
	}
	dirs := make(map[string]bool)
	for _, p := range paths {
		w.paths[filepath.Clean(p)] = p
		dirs[filepath.Dir(filepath.Clean(p))] = true
	}
	for dir := range dirs {
		// The directory may not exist yet; the model is then simply never reloaded.
		if err := fw.Add(dir); err != nil {
			logger.Warn("cannot watch model directory", zap.String("dir", dir), zap.Error(err))
		}
	}
	return w, nil
}

// OnChange registers fn to run after a tracked model has been invalidated. It must be
// called before Start.
func (w *Watcher) OnChange(fn func(path string)) {
	w.onChange = fn
}

// Start runs the event loop until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
}

// Stop closes the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	err := w.watcher.Close()
	if running {
		<-w.doneCh
	}
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			key, tracked := w.paths[filepath.Clean(event.Name)]
			if !tracked {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.logger.Debug("model file changed", zap.String("path", event.Name), zap.String("op", event.Op.String()))
				w.registry.Invalidate(key)
				if w.onChange != nil {
					w.onChange(key)
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("model watcher error", zap.Error(err))
		}
	}
}
