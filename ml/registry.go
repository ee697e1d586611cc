package ml

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Registry memoizes loaded classifiers by path. Failed loads are not cached, so a
// model file that appears later is picked up by the next Get.
type Registry struct {
	cache  *lru.Cache[string, Classifier]
	load   func(path string) (Classifier, error)
	mu     sync.Mutex
	logger *zap.Logger
}

// NewRegistry keeps at most size handles, 8 when size is not positive.
func NewRegistry(size int, logger *zap.Logger) (*Registry, error) {
	if size <= 0 {
		size = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[string, Classifier](size)
	if err != nil {
		return nil, err
	}
	return &Registry{cache: cache, load: LoadModel, logger: logger}, nil
}

// Get returns the memoized handle of path, loading it on a miss.
func (r *Registry) Get(path string) (Classifier, error) {
	if model, ok := r.cache.Get(path); ok {
		return model, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if model, ok := r.cache.Get(path); ok {
		return model, nil
	}

	model, err := r.load(path)
	if err != nil {
		r.logger.Warn("model load failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	info := model.Info()
	r.logger.Info("model loaded",
		zap.String("path", path),
		zap.String("type", info.Type),
		zap.Int("trees", info.Trees),
		zap.Int("n_features", info.NFeatures))
	r.cache.Add(path, model)
	return model, nil
}

// Loaded reports whether path currently has a memoized handle.
func (r *Registry) Loaded(path string) bool {
	return r.cache.Contains(path)
}

// Invalidate drops the handle of path. It waits for an in-flight load so a handle read
// from the previous file contents is not cached after the drop.
func (r *Registry) Invalidate(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache.Remove(path) {
		r.logger.Info("model handle dropped", zap.String("path", path))
	}
}
