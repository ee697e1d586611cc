package ml

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryMemoizes(t *testing.T) {
	reg, err := NewRegistry(4, nil)
	require.NoError(t, err)

	var calls int
	var mu sync.Mutex
	reg.load = func(path string) (Classifier, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return LoadModel(path)
	}

	path := writeFile(t, "rf.json", stumpArtifact)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Get(path)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, calls)
	assert.True(t, reg.Loaded(path))
}

func TestRegistryDoesNotCacheFailures(t *testing.T) {
	reg, err := NewRegistry(4, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "later.json")
	_, err = reg.Get(path)
	require.True(t, errors.Is(err, ErrModelNotFound))
	assert.False(t, reg.Loaded(path))

	require.NoError(t, os.WriteFile(path, []byte(stumpArtifact), 0o600))
	model, err := reg.Get(path)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, model.Classes())
}

func TestInvalidateDuringLoadDropsStaleHandle(t *testing.T) {
	reg, err := NewRegistry(4, nil)
	require.NoError(t, err)

	path := writeFile(t, "rf.json", stumpArtifact)
	started := make(chan struct{})
	release := make(chan struct{})
	reg.load = func(p string) (Classifier, error) {
		model, err := LoadModel(p)
		close(started)
		<-release
		return model, err
	}

	loaded := make(chan error, 1)
	go func() {
		_, err := reg.Get(path)
		loaded <- err
	}()
	<-started

	invalidated := make(chan struct{})
	go func() {
		reg.Invalidate(path)
		close(invalidated)
	}()

	select {
	case <-invalidated:
		t.Fatal("invalidate returned while a load was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	require.NoError(t, <-loaded)
	<-invalidated
	assert.False(t, reg.Loaded(path))
}

func TestWatcherInvalidatesOnWrite(t *testing.T) {
	reg, err := NewRegistry(4, nil)
	require.NoError(t, err)

	path := writeFile(t, "rf.json", stumpArtifact)
	_, err = reg.Get(path)
	require.NoError(t, err)

	w, err := NewWatcher(reg, []string{path}, nil)
	require.NoError(t, err)
	changed := make(chan string, 8)
	w.OnChange(func(p string) { changed <- p })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(stumpArtifact), 0o600))
	require.Eventually(t, func() bool { return !reg.Loaded(path) }, 2*time.Second, 20*time.Millisecond)

	select {
	case got := <-changed:
		assert.Equal(t, path, got)
	case <-time.After(2 * time.Second):
		t.Fatal("change callback not called")
	}
}
