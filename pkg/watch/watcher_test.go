package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReportsMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, "*.tif", 20*time.Millisecond, nil)
	require.NoError(t, err)

	got := make(chan string, 4)
	w.OnReady = func(ctx context.Context, path string) error {
		got <- filepath.Base(path)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tile_1.tif"), []byte("II*\x00"), 0644))

	select {
	case name := <-got:
		assert.Equal(t, "tile_1.tif", name)
	case <-time.After(5 * time.Second):
		t.Fatal("no partition reported")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcherMatches(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), "ESA_*.tif", time.Millisecond, nil)
	require.NoError(t, err)
	defer w.Close()

	assert.True(t, w.Matches("/data/ESA_N30E120.tif"))
	assert.False(t, w.Matches("/data/other.tif"))
}

func TestNewWatcherErrors(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "missing"), "*.tif", time.Millisecond, nil)
	assert.Error(t, err)

	_, err = NewWatcher(t.TempDir(), "[", time.Millisecond, nil)
	assert.Error(t, err)
}
