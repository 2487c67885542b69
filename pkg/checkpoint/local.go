package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LocalBackend stores checkpoint artifacts as files in one directory.
type LocalBackend struct {
	dir string
}

// NewLocalBackend creates the checkpoint directory if needed.
func NewLocalBackend(dir string) (*LocalBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &LocalBackend{dir: dir}, nil
}

// Dir returns the checkpoint directory.
func (b *LocalBackend) Dir() string {
	return b.dir
}

func (b *LocalBackend) path(key string) string {
	return filepath.Join(b.dir, key)
}

// Put writes to a temp file, syncs it, renames it into place and syncs the
// directory, so the file is either absent or complete after a crash.
func (b *LocalBackend) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	final := b.path(key)
	tmp, err := os.CreateTemp(b.dir, key+".tmp*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return syncDir(b.dir)
}

// Get reads a key.
func (b *LocalBackend) Get(ctx context.Context, key string) ([]byte, error) {
	return os.ReadFile(b.path(key))
}

// Has reports whether a key exists.
func (b *LocalBackend) Has(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(b.path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Remove deletes a key.
func (b *LocalBackend) Remove(ctx context.Context, key string) error {
	err := os.Remove(b.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Name returns "local".
func (b *LocalBackend) Name() string {
	return "local"
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Not every filesystem supports fsync on directories.
	_ = d.Sync()
	return nil
}
