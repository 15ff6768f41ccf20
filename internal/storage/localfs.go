package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"asisaid.cn/versync/internal/common/errors"
)

// tempPrefix marks in-flight writes; such files are never listed.
const tempPrefix = ".versync-tmp-"

// LocalFSBackend implements Backend using the local file system.
type LocalFSBackend struct {
	basePath string
}

// NewLocalFSBackend creates a new LocalFSBackend.
func NewLocalFSBackend(basePath string) (*LocalFSBackend, error) {
	if basePath == "" {
		return nil, fmt.Errorf("local_fs backend requires a path")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	// Ensure base directory exists
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &LocalFSBackend{basePath: abs}, nil
}

// Exists checks if a blob or directory exists.
func (b *LocalFSBackend) Exists(ctx context.Context, kind Kind, key string) (bool, error) {
	info, err := os.Stat(b.keyToPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.E("LocalFSBackend.Exists", errors.ErrStorage, err)
	}

	if kind == KindDirectory {
		return info.IsDir(), nil
	}
	return info.Mode().IsRegular(), nil
}

// Read retrieves a blob.
func (b *LocalFSBackend) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.keyToPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.E("LocalFSBackend.Read", errors.ErrNotFound, nil, key)
		}
		return nil, errors.E("LocalFSBackend.Read", errors.ErrStorage, err)
	}
	return data, nil
}

// Persist stores a blob or creates a directory.
func (b *LocalFSBackend) Persist(ctx context.Context, kind Kind, key string, data []byte) error {
	filePath := b.keyToPath(key)

	if kind == KindDirectory {
		if err := os.MkdirAll(filePath, 0755); err != nil {
			return errors.E("LocalFSBackend.Persist", errors.ErrStorage, err)
		}
		return nil
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.E("LocalFSBackend.Persist", errors.ErrStorage, err)
	}

	// Write to a temp file next to the target, then rename over it
	tempFile, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return errors.E("LocalFSBackend.Persist", errors.ErrStorage, err)
	}
	tempPath := tempFile.Name()
	defer os.Remove(tempPath) // no-op after a successful rename

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return errors.E("LocalFSBackend.Persist", errors.ErrStorage, err)
	}
	if err := tempFile.Close(); err != nil {
		return errors.E("LocalFSBackend.Persist", errors.ErrStorage, err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		return errors.E("LocalFSBackend.Persist", errors.ErrStorage, err)
	}

	return nil
}

// Delete removes a blob or a directory tree.
func (b *LocalFSBackend) Delete(ctx context.Context, key string) error {
	filePath := b.keyToPath(key)
	if filePath == b.basePath {
		return errors.E("LocalFSBackend.Delete", errors.ErrInvalidInput, nil, "refusing to delete backend root")
	}

	if _, err := os.Lstat(filePath); err != nil {
		if os.IsNotExist(err) {
			return errors.E("LocalFSBackend.Delete", errors.ErrNotFound, nil, key)
		}
		return errors.E("LocalFSBackend.Delete", errors.ErrStorage, err)
	}

	if err := os.RemoveAll(filePath); err != nil {
		return errors.E("LocalFSBackend.Delete", errors.ErrStorage, err)
	}

	return nil
}

// List lists the direct children of a directory.
func (b *LocalFSBackend) List(ctx context.Context, dir string) ([]*FileInfo, error) {
	entries, err := os.ReadDir(b.keyToPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.E("LocalFSBackend.List", errors.ErrNotFound, nil, dir)
		}
		return nil, errors.E("LocalFSBackend.List", errors.ErrStorage, err)
	}

	dir = cleanKey(dir)
	result := make([]*FileInfo, 0, len(entries))
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), tempPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // removed while listing
		}
		result = append(result, &FileInfo{
			Key:     joinKey(dir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   info.IsDir(),
		})
	}

	return result, nil
}

// Stat returns blob or directory information.
func (b *LocalFSBackend) Stat(ctx context.Context, key string) (*FileInfo, error) {
	info, err := os.Stat(b.keyToPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.E("LocalFSBackend.Stat", errors.ErrNotFound, nil, key)
		}
		return nil, errors.E("LocalFSBackend.Stat", errors.ErrStorage, err)
	}

	return &FileInfo{
		Key:     cleanKey(key),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

// RootDir returns the absolute base path.
func (b *LocalFSBackend) RootDir() string {
	return b.basePath
}

// Close closes the backend.
func (b *LocalFSBackend) Close() error {
	return nil // Nothing to close for local filesystem
}

// keyToPath converts a storage key to a file path below the base path.
func (b *LocalFSBackend) keyToPath(key string) string {
	return filepath.Join(b.basePath, filepath.FromSlash(cleanKey(key)))
}

var _ Backend = (*LocalFSBackend)(nil)
