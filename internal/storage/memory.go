package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"asisaid.cn/versync/internal/common/errors"
)

// MemoryBackend is an in-memory implementation of Backend.
// It keeps blobs and directories in maps, making it useful for tests and
// throwaway stores. It is safe for concurrent use.
type MemoryBackend struct {
	name  string
	blobs map[string]memoryBlob
	dirs  map[string]time.Time
	mu    sync.RWMutex
}

type memoryBlob struct {
	data    []byte
	modTime time.Time
}

// NewMemoryBackend creates a new in-memory backend. The name is reported as
// its root directory.
func NewMemoryBackend(name string) *MemoryBackend {
	return &MemoryBackend{
		name:  name,
		blobs: make(map[string]memoryBlob),
		dirs:  make(map[string]time.Time),
	}
}

// Exists checks if a blob or directory exists.
func (m *MemoryBackend) Exists(ctx context.Context, kind Kind, key string) (bool, error) {
	key = cleanKey(key)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if kind == KindFile {
		_, ok := m.blobs[key]
		return ok, nil
	}
	return m.isDirLocked(key), nil
}

// Read retrieves a blob.
func (m *MemoryBackend) Read(ctx context.Context, key string) ([]byte, error) {
	key = cleanKey(key)

	m.mu.RLock()
	defer m.mu.RUnlock()

	blob, ok := m.blobs[key]
	if !ok {
		return nil, errors.E("MemoryBackend.Read", errors.ErrNotFound, nil, key)
	}

	out := make([]byte, len(blob.data))
	copy(out, blob.data)
	return out, nil
}

// Persist stores a blob or creates a directory.
func (m *MemoryBackend) Persist(ctx context.Context, kind Kind, key string, data []byte) error {
	key = cleanKey(key)
	if key == "" {
		return errors.E("MemoryBackend.Persist", errors.ErrInvalidInput, nil, "empty key")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if kind == KindDirectory {
		if _, ok := m.blobs[key]; ok {
			return errors.E("MemoryBackend.Persist", errors.ErrAlreadyExists, nil, key+" is a file")
		}
		m.mkdirAllLocked(key, now)
		return nil
	}

	if m.isDirLocked(key) {
		return errors.E("MemoryBackend.Persist", errors.ErrAlreadyExists, nil, key+" is a directory")
	}

	if idx := strings.LastIndex(key, "/"); idx > 0 {
		m.mkdirAllLocked(key[:idx], now)
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	m.blobs[key] = memoryBlob{data: buf, modTime: now}
	return nil
}

// Delete removes a blob or a directory tree.
func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	key = cleanKey(key)
	if key == "" {
		return errors.E("MemoryBackend.Delete", errors.ErrInvalidInput, nil, "refusing to delete backend root")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[key]; ok {
		delete(m.blobs, key)
		return nil
	}

	if !m.isDirLocked(key) {
		return errors.E("MemoryBackend.Delete", errors.ErrNotFound, nil, key)
	}

	prefix := key + "/"
	for k := range m.blobs {
		if strings.HasPrefix(k, prefix) {
			delete(m.blobs, k)
		}
	}
	for k := range m.dirs {
		if k == key || strings.HasPrefix(k, prefix) {
			delete(m.dirs, k)
		}
	}
	return nil
}

// List lists the direct children of a directory.
func (m *MemoryBackend) List(ctx context.Context, dir string) ([]*FileInfo, error) {
	dir = cleanKey(dir)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if dir != "" && !m.isDirLocked(dir) {
		return nil, errors.E("MemoryBackend.List", errors.ErrNotFound, nil, dir)
	}

	children := make(map[string]*FileInfo)
	for k, blob := range m.blobs {
		name, ok := childOf(dir, k)
		if !ok {
			continue
		}
		child := joinKey(dir, name)
		if child == k {
			children[child] = &FileInfo{Key: k, Size: int64(len(blob.data)), ModTime: blob.modTime}
		} else if _, seen := children[child]; !seen {
			children[child] = &FileInfo{Key: child, ModTime: m.dirs[child], IsDir: true}
		}
	}
	for k, modTime := range m.dirs {
		name, ok := childOf(dir, k)
		if !ok {
			continue
		}
		child := joinKey(dir, name)
		if _, seen := children[child]; !seen {
			children[child] = &FileInfo{Key: child, ModTime: modTime, IsDir: true}
		}
	}

	result := make([]*FileInfo, 0, len(children))
	for _, info := range children {
		result = append(result, info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

// Stat returns blob or directory information.
func (m *MemoryBackend) Stat(ctx context.Context, key string) (*FileInfo, error) {
	key = cleanKey(key)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if blob, ok := m.blobs[key]; ok {
		return &FileInfo{Key: key, Size: int64(len(blob.data)), ModTime: blob.modTime}, nil
	}
	if m.isDirLocked(key) {
		return &FileInfo{Key: key, ModTime: m.dirs[key], IsDir: true}, nil
	}
	return nil, errors.E("MemoryBackend.Stat", errors.ErrNotFound, nil, key)
}

// RootDir returns the backend name.
func (m *MemoryBackend) RootDir() string {
	return m.name
}

// Close closes the backend.
func (m *MemoryBackend) Close() error {
	return nil
}

func (m *MemoryBackend) isDirLocked(key string) bool {
	if key == "" {
		return true
	}
	if _, ok := m.dirs[key]; ok {
		return true
	}
	prefix := key + "/"
	for k := range m.blobs {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

func (m *MemoryBackend) mkdirAllLocked(key string, now time.Time) {
	for key != "" {
		if _, ok := m.dirs[key]; !ok {
			m.dirs[key] = now
		}
		idx := strings.LastIndex(key, "/")
		if idx < 0 {
			return
		}
		key = key[:idx]
	}
}

var _ Backend = (*MemoryBackend)(nil)
