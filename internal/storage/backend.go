// Package storage provides the blob storage backends that persist the
// index and path records.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

// Kind distinguishes plain blobs from directories.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "FILE"
	case KindDirectory:
		return "DIRECTORY"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// FileInfo represents information about a stored blob or directory.
type FileInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Backend defines the interface for blob storage backends.
// Keys are slash separated and relative to the backend root.
type Backend interface {
	// Exists reports whether a blob (KindFile) or directory (KindDirectory)
	// exists at key.
	Exists(ctx context.Context, kind Kind, key string) (bool, error)

	// Read returns the content of a blob. Missing blobs yield ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, error)

	// Persist writes a blob, or creates a directory when kind is
	// KindDirectory (data is ignored then). Parent directories are created
	// as needed.
	Persist(ctx context.Context, kind Kind, key string, data []byte) error

	// Delete removes a blob or a directory with everything below it.
	Delete(ctx context.Context, key string) error

	// List returns the direct children of a directory.
	List(ctx context.Context, dir string) ([]*FileInfo, error)

	// Stat returns information about a blob or directory.
	Stat(ctx context.Context, key string) (*FileInfo, error)

	// RootDir returns the location the backend is rooted at.
	RootDir() string

	// Close releases backend resources.
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Type string // local_fs, badger, memory, s3
	Path string
	S3   S3Config
}

// NewBackend creates a new storage backend based on the type.
func NewBackend(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Type {
	case "", "local_fs":
		return NewLocalFSBackend(opts.Path)
	case "badger":
		return NewBadgerBackend(opts.Path)
	case "memory":
		return NewMemoryBackend(opts.Path), nil
	case "s3":
		return NewS3BackendFromConfig(ctx, opts.S3)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Type)
	}
}

// cleanKey normalizes a key to a slash separated relative path.
// The root is represented by the empty string.
func cleanKey(key string) string {
	key = strings.ReplaceAll(key, "\\", "/")
	key = path.Clean("/" + key)
	return strings.TrimPrefix(key, "/")
}

// childOf returns the direct child name of dir contained in key, if any.
func childOf(dir, key string) (string, bool) {
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}
	if !strings.HasPrefix(key, prefix) || key == dir {
		return "", false
	}
	rest := strings.TrimPrefix(key, prefix)
	if rest == "" {
		return "", false
	}
	name, _, _ := strings.Cut(rest, "/")
	return name, true
}

// joinKey joins a directory key and a child name.
func joinKey(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
