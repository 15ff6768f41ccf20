// Package manager persists path records and provides the narrow mutators
// that evolve their version, delete and sharing state.
package manager

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"asisaid.cn/versync/internal/common/errors"
	"asisaid.cn/versync/internal/common/hashing"
	"asisaid.cn/versync/internal/common/logger"
	"asisaid.cn/versync/internal/metrics"
	"asisaid.cn/versync/internal/storage"
	"asisaid.cn/versync/internal/version/model"
)

// ErrNoChange may be returned from an Update callback to skip the write.
var ErrNoChange = errors.New("no change")

// Source is a read-only view of an index and its records. A local
// ObjectManager and a remote peer both satisfy it.
type Source interface {
	// GetIndex returns a snapshot of the index.
	GetIndex(ctx context.Context) (*model.Index, error)

	// GetObject returns the record stored under hash.
	GetObject(ctx context.Context, hash string) (*model.PathObject, error)
}

// Options configures an ObjectManager.
type Options struct {
	IndexFile string // Index blob name, default "index.json"
	ObjectDir string // Object directory name, default "object"
	Hasher    hashing.Hasher
	Metrics   *metrics.Metrics // Optional
}

// ObjectManager owns the index and the sharded records on a backend.
// All operations are serialized by a single mutex.
type ObjectManager struct {
	backend   storage.Backend
	indexFile string
	objectDir string
	hasher    hashing.Hasher
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu    sync.Mutex
	index *model.Index
}

// NewObjectManager loads the index from backend, or creates and persists an
// empty one when none exists yet.
func NewObjectManager(ctx context.Context, backend storage.Backend, opts Options) (*ObjectManager, error) {
	if opts.IndexFile == "" {
		opts.IndexFile = "index.json"
	}
	if opts.ObjectDir == "" {
		opts.ObjectDir = "object"
	}
	if opts.Hasher == nil {
		opts.Hasher = hashing.MustNew(hashing.Default)
	}

	m := &ObjectManager{
		backend:   backend,
		indexFile: opts.IndexFile,
		objectDir: opts.ObjectDir,
		hasher:    opts.Hasher,
		metrics:   opts.Metrics,
		logger:    logger.WithComponent("ObjectManager").With(zap.String("backend", backend.RootDir())),
	}

	data, err := backend.Read(ctx, m.indexFile)
	switch {
	case err == nil:
		idx, err := model.DecodeIndex(data)
		if err != nil {
			return nil, errors.Wrap("NewObjectManager", err)
		}
		m.index = idx
	case errors.IsNotFound(err):
		m.logger.Info("creating index", zap.String("index_file", m.indexFile))
		m.index = model.NewIndex()
		if err := m.persistIndex(ctx); err != nil {
			return nil, errors.Wrap("NewObjectManager", err)
		}
	default:
		return nil, errors.Wrap("NewObjectManager", err)
	}

	m.metrics.SetIndexPaths(m.index.Len())
	return m, nil
}

// Hasher returns the hasher used for object keys and history chains.
func (m *ObjectManager) Hasher() hashing.Hasher {
	return m.hasher
}

// HashPath returns the object hash of a relative path.
func (m *ObjectManager) HashPath(path string) string {
	return m.hasher.String(path)
}

// GetIndex returns a snapshot of the index.
func (m *ObjectManager) GetIndex(ctx context.Context) (*model.Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.index.Clone(), nil
}

// WriteObject stores obj under the hash of its absolute path and records
// the mapping in the index. A record without a FileID keeps the current
// identifier of its path, or gets a new one.
func (m *ObjectManager) WriteObject(ctx context.Context, obj *model.PathObject) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.writeObjectLocked(ctx, obj)
}

// GetObject returns the record stored under hash.
func (m *ObjectManager) GetObject(ctx context.Context, hash string) (*model.PathObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.getObjectLocked(ctx, hash)
}

// GetObjectForPath returns the record of an indexed path.
func (m *ObjectManager) GetObjectForPath(ctx context.Context, path string) (*model.PathObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.getObjectForPathLocked(ctx, path)
}

// RemoveObject deletes the record stored under hash and drops its path
// from the index.
func (m *ObjectManager) RemoveObject(ctx context.Context, hash string) (err error) {
	start := time.Now()
	defer func() { m.metrics.ObserveObjectOperation("remove", time.Since(start), err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(hash) < 3 {
		return errors.E("ObjectManager.RemoveObject", errors.ErrInvalidInput, nil, "hash too short")
	}

	// The index is committed first so it never points at a missing record
	path, indexed := m.index.PathForHash(hash)
	var idBefore string
	if indexed {
		idBefore, _ = m.index.FileID(path)
		m.index.RemovePath(path)
		if err := m.persistIndex(ctx); err != nil {
			m.index.AddPathWithID(path, hash, idBefore)
			return errors.Wrap("ObjectManager.RemoveObject", err)
		}
	}

	if err := m.backend.Delete(ctx, m.objectDirFor(hash)); err != nil {
		if indexed && !errors.IsNotFound(err) {
			m.index.AddPathWithID(path, hash, idBefore)
			if perr := m.persistIndex(ctx); perr != nil {
				m.logger.Error("failed to restore index entry",
					zap.String("path", path), zap.Error(perr))
			}
		}
		m.metrics.SetIndexPaths(m.index.Len())
		return errors.Wrap("ObjectManager.RemoveObject", err)
	}
	if indexed {
		m.logger.Debug("removed object", zap.String("path", path), zap.String("hash", hash))
	}

	m.metrics.SetIndexPaths(m.index.Len())
	return nil
}

// GetChildren returns the records of every indexed path below parent.
func (m *ObjectManager) GetChildren(ctx context.Context, parent string) ([]*model.PathObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	paths := m.index.ChildrenOf(model.CleanPath(parent))
	children := make([]*model.PathObject, 0, len(paths))
	for _, p := range paths {
		hash, _ := m.index.Hash(p)
		obj, err := m.getObjectLocked(ctx, hash)
		if err != nil {
			return nil, errors.Wrap("ObjectManager.GetChildren", err)
		}
		children = append(children, obj)
	}
	return children, nil
}

// Clear deletes every record and persists an empty index.
func (m *ObjectManager) Clear(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { m.metrics.ObserveObjectOperation("clear", time.Since(start), err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	exists, err := m.backend.Exists(ctx, storage.KindDirectory, m.objectDir)
	if err != nil {
		return errors.Wrap("ObjectManager.Clear", err)
	}
	if exists {
		if err := m.backend.Delete(ctx, m.objectDir); err != nil {
			return errors.Wrap("ObjectManager.Clear", err)
		}
	} else {
		m.logger.Info("object directory does not exist", zap.String("object_dir", m.objectDir))
	}

	m.index = model.NewIndex()
	if err := m.persistIndex(ctx); err != nil {
		return errors.Wrap("ObjectManager.Clear", err)
	}

	m.metrics.SetIndexPaths(0)
	m.logger.Info("cleared object store")
	return nil
}

// Update reads the record of path, applies fn and writes the result back,
// all under the manager lock. If fn returns ErrNoChange nothing is written.
func (m *ObjectManager) Update(ctx context.Context, path string, fn func(obj *model.PathObject) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, err := m.getObjectForPathLocked(ctx, path)
	if err != nil {
		return err
	}

	if err := fn(obj); err != nil {
		if errors.Is(err, ErrNoChange) {
			return nil
		}
		return err
	}

	return m.writeObjectLocked(ctx, obj)
}

func (m *ObjectManager) writeObjectLocked(ctx context.Context, obj *model.PathObject) (err error) {
	start := time.Now()
	defer func() { m.metrics.ObserveObjectOperation("write", time.Since(start), err) }()

	path := obj.AbsolutePath()
	if path == "" {
		return errors.E("ObjectManager.WriteObject", errors.ErrInvalidInput, nil, "record has no path")
	}
	hash := m.HashPath(path)

	hashBefore, hadHash := m.index.Hash(path)
	idBefore, hadID := m.index.FileID(path)
	rollback := func() {
		m.index.RemovePath(path)
		if hadHash {
			m.index.Paths[path] = hashBefore
		}
		if hadID {
			m.index.PathIdentifiers[path] = idBefore
		}
	}

	obj.FileID = m.index.AddPathWithID(path, hash, obj.FileID)

	data, err := obj.Encode()
	if err != nil {
		rollback()
		return errors.E("ObjectManager.WriteObject", errors.ErrInvalidRecord, err)
	}

	key := m.objectKey(hash)
	previous, err := m.backend.Read(ctx, key)
	hadPrevious := err == nil
	if err != nil && !errors.IsNotFound(err) {
		rollback()
		return errors.Wrap("ObjectManager.WriteObject", err)
	}

	if err := m.ensureObjectDir(ctx, hash); err != nil {
		rollback()
		return errors.Wrap("ObjectManager.WriteObject", err)
	}
	if err := m.backend.Persist(ctx, storage.KindFile, key, data); err != nil {
		rollback()
		return errors.Wrap("ObjectManager.WriteObject", err)
	}
	if err := m.persistIndex(ctx); err != nil {
		rollback()
		m.restoreObject(ctx, hash, previous, hadPrevious)
		return errors.Wrap("ObjectManager.WriteObject", err)
	}

	m.metrics.SetIndexPaths(m.index.Len())
	m.logger.Debug("wrote object", zap.String("path", path), zap.String("hash", hash))
	return nil
}

func (m *ObjectManager) getObjectLocked(ctx context.Context, hash string) (obj *model.PathObject, err error) {
	start := time.Now()
	defer func() { m.metrics.ObserveObjectOperation("read", time.Since(start), err) }()

	if len(hash) < 3 {
		return nil, errors.E("ObjectManager.GetObject", errors.ErrNotFound, nil, hash)
	}

	data, err := m.backend.Read(ctx, m.objectKey(hash))
	if err != nil {
		return nil, errors.Wrap("ObjectManager.GetObject", err)
	}
	return model.DecodePathObject(data)
}

func (m *ObjectManager) getObjectForPathLocked(ctx context.Context, path string) (*model.PathObject, error) {
	hash, ok := m.index.Hash(model.CleanPath(path))
	if !ok {
		return nil, errors.E("ObjectManager.GetObjectForPath", errors.ErrNotFound, nil, path)
	}
	return m.getObjectLocked(ctx, hash)
}

// restoreObject puts back the record that was stored under hash before a
// failed write, or drops the new one when there was none.
func (m *ObjectManager) restoreObject(ctx context.Context, hash string, previous []byte, hadPrevious bool) {
	var err error
	if hadPrevious {
		err = m.backend.Persist(ctx, storage.KindFile, m.objectKey(hash), previous)
	} else {
		err = m.backend.Delete(ctx, m.objectDirFor(hash))
	}
	if err != nil {
		m.logger.Error("failed to restore object after index write failed",
			zap.String("hash", hash), zap.Error(err))
	}
}

// ensureObjectDir creates both shard directories of hash when missing.
func (m *ObjectManager) ensureObjectDir(ctx context.Context, hash string) error {
	dir := m.objectDirFor(hash)
	exists, err := m.backend.Exists(ctx, storage.KindDirectory, dir)
	if err != nil || exists {
		return err
	}
	return m.backend.Persist(ctx, storage.KindDirectory, dir, nil)
}

func (m *ObjectManager) persistIndex(ctx context.Context) error {
	data, err := m.index.Encode()
	if err != nil {
		return errors.E("ObjectManager.persistIndex", errors.ErrInvalidRecord, err)
	}
	return m.backend.Persist(ctx, storage.KindFile, m.indexFile, data)
}

// objectDirFor returns <objectDir>/<hash[0:2]>/<hash[2:]>.
func (m *ObjectManager) objectDirFor(hash string) string {
	return m.objectDir + "/" + hash[:2] + "/" + hash[2:]
}

// objectKey returns <objectDir>/<hash[0:2]>/<hash[2:]>/<hash>.json.
func (m *ObjectManager) objectKey(hash string) string {
	return m.objectDirFor(hash) + "/" + hash + ".json"
}

var _ Source = (*ObjectManager)(nil)
