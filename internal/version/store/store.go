// Package store keeps the metadata of a watched directory in sync with the
// filesystem and merges it with the metadata of other replicas.
package store

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"asisaid.cn/versync/internal/common/errors"
	"asisaid.cn/versync/internal/common/hashing"
	"asisaid.cn/versync/internal/common/logger"
	"asisaid.cn/versync/internal/fs"
	"asisaid.cn/versync/internal/metrics"
	"asisaid.cn/versync/internal/storage"
	"asisaid.cn/versync/internal/version/history"
	"asisaid.cn/versync/internal/version/manager"
	"asisaid.cn/versync/internal/version/model"
)

// Options configures an ObjectStore.
type Options struct {
	MetaDir    string // Metadata directory below the root, never synced
	IndexFile  string
	ObjectDir  string
	Hasher     hashing.Hasher
	Comparator history.Comparator
	Metrics    *metrics.Metrics
}

// ObjectStore tracks the records of every path below a watched root.
type ObjectStore struct {
	rootDir    string
	metaDir    string
	backend    storage.Backend
	objects    *manager.ObjectManager
	versions   *manager.VersionManager
	deletes    *manager.DeleteManager
	sharers    *manager.SharerManager
	hasher     hashing.Hasher
	comparator history.Comparator
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// New creates an ObjectStore for rootDir whose records live on backend.
func New(ctx context.Context, rootDir string, backend storage.Backend, opts Options) (*ObjectStore, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, errors.E("store.New", errors.ErrInvalidInput, err, rootDir)
	}
	if opts.Hasher == nil {
		opts.Hasher = hashing.MustNew(hashing.Default)
	}
	if opts.Comparator == nil {
		opts.Comparator = history.Default
	}

	objects, err := manager.NewObjectManager(ctx, backend, manager.Options{
		IndexFile: opts.IndexFile,
		ObjectDir: opts.ObjectDir,
		Hasher:    opts.Hasher,
		Metrics:   opts.Metrics,
	})
	if err != nil {
		return nil, err
	}

	return &ObjectStore{
		rootDir:    abs,
		metaDir:    model.CleanPath(opts.MetaDir),
		backend:    backend,
		objects:    objects,
		versions:   manager.NewVersionManager(objects),
		deletes:    manager.NewDeleteManager(objects),
		sharers:    manager.NewSharerManager(objects),
		hasher:     opts.Hasher,
		comparator: opts.Comparator,
		metrics:    opts.Metrics,
		logger:     logger.WithRoot("ObjectStore", abs),
	}, nil
}

// RootDir returns the absolute watched root.
func (s *ObjectStore) RootDir() string { return s.rootDir }

// ObjectManager returns the underlying object manager.
func (s *ObjectStore) ObjectManager() *manager.ObjectManager { return s.objects }

// VersionManager returns the version mutator.
func (s *ObjectStore) VersionManager() *manager.VersionManager { return s.versions }

// DeleteManager returns the delete mutator.
func (s *ObjectStore) DeleteManager() *manager.DeleteManager { return s.deletes }

// SharerManager returns the sharer mutator.
func (s *ObjectStore) SharerManager() *manager.SharerManager { return s.sharers }

// Hasher returns the content hasher.
func (s *ObjectStore) Hasher() hashing.Hasher { return s.hasher }

// HashFile returns the content hash of a path below the root.
func (s *ObjectStore) HashFile(relativePath string) (string, error) {
	return s.hasher.File(s.abs(relativePath))
}

// Close closes the storage backend.
func (s *ObjectStore) Close() error {
	return s.backend.Close()
}

// OnCreateFile records a newly observed path. The path type is read from
// disk; a path that no longer exists is taken to be a file.
func (s *ObjectStore) OnCreateFile(ctx context.Context, relativePath, contentHash string) error {
	t, err := fs.Stat(s.abs(relativePath))
	if err != nil {
		return errors.E("ObjectStore.OnCreateFile", errors.ErrStorage, err)
	}

	pathType := model.PathTypeFile
	if t == fs.TypeDirectory {
		pathType = model.PathTypeDirectory
	}
	return s.createFile(ctx, relativePath, pathType, contentHash)
}

// OnModifyFile records a new content hash for a path.
func (s *ObjectStore) OnModifyFile(ctx context.Context, relativePath, contentHash string) error {
	s.logger.Debug("modifying object", zap.String("path", relativePath))
	return s.versions.AddVersion(ctx, model.Version{Hash: contentHash}, model.CleanPath(relativePath))
}

// OnRemoveFile turns the record of a path into a tombstone: it loses its
// owner and sharers and is marked deleted.
func (s *ObjectStore) OnRemoveFile(ctx context.Context, relativePath string) error {
	relativePath = model.CleanPath(relativePath)
	s.logger.Debug("removing object", zap.String("path", relativePath))

	err := s.objects.Update(ctx, relativePath, func(obj *model.PathObject) error {
		obj.Owner = nil
		obj.Sharers = []model.Sharer{}
		return nil
	})
	if err != nil {
		return err
	}
	return s.deletes.SetIsDeleted(ctx, relativePath)
}

// OnMoveFile moves the record of oldPath to newPath, keeping its metadata
// and file identifier.
func (s *ObjectStore) OnMoveFile(ctx context.Context, oldPath, newPath string) error {
	oldPath, newPath = model.CleanPath(oldPath), model.CleanPath(newPath)
	s.logger.Debug("moving object", zap.String("from", oldPath), zap.String("to", newPath))

	old, err := s.objects.GetObjectForPath(ctx, oldPath)
	if err != nil {
		return err
	}

	moved := old.Clone()
	moved.Path, moved.Name = model.SplitPath(newPath)

	if err := s.objects.WriteObject(ctx, moved); err != nil {
		return err
	}
	return s.objects.RemoveObject(ctx, s.objects.HashPath(oldPath))
}

// createFile writes a fresh record for relativePath seeded with
// contentHash. The delete history of an earlier record is kept, and the
// sharing state of a shared parent is inherited.
func (s *ObjectStore) createFile(ctx context.Context, relativePath string, pathType model.PathType, contentHash string) error {
	relativePath = model.CleanPath(relativePath)
	s.logger.Debug("creating object", zap.String("path", relativePath))

	obj := model.NewPathObject(relativePath, pathType, model.Version{Hash: contentHash})

	if obj.Path != "" {
		parent, err := s.objects.GetObjectForPath(ctx, obj.Path)
		switch {
		case err == nil:
			if parent.IsShared {
				obj.IsShared = true
				for _, sharer := range parent.Sharers {
					obj.PutSharer(sharer.Clone())
				}
			}
		case errors.IsNotFound(err):
			s.logger.Debug("parent has no object", zap.String("parent", obj.Path))
		default:
			s.logger.Warn("could not read parent to check for sharers",
				zap.String("parent", obj.Path), zap.Error(err))
		}
	}

	existing, err := s.objects.GetObjectForPath(ctx, relativePath)
	switch {
	case err == nil:
		obj.FileID = existing.FileID
		obj.Deleted.DeleteHistory = existing.Deleted.Clone().DeleteHistory
	case !errors.IsNotFound(err):
		return err
	}

	if err := s.objects.WriteObject(ctx, obj); err != nil {
		return err
	}
	return s.deletes.SetIsExistent(ctx, relativePath)
}

func (s *ObjectStore) abs(relativePath string) string {
	return filepath.Join(s.rootDir, filepath.FromSlash(model.CleanPath(relativePath)))
}
