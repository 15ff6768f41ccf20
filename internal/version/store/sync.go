package store

import (
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"asisaid.cn/versync/internal/common/errors"
	"asisaid.cn/versync/internal/fs"
	"asisaid.cn/versync/internal/version/model"
)

// Sync reconciles the records with the watched root. Records of paths that
// are missing on disk go through the delete transition on every pass; every remaining entry is re-hashed and
// created or updated. Ignored entries may be exact relative paths or glob
// patterns; patterns from the root's ignore file are added.
func (s *ObjectStore) Sync(ctx context.Context, ignored []string) (err error) {
	defer func() { s.metrics.ObserveSync(err) }()

	t, err := fs.Stat(s.rootDir)
	if err != nil {
		return errors.E("ObjectStore.Sync", errors.ErrStorage, err)
	}
	if t != fs.TypeDirectory {
		return errors.E("ObjectStore.Sync", errors.ErrNotFound, nil, "root of synchronized folder does not exist")
	}

	filePatterns, err := fs.ParseIgnoreFile(filepath.Join(s.rootDir, fs.IgnoreFileName))
	if err != nil {
		return errors.E("ObjectStore.Sync", errors.ErrInvalidInput, err)
	}
	matcher := fs.NewIgnoreMatcher(append(append([]string{}, ignored...), filePatterns...))

	idx, err := s.objects.GetIndex(ctx)
	if err != nil {
		return err
	}

	removed := 0
	for _, path := range idx.SortedPaths() {
		if fs.Exists(s.abs(path)) {
			continue
		}
		// Tombstones are removed again, every pass extends their delete history
		if err := s.OnRemoveFile(ctx, path); err != nil {
			if errors.IsNotFound(err) {
				continue // removed along with a moved parent
			}
			return err
		}
		removed++
	}

	names, err := fs.ReadDirNames(s.rootDir)
	if err != nil {
		return errors.E("ObjectStore.Sync", errors.ErrStorage, err)
	}
	if len(names) == 0 {
		s.logger.Info("no files in root directory")
	}

	for _, name := range names {
		if err := s.syncChild(ctx, name, matcher); err != nil {
			return err
		}
	}

	total, _ := s.objects.GetIndex(ctx)
	s.logger.Info("synced object store",
		zap.Int("paths", total.Len()),
		zap.Int("removed", removed),
	)
	return nil
}

// SyncFile forces relativePath to be recorded from scratch: its record is
// dropped and created again from the filesystem.
func (s *ObjectStore) SyncFile(ctx context.Context, relativePath string) error {
	relativePath = model.CleanPath(relativePath)
	if !fs.Exists(s.abs(relativePath)) {
		return errors.E("ObjectStore.SyncFile", errors.ErrNotFound, nil, relativePath+" (no such file or directory)")
	}

	err := s.objects.RemoveObject(ctx, s.objects.HashPath(relativePath))
	if err != nil && !errors.IsNotFound(err) {
		return err
	}

	return s.syncChild(ctx, relativePath, nil)
}

// syncChild records relativePath and, for directories, everything below it.
func (s *ObjectStore) syncChild(ctx context.Context, relativePath string, matcher *fs.IgnoreMatcher) error {
	if s.skip(relativePath, matcher) {
		s.logger.Debug("ignoring path", zap.String("path", relativePath))
		return nil
	}

	absPath := s.abs(relativePath)
	hash, err := s.hasher.File(absPath)
	if err != nil {
		s.logger.Error("could not hash path", zap.String("path", relativePath), zap.Error(err))
		return nil
	}

	if err := s.Record(ctx, relativePath, hash); err != nil {
		return err
	}

	t, err := fs.Stat(absPath)
	if err != nil || t != fs.TypeDirectory {
		return nil
	}

	names, err := fs.ReadDirNames(absPath)
	if err != nil {
		s.logger.Warn("could not list directory", zap.String("path", relativePath), zap.Error(err))
		return nil
	}
	for _, name := range names {
		if err := s.syncChild(ctx, relativePath+"/"+name, matcher); err != nil {
			return err
		}
	}
	return nil
}

// Record stores contentHash as the current state of relativePath. Unknown
// paths get a fresh record, live records a new version. A tombstone whose
// path is back on disk is created again instead of modified, so it turns
// EXISTENT while keeping its fileId and delete history.
func (s *ObjectStore) Record(ctx context.Context, relativePath, contentHash string) error {
	relativePath = model.CleanPath(relativePath)
	obj, err := s.objects.GetObjectForPath(ctx, relativePath)
	switch {
	case err == nil && obj.IsDeleted():
		return s.OnCreateFile(ctx, relativePath, contentHash)
	case err == nil:
		return s.OnModifyFile(ctx, relativePath, contentHash)
	case errors.IsNotFound(err):
		s.logger.Debug("no object stored for path, creating", zap.String("path", relativePath))
		return s.OnCreateFile(ctx, relativePath, contentHash)
	default:
		return err
	}
}

// Skips reports whether relativePath is never recorded, either because it
// holds store metadata or because matcher ignores it.
func (s *ObjectStore) Skips(relativePath string, matcher *fs.IgnoreMatcher) bool {
	return s.skip(model.CleanPath(relativePath), matcher)
}

// skip reports whether relativePath is store metadata or ignored.
func (s *ObjectStore) skip(relativePath string, matcher *fs.IgnoreMatcher) bool {
	if s.metaDir != "" && (relativePath == s.metaDir || strings.HasPrefix(relativePath, s.metaDir+"/")) {
		return true
	}

	if backendRoot := s.backend.RootDir(); filepath.IsAbs(backendRoot) && fs.Within(s.rootDir, backendRoot) {
		if fs.Within(backendRoot, s.abs(relativePath)) {
			return true
		}
	}

	return matcher.Match(relativePath)
}
