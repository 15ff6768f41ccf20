package store

import (
	"context"

	"go.uber.org/zap"

	"asisaid.cn/versync/internal/common/errors"
	"asisaid.cn/versync/internal/fs"
	"asisaid.cn/versync/internal/version/history"
	"asisaid.cn/versync/internal/version/manager"
	"asisaid.cn/versync/internal/version/model"
)

// MergeObjectStore merges another local store into this one.
func (s *ObjectStore) MergeObjectStore(ctx context.Context, other *ObjectStore) (*MergeResult, error) {
	return s.Merge(ctx, other.ObjectManager())
}

// Merge reconciles this store against every path of other and reports
// which paths changed, were deleted or conflict. Records are updated in
// place; file content is never touched.
//
// The merge is not atomic as a whole. Neither store may be mutated while it
// runs.
func (s *ObjectStore) Merge(ctx context.Context, other manager.Source) (*MergeResult, error) {
	result := NewMergeResult()

	ours, err := s.objects.GetIndex(ctx)
	if err != nil {
		return nil, err
	}
	theirs, err := other.GetIndex(ctx)
	if err != nil {
		return nil, errors.Wrap("ObjectStore.Merge", err)
	}

	for _, path := range theirs.SortedPaths() {
		hash, _ := theirs.Hash(path)
		otherObj, err := other.GetObject(ctx, hash)
		if err != nil {
			return nil, errors.E("ObjectStore.Merge", nil, err, path)
		}

		if _, ok := ours.Hash(path); ok {
			err = s.mergeExisting(ctx, path, otherObj, result)
		} else {
			err = s.mergeMissing(ctx, path, otherObj, result)
		}
		if err != nil {
			return nil, err
		}
	}

	s.metrics.ObserveMerge(len(result.Changed), len(result.Deleted), len(result.Conflict))
	s.logger.Info("merged object store",
		zap.Int("paths", theirs.Len()),
		zap.Strings("changed", result.Changed.Sorted()),
		zap.Strings("deleted", result.Deleted.Sorted()),
		zap.Strings("conflict", result.Conflict.Sorted()),
	)
	return result, nil
}

// mergeMissing handles a path only the other side knows about.
func (s *ObjectStore) mergeMissing(ctx context.Context, path string, otherObj *model.PathObject, result *MergeResult) error {
	if otherObj.IsDeleted() {
		// Keep the tombstone, there is nothing to fetch
		if err := s.objects.WriteObject(ctx, otherObj.Clone()); err != nil {
			return err
		}
		result.Deleted.Add(path)
		return nil
	}

	if len(otherObj.Versions) == 0 {
		if err := s.objects.WriteObject(ctx, otherObj.Clone()); err != nil {
			return err
		}
		result.Changed.Add(path)
		return nil
	}

	if err := s.replay(ctx, path, otherObj); err != nil {
		s.logger.Warn("skipping path, could not replay versions",
			zap.String("path", path), zap.Error(err))
		return nil
	}
	result.Changed.Add(path)
	return nil
}

// replay recreates a remote record locally, version by version.
func (s *ObjectStore) replay(ctx context.Context, path string, otherObj *model.PathObject) error {
	t, err := fs.Stat(s.abs(path))
	if err != nil {
		return err
	}
	if (t == fs.TypeDirectory && otherObj.PathType != model.PathTypeDirectory) ||
		(t == fs.TypeFile && otherObj.PathType != model.PathTypeFile) {
		return errors.E("ObjectStore.replay", errors.ErrTypeMismatch, nil,
			path+" is "+string(otherObj.PathType)+" remotely")
	}

	for i, v := range otherObj.Versions {
		if i == 0 {
			err = s.createFile(ctx, path, otherObj.PathType, v.Hash)
		} else {
			err = s.OnModifyFile(ctx, path, v.Hash)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// mergeExisting reconciles a path both sides know about.
func (s *ObjectStore) mergeExisting(ctx context.Context, path string, otherObj *model.PathObject, result *MergeResult) error {
	ourObj, err := s.objects.GetObjectForPath(ctx, path)
	if err != nil {
		return err
	}

	relation := s.comparator.Compare(ourObj.Deleted.DeleteHistory, otherObj.Deleted.DeleteHistory)
	if ourObj.Deleted.DeleteType != otherObj.Deleted.DeleteType {
		switch relation {
		case history.Ahead:
			ourObj.Deleted = otherObj.Deleted.Clone()
			if ourObj.IsDeleted() {
				ourObj.Owner = nil
				ourObj.Sharers = []model.Sharer{}
				result.Deleted.Add(path)
			} else {
				// Back to life, the content must be fetched again
				result.Changed.Add(path)
			}
			return s.objects.WriteObject(ctx, ourObj)
		case history.Tie:
			s.logger.Warn("delete states disagree with equally long histories, leaving unchanged",
				zap.String("path", path),
				zap.String("local", string(ourObj.Deleted.DeleteType)),
				zap.String("remote", string(otherObj.Deleted.DeleteType)),
			)
		}
	} else if relation == history.Ahead {
		ourObj.Deleted = otherObj.Deleted.Clone()
	}

	s.mergeVersions(path, ourObj, otherObj, result)
	s.mergeSharers(ourObj, otherObj)

	if ourObj.Owner == nil && otherObj.Owner != nil {
		ourObj.SetOwner(*otherObj.Owner)
	}

	return s.objects.WriteObject(ctx, ourObj)
}

func (s *ObjectStore) mergeVersions(path string, ourObj, otherObj *model.PathObject, result *MergeResult) {
	lastLocal, ok := ourObj.LastVersion()
	if !ok {
		if len(otherObj.Versions) > 0 {
			ourObj.Versions = append([]model.Version{}, otherObj.Versions...)
			result.Changed.Add(path)
		}
		return
	}

	if idx := otherObj.LastIndexOfVersion(lastLocal.Hash); idx >= 0 {
		if idx < len(otherObj.Versions)-1 {
			ourObj.Versions = append(ourObj.Versions, otherObj.Versions[idx+1:]...)
			result.Changed.Add(path)
		}
		return
	}

	if len(otherObj.Versions) == 0 {
		return
	}
	if ourObj.PathType == model.PathTypeDirectory || otherObj.PathType == model.PathTypeDirectory {
		return
	}
	result.Conflict.Add(path)
}

// mergeSharers keeps the longer history of every common sharer and adds
// the sharers only the other side knows.
func (s *ObjectStore) mergeSharers(ourObj, otherObj *model.PathObject) {
	for _, otherSharer := range otherObj.Sharers {
		ourSharer, ok := ourObj.Sharer(otherSharer.Username)
		if !ok {
			ourObj.PutSharer(otherSharer.Clone())
			continue
		}
		if s.comparator.Compare(ourSharer.SharingHistory, otherSharer.SharingHistory) == history.Ahead {
			ourSharer.SharingHistory = otherSharer.Clone().SharingHistory
		}
	}
}
