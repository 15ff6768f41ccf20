package manager

import (
	"context"

	"asisaid.cn/versync/internal/version/model"
)

// VersionManager maintains the version list of a path.
type VersionManager struct {
	objects *ObjectManager
}

// NewVersionManager creates a VersionManager on top of objects.
func NewVersionManager(objects *ObjectManager) *VersionManager {
	return &VersionManager{objects: objects}
}

// GetVersions returns the versions of path, oldest first.
func (v *VersionManager) GetVersions(ctx context.Context, path string) ([]model.Version, error) {
	obj, err := v.objects.GetObjectForPath(ctx, path)
	if err != nil {
		return nil, err
	}
	return obj.Versions, nil
}

// AddVersion appends version to path unless it equals the last version.
func (v *VersionManager) AddVersion(ctx context.Context, version model.Version, path string) error {
	return v.objects.Update(ctx, path, func(obj *model.PathObject) error {
		if last, ok := obj.LastVersion(); ok && last.Hash == version.Hash {
			return ErrNoChange
		}
		obj.Versions = append(obj.Versions, version)
		return nil
	})
}

// RemoveVersion removes the first occurrence of version from path.
func (v *VersionManager) RemoveVersion(ctx context.Context, version model.Version, path string) error {
	return v.objects.Update(ctx, path, func(obj *model.PathObject) error {
		for i, existing := range obj.Versions {
			if existing.Hash == version.Hash {
				obj.Versions = append(obj.Versions[:i], obj.Versions[i+1:]...)
				return nil
			}
		}
		return ErrNoChange
	})
}
