package manager

import (
	"context"

	"asisaid.cn/versync/internal/common/errors"
	"asisaid.cn/versync/internal/version/history"
	"asisaid.cn/versync/internal/version/model"
)

// SharerManager maintains the sharers and the owner of a path.
type SharerManager struct {
	objects *ObjectManager
}

// NewSharerManager creates a SharerManager on top of objects.
func NewSharerManager(objects *ObjectManager) *SharerManager {
	return &SharerManager{objects: objects}
}

// GetSharer returns the sharers of path, sorted by username.
func (s *SharerManager) GetSharer(ctx context.Context, path string) ([]model.Sharer, error) {
	obj, err := s.objects.GetObjectForPath(ctx, path)
	if err != nil {
		return nil, err
	}
	return obj.Sharers, nil
}

// AddSharer shares path with username. Sharing again with a known user
// records an access transition on that user's history.
func (s *SharerManager) AddSharer(ctx context.Context, username string, accessType model.AccessType, path string) error {
	if username == "" {
		return errors.E("SharerManager.AddSharer", errors.ErrInvalidInput, nil, "empty username")
	}
	if !accessType.Valid() {
		return errors.E("SharerManager.AddSharer", errors.ErrInvalidInput, nil, "unknown access type "+string(accessType))
	}

	h := s.objects.Hasher()
	return s.objects.Update(ctx, path, func(obj *model.PathObject) error {
		sharer := model.Sharer{
			Username:       username,
			AccessType:     accessType,
			SharingHistory: history.Seed(h, string(accessType)),
		}
		if existing, ok := obj.Sharer(username); ok {
			sharer.SharingHistory = history.Append(h, existing.SharingHistory, string(accessType))
		}

		obj.IsShared = true
		obj.PutSharer(sharer)
		return nil
	})
}

// RemoveSharer revokes the access of username on path. The sharer stays in
// the set with ACCESS_REMOVED. When no other sharer keeps access, the path
// is no longer shared and loses its owner.
func (s *SharerManager) RemoveSharer(ctx context.Context, username string, path string) error {
	h := s.objects.Hasher()
	return s.objects.Update(ctx, path, func(obj *model.PathObject) error {
		sharer, ok := obj.Sharer(username)
		if !ok {
			return errors.E("SharerManager.RemoveSharer", errors.ErrSharerNotFound, nil, username)
		}

		sharer.SharingHistory = history.Append(h, sharer.SharingHistory, string(model.AccessRemoved))
		sharer.AccessType = model.AccessRemoved

		for _, other := range obj.Sharers {
			if other.Username != username && other.AccessType != model.AccessRemoved {
				return nil
			}
		}
		obj.IsShared = false
		obj.Owner = nil
		return nil
	})
}

// AddOwner sets the owner of path.
func (s *SharerManager) AddOwner(ctx context.Context, username string, path string) error {
	if username == "" {
		return errors.E("SharerManager.AddOwner", errors.ErrInvalidInput, nil, "empty username")
	}
	return s.objects.Update(ctx, path, func(obj *model.PathObject) error {
		obj.SetOwner(username)
		return nil
	})
}

// RemoveOwner clears the owner of path.
func (s *SharerManager) RemoveOwner(ctx context.Context, path string) error {
	return s.objects.Update(ctx, path, func(obj *model.PathObject) error {
		obj.Owner = nil
		return nil
	})
}

// GetOwner returns the owner of path, or "" when it has none.
func (s *SharerManager) GetOwner(ctx context.Context, path string) (string, error) {
	obj, err := s.objects.GetObjectForPath(ctx, path)
	if err != nil {
		return "", err
	}
	return obj.OwnerName(), nil
}
