package manager

import (
	"context"

	"asisaid.cn/versync/internal/version/history"
	"asisaid.cn/versync/internal/version/model"
)

// DeleteManager maintains the delete state of a path. Every transition,
// including a self-transition, extends the delete history by one entry.
type DeleteManager struct {
	objects *ObjectManager
}

// NewDeleteManager creates a DeleteManager on top of objects.
func NewDeleteManager(objects *ObjectManager) *DeleteManager {
	return &DeleteManager{objects: objects}
}

// GetDelete returns the delete state of path and its history.
func (d *DeleteManager) GetDelete(ctx context.Context, path string) (model.Delete, error) {
	obj, err := d.objects.GetObjectForPath(ctx, path)
	if err != nil {
		return model.Delete{}, err
	}
	return obj.Deleted, nil
}

// SetIsDeleted marks path as deleted.
func (d *DeleteManager) SetIsDeleted(ctx context.Context, path string) error {
	return d.addChange(ctx, path, model.DeleteTypeDeleted)
}

// SetIsExistent marks path as existent.
func (d *DeleteManager) SetIsExistent(ctx context.Context, path string) error {
	return d.addChange(ctx, path, model.DeleteTypeExistent)
}

func (d *DeleteManager) addChange(ctx context.Context, path string, deleteType model.DeleteType) error {
	h := d.objects.Hasher()
	return d.objects.Update(ctx, path, func(obj *model.PathObject) error {
		obj.Deleted.DeleteType = deleteType
		obj.Deleted.DeleteHistory = history.Append(h, obj.Deleted.DeleteHistory, string(deleteType))
		return nil
	})
}
