package manager

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asisaid.cn/versync/internal/common/errors"
	"asisaid.cn/versync/internal/common/hashing"
	"asisaid.cn/versync/internal/storage"
	"asisaid.cn/versync/internal/version/history"
	"asisaid.cn/versync/internal/version/model"
)

func newTestManager(t *testing.T) (*ObjectManager, *storage.MemoryBackend) {
	t.Helper()
	backend := storage.NewMemoryBackend("test")
	m, err := NewObjectManager(context.Background(), backend, Options{
		IndexFile: "index.json",
		ObjectDir: "object",
	})
	require.NoError(t, err)
	return m, backend
}

// flakyIndexBackend fails every index write while failIndex is set.
type flakyIndexBackend struct {
	*storage.MemoryBackend
	failIndex bool
}

func (b *flakyIndexBackend) Persist(ctx context.Context, kind storage.Kind, key string, data []byte) error {
	if b.failIndex && key == "index.json" {
		return errors.E("flakyIndexBackend.Persist", errors.ErrStorage, nil, key)
	}
	return b.MemoryBackend.Persist(ctx, kind, key, data)
}

func newFlakyManager(t *testing.T) (*ObjectManager, *flakyIndexBackend) {
	t.Helper()
	backend := &flakyIndexBackend{MemoryBackend: storage.NewMemoryBackend("test")}
	m, err := NewObjectManager(context.Background(), backend, Options{
		IndexFile: "index.json",
		ObjectDir: "object",
	})
	require.NoError(t, err)
	return m, backend
}

func TestNewObjectManager_BootstrapsIndex(t *testing.T) {
	ctx := context.Background()
	m, backend := newTestManager(t)

	exists, err := backend.Exists(ctx, storage.KindFile, "index.json")
	require.NoError(t, err)
	assert.True(t, exists, "index should be persisted on first run")

	idx, err := m.GetIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
}

func TestNewObjectManager_LoadsExistingIndex(t *testing.T) {
	ctx := context.Background()
	m, backend := newTestManager(t)
	require.NoError(t, m.WriteObject(ctx, model.NewPathObject("a.txt", model.PathTypeFile, model.Version{Hash: "h1"})))

	reopened, err := NewObjectManager(ctx, backend, Options{})
	require.NoError(t, err)

	obj, err := reopened.GetObjectForPath(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "h1", obj.Versions[0].Hash)
}

func TestNewObjectManager_CorruptIndex(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend("test")
	require.NoError(t, backend.Persist(ctx, storage.KindFile, "index.json", []byte("{broken")))

	_, err := NewObjectManager(ctx, backend, Options{})
	assert.ErrorIs(t, err, errors.ErrInvalidRecord)
}

func TestObjectManager_WriteAndGet(t *testing.T) {
	ctx := context.Background()
	m, backend := newTestManager(t)

	obj := model.NewPathObject("docs/a.txt", model.PathTypeFile, model.Version{Hash: "h1"})
	obj.SetOwner("alice")
	require.NoError(t, m.WriteObject(ctx, obj))
	require.NotEmpty(t, obj.FileID)

	hash := m.HashPath("docs/a.txt")
	got, err := m.GetObject(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, obj, got)

	// Stored at object/<h[0:2]>/<h[2:]>/<h>.json
	key := "object/" + hash[:2] + "/" + hash[2:] + "/" + hash + ".json"
	exists, err := backend.Exists(ctx, storage.KindFile, key)
	require.NoError(t, err)
	assert.True(t, exists, "record should be stored at %s", key)

	byPath, err := m.GetObjectForPath(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, obj, byPath)
}

func TestObjectManager_OverwriteKeepsFileID(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	first := model.NewPathObject("a.txt", model.PathTypeFile, model.Version{Hash: "h1"})
	require.NoError(t, m.WriteObject(ctx, first))

	second := model.NewPathObject("a.txt", model.PathTypeFile, model.Version{Hash: "h2"})
	require.NoError(t, m.WriteObject(ctx, second))

	assert.Equal(t, first.FileID, second.FileID)

	idx, err := m.GetIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())
}

func TestObjectManager_GetMissing(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	_, err := m.GetObject(ctx, m.HashPath("missing"))
	assert.True(t, errors.IsNotFound(err), "got %v", err)

	_, err = m.GetObjectForPath(ctx, "missing")
	assert.True(t, errors.IsNotFound(err), "got %v", err)
}

func TestObjectManager_RemoveObject(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	require.NoError(t, m.WriteObject(ctx, model.NewPathObject("a.txt", model.PathTypeFile)))
	hash := m.HashPath("a.txt")

	require.NoError(t, m.RemoveObject(ctx, hash))

	_, err := m.GetObject(ctx, hash)
	assert.True(t, errors.IsNotFound(err), "got %v", err)

	idx, err := m.GetIndex(ctx)
	require.NoError(t, err)
	_, ok := idx.Hash("a.txt")
	assert.False(t, ok)
	_, ok = idx.FileID("a.txt")
	assert.False(t, ok)

	err = m.RemoveObject(ctx, hash)
	assert.True(t, errors.IsNotFound(err), "removing twice should fail, got %v", err)
}

func TestObjectManager_GetChildren(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	for _, p := range []string{"dir", "dir/a", "dir/sub", "dir/sub/b", "dirx"} {
		require.NoError(t, m.WriteObject(ctx, model.NewPathObject(p, model.PathTypeFile)))
	}

	children, err := m.GetChildren(ctx, "dir")
	require.NoError(t, err)

	var paths []string
	for _, c := range children {
		paths = append(paths, c.AbsolutePath())
	}
	assert.Equal(t, []string{"dir/a", "dir/sub", "dir/sub/b"}, paths)
}

func TestObjectManager_Clear(t *testing.T) {
	ctx := context.Background()
	m, backend := newTestManager(t)

	require.NoError(t, m.WriteObject(ctx, model.NewPathObject("a.txt", model.PathTypeFile)))
	require.NoError(t, m.Clear(ctx))

	idx, err := m.GetIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())

	exists, err := backend.Exists(ctx, storage.KindDirectory, "object")
	require.NoError(t, err)
	assert.False(t, exists)

	// Clearing an empty store is fine
	require.NoError(t, m.Clear(ctx))
}

func TestObjectManager_GetIndexIsSnapshot(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	idx, err := m.GetIndex(ctx)
	require.NoError(t, err)
	idx.AddPath("ghost", "x")

	again, err := m.GetIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Len())
}

func TestVersionManager(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	vm := NewVersionManager(m)

	require.NoError(t, m.WriteObject(ctx, model.NewPathObject("a.txt", model.PathTypeFile, model.Version{Hash: "h1"})))

	require.NoError(t, vm.AddVersion(ctx, model.Version{Hash: "h2"}, "a.txt"))
	require.NoError(t, vm.AddVersion(ctx, model.Version{Hash: "h2"}, "a.txt"))

	versions, err := vm.GetVersions(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, []model.Version{{Hash: "h1"}, {Hash: "h2"}}, versions)

	require.NoError(t, vm.RemoveVersion(ctx, model.Version{Hash: "h1"}, "a.txt"))
	versions, err = vm.GetVersions(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, []model.Version{{Hash: "h2"}}, versions)

	require.NoError(t, vm.RemoveVersion(ctx, model.Version{Hash: "nope"}, "a.txt"))

	err = vm.AddVersion(ctx, model.Version{Hash: "h3"}, "missing.txt")
	assert.True(t, errors.IsNotFound(err), "got %v", err)
}

func TestDeleteManager(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	dm := NewDeleteManager(m)
	h := m.Hasher()

	require.NoError(t, m.WriteObject(ctx, model.NewPathObject("a.txt", model.PathTypeFile)))

	steps := []struct {
		apply func(context.Context, string) error
		want  model.DeleteType
	}{
		{dm.SetIsExistent, model.DeleteTypeExistent},
		{dm.SetIsDeleted, model.DeleteTypeDeleted},
		{dm.SetIsDeleted, model.DeleteTypeDeleted},
		{dm.SetIsExistent, model.DeleteTypeExistent},
	}

	var chain []string
	for i, step := range steps {
		require.NoError(t, step.apply(ctx, "a.txt"))

		d, err := dm.GetDelete(ctx, "a.txt")
		require.NoError(t, err)
		assert.Equal(t, step.want, d.DeleteType)
		assert.Len(t, d.DeleteHistory, i+1, "each transition adds exactly one entry")

		chain = history.Append(h, chain, string(step.want))
		assert.Equal(t, chain, d.DeleteHistory)
	}
}

func TestSharerManager(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	sm := NewSharerManager(m)
	h := m.Hasher()

	require.NoError(t, m.WriteObject(ctx, model.NewPathObject("a.txt", model.PathTypeFile)))

	t.Run("AddSharer", func(t *testing.T) {
		require.NoError(t, sm.AddSharer(ctx, "bob", model.AccessWrite, "a.txt"))
		require.NoError(t, sm.AddSharer(ctx, "carol", model.AccessRead, "a.txt"))

		sharers, err := sm.GetSharer(ctx, "a.txt")
		require.NoError(t, err)
		require.Len(t, sharers, 2)
		assert.Equal(t, "bob", sharers[0].Username)
		assert.Equal(t, []string{h.String("WRITE")}, sharers[0].SharingHistory)

		obj, err := m.GetObjectForPath(ctx, "a.txt")
		require.NoError(t, err)
		assert.True(t, obj.IsShared)
	})

	t.Run("AddSharer again records transition", func(t *testing.T) {
		require.NoError(t, sm.AddSharer(ctx, "carol", model.AccessWrite, "a.txt"))

		sharers, err := sm.GetSharer(ctx, "a.txt")
		require.NoError(t, err)
		require.Len(t, sharers, 2)
		assert.Equal(t, model.AccessWrite, sharers[1].AccessType)
		assert.Len(t, sharers[1].SharingHistory, 2)
	})

	t.Run("AddSharer invalid", func(t *testing.T) {
		err := sm.AddSharer(ctx, "dave", model.AccessType("ROOT"), "a.txt")
		assert.ErrorIs(t, err, errors.ErrInvalidInput)
		err = sm.AddSharer(ctx, "", model.AccessRead, "a.txt")
		assert.ErrorIs(t, err, errors.ErrInvalidInput)
	})

	t.Run("Owner", func(t *testing.T) {
		require.NoError(t, sm.AddOwner(ctx, "alice", "a.txt"))
		owner, err := sm.GetOwner(ctx, "a.txt")
		require.NoError(t, err)
		assert.Equal(t, "alice", owner)
	})

	t.Run("RemoveSharer keeps share while others have access", func(t *testing.T) {
		require.NoError(t, sm.RemoveSharer(ctx, "bob", "a.txt"))

		obj, err := m.GetObjectForPath(ctx, "a.txt")
		require.NoError(t, err)
		assert.True(t, obj.IsShared)
		assert.Equal(t, "alice", obj.OwnerName())

		bob, ok := obj.Sharer("bob")
		require.True(t, ok)
		assert.Equal(t, model.AccessRemoved, bob.AccessType)
		assert.Len(t, bob.SharingHistory, 2)
	})

	t.Run("RemoveSharer of last active sharer unshares", func(t *testing.T) {
		require.NoError(t, sm.RemoveSharer(ctx, "carol", "a.txt"))

		obj, err := m.GetObjectForPath(ctx, "a.txt")
		require.NoError(t, err)
		assert.False(t, obj.IsShared)
		assert.Nil(t, obj.Owner)
		assert.Len(t, obj.Sharers, 2)
	})

	t.Run("RemoveSharer unknown", func(t *testing.T) {
		err := sm.RemoveSharer(ctx, "zed", "a.txt")
		assert.ErrorIs(t, err, errors.ErrSharerNotFound)
	})

	t.Run("RemoveOwner", func(t *testing.T) {
		require.NoError(t, sm.AddOwner(ctx, "alice", "a.txt"))
		require.NoError(t, sm.RemoveOwner(ctx, "a.txt"))
		owner, err := sm.GetOwner(ctx, "a.txt")
		require.NoError(t, err)
		assert.Empty(t, owner)
	})
}

func TestObjectManager_Hashing(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend("test")
	m, err := NewObjectManager(ctx, backend, Options{Hasher: hashing.MustNew(hashing.MD5)})
	require.NoError(t, err)

	require.NoError(t, m.WriteObject(ctx, model.NewPathObject("a.txt", model.PathTypeFile)))
	assert.Len(t, m.HashPath("a.txt"), 32)

	_, err = m.GetObject(ctx, m.HashPath("a.txt"))
	require.NoError(t, err)
}

func TestObjectManager_WriteRollsBackOnIndexFailure(t *testing.T) {
	ctx := context.Background()
	m, backend := newFlakyManager(t)

	require.NoError(t, m.WriteObject(ctx, model.NewPathObject("a.txt", model.PathTypeFile, model.Version{Hash: "h1"})))
	backend.failIndex = true

	t.Run("existing path keeps its record", func(t *testing.T) {
		obj, err := m.GetObjectForPath(ctx, "a.txt")
		require.NoError(t, err)
		obj.Versions = append(obj.Versions, model.Version{Hash: "h2"})

		err = m.WriteObject(ctx, obj)
		assert.True(t, errors.IsStorage(err), "got %v", err)

		stored, err := m.GetObjectForPath(ctx, "a.txt")
		require.NoError(t, err)
		assert.Equal(t, []model.Version{{Hash: "h1"}}, stored.Versions)
	})

	t.Run("new path leaves nothing behind", func(t *testing.T) {
		err := m.WriteObject(ctx, model.NewPathObject("b.txt", model.PathTypeFile))
		assert.True(t, errors.IsStorage(err), "got %v", err)

		idx, err := m.GetIndex(ctx)
		require.NoError(t, err)
		_, ok := idx.Hash("b.txt")
		assert.False(t, ok)

		_, err = m.GetObject(ctx, m.HashPath("b.txt"))
		assert.True(t, errors.IsNotFound(err), "got %v", err)
	})
}

func TestObjectManager_RemoveKeepsRecordOnIndexFailure(t *testing.T) {
	ctx := context.Background()
	m, backend := newFlakyManager(t)

	require.NoError(t, m.WriteObject(ctx, model.NewPathObject("a.txt", model.PathTypeFile, model.Version{Hash: "h1"})))
	backend.failIndex = true

	err := m.RemoveObject(ctx, m.HashPath("a.txt"))
	assert.True(t, errors.IsStorage(err), "got %v", err)

	obj, err := m.GetObjectForPath(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, []model.Version{{Hash: "h1"}}, obj.Versions)

	backend.failIndex = false
	require.NoError(t, m.RemoveObject(ctx, m.HashPath("a.txt")))
	_, err = m.GetObjectForPath(ctx, "a.txt")
	assert.True(t, errors.IsNotFound(err), "got %v", err)
}

func TestManagers_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	require.NoError(t, m.WriteObject(ctx, model.NewPathObject("f.txt", model.PathTypeFile, model.Version{Hash: "h0"})))

	versions := NewVersionManager(m)
	deletes := NewDeleteManager(m)
	sharers := NewSharerManager(m)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, 3*n)
	for i := 0; i < n; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			errs <- versions.AddVersion(ctx, model.Version{Hash: fmt.Sprintf("h%d", i+1)}, "f.txt")
		}(i)
		go func() {
			defer wg.Done()
			errs <- deletes.SetIsExistent(ctx, "f.txt")
		}()
		go func(i int) {
			defer wg.Done()
			errs <- sharers.AddSharer(ctx, fmt.Sprintf("user%02d", i), model.AccessRead, "f.txt")
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	obj, err := m.GetObjectForPath(ctx, "f.txt")
	require.NoError(t, err)
	assert.Len(t, obj.Versions, n+1)
	assert.Len(t, obj.Deleted.DeleteHistory, n)
	assert.Len(t, obj.Sharers, n)
	assert.True(t, obj.IsShared)
}
