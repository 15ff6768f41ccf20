// Package integration provides integration tests for the versync system.
package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"asisaid.cn/versync/internal/common/errors"
	"asisaid.cn/versync/internal/service"
	"asisaid.cn/versync/internal/storage"
	"asisaid.cn/versync/internal/version/model"
	"asisaid.cn/versync/internal/version/store"
	httpapi "asisaid.cn/versync/pkg/api/http"
)

// Replica is one synchronized folder with its metadata served over HTTP.
type Replica struct {
	Root    string
	Store   *store.ObjectStore
	Service *service.MetadataService
	Server  *httptest.Server
}

// SetupReplica creates a replica whose records live on the given backend
// kind inside the folder's metadata directory.
func SetupReplica(t *testing.T, backendKind string) *Replica {
	t.Helper()

	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	root := t.TempDir()

	path := filepath.Join(root, ".sync")
	if backendKind == "badger" {
		path = filepath.Join(root, ".sync", "db")
	}
	backend, err := storage.NewBackend(ctx, storage.Options{Type: backendKind, Path: path})
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	st, err := store.New(ctx, root, backend, store.Options{MetaDir: ".sync"})
	if err != nil {
		backend.Close()
		t.Fatalf("failed to create store: %v", err)
	}

	svc := service.NewMetadataService(st, nil, nil)
	router := gin.New()
	httpapi.NewHandler(svc, nil, "").RegisterRoutes(router)
	srv := httptest.NewServer(router)

	r := &Replica{Root: root, Store: st, Service: svc, Server: srv}
	t.Cleanup(r.Cleanup)
	return r
}

// Cleanup stops the server and closes the store.
func (r *Replica) Cleanup() {
	if r.Server != nil {
		r.Server.Close()
	}
	if r.Store != nil {
		r.Store.Close()
	}
}

func (r *Replica) write(t *testing.T, rel, content string) {
	t.Helper()
	p := filepath.Join(r.Root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func (r *Replica) sync(t *testing.T) {
	t.Helper()
	if err := r.Service.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
}

func (r *Replica) mergeFrom(t *testing.T, other *Replica) *store.MergeResult {
	t.Helper()
	result, err := r.Service.Merge(context.Background(), other.Server.URL)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	return result
}

func (r *Replica) record(t *testing.T, path string) *model.PathObject {
	t.Helper()
	obj, err := r.Service.Path(context.Background(), path)
	if err != nil {
		t.Fatalf("Path(%s) failed: %v", path, err)
	}
	return obj
}

func assertPaths(t *testing.T, name string, got store.PathSet, want ...string) {
	t.Helper()
	sorted := got.Sorted()
	if len(sorted) != len(want) {
		t.Errorf("%s = %v, want %v", name, sorted, want)
		return
	}
	for i := range want {
		if sorted[i] != want[i] {
			t.Errorf("%s = %v, want %v", name, sorted, want)
			return
		}
	}
}

func TestReplicas_HealthCheck(t *testing.T) {
	a := SetupReplica(t, "local_fs")

	resp, err := http.Get(a.Server.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %v, want %v", resp.StatusCode, http.StatusOK)
	}
}

func TestReplicas_Lifecycle(t *testing.T) {
	for _, kind := range []string{"local_fs", "badger"} {
		t.Run(kind, func(t *testing.T) {
			a := SetupReplica(t, kind)
			b := SetupReplica(t, "local_fs")

			// a creates a file, b learns about it
			a.write(t, "docs/report.txt", "v1")
			a.sync(t)

			result := b.mergeFrom(t, a)
			assertPaths(t, "changed", result.Changed, "docs", "docs/report.txt")
			assertPaths(t, "conflict", result.Conflict)

			// b fetches the content out of band and records it
			b.write(t, "docs/report.txt", "v1")
			b.sync(t)
			if got := len(b.record(t, "docs/report.txt").Versions); got != 1 {
				t.Errorf("len(versions) = %v, want 1", got)
			}

			// a edits, b is behind
			a.write(t, "docs/report.txt", "v2")
			a.sync(t)

			result = b.mergeFrom(t, a)
			assertPaths(t, "changed", result.Changed, "docs/report.txt")

			want := a.record(t, "docs/report.txt").Versions
			got := b.record(t, "docs/report.txt").Versions
			if len(got) != len(want) || got[len(got)-1] != want[len(want)-1] {
				t.Errorf("versions = %v, want %v", got, want)
			}

			// Merging back changes nothing on a
			result = a.mergeFrom(t, b)
			assertPaths(t, "changed", result.Changed)
			assertPaths(t, "deleted", result.Deleted)
			assertPaths(t, "conflict", result.Conflict)

			// b deletes, a applies the deletion
			b.write(t, "docs/report.txt", "v2")
			b.sync(t)
			if err := os.Remove(filepath.Join(b.Root, "docs", "report.txt")); err != nil {
				t.Fatalf("remove failed: %v", err)
			}
			b.sync(t)

			result = a.mergeFrom(t, b)
			assertPaths(t, "deleted", result.Deleted, "docs/report.txt")
			if !a.record(t, "docs/report.txt").IsDeleted() {
				t.Error("record should be a tombstone")
			}
		})
	}
}

func TestReplicas_Conflict(t *testing.T) {
	a := SetupReplica(t, "local_fs")
	b := SetupReplica(t, "local_fs")

	a.write(t, "notes.txt", "base")
	a.sync(t)
	b.write(t, "notes.txt", "base")
	b.sync(t)

	a.write(t, "notes.txt", "from a")
	a.sync(t)
	b.write(t, "notes.txt", "from b")
	b.sync(t)

	result := a.mergeFrom(t, b)
	assertPaths(t, "conflict", result.Conflict, "notes.txt")
	assertPaths(t, "changed", result.Changed)

	// A conflict leaves the local history alone
	versions := a.record(t, "notes.txt").Versions
	if len(versions) != 2 {
		t.Errorf("len(versions) = %v, want 2", len(versions))
	}
}

func TestReplicas_SharingTravels(t *testing.T) {
	ctx := context.Background()
	a := SetupReplica(t, "local_fs")
	b := SetupReplica(t, "local_fs")

	a.write(t, "shared/plan.txt", "p")
	a.sync(t)
	b.write(t, "shared/plan.txt", "p")
	b.sync(t)

	if err := a.Service.Share(ctx, "shared/plan.txt", "bob", "WRITE"); err != nil {
		t.Fatalf("Share failed: %v", err)
	}
	if err := a.Service.SetOwner(ctx, "shared/plan.txt", "alice"); err != nil {
		t.Fatalf("SetOwner failed: %v", err)
	}

	if result := b.mergeFrom(t, a); !result.Empty() {
		t.Errorf("sharing alone should not classify paths, got %+v", result)
	}

	obj := b.record(t, "shared/plan.txt")
	sharer, ok := obj.Sharer("bob")
	if !ok || sharer.AccessType != model.AccessWrite {
		t.Errorf("sharer bob = %+v, %v", sharer, ok)
	}
	if obj.OwnerName() != "alice" {
		t.Errorf("owner = %v, want alice", obj.OwnerName())
	}
}

func TestReplicas_UnreachablePeer(t *testing.T) {
	a := SetupReplica(t, "local_fs")
	b := SetupReplica(t, "local_fs")
	b.Server.Close()

	_, err := a.Service.Merge(context.Background(), b.Server.URL)
	if !errors.IsStorage(err) {
		t.Errorf("Merge error = %v, want storage error", err)
	}
}
