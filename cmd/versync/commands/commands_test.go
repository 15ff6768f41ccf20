package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asisaid.cn/versync/internal/version/model"
	"asisaid.cn/versync/internal/version/store"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

func TestCommands(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "a")
	writeFile(t, root, "dir/b.txt", "b")
	writeFile(t, root, "skip.tmp", "x")

	t.Run("sync", func(t *testing.T) {
		out, err := run(t, "sync", "--root", root, "--ignore", "*.tmp")
		require.NoError(t, err)
		assert.Contains(t, out, "Synced 3 paths")
	})

	t.Run("show", func(t *testing.T) {
		out, err := run(t, "show", "--root", root, "dir/b.txt")
		require.NoError(t, err)

		var obj model.PathObject
		require.NoError(t, json.Unmarshal([]byte(out), &obj))
		assert.Equal(t, "b.txt", obj.Name)
		assert.Equal(t, "dir", obj.Path)
	})

	t.Run("show unknown path", func(t *testing.T) {
		_, err := run(t, "show", "--root", root, "skip.tmp")
		assert.Error(t, err)
	})

	t.Run("children", func(t *testing.T) {
		out, err := run(t, "children", "--root", root, "--paths")
		require.NoError(t, err)

		var paths []string
		require.NoError(t, json.Unmarshal([]byte(out), &paths))
		assert.ElementsMatch(t, []string{"a.txt", "dir", "dir/b.txt"}, paths)
	})

	t.Run("share and owner", func(t *testing.T) {
		_, err := run(t, "share", "--root", root, "a.txt", "bob", "write")
		require.NoError(t, err)
		_, err = run(t, "owner", "--root", root, "a.txt", "alice")
		require.NoError(t, err)

		out, err := run(t, "owner", "--root", root, "a.txt")
		require.NoError(t, err)
		assert.Equal(t, "alice", strings.TrimSpace(out))

		_, err = run(t, "unshare", "--root", root, "a.txt", "bob")
		require.NoError(t, err)

		out, err = run(t, "owner", "--root", root, "a.txt")
		require.NoError(t, err)
		assert.Equal(t, "", strings.TrimSpace(out), "owner goes with the last sharer")

		_, err = run(t, "share", "--root", root, "a.txt", "bob", "admin")
		assert.Error(t, err)
	})

	t.Run("merge local replica", func(t *testing.T) {
		other := t.TempDir()
		writeFile(t, other, "new.txt", "new")
		_, err := run(t, "sync", "--root", other)
		require.NoError(t, err)

		out, err := run(t, "merge", "--root", root, "--local", other)
		require.NoError(t, err)

		var result store.MergeResult
		require.NoError(t, json.Unmarshal([]byte(out), &result))
		assert.True(t, result.Changed.Has("new.txt"))
		assert.Empty(t, result.Conflict)
	})

	t.Run("clear", func(t *testing.T) {
		_, err := run(t, "clear", "--root", root)
		assert.Error(t, err, "requires --force")

		out, err := run(t, "clear", "--root", root, "--force")
		require.NoError(t, err)
		assert.Contains(t, out, "Cleared")

		out, err = run(t, "children", "--root", root, "--paths")
		require.NoError(t, err)
		assert.JSONEq(t, "[]", out)
	})
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "versync dev")
}

func TestUnknownBackend(t *testing.T) {
	_, err := run(t, "sync", "--root", t.TempDir(), "--backend", "tape")
	assert.Error(t, err)
}
