package model

import (
	"strings"
	"testing"

	"asisaid.cn/versync/internal/common/errors"
)

func TestNewPathObject(t *testing.T) {
	obj := NewPathObject("docs/notes/a.txt", PathTypeFile, Version{Hash: "h1"})

	if obj.Name != "a.txt" {
		t.Errorf("Name = %v, want a.txt", obj.Name)
	}
	if obj.Path != "docs/notes" {
		t.Errorf("Path = %v, want docs/notes", obj.Path)
	}
	if obj.AbsolutePath() != "docs/notes/a.txt" {
		t.Errorf("AbsolutePath = %v, want docs/notes/a.txt", obj.AbsolutePath())
	}
	if obj.Deleted.DeleteType != DeleteTypeExistent {
		t.Errorf("DeleteType = %v, want EXISTENT", obj.Deleted.DeleteType)
	}
	if len(obj.Versions) != 1 || obj.Versions[0].Hash != "h1" {
		t.Errorf("Versions = %v, want [h1]", obj.Versions)
	}

	top := NewPathObject("a.txt", PathTypeFile)
	if top.Path != "" || top.AbsolutePath() != "a.txt" {
		t.Errorf("top-level record = %q/%q, want \"\"/a.txt", top.Path, top.Name)
	}
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		in, parent, name string
	}{
		{"a.txt", "", "a.txt"},
		{"dir/a.txt", "dir", "a.txt"},
		{"./dir/sub/", "dir", "sub"},
		{`dir\a.txt`, "dir", "a.txt"},
		{"/a/b/c", "a/b", "c"},
	}
	for _, tt := range tests {
		parent, name := SplitPath(tt.in)
		if parent != tt.parent || name != tt.name {
			t.Errorf("SplitPath(%q) = %q, %q; want %q, %q", tt.in, parent, name, tt.parent, tt.name)
		}
	}
}

func TestAccessType_Rank(t *testing.T) {
	if !(AccessRemoved.Rank() < AccessRead.Rank() && AccessRead.Rank() < AccessWrite.Rank()) {
		t.Error("expected ACCESS_REMOVED < READ < WRITE")
	}
	if AccessType("ADMIN").Rank() != -1 {
		t.Error("unknown access type should rank -1")
	}
	if !AccessWrite.Implies(AccessRead) {
		t.Error("WRITE should imply READ")
	}
	if AccessRead.Implies(AccessWrite) {
		t.Error("READ should not imply WRITE")
	}
	if AccessType("ADMIN").Implies(AccessRemoved) {
		t.Error("unknown access type should imply nothing")
	}
}

func TestParseAccessType(t *testing.T) {
	got, err := ParseAccessType(" write ")
	if err != nil {
		t.Fatalf("ParseAccessType failed: %v", err)
	}
	if got != AccessWrite {
		t.Errorf("ParseAccessType = %v, want WRITE", got)
	}
	if _, err := ParseAccessType("owner"); err == nil {
		t.Error("expected error for unknown access type")
	}
}

func TestPathObject_EncodeKeepsNulls(t *testing.T) {
	obj := NewPathObject("a.txt", PathTypeFile, Version{Hash: "h1"})

	data, err := obj.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	for _, want := range []string{`"owner": null`, `"accessType": null`, `"deleteType": "EXISTENT"`, `"pathType": "FILE"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("encoded record missing %s:\n%s", want, data)
		}
	}

	decoded, err := DecodePathObject(data)
	if err != nil {
		t.Fatalf("DecodePathObject failed: %v", err)
	}
	if decoded.Owner != nil || decoded.AccessType != nil {
		t.Error("null fields should decode as nil")
	}
}

func TestDecodePathObject_Invalid(t *testing.T) {
	_, err := DecodePathObject([]byte("{not json"))
	if !errors.Is(err, errors.ErrInvalidRecord) {
		t.Errorf("error = %v, want ErrInvalidRecord", err)
	}
}

func TestDecodePathObject_FillsEmptyCollections(t *testing.T) {
	obj, err := DecodePathObject([]byte(`{"name":"a","path":"","pathType":"FILE"}`))
	if err != nil {
		t.Fatalf("DecodePathObject failed: %v", err)
	}
	if obj.Sharers == nil || obj.Versions == nil || obj.Deleted.DeleteHistory == nil {
		t.Error("collections should be non-nil after decoding")
	}
	if obj.Deleted.DeleteType != DeleteTypeExistent {
		t.Errorf("DeleteType = %v, want EXISTENT", obj.Deleted.DeleteType)
	}
}

func TestPathObject_Clone(t *testing.T) {
	obj := NewPathObject("a.txt", PathTypeFile, Version{Hash: "h1"})
	obj.SetOwner("alice")
	obj.PutSharer(Sharer{Username: "bob", AccessType: AccessRead, SharingHistory: []string{"x"}})
	obj.Deleted.DeleteHistory = append(obj.Deleted.DeleteHistory, "d1")

	c := obj.Clone()
	*c.Owner = "mallory"
	c.Sharers[0].SharingHistory[0] = "changed"
	c.Deleted.DeleteHistory[0] = "changed"
	c.Versions[0].Hash = "changed"

	if obj.OwnerName() != "alice" {
		t.Errorf("owner = %v, want alice", obj.OwnerName())
	}
	if obj.Sharers[0].SharingHistory[0] != "x" {
		t.Error("sharing history shared with clone")
	}
	if obj.Deleted.DeleteHistory[0] != "d1" {
		t.Error("delete history shared with clone")
	}
	if obj.Versions[0].Hash != "h1" {
		t.Error("versions shared with clone")
	}
}

func TestPathObject_PutSharer(t *testing.T) {
	obj := NewPathObject("a.txt", PathTypeFile)
	obj.PutSharer(Sharer{Username: "carol", AccessType: AccessRead})
	obj.PutSharer(Sharer{Username: "alice", AccessType: AccessRead})
	obj.PutSharer(Sharer{Username: "carol", AccessType: AccessWrite})

	if len(obj.Sharers) != 2 {
		t.Fatalf("len(Sharers) = %d, want 2", len(obj.Sharers))
	}
	if obj.Sharers[0].Username != "alice" {
		t.Errorf("Sharers not sorted: %v", obj.Sharers)
	}
	s, ok := obj.Sharer("carol")
	if !ok || s.AccessType != AccessWrite {
		t.Errorf("carol = %+v, want WRITE", s)
	}
}

func TestPathObject_Versions(t *testing.T) {
	obj := NewPathObject("a.txt", PathTypeFile, Version{"a"}, Version{"b"}, Version{"a"})

	last, ok := obj.LastVersion()
	if !ok || last.Hash != "a" {
		t.Errorf("LastVersion = %v, want a", last)
	}
	if got := obj.LastIndexOfVersion("a"); got != 2 {
		t.Errorf("LastIndexOfVersion(a) = %d, want 2", got)
	}
	if got := obj.LastIndexOfVersion("z"); got != -1 {
		t.Errorf("LastIndexOfVersion(z) = %d, want -1", got)
	}

	empty := NewPathObject("b.txt", PathTypeFile)
	if _, ok := empty.LastVersion(); ok {
		t.Error("empty record should have no last version")
	}
}

func TestIndex(t *testing.T) {
	idx := NewIndex()

	id := idx.AddPath("a.txt", "h1")
	if id == "" {
		t.Fatal("AddPath should assign a file id")
	}
	if again := idx.AddPath("a.txt", "h2"); again != id {
		t.Errorf("file id changed on overwrite: %v -> %v", id, again)
	}
	if h, _ := idx.Hash("a.txt"); h != "h2" {
		t.Errorf("Hash = %v, want h2", h)
	}
	if idx.Len() != 1 {
		t.Errorf("Len = %d, want 1", idx.Len())
	}

	moved := idx.AddPathWithID("b.txt", "h3", id)
	if moved != id {
		t.Errorf("AddPathWithID = %v, want %v", moved, id)
	}

	if explicit := idx.AddPathWithID("a.txt", "h2", "explicit-id"); explicit != "explicit-id" {
		t.Errorf("AddPathWithID = %v, want explicit-id", explicit)
	}

	if p, ok := idx.PathForHash("h3"); !ok || p != "b.txt" {
		t.Errorf("PathForHash(h3) = %v, %v", p, ok)
	}

	idx.RemovePath("a.txt")
	if _, ok := idx.Hash("a.txt"); ok {
		t.Error("path should be removed")
	}
	if _, ok := idx.FileID("a.txt"); ok {
		t.Error("file id should be removed")
	}
}

func TestIndex_ChildrenOf(t *testing.T) {
	idx := NewIndex()
	for _, p := range []string{"dir", "dir/a", "dir/sub", "dir/sub/b", "dirx", "other"} {
		idx.AddPath(p, p)
	}

	got := idx.ChildrenOf("dir")
	want := []string{"dir/a", "dir/sub", "dir/sub/b"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("ChildrenOf(dir) = %v, want %v", got, want)
	}

	if all := idx.ChildrenOf(""); len(all) != 6 {
		t.Errorf("ChildrenOf(root) = %v, want all 6 paths", all)
	}
}

func TestIndex_EncodeDecode(t *testing.T) {
	idx := NewIndex()
	id := idx.AddPath("a.txt", "h1")

	data, err := idx.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := DecodeIndex(data)
	if err != nil {
		t.Fatalf("DecodeIndex failed: %v", err)
	}
	if got, _ := decoded.FileID("a.txt"); got != id {
		t.Errorf("FileID = %v, want %v", got, id)
	}

	legacy, err := DecodeIndex([]byte(`{"paths":{"a.txt":"h1"}}`))
	if err != nil {
		t.Fatalf("DecodeIndex failed: %v", err)
	}
	if legacy.PathIdentifiers == nil {
		t.Error("PathIdentifiers should be initialised")
	}
}
