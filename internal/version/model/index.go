package model

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"

	"asisaid.cn/versync/internal/common/errors"
)

// Index maps every known path to the hash locating its record, and to the
// stable file identifier assigned on first write.
type Index struct {
	Paths           map[string]string `json:"paths"`
	PathIdentifiers map[string]string `json:"pathIdentifiers"`
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		Paths:           make(map[string]string),
		PathIdentifiers: make(map[string]string),
	}
}

// AddPath maps path to hash, overwriting any previous mapping, and returns
// the file identifier of path. A new identifier is assigned on first add.
func (i *Index) AddPath(path, hash string) string {
	return i.AddPathWithID(path, hash, "")
}

// AddPathWithID is AddPath with an explicit identifier, used when a record
// keeps its identity across a move or a copy from another replica. An empty
// fileID keeps the current identifier, or assigns a new one.
func (i *Index) AddPathWithID(path, hash, fileID string) string {
	i.Paths[path] = hash

	if fileID == "" {
		if id, ok := i.PathIdentifiers[path]; ok && id != "" {
			return id
		}
		fileID = uuid.NewString()
	}
	i.PathIdentifiers[path] = fileID
	return fileID
}

// RemovePath drops path and its identifier.
func (i *Index) RemovePath(path string) {
	delete(i.Paths, path)
	delete(i.PathIdentifiers, path)
}

// Hash returns the record hash of path.
func (i *Index) Hash(path string) (string, bool) {
	h, ok := i.Paths[path]
	return h, ok
}

// FileID returns the identifier of path.
func (i *Index) FileID(path string) (string, bool) {
	id, ok := i.PathIdentifiers[path]
	return id, ok
}

// PathForHash returns the path whose record hash is hash.
func (i *Index) PathForHash(hash string) (string, bool) {
	for p, h := range i.Paths {
		if h == hash {
			return p, true
		}
	}
	return "", false
}

// SortedPaths returns all paths in lexical order.
func (i *Index) SortedPaths() []string {
	paths := make([]string, 0, len(i.Paths))
	for p := range i.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// ChildrenOf returns every path below parent, at any depth, in lexical
// order. The empty parent is the root and yields all paths.
func (i *Index) ChildrenOf(parent string) []string {
	prefix := ""
	if parent != "" {
		prefix = parent + "/"
	}

	var children []string
	for _, p := range i.SortedPaths() {
		if strings.HasPrefix(p, prefix) && p != parent {
			children = append(children, p)
		}
	}
	return children
}

// Len returns the number of indexed paths.
func (i *Index) Len() int {
	return len(i.Paths)
}

// Clone returns a deep copy of the index.
func (i *Index) Clone() *Index {
	c := NewIndex()
	for k, v := range i.Paths {
		c.Paths[k] = v
	}
	for k, v := range i.PathIdentifiers {
		c.PathIdentifiers[k] = v
	}
	return c
}

// Encode serializes the index.
func (i *Index) Encode() ([]byte, error) {
	return json.MarshalIndent(i, "", "  ")
}

// DecodeIndex deserializes an index.
func DecodeIndex(data []byte) (*Index, error) {
	idx := NewIndex()
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, errors.E("DecodeIndex", errors.ErrInvalidRecord, err)
	}
	if idx.Paths == nil {
		idx.Paths = make(map[string]string)
	}
	if idx.PathIdentifiers == nil {
		idx.PathIdentifiers = make(map[string]string)
	}
	return idx, nil
}
