package store

import (
	"encoding/json"
	"sort"
)

// Classification is the merge outcome of a path.
type Classification string

const (
	Changed  Classification = "CHANGED"  // Content must be fetched
	Deleted  Classification = "DELETED"  // Deletion must be applied locally
	Conflict Classification = "CONFLICT" // Content diverged
)

// PathSet is a set of relative paths.
type PathSet map[string]struct{}

// Add adds path to the set.
func (s PathSet) Add(path string) {
	s[path] = struct{}{}
}

// Has reports whether path is in the set.
func (s PathSet) Has(path string) bool {
	_, ok := s[path]
	return ok
}

// Sorted returns the paths in lexical order.
func (s PathSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (s PathSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes the set from an array.
func (s *PathSet) UnmarshalJSON(data []byte) error {
	var paths []string
	if err := json.Unmarshal(data, &paths); err != nil {
		return err
	}
	*s = make(PathSet, len(paths))
	for _, p := range paths {
		s.Add(p)
	}
	return nil
}

// MergeResult groups the merged paths by classification. Paths that need
// nothing are in no set.
type MergeResult struct {
	Changed  PathSet `json:"changed"`
	Deleted  PathSet `json:"deleted"`
	Conflict PathSet `json:"conflict"`
}

// NewMergeResult creates an empty result.
func NewMergeResult() *MergeResult {
	return &MergeResult{
		Changed:  make(PathSet),
		Deleted:  make(PathSet),
		Conflict: make(PathSet),
	}
}

// Get returns the set of a classification.
func (r *MergeResult) Get(c Classification) PathSet {
	switch c {
	case Changed:
		return r.Changed
	case Deleted:
		return r.Deleted
	case Conflict:
		return r.Conflict
	default:
		return nil
	}
}

// Empty reports whether no path needs attention.
func (r *MergeResult) Empty() bool {
	return len(r.Changed) == 0 && len(r.Deleted) == 0 && len(r.Conflict) == 0
}
