package model

import (
	"encoding/json"
	"path"
	"sort"
	"strings"

	"asisaid.cn/versync/internal/common/errors"
)

// Version is one observed content state of a path.
type Version struct {
	Hash string `json:"hash"`
}

// Delete holds the deletion state of a path and the hash chain of every
// transition that led to it.
type Delete struct {
	DeleteType    DeleteType `json:"deleteType"`
	DeleteHistory []string   `json:"deleteHistory"`
}

// Clone returns a deep copy of d.
func (d Delete) Clone() Delete {
	return Delete{
		DeleteType:    d.DeleteType,
		DeleteHistory: cloneStrings(d.DeleteHistory),
	}
}

// Sharer is a user a path is shared with.
type Sharer struct {
	Username       string     `json:"username"`
	AccessType     AccessType `json:"accessType"`
	SharingHistory []string   `json:"sharingHistory"`
}

// Clone returns a deep copy of s.
func (s Sharer) Clone() Sharer {
	return Sharer{
		Username:       s.Username,
		AccessType:     s.AccessType,
		SharingHistory: cloneStrings(s.SharingHistory),
	}
}

// PathObject is the versioned metadata of a single file or directory.
// Owner and AccessType are nil when the path is unowned or not shared;
// both are serialized as null in that case.
type PathObject struct {
	FileID     string      `json:"fileId"`
	Name       string      `json:"name"`
	Path       string      `json:"path"` // Parent path, "" at the root
	PathType   PathType    `json:"pathType"`
	AccessType *AccessType `json:"accessType"`
	IsShared   bool        `json:"isShared"`
	Deleted    Delete      `json:"deleted"`
	Owner      *string     `json:"owner"`
	Sharers    []Sharer    `json:"sharers"` // Sorted by username
	Versions   []Version   `json:"versions"`
}

// NewPathObject creates an existent, unshared record for relativePath.
func NewPathObject(relativePath string, pathType PathType, versions ...Version) *PathObject {
	parent, name := SplitPath(relativePath)
	return &PathObject{
		Name:     name,
		Path:     parent,
		PathType: pathType,
		Deleted: Delete{
			DeleteType:    DeleteTypeExistent,
			DeleteHistory: []string{},
		},
		Sharers:  []Sharer{},
		Versions: append([]Version{}, versions...),
	}
}

// AbsolutePath returns the path of the record relative to the watched root.
func (p *PathObject) AbsolutePath() string {
	if p.Path == "" {
		return p.Name
	}
	return p.Path + "/" + p.Name
}

// IsDeleted reports whether the record is a tombstone.
func (p *PathObject) IsDeleted() bool {
	return p.Deleted.DeleteType == DeleteTypeDeleted
}

// LastVersion returns the most recent version, if any.
func (p *PathObject) LastVersion() (Version, bool) {
	if len(p.Versions) == 0 {
		return Version{}, false
	}
	return p.Versions[len(p.Versions)-1], true
}

// LastIndexOfVersion returns the position of the last occurrence of hash,
// or -1.
func (p *PathObject) LastIndexOfVersion(hash string) int {
	for i := len(p.Versions) - 1; i >= 0; i-- {
		if p.Versions[i].Hash == hash {
			return i
		}
	}
	return -1
}

// OwnerName returns the owner, or "" when unset.
func (p *PathObject) OwnerName() string {
	if p.Owner == nil {
		return ""
	}
	return *p.Owner
}

// SetOwner sets the owner; an empty username clears it.
func (p *PathObject) SetOwner(username string) {
	if username == "" {
		p.Owner = nil
		return
	}
	p.Owner = &username
}

// Sharer returns the sharer with the given username.
func (p *PathObject) Sharer(username string) (*Sharer, bool) {
	for i := range p.Sharers {
		if p.Sharers[i].Username == username {
			return &p.Sharers[i], true
		}
	}
	return nil, false
}

// PutSharer inserts s, replacing any sharer with the same username.
func (p *PathObject) PutSharer(s Sharer) {
	if existing, ok := p.Sharer(s.Username); ok {
		*existing = s
		return
	}
	p.Sharers = append(p.Sharers, s)
	sort.Slice(p.Sharers, func(i, j int) bool {
		return p.Sharers[i].Username < p.Sharers[j].Username
	})
}

// Clone returns a deep copy of p.
func (p *PathObject) Clone() *PathObject {
	c := *p
	if p.AccessType != nil {
		a := *p.AccessType
		c.AccessType = &a
	}
	if p.Owner != nil {
		o := *p.Owner
		c.Owner = &o
	}
	c.Deleted = p.Deleted.Clone()
	c.Sharers = make([]Sharer, len(p.Sharers))
	for i, s := range p.Sharers {
		c.Sharers[i] = s.Clone()
	}
	c.Versions = append([]Version{}, p.Versions...)
	return &c
}

// Encode serializes the record.
func (p *PathObject) Encode() ([]byte, error) {
	p.normalize()
	return json.MarshalIndent(p, "", "  ")
}

// DecodePathObject deserializes a record.
func DecodePathObject(data []byte) (*PathObject, error) {
	var p PathObject
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.E("DecodePathObject", errors.ErrInvalidRecord, err)
	}
	p.normalize()
	return &p, nil
}

func (p *PathObject) normalize() {
	if p.Deleted.DeleteType == "" {
		p.Deleted.DeleteType = DeleteTypeExistent
	}
	if p.Deleted.DeleteHistory == nil {
		p.Deleted.DeleteHistory = []string{}
	}
	if p.Sharers == nil {
		p.Sharers = []Sharer{}
	}
	for i := range p.Sharers {
		if p.Sharers[i].SharingHistory == nil {
			p.Sharers[i].SharingHistory = []string{}
		}
	}
	if p.Versions == nil {
		p.Versions = []Version{}
	}
}

// CleanPath normalizes a path relative to the watched root: forward
// slashes, no leading "./" or "/", no trailing separator.
func CleanPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// SplitPath splits a relative path into its parent path and leaf name.
func SplitPath(relativePath string) (parent, name string) {
	relativePath = CleanPath(relativePath)
	idx := strings.LastIndex(relativePath, "/")
	if idx < 0 {
		return "", relativePath
	}
	return relativePath[:idx], relativePath[idx+1:]
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
