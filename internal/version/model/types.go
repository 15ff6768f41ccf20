// Package model defines the persisted path records and the index that
// locates them.
package model

import (
	"fmt"
	"strings"
)

// PathType tells files and directories apart.
type PathType string

const (
	PathTypeFile      PathType = "FILE"
	PathTypeDirectory PathType = "DIRECTORY"
)

// AccessType is the access level a replica holds on a shared path.
type AccessType string

const (
	AccessRemoved AccessType = "ACCESS_REMOVED" // Access no longer granted
	AccessRead    AccessType = "READ"
	AccessWrite   AccessType = "WRITE"
)

// Rank orders access levels: ACCESS_REMOVED < READ < WRITE.
// Unknown values rank -1.
func (a AccessType) Rank() int {
	switch a {
	case AccessRemoved:
		return 0
	case AccessRead:
		return 1
	case AccessWrite:
		return 2
	default:
		return -1
	}
}

// Implies reports whether holding a grants at least other.
func (a AccessType) Implies(other AccessType) bool {
	return a.Rank() >= 0 && other.Rank() >= 0 && a.Rank() >= other.Rank()
}

// Valid reports whether a is a known access level.
func (a AccessType) Valid() bool {
	return a.Rank() >= 0
}

// ParseAccessType parses an access level, case-insensitively.
func ParseAccessType(s string) (AccessType, error) {
	a := AccessType(strings.ToUpper(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("unknown access type %q", s)
	}
	return a, nil
}

// DeleteType is the deletion state of a path.
type DeleteType string

const (
	DeleteTypeExistent DeleteType = "EXISTENT"
	DeleteTypeDeleted  DeleteType = "DELETED"
)
