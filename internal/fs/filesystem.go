package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Type is the kind of entry found on disk.
type Type int

const (
	TypeMissing Type = iota
	TypeFile
	TypeDirectory
	TypeOther // sockets, devices and the like
)

// Stat returns the type of the entry at absPath.
func Stat(absPath string) (Type, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return TypeMissing, nil
		}
		return TypeMissing, fmt.Errorf("stat %s: %w", absPath, err)
	}
	switch {
	case info.IsDir():
		return TypeDirectory, nil
	case info.Mode().IsRegular():
		return TypeFile, nil
	default:
		return TypeOther, nil
	}
}

// Exists reports whether anything exists at absPath.
func Exists(absPath string) bool {
	_, err := os.Lstat(absPath)
	return err == nil
}

// ReadDirNames returns the sorted names of the entries in dir.
func ReadDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Rel returns target relative to root with forward slashes.
func Rel(root, target string) (string, error) {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// Within reports whether target is root itself or lies below it.
func Within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !filepath.IsAbs(rel) && !startsWithParent(rel))
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
