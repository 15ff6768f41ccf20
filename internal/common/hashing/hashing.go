// Package hashing provides the deterministic digests used for object keys,
// content versions and history chains.
package hashing

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Algorithm names a supported digest.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA1   Algorithm = "sha1"
	SHA512 Algorithm = "sha512"
	MD5    Algorithm = "md5"
)

// Default is the algorithm used when none is configured. Every replica that
// takes part in a merge must use the same one.
const Default = SHA256

// Hasher maps strings and files to stable hex digests.
type Hasher interface {
	// Algorithm returns the configured digest name.
	Algorithm() Algorithm

	// String hashes the UTF-8 bytes of s.
	String(s string) string

	// Bytes hashes b.
	Bytes(b []byte) string

	// File hashes the content of a regular file, or the sorted child names
	// of a directory.
	File(path string) (string, error)

	// Reader hashes everything read from r.
	Reader(r io.Reader) (string, error)
}

type hasher struct {
	algorithm Algorithm
	newFn     func() hash.Hash
}

// New returns a Hasher for the named algorithm.
func New(algorithm Algorithm) (Hasher, error) {
	var fn func() hash.Hash
	switch Algorithm(strings.ToLower(string(algorithm))) {
	case SHA256, "":
		algorithm, fn = SHA256, sha256.New
	case SHA1:
		algorithm, fn = SHA1, sha1.New
	case SHA512:
		algorithm, fn = SHA512, sha512.New
	case MD5:
		algorithm, fn = MD5, md5.New
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
	return &hasher{algorithm: algorithm, newFn: fn}, nil
}

// MustNew is like New but panics on an unknown algorithm.
func MustNew(algorithm Algorithm) Hasher {
	h, err := New(algorithm)
	if err != nil {
		panic(err)
	}
	return h
}

func (h *hasher) Algorithm() Algorithm {
	return h.algorithm
}

func (h *hasher) String(s string) string {
	return h.Bytes([]byte(s))
}

func (h *hasher) Bytes(b []byte) string {
	d := h.newFn()
	d.Write(b)
	return hex.EncodeToString(d.Sum(nil))
}

func (h *hasher) Reader(r io.Reader) (string, error) {
	d := h.newFn()
	if _, err := io.Copy(d, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(d.Sum(nil)), nil
}

func (h *hasher) File(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return "", fmt.Errorf("reading directory %s: %w", path, err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		sort.Strings(names)
		return h.String(strings.Join(names, "\n")), nil
	}

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", err
	}
	defer f.Close()

	return h.Reader(f)
}
