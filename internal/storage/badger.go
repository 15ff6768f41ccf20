package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"asisaid.cn/versync/internal/common/errors"
	"asisaid.cn/versync/internal/common/logger"
)

// Key prefixes for the two kinds of entries.
const (
	prefixBlob = "f:" // f:<key> -> blob content
	prefixDir  = "d:" // d:<key> -> "" (explicit directory marker)
)

// BadgerBackend implements Backend on top of an embedded BadgerDB, so the
// whole object directory lives in a single key-value store and every write
// is a transaction.
type BadgerBackend struct {
	db   *badger.DB
	path string
}

// NewBadgerBackend opens (or creates) a BadgerDB at dbPath. An empty path
// opens an in-memory database.
func NewBadgerBackend(dbPath string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(dbPath)
	if dbPath == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil // Disable badger's default logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	logger.L().Info("BadgerDB opened")

	return &BadgerBackend{db: db, path: dbPath}, nil
}

// Exists checks if a blob or directory exists.
func (b *BadgerBackend) Exists(ctx context.Context, kind Kind, key string) (bool, error) {
	key = cleanKey(key)

	var found bool
	err := b.db.View(func(txn *badger.Txn) error {
		if kind == KindFile {
			_, err := txn.Get([]byte(prefixBlob + key))
			if err == badger.ErrKeyNotFound {
				return nil
			}
			found = err == nil
			return err
		}

		isDir, err := b.isDir(txn, key)
		found = isDir
		return err
	})
	if err != nil {
		return false, errors.E("BadgerBackend.Exists", errors.ErrStorage, err)
	}
	return found, nil
}

// Read retrieves a blob.
func (b *BadgerBackend) Read(ctx context.Context, key string) ([]byte, error) {
	key = cleanKey(key)

	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixBlob + key))
		if err == badger.ErrKeyNotFound {
			return errors.ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})

	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.E("BadgerBackend.Read", errors.ErrNotFound, nil, key)
		}
		return nil, errors.E("BadgerBackend.Read", errors.ErrStorage, err)
	}
	return data, nil
}

// Persist stores a blob or creates a directory marker.
func (b *BadgerBackend) Persist(ctx context.Context, kind Kind, key string, data []byte) error {
	key = cleanKey(key)
	if key == "" {
		return errors.E("BadgerBackend.Persist", errors.ErrInvalidInput, nil, "empty key")
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		// Save parent markers so parents survive deletion of their last blob
		for parent := parentKey(key); parent != ""; parent = parentKey(parent) {
			if err := txn.Set([]byte(prefixDir+parent), nil); err != nil {
				return err
			}
		}

		if kind == KindDirectory {
			return txn.Set([]byte(prefixDir+key), nil)
		}

		value := make([]byte, len(data))
		copy(value, data)
		return txn.Set([]byte(prefixBlob+key), value)
	})
	if err != nil {
		return errors.E("BadgerBackend.Persist", errors.ErrStorage, err)
	}
	return nil
}

// Delete removes a blob or every entry below a directory.
func (b *BadgerBackend) Delete(ctx context.Context, key string) error {
	key = cleanKey(key)
	if key == "" {
		return errors.E("BadgerBackend.Delete", errors.ErrInvalidInput, nil, "refusing to delete backend root")
	}

	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(prefixBlob + key)); err == nil {
			keys = append(keys, []byte(prefixBlob+key))
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if _, err := txn.Get([]byte(prefixDir + key)); err == nil {
			keys = append(keys, []byte(prefixDir+key))
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		for _, prefix := range []string{prefixBlob + key + "/", prefixDir + key + "/"} {
			keys = append(keys, collectKeys(txn, []byte(prefix))...)
		}
		return nil
	})
	if err != nil {
		return errors.E("BadgerBackend.Delete", errors.ErrStorage, err)
	}

	if len(keys) == 0 {
		return errors.E("BadgerBackend.Delete", errors.ErrNotFound, nil, key)
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return errors.E("BadgerBackend.Delete", errors.ErrStorage, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return errors.E("BadgerBackend.Delete", errors.ErrStorage, err)
	}
	return nil
}

// List lists the direct children of a directory.
func (b *BadgerBackend) List(ctx context.Context, dir string) ([]*FileInfo, error) {
	dir = cleanKey(dir)

	children := make(map[string]*FileInfo)
	err := b.db.View(func(txn *badger.Txn) error {
		if dir != "" {
			isDir, err := b.isDir(txn, dir)
			if err != nil {
				return err
			}
			if !isDir {
				return errors.ErrNotFound
			}
		}

		sub := ""
		if dir != "" {
			sub = dir + "/"
		}

		for _, prefix := range []string{prefixBlob, prefixDir} {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = []byte(prefix + sub)
			it := txn.NewIterator(opts)

			for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
				item := it.Item()
				full := strings.TrimPrefix(string(item.Key()), prefix)
				name, ok := childOf(dir, full)
				if !ok {
					continue
				}
				child := joinKey(dir, name)
				if prefix == prefixBlob && child == full {
					children[child] = &FileInfo{Key: child, Size: item.ValueSize()}
				} else if _, seen := children[child]; !seen {
					children[child] = &FileInfo{Key: child, IsDir: true}
				}
			}
			it.Close()
		}
		return nil
	})

	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.E("BadgerBackend.List", errors.ErrNotFound, nil, dir)
		}
		return nil, errors.E("BadgerBackend.List", errors.ErrStorage, err)
	}

	result := make([]*FileInfo, 0, len(children))
	for _, info := range children {
		result = append(result, info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

// Stat returns blob or directory information.
func (b *BadgerBackend) Stat(ctx context.Context, key string) (*FileInfo, error) {
	key = cleanKey(key)

	var info *FileInfo
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixBlob + key))
		if err == nil {
			info = &FileInfo{Key: key, Size: item.ValueSize()}
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}

		isDir, err := b.isDir(txn, key)
		if err != nil {
			return err
		}
		if isDir {
			info = &FileInfo{Key: key, IsDir: true}
		}
		return nil
	})
	if err != nil {
		return nil, errors.E("BadgerBackend.Stat", errors.ErrStorage, err)
	}
	if info == nil {
		return nil, errors.E("BadgerBackend.Stat", errors.ErrNotFound, nil, key)
	}
	return info, nil
}

// RootDir returns the database directory.
func (b *BadgerBackend) RootDir() string {
	return b.path
}

// Close closes the database.
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

// isDir reports whether key is an explicit directory or a prefix of any entry.
func (b *BadgerBackend) isDir(txn *badger.Txn, key string) (bool, error) {
	if key == "" {
		return true, nil
	}

	_, err := txn.Get([]byte(prefixDir + key))
	if err == nil {
		return true, nil
	}
	if err != badger.ErrKeyNotFound {
		return false, err
	}

	return hasPrefix(txn, []byte(prefixBlob+key+"/")), nil
}

func hasPrefix(txn *badger.Txn, prefix []byte) bool {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	it.Seek(prefix)
	return it.ValidForPrefix(prefix)
}

func collectKeys(txn *badger.Txn, prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

func parentKey(key string) string {
	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return ""
	}
	return key[:idx]
}

var _ Backend = (*BadgerBackend)(nil)
