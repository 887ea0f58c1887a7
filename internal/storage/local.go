package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/medallion/internal/config"
	bolt "go.etcd.io/bbolt"
)

var bucketIndex = []byte("objects")

// indexEntry is the bbolt-persisted record for one stored object,
// mirroring the teacher's json-marshal-per-record pattern in
// pkg/storage/boltdb.go.
type indexEntry struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// LocalBackend is the onprem storage_spec.type == "local-fs" backend:
// object bytes live under root on disk, and a bbolt database indexes
// key -> {path, size, mod_time} for fast List/Exists without a
// filesystem walk. Grounded on pkg/storage/boltdb.go's bucket-per-kind
// BoltStore, repurposed from cluster objects to a flat object index.
type LocalBackend struct {
	root string
	db   *bolt.DB
}

// NewLocalBackend opens (creating if absent) the local-fs backend
// rooted at root, with its bbolt index at root/.medallion-index.db.
func NewLocalBackend(root string) (*LocalBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root %s: %w", root, err)
	}
	dbPath := filepath.Join(root, ".medallion-index.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open index: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIndex)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &LocalBackend{root: root, db: db}, nil
}

func (b *LocalBackend) diskPath(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

func (b *LocalBackend) putIndex(key string, size int64, modTime time.Time) error {
	entry := indexEntry{Path: key, Size: size, ModTime: modTime}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIndex).Put([]byte(key), data)
	})
}

func (b *LocalBackend) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	dst := b.diskPath(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := dst + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	written, err := io.Copy(f, r)
	closeErr := f.Close()
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if closeErr != nil {
		os.Remove(tmp)
		return closeErr
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return b.putIndex(key, written, time.Now().UTC())
}

func (b *LocalBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(b.diskPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage: key %q not found", key)
		}
		return nil, err
	}
	return f, nil
}

func (b *LocalBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketIndex).Cursor()
		for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			var entry indexEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			out = append(out, ObjectInfo{Key: entry.Path, Size: entry.Size, ModTime: entry.ModTime})
		}
		return nil
	})
	return out, err
}

func (b *LocalBackend) Delete(ctx context.Context, key string) error {
	if err := os.Remove(b.diskPath(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIndex).Delete([]byte(key))
	})
}

func (b *LocalBackend) DeletePrefix(ctx context.Context, prefix string) error {
	objs, err := b.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, o := range objs {
		if err := b.Delete(ctx, o.Key); err != nil {
			return err
		}
	}
	return os.RemoveAll(b.diskPath(prefix))
}

func (b *LocalBackend) Exists(ctx context.Context, key string) (bool, error) {
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketIndex).Get([]byte(key)) != nil
		return nil
	})
	return found, err
}

// Rename is atomic on local-fs: a single os.Rename of the directory
// backing oldPrefix, followed by rebuilding the moved keys' index
// entries under newPrefix.
func (b *LocalBackend) Rename(ctx context.Context, oldPrefix, newPrefix string) error {
	objs, err := b.List(ctx, oldPrefix)
	if err != nil {
		return err
	}
	oldDir := b.diskPath(oldPrefix)
	newDir := b.diskPath(newPrefix)
	if err := os.MkdirAll(filepath.Dir(newDir), 0o755); err != nil {
		return err
	}
	if _, err := os.Stat(newDir); err == nil {
		if err := os.RemoveAll(newDir); err != nil {
			return err
		}
	}
	if err := os.Rename(oldDir, newDir); err != nil {
		return err
	}
	for _, o := range objs {
		newKey := newPrefix + strings.TrimPrefix(o.Key, oldPrefix)
		if err := b.putIndex(newKey, o.Size, o.ModTime); err != nil {
			return err
		}
		if err := b.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketIndex).Delete([]byte(o.Key))
		}); err != nil {
			return err
		}
	}
	return nil
}

func (b *LocalBackend) Kind() Kind { return KindLocalFS }

func (b *LocalBackend) Capabilities() Capabilities {
	return Capabilities{
		AtomicRename:         true,
		ConditionalPut:       false,
		StrongListAfterWrite: true,
	}
}

func (b *LocalBackend) Close() error {
	return b.db.Close()
}

type localFactory struct{}

func (localFactory) Validate(spec config.StorageSpec) error {
	if spec.Prefix == "" {
		return fmt.Errorf("storage: local-fs requires a non-empty prefix (root directory)")
	}
	return nil
}

func (localFactory) Create(spec config.StorageSpec) (Backend, error) {
	return NewLocalBackend(spec.Prefix)
}

func init() {
	Register(string(KindLocalFS), localFactory{})
}
