// Package storage implements the C1 storage backend contract of §4.1:
// a key-addressed put/get/list/delete/exists surface over either a
// local filesystem (onprem) or an object store (cloud), plus the
// capability metadata the rest of the pipeline uses to adapt its
// commit protocol (atomic rename vs. manifest-last emulation).
package storage

import (
	"context"
	"io"
	"time"
)

// Kind discriminates the storage_spec.type values of §4.9.
type Kind string

const (
	KindLocalFS     Kind = "local-fs"
	KindObjectStore Kind = "object-store"
	KindBlob        Kind = "blob"
)

// Capabilities describes what a backend guarantees, grounded on the
// BackendCapabilities vocabulary from the retrieval pack's queue-backend
// reference: callers branch on these instead of switching on Kind.
type Capabilities struct {
	AtomicRename     bool `json:"atomic_rename"`
	ConditionalPut   bool `json:"conditional_put"`
	StrongListAfterWrite bool `json:"strong_list_after_write"`
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ModTime      time.Time
	ETag         string
}

// Backend is the storage contract every Bronze/Silver component writes
// and reads partitions through. Implementations must be safe for
// concurrent use.
type Backend interface {
	// Put writes all of r to key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get opens key for reading. Callers must Close the returned reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// List returns every object whose key has the given prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every object under prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Rename moves all objects from oldPrefix to newPrefix. On backends
	// with Capabilities().AtomicRename this is a single atomic operation;
	// otherwise it is emulated as copy-then-delete and callers must rely
	// on the manifest-last commit protocol instead of rename atomicity.
	Rename(ctx context.Context, oldPrefix, newPrefix string) error

	// Kind reports the backend's storage_spec.type.
	Kind() Kind

	// Capabilities reports what commit/consistency guarantees this
	// backend instance provides.
	Capabilities() Capabilities

	// Close releases any held resources (index databases, connections).
	Close() error
}
