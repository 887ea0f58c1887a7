package storage

import (
	"fmt"
	"sync"

	"github.com/cuemby/medallion/internal/config"
)

// Factory builds a Backend from a resolved StorageSpec, grounded on the
// retrieval pack's BackendFactory pattern (construct-from-config plus a
// pre-flight Validate).
type Factory interface {
	Validate(spec config.StorageSpec) error
	Create(spec config.StorageSpec) (Backend, error)
}

// Registry resolves storage_spec.type to a registered Factory. Backends
// register themselves by calling Register from an init() in their own
// file, mirroring the teacher's bucket-registration-at-open pattern in
// boltdb.go generalized to pluggable backend types.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

var defaultRegistry = &Registry{factories: make(map[string]Factory)}

// Register adds a Factory under typeName to the default registry.
func Register(typeName string, f Factory) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	defaultRegistry.factories[typeName] = f
}

// Open validates spec against its registered factory and constructs the
// backend.
func Open(spec config.StorageSpec) (Backend, error) {
	defaultRegistry.mu.RLock()
	f, ok := defaultRegistry.factories[spec.Type]
	defaultRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: no backend registered for type %q", spec.Type)
	}
	if err := f.Validate(spec); err != nil {
		return nil, fmt.Errorf("storage: invalid spec for %q: %w", spec.Type, err)
	}
	return f.Create(spec)
}
