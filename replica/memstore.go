package replica

import (
	"sync"

	"github.com/tunakv/tunakv/common"
)

// MemStore is an in-memory common.ValueStore. Unlike the log-backed strong
// path, replica state cannot be reconstructed after a crash; durable
// deployments use persistent.NewDbValueStore instead and MemStore serves
// tests and throwaway setups.
type MemStore struct {
	mu       sync.Mutex
	versions map[string]common.VersionedValue
}

var _ common.ValueStore = &MemStore{}

func NewMemStore() *MemStore {
	return &MemStore{
		versions: make(map[string]common.VersionedValue),
	}
}

func (store *MemStore) Get(key string) (*common.VersionedValue, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if version, ok := store.versions[key]; ok {
		return &version, nil
	}
	return nil, nil
}

func (store *MemStore) Put(key string, version common.VersionedValue) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.versions[key] = version
	return nil
}

func (store *MemStore) Close() error {
	return nil
}
