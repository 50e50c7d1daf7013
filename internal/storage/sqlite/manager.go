package sqlite

import (
	"errors"
	"sync"

	"github.com/relves/tokenclaim/internal/storage"
	"github.com/relves/tokenclaim/pkg/types"
)

// Ensure StoreManager implements StoreProvider at compile time.
var _ storage.StoreProvider = (*StoreManager)(nil)

// StoreManager manages one RegistryStore per authority with caching.
type StoreManager struct {
	basePath string
	stores   map[types.Identity]*RegistryStore
	mu       sync.RWMutex
}

// NewStoreManager creates a new StoreManager.
func NewStoreManager(basePath string) *StoreManager {
	return &StoreManager{
		basePath: basePath,
		stores:   make(map[types.Identity]*RegistryStore),
	}
}

// GetStore returns the RegistryStore for the given authority, opening it on
// first use.
func (m *StoreManager) GetStore(authority types.Identity) (*RegistryStore, error) {
	m.mu.RLock()
	if store, ok := m.stores[authority]; ok {
		m.mu.RUnlock()
		return store, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if store, ok := m.stores[authority]; ok {
		return store, nil
	}

	store, err := OpenRegistryStore(m.basePath, authority)
	if err != nil {
		return nil, err
	}

	m.stores[authority] = store
	return store, nil
}

// CloseAll closes all cached stores.
func (m *StoreManager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, store := range m.stores {
		if err := store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.stores = make(map[types.Identity]*RegistryStore)
	return errors.Join(errs...)
}

// BasePath returns the base path for registry storage.
func (m *StoreManager) BasePath() string {
	return m.basePath
}

// GetRegistryStore returns the store for authority as a storage.RegistryStore.
func (m *StoreManager) GetRegistryStore(authority types.Identity) (storage.RegistryStore, error) {
	store, err := m.GetStore(authority)
	if err != nil {
		return nil, err
	}
	return store, nil
}
