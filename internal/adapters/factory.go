package adapters

import (
	"fmt"
	"sync"

	"github.com/otcheredev/ris-dicom-relay/internal/models"
)

// AdapterFactory manages adapter instances
type AdapterFactory struct {
	mu       sync.RWMutex
	adapters map[string]Adapter // keyed by ServerConfig.Key()
}

// NewAdapterFactory creates a new adapter factory
func NewAdapterFactory() *AdapterFactory {
	return &AdapterFactory{
		adapters: make(map[string]Adapter),
	}
}

// GetAdapter gets or creates an adapter for a server configuration
func (f *AdapterFactory) GetAdapter(config models.ServerConfig) (Adapter, error) {
	key := config.Key()

	f.mu.RLock()
	adapter, exists := f.adapters[key]
	f.mu.RUnlock()

	if exists {
		return adapter, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Double-check after acquiring write lock
	if adapter, exists := f.adapters[key]; exists {
		return adapter, nil
	}

	created, err := NewDICOMWebAdapter(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create adapter: %w", err)
	}

	f.adapters[key] = created
	return created, nil
}

// RemoveAdapter closes and forgets the adapter for a server configuration
func (f *AdapterFactory) RemoveAdapter(config models.ServerConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := config.Key()
	adapter, exists := f.adapters[key]
	if !exists {
		return nil
	}

	if err := adapter.Close(); err != nil {
		return fmt.Errorf("failed to close adapter: %w", err)
	}

	delete(f.adapters, key)
	return nil
}

// CloseAll closes all adapters
func (f *AdapterFactory) CloseAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errors []error
	for key, adapter := range f.adapters {
		if err := adapter.Close(); err != nil {
			errors = append(errors, err)
		}
		delete(f.adapters, key)
	}

	if len(errors) > 0 {
		return fmt.Errorf("encountered %d errors while closing adapters", len(errors))
	}

	return nil
}
