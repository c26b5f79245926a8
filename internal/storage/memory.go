package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryBinaryStore implements BinaryStore in process memory
type MemoryBinaryStore struct {
	mu    sync.RWMutex
	data  map[string][]byte
	quota int64
}

// NewMemoryBinaryStore creates a new in-memory binary store
func NewMemoryBinaryStore(quota int64) *MemoryBinaryStore {
	return &MemoryBinaryStore{
		data:  make(map[string][]byte),
		quota: quota,
	}
}

// Save stores a copy of data under key
func (m *MemoryBinaryStore) Save(ctx context.Context, key string, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = buf
	return nil
}

// Load returns a copy of the bytes under key
func (m *MemoryBinaryStore) Load(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, exists := m.data[key]
	if !exists {
		return nil, ErrNotFound
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

// Exists checks if a key exists
func (m *MemoryBinaryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.data[key]
	return exists, nil
}

// Delete removes a key
func (m *MemoryBinaryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// ListKeys returns all keys in sorted order
func (m *MemoryBinaryStore) ListKeys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// ClearAll removes every key
func (m *MemoryBinaryStore) ClearAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string][]byte)
	return nil
}

// UsageInfo sums the stored payload sizes
func (m *MemoryBinaryStore) UsageInfo(ctx context.Context) (Usage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var used int64
	for _, data := range m.data {
		used += int64(len(data))
	}
	return Usage{Used: used, Quota: m.quota}, nil
}

// MemoryMetadataStore implements MetadataStore in process memory
type MemoryMetadataStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryMetadataStore creates a new in-memory metadata store
func NewMemoryMetadataStore() *MemoryMetadataStore {
	return &MemoryMetadataStore{data: make(map[string][]byte)}
}

// Load returns the document under key, or nil when absent
func (m *MemoryMetadataStore) Load(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.data[key]
	if !exists {
		return nil, nil
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	return buf, nil
}

// Save replaces the document under key
func (m *MemoryMetadataStore) Save(ctx context.Context, key string, value []byte) error {
	buf := make([]byte, len(value))
	copy(buf, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = buf
	return nil
}

// Clear removes the document under key
func (m *MemoryMetadataStore) Clear(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
