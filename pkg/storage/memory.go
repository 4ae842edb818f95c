package storage

import "sync"

// MemoryStore is an in-memory Store. Data is lost when the process exits.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Get implements Store.
func (m *MemoryStore) Get(namespace, key string) ([]byte, error) {
	if err := ValidateKey(namespace, key); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[FlatKey(namespace, key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Put implements Store.
func (m *MemoryStore) Put(namespace, key string, value []byte) error {
	if err := ValidateKey(namespace, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[FlatKey(namespace, key)] = append([]byte(nil), value...)
	return nil
}

// Delete implements Store. Deleting a missing key is not an error.
func (m *MemoryStore) Delete(namespace, key string) error {
	if err := ValidateKey(namespace, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.data[FlatKey(namespace, key)]; ok {
		clear(v)
		delete(m.data, FlatKey(namespace, key))
	}
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

var _ Store = (*MemoryStore)(nil)
