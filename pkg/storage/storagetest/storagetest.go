// Package storagetest provides a behavioral test suite for storage.Store
// implementations and a Store that fails on demand.
package storagetest

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backkem/keyturner/pkg/storage"
)

// ErrInjected is returned by FailingStore for keys set to fail.
var ErrInjected = errors.New("storagetest: injected failure")

// Run exercises the storage.Store contract against fresh stores from open.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Run("Contract", func(t *testing.T) { testContract(t, open(t)) })
	t.Run("InvalidKeys", func(t *testing.T) { testInvalidKeys(t, open(t)) })
	t.Run("PutCopiesValue", func(t *testing.T) { testPutCopiesValue(t, open(t)) })
	t.Run("Concurrent", func(t *testing.T) { testConcurrent(t, open(t)) })
}

func testContract(t *testing.T, s storage.Store) {
	_, err := s.Get("lock", "key")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Put("lock", "key", []byte{1, 2, 3}))
	require.NoError(t, s.Put("lock", "pin", []byte{0x39, 0x05}))
	require.NoError(t, s.Put("opener", "key", []byte{9}))

	got, err := s.Get("lock", "key")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	// Namespaces are independent.
	got, err = s.Get("opener", "key")
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, got)

	// Returned slices are copies.
	got[0] = 0xFF
	again, err := s.Get("opener", "key")
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, again)

	require.NoError(t, s.Put("lock", "key", []byte{4}))
	got, err = s.Get("lock", "key")
	require.NoError(t, err)
	assert.Equal(t, []byte{4}, got)

	require.NoError(t, s.Delete("lock", "key"))
	_, err = s.Get("lock", "key")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, s.Delete("lock", "key"), "deleting twice")

	got, err = s.Get("lock", "pin")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x39, 0x05}, got)
}

func testInvalidKeys(t *testing.T, s storage.Store) {
	for _, k := range [][2]string{{"", "key"}, {"ns", ""}, {"a/b", "key"}, {"ns", "k/ey"}} {
		assert.ErrorIs(t, s.Put(k[0], k[1], []byte{1}), storage.ErrInvalidKey, "%q", k)
		_, err := s.Get(k[0], k[1])
		assert.ErrorIs(t, err, storage.ErrInvalidKey, "%q", k)
		assert.ErrorIs(t, s.Delete(k[0], k[1]), storage.ErrInvalidKey, "%q", k)
	}
}

func testPutCopiesValue(t *testing.T, s storage.Store) {
	v := []byte{1, 2}
	require.NoError(t, s.Put("ns", "k", v))
	v[0] = 0xEE
	got, err := s.Get("ns", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, got)
}

func testConcurrent(t *testing.T, s storage.Store) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Put("ns", "k", []byte{byte(i)}))
			_, err := s.Get("ns", "k")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
}

// FailingStore wraps a Store and fails Put for selected keys.
type FailingStore struct {
	storage.Store

	mu      sync.Mutex
	failPut map[string]bool
}

// NewFailingStore wraps s. A nil s wraps a new MemoryStore.
func NewFailingStore(s storage.Store) *FailingStore {
	if s == nil {
		s = storage.NewMemoryStore()
	}
	return &FailingStore{Store: s, failPut: make(map[string]bool)}
}

// FailPut makes Put of key (in any namespace) return ErrInjected.
func (f *FailingStore) FailPut(key string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPut[key] = fail
}

// Put implements storage.Store.
func (f *FailingStore) Put(namespace, key string, value []byte) error {
	f.mu.Lock()
	fail := f.failPut[key]
	f.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return f.Store.Put(namespace, key, value)
}
