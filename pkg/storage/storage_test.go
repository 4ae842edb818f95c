package storage_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backkem/keyturner/pkg/storage"
	"github.com/backkem/keyturner/pkg/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return storage.NewMemoryStore()
	})
}

func TestFileStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := storage.OpenFileStore(filepath.Join(t.TempDir(), "keys.cbor"))
		require.NoError(t, err)
		return s
	})
}

func TestFileStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "keys.cbor")

	s, err := storage.OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put("lock", "authid", []byte{1, 0, 0, 0}))
	require.NoError(t, s.Put("lock", "key", make([]byte, 32)))
	require.NoError(t, s.Delete("lock", "key"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(storage.FileMode), info.Mode().Perm())

	reopened, err := storage.OpenFileStore(path)
	require.NoError(t, err)
	got, err := reopened.Get("lock", "authid")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 0, 0}, got)
	_, err = reopened.Get("lock", "key")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, []string{"lock"}, reopened.Namespaces())
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.cbor")
	require.NoError(t, os.WriteFile(path, []byte{0xFF, 0x00, 0x13}, 0o600))

	_, err := storage.OpenFileStore(path)
	assert.Error(t, err)
}
