package badgerstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backkem/keyturner/pkg/session"
	"github.com/backkem/keyturner/pkg/storage"
	"github.com/backkem/keyturner/pkg/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := Open(Config{InMemory: true})
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestStore_Closed(t *testing.T) {
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Get("ns", "k")
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, s.Put("ns", "k", nil), storage.ErrClosed)
}

func TestStore_RequiresDir(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestStore_OnDisk(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(Config{Dir: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, s.Put("lock", "address", []byte{1, 2, 3, 4, 5, 6}))
	require.NoError(t, s.Close())

	s, err = Open(Config{Dir: dir})
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get("lock", "address")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, got)
}

func TestStore_SessionSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	var key [32]byte
	for i := range key {
		key[i] = byte(0xA0 + i)
	}

	s, err := Open(Config{Dir: dir, SyncWrites: true})
	require.NoError(t, err)
	sess := session.New("smartlock", "badger")
	require.NoError(t, sess.SetAddress("C0:FF:EE:00:00:01"))
	sess.SetPIN(1234)
	sess.SetCredentials(key, 5)
	require.NoError(t, sess.Save(s))
	require.NoError(t, s.Close())

	s, err = Open(Config{Dir: dir})
	require.NoError(t, err)
	defer s.Close()
	loaded := session.New("smartlock", "badger")
	require.NoError(t, loaded.Load(s))
	info := loaded.Info()
	assert.True(t, info.Paired)
	assert.Equal(t, uint32(5), info.AuthID)
	assert.Equal(t, uint16(1234), info.PIN)
	assert.Equal(t, "C0:FF:EE:00:00:01", info.Address)
}
