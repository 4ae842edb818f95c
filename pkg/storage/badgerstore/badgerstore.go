// Package badgerstore implements storage.Store on top of Badger.
package badgerstore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/pion/logging"

	"github.com/backkem/keyturner/pkg/storage"
)

// Config configures a Store.
type Config struct {
	// Dir is the database directory. Required unless InMemory is set.
	Dir string

	// InMemory keeps the database in memory only.
	InMemory bool

	// SyncWrites fsyncs every write.
	// Default: false
	SyncWrites bool

	// LoggerFactory receives badger's own log output (optional).
	LoggerFactory logging.LoggerFactory
}

// Store is a storage.Store backed by Badger. Keys are "namespace/key".
type Store struct {
	db *badger.DB

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates a Badger database.
func Open(config Config) (*Store, error) {
	if config.Dir == "" && !config.InMemory {
		return nil, fmt.Errorf("badgerstore: dir is required")
	}

	opts := badger.DefaultOptions(config.Dir).
		WithInMemory(config.InMemory).
		WithSyncWrites(config.SyncWrites)
	if config.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}
	if config.LoggerFactory != nil {
		opts = opts.WithLogger(&badgerLogger{log: config.LoggerFactory.NewLogger("badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) view(fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}
	return s.db.View(fn)
}

func (s *Store) update(fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}
	return s.db.Update(fn)
}

// Get implements storage.Store.
func (s *Store) Get(namespace, key string) ([]byte, error) {
	if err := storage.ValidateKey(namespace, key); err != nil {
		return nil, err
	}

	var value []byte
	err := s.view(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(storage.FlatKey(namespace, key)))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put implements storage.Store.
func (s *Store) Put(namespace, key string, value []byte) error {
	if err := storage.ValidateKey(namespace, key); err != nil {
		return err
	}
	v := append([]byte(nil), value...)
	return s.update(func(txn *badger.Txn) error {
		return txn.Set([]byte(storage.FlatKey(namespace, key)), v)
	})
}

// Delete implements storage.Store.
func (s *Store) Delete(namespace, key string) error {
	if err := storage.ValidateKey(namespace, key); err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(storage.FlatKey(namespace, key)))
	})
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ storage.Store = (*Store)(nil)

// badgerLogger adapts a pion logger to badger.Logger.
type badgerLogger struct {
	log logging.LeveledLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.log.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.log.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.log.Infof(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.log.Debugf(format, args...) }
