package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileStore keeps all namespaces in one CBOR-encoded file. Every Put and
// Delete rewrites the file through a temporary file and rename, so a crash
// leaves either the old or the new contents.
type FileStore struct {
	path string

	mu   sync.Mutex
	data map[string]map[string][]byte
}

// fileMode keeps credentials readable by the owner only.
const fileMode = 0o600

// OpenFileStore loads path, or starts empty if it does not exist yet.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path: path,
		data: make(map[string]map[string][]byte),
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}

	if len(raw) > 0 {
		if err := cbor.Unmarshal(raw, &s.data); err != nil {
			return nil, fmt.Errorf("storage: decode %s: %w", path, err)
		}
	}
	if s.data == nil {
		s.data = make(map[string]map[string][]byte)
	}
	return s, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Get implements Store.
func (s *FileStore) Get(namespace, key string) ([]byte, error) {
	if err := ValidateKey(namespace, key); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.data[namespace][key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Put implements Store.
func (s *FileStore) Put(namespace, key string, value []byte) error {
	if err := ValidateKey(namespace, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.data[namespace]
	if !ok {
		ns = make(map[string][]byte)
		s.data[namespace] = ns
	}
	ns[key] = append([]byte(nil), value...)
	return s.flush()
}

// Delete implements Store.
func (s *FileStore) Delete(namespace, key string) error {
	if err := ValidateKey(namespace, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.data[namespace]
	if !ok {
		return nil
	}
	if _, ok := ns[key]; !ok {
		return nil
	}
	clear(ns[key])
	delete(ns, key)
	if len(ns) == 0 {
		delete(s.data, namespace)
	}
	return s.flush()
}

// Namespaces returns the namespaces that hold at least one key.
func (s *FileStore) Namespaces() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.data))
	for ns := range s.data {
		out = append(out, ns)
	}
	return out
}

func (s *FileStore) flush() error {
	raw, err := cbor.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("storage: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: write: %w", err)
	}
	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
