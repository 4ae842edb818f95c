// Package session holds the long-lived credentials shared with one paired
// device and persists them to a storage.Store.
//
// Exactly four keys are written per namespace:
//
//	address  6 bytes   peer link address
//	pin      2 bytes   security PIN, little-endian
//	key     32 bytes   long-term symmetric key
//	authid   4 bytes   authorization id, little-endian
//
// A session whose key or authorization id is all zero is never considered
// paired.
package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/backkem/keyturner/pkg/crypto"
	"github.com/backkem/keyturner/pkg/message"
	"github.com/backkem/keyturner/pkg/storage"
)

// Storage keys.
const (
	KeyAddress = "address"
	KeyPIN     = "pin"
	KeyKey     = "key"
	KeyAuthID  = "authid"
)

const addressSize = 6

// Session is the authenticated relationship with one device.
//
// All methods are safe for concurrent use.
type Session struct {
	namespace string
	name      string

	mu         sync.RWMutex
	address    [addressSize]byte
	hasAddress bool
	pin        uint16
	key        [crypto.KeySize]byte
	authID     uint32
}

// New creates an empty session for namespace. name is the display name sent
// to the device while pairing.
func New(namespace, name string) *Session {
	return &Session{namespace: namespace, name: name}
}

// Namespace returns the storage namespace.
func (s *Session) Namespace() string {
	return s.namespace
}

// Name returns the display name.
func (s *Session) Name() string {
	return s.name
}

// Address returns the peer address in AA:BB:CC:DD:EE:FF form, or "" if unset.
func (s *Session) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasAddress {
		return ""
	}
	return formatAddress(s.address)
}

// SetAddress sets the peer address.
func (s *Session) SetAddress(address string) error {
	addr, err := parseAddress(address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.address = addr
	s.hasAddress = true
	s.mu.Unlock()
	return nil
}

// PIN returns the security PIN.
func (s *Session) PIN() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pin
}

// SetPIN sets the security PIN.
func (s *Session) SetPIN(pin uint16) {
	s.mu.Lock()
	s.pin = pin
	s.mu.Unlock()
}

// AuthID returns the authorization id.
func (s *Session) AuthID() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authID
}

// SetCredentials installs the key and authorization id obtained by pairing.
func (s *Session) SetCredentials(key [crypto.KeySize]byte, authID uint32) {
	s.mu.Lock()
	s.key = key
	s.authID = authID
	s.mu.Unlock()
}

// IsPaired reports whether the session holds a non-zero key and
// authorization id.
func (s *Session) IsPaired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isPaired()
}

func (s *Session) isPaired() bool {
	return s.authID != 0 && s.key != [crypto.KeySize]byte{}
}

// Codec returns a codec bound to the session's credentials.
// The caller owns the codec and should Zeroize it when done.
func (s *Session) Codec() (*message.Codec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isPaired() {
		return nil, ErrNotPaired
	}
	return message.NewCodec(s.key, s.authID), nil
}

// Info is a key-free snapshot of a session.
type Info struct {
	Namespace string
	Name      string
	Address   string
	PIN       uint16
	AuthID    uint32
	Paired    bool
}

// Info returns a snapshot without key material.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := Info{
		Namespace: s.namespace,
		Name:      s.name,
		PIN:       s.pin,
		AuthID:    s.authID,
		Paired:    s.isPaired(),
	}
	if s.hasAddress {
		info.Address = formatAddress(s.address)
	}
	return info
}

// Load reads the session from store. Missing keys leave the corresponding
// fields zero, so a fresh namespace loads as an unpaired session.
func (s *Session) Load(store storage.Store) error {
	var (
		addr   [addressSize]byte
		pin    [2]byte
		key    [crypto.KeySize]byte
		authID [4]byte
	)
	hasAddr, err := load(store, s.namespace, KeyAddress, addr[:])
	if err != nil {
		return err
	}
	if _, err := load(store, s.namespace, KeyPIN, pin[:]); err != nil {
		return err
	}
	if _, err := load(store, s.namespace, KeyKey, key[:]); err != nil {
		return err
	}
	if _, err := load(store, s.namespace, KeyAuthID, authID[:]); err != nil {
		clear(key[:])
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = addr
	s.hasAddress = hasAddr
	s.pin = binary.LittleEndian.Uint16(pin[:])
	s.key = key
	s.authID = binary.LittleEndian.Uint32(authID[:])
	clear(key[:])
	return nil
}

func load(store storage.Store, namespace, key string, dst []byte) (bool, error) {
	v, err := store.Get(namespace, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("session: load %s: %w", key, err)
	}
	defer clear(v)
	if len(v) != len(dst) {
		return false, fmt.Errorf("%w: %s has %d bytes, want %d", ErrCorrupt, key, len(v), len(dst))
	}
	copy(dst, v)
	return true, nil
}

// Save writes all four keys to store. If any write fails, the keys already
// written are restored to their previous values, so a failed Save never
// leaves a partial credential set behind.
func (s *Session) Save(store storage.Store) error {
	s.mu.RLock()
	addr := s.address
	pin := binary.LittleEndian.AppendUint16(nil, s.pin)
	key := s.key
	authID := binary.LittleEndian.AppendUint32(nil, s.authID)
	s.mu.RUnlock()
	defer clear(key[:])

	entries := []entry{
		{KeyAddress, addr[:]},
		{KeyPIN, pin},
		{KeyAuthID, authID},
		{KeyKey, key[:]},
	}

	// A nil previous value means the key was absent.
	prev := make([][]byte, len(entries))
	defer func() {
		for _, v := range prev {
			clear(v)
		}
	}()
	for i, e := range entries {
		v, err := store.Get(s.namespace, e.key)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("session: save %s: %w", e.key, err)
		}
		prev[i] = v
	}

	for i, e := range entries {
		if err := store.Put(s.namespace, e.key, e.value); err != nil {
			err = fmt.Errorf("session: save %s: %w", e.key, err)
			return errors.Join(err, s.restore(store, entries[:i], prev))
		}
	}
	return nil
}

type entry struct {
	key   string
	value []byte
}

// restore puts back prev[i] for each entries[i], deleting keys that were
// absent.
func (s *Session) restore(store storage.Store, entries []entry, prev [][]byte) error {
	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		var err error
		if prev[i] == nil {
			err = store.Delete(s.namespace, entries[i].key)
		} else {
			err = store.Put(s.namespace, entries[i].key, prev[i])
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("session: restore %s: %w", entries[i].key, err))
		}
	}
	return errors.Join(errs...)
}

// Delete removes all four keys from store and zeroizes the session.
func (s *Session) Delete(store storage.Store) error {
	s.Zeroize()
	var firstErr error
	for _, k := range []string{KeyAddress, KeyPIN, KeyKey, KeyAuthID} {
		if err := store.Delete(s.namespace, k); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("session: delete %s: %w", k, err)
		}
	}
	return firstErr
}

// Zeroize clears all credentials from memory.
func (s *Session) Zeroize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.key[:])
	clear(s.address[:])
	s.authID = 0
	s.pin = 0
	s.hasAddress = false
}

func parseAddress(address string) ([addressSize]byte, error) {
	var out [addressSize]byte
	hw, err := net.ParseMAC(address)
	if err != nil || len(hw) != addressSize {
		return out, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	copy(out[:], hw)
	return out, nil
}

func formatAddress(addr [addressSize]byte) string {
	return strings.ToUpper(net.HardwareAddr(addr[:]).String())
}
