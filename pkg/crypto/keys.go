package crypto

import (
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/salsa20/salsa"
)

// KeySize is the size of Curve25519 keys and of the derived long-term key.
const KeySize = 32

// Key errors.
var (
	ErrInvalidPublicKey = errors.New("crypto: invalid public key")
	ErrLowOrderPoint    = errors.New("crypto: shared point has low order")
)

// KeyPair is an ephemeral Curve25519 key pair.
type KeyPair struct {
	Public  [KeySize]byte
	Private [KeySize]byte
}

// GenerateKeyPair creates a new key pair reading the scalar from rand.
func GenerateKeyPair(rand io.Reader) (*KeyPair, error) {
	var priv [KeySize]byte
	if _, err := io.ReadFull(rand, priv[:]); err != nil {
		return nil, err
	}
	return KeyPairFromPrivate(priv)
}

// KeyPairFromPrivate derives the public key for a fixed private scalar.
// Used for deterministic handshakes in tests.
func KeyPairFromPrivate(priv [KeySize]byte) (*KeyPair, error) {
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	kp := &KeyPair{Private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// Zeroize clears the private scalar.
func (kp *KeyPair) Zeroize() {
	if kp == nil {
		return
	}
	clear(kp.Private[:])
}

// DeriveSharedKey computes the long-term symmetric key from a local private
// scalar and the peer's public key.
//
// The shared Curve25519 point is fed through the HSalsa20 core with an
// all-zero 16-byte input and the "expand 32-byte k" constant. This is the same
// derivation nacl/box performs in Precompute.
func DeriveSharedKey(priv *[KeySize]byte, peerPublic []byte) ([KeySize]byte, error) {
	var key [KeySize]byte
	if len(peerPublic) != KeySize {
		return key, ErrInvalidPublicKey
	}

	shared, err := curve25519.X25519(priv[:], peerPublic)
	if err != nil {
		return key, ErrLowOrderPoint
	}

	var point [KeySize]byte
	copy(point[:], shared)
	clear(shared)

	var zero [16]byte
	salsa.HSalsa20(&key, &zero, &point, &salsa.Sigma)
	clear(point[:])

	return key, nil
}
