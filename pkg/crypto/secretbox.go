package crypto

import (
	"errors"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// Secretbox constants.
const (
	// NonceSize is the XSalsa20 nonce length.
	NonceSize = 24

	// MACSize is the Poly1305 tag length appended by Seal.
	MACSize = secretbox.Overhead

	// ChallengeSize is the size of a peer-issued challenge nonce.
	ChallengeSize = 32
)

// ErrDecryptionFailed is returned when secretbox authentication fails.
var ErrDecryptionFailed = errors.New("crypto: decryption failed")

// Seal encrypts and authenticates plaintext with XSalsa20-Poly1305.
// The returned ciphertext is len(plaintext)+MACSize bytes.
func Seal(key *[KeySize]byte, nonce *[NonceSize]byte, plaintext []byte) []byte {
	return secretbox.Seal(nil, plaintext, nonce, key)
}

// Open authenticates and decrypts ciphertext produced by Seal.
func Open(key *[KeySize]byte, nonce *[NonceSize]byte, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < MACSize {
		return nil, ErrDecryptionFailed
	}
	out, ok := secretbox.Open(nil, ciphertext, nonce, key)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return out, nil
}

// RandomNonce reads a fresh secretbox nonce from rand.
func RandomNonce(rand io.Reader) ([NonceSize]byte, error) {
	var n [NonceSize]byte
	_, err := io.ReadFull(rand, n[:])
	return n, err
}

// RandomChallenge reads a fresh 32-byte challenge nonce from rand.
func RandomChallenge(rand io.Reader) ([ChallengeSize]byte, error) {
	var n [ChallengeSize]byte
	_, err := io.ReadFull(rand, n[:])
	return n, err
}
