package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
)

// AuthenticatorSize is the size of an HMAC-SHA256 authenticator.
const AuthenticatorSize = sha256.Size

// Authenticator computes HMAC-SHA256 under key over the concatenation of parts.
//
// The pairing handshake uses this to prove knowledge of the derived long-term
// key, e.g. Authenticator(key, localPub, remotePub, challenge).
func Authenticator(key *[KeySize]byte, parts ...[]byte) [AuthenticatorSize]byte {
	h := hmac.New(sha256.New, key[:])
	for _, p := range parts {
		h.Write(p)
	}
	var out [AuthenticatorSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// AuthenticatorEqual compares two authenticators in constant time.
func AuthenticatorEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}
