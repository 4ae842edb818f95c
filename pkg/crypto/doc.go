// Package crypto provides the cryptographic primitives used by the keyturner
// BLE protocol.
//
// The protocol combines a NaCl-style construction with a CRC trailer:
//   - Curve25519 ephemeral key agreement during pairing
//   - HSalsa20 key derivation from the shared point (the box "precompute" step)
//   - XSalsa20-Poly1305 (secretbox) for every encrypted frame
//   - HMAC-SHA256 authenticators proving possession of the long-term key
//   - CRC-16/CCITT-FALSE over every plaintext frame
package crypto
