package pairing

import (
	"github.com/google/uuid"

	"github.com/backkem/keyturner/pkg/crypto"
	"github.com/backkem/keyturner/pkg/message"
)

// Record sizes.
const (
	authorizationDataSize   = crypto.AuthenticatorSize + 1 + 4 + NameSize + crypto.ChallengeSize
	authorizationIDSize     = crypto.AuthenticatorSize + 4 + 16 + crypto.ChallengeSize
	authorizationIDConfSize = crypto.AuthenticatorSize + 4
)

// AuthorizationData identifies the client to the lock.
type AuthorizationData struct {
	Authenticator [crypto.AuthenticatorSize]byte
	IDType        IDType
	AppID         uint32
	Name          string
	Nonce         [crypto.ChallengeSize]byte
}

// signed returns the authenticated fields: id type || app id || name || nonce.
func (d *AuthorizationData) signed() ([]byte, error) {
	b := message.NewBuilder(authorizationDataSize - crypto.AuthenticatorSize)
	b.PutUint8(uint8(d.IDType)).
		PutUint32(d.AppID).
		PutFixedString(d.Name, NameSize).
		PutBytes(d.Nonce[:])
	return b.Bytes()
}

// Encode serializes the record.
func (d *AuthorizationData) Encode() ([]byte, error) {
	signed, err := d.signed()
	if err != nil {
		return nil, err
	}
	b := message.NewBuilder(authorizationDataSize)
	b.PutBytes(d.Authenticator[:]).PutBytes(signed)
	return b.Bytes()
}

// DecodeAuthorizationData parses an AuthorizationData payload.
func DecodeAuthorizationData(data []byte) (*AuthorizationData, error) {
	if len(data) != authorizationDataSize {
		return nil, ErrInvalidMessage
	}
	r := message.NewReader(data)
	d := &AuthorizationData{}
	copy(d.Authenticator[:], r.Bytes(crypto.AuthenticatorSize))
	d.IDType = IDType(r.Uint8())
	d.AppID = r.Uint32()
	d.Name = r.FixedString(NameSize)
	copy(d.Nonce[:], r.Bytes(crypto.ChallengeSize))
	if r.Err() != nil {
		return nil, ErrInvalidMessage
	}
	return d, nil
}

// AuthorizationID is the lock's assignment of an authorization id.
type AuthorizationID struct {
	Authenticator [crypto.AuthenticatorSize]byte
	AuthID        uint32
	DeviceUUID    uuid.UUID
	Nonce         [crypto.ChallengeSize]byte
}

// Encode serializes the record.
func (a *AuthorizationID) Encode() ([]byte, error) {
	b := message.NewBuilder(authorizationIDSize)
	b.PutBytes(a.Authenticator[:]).
		PutUint32(a.AuthID).
		PutBytes(a.DeviceUUID[:]).
		PutBytes(a.Nonce[:])
	return b.Bytes()
}

// DecodeAuthorizationID parses an AuthorizationID payload.
func DecodeAuthorizationID(data []byte) (*AuthorizationID, error) {
	if len(data) != authorizationIDSize {
		return nil, ErrInvalidMessage
	}
	r := message.NewReader(data)
	a := &AuthorizationID{}
	copy(a.Authenticator[:], r.Bytes(crypto.AuthenticatorSize))
	a.AuthID = r.Uint32()
	copy(a.DeviceUUID[:], r.Bytes(16))
	copy(a.Nonce[:], r.Bytes(crypto.ChallengeSize))
	if r.Err() != nil {
		return nil, ErrInvalidMessage
	}
	return a, nil
}

// AuthorizationIDConfirmation acknowledges an AuthorizationID.
type AuthorizationIDConfirmation struct {
	Authenticator [crypto.AuthenticatorSize]byte
	AuthID        uint32
}

// Encode serializes the record.
func (c *AuthorizationIDConfirmation) Encode() ([]byte, error) {
	b := message.NewBuilder(authorizationIDConfSize)
	b.PutBytes(c.Authenticator[:]).PutUint32(c.AuthID)
	return b.Bytes()
}

// DecodeAuthorizationIDConfirmation parses an AuthorizationIDConfirmation payload.
func DecodeAuthorizationIDConfirmation(data []byte) (*AuthorizationIDConfirmation, error) {
	if len(data) != authorizationIDConfSize {
		return nil, ErrInvalidMessage
	}
	r := message.NewReader(data)
	c := &AuthorizationIDConfirmation{}
	copy(c.Authenticator[:], r.Bytes(crypto.AuthenticatorSize))
	c.AuthID = r.Uint32()
	if r.Err() != nil {
		return nil, ErrInvalidMessage
	}
	return c, nil
}

func uint32LE(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
