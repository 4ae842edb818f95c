package pairing

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/backkem/keyturner/pkg/command"
	"github.com/backkem/keyturner/pkg/crypto"
	"github.com/backkem/keyturner/pkg/message"
)

// ResponderConfig configures the lock side of the exchange.
type ResponderConfig struct {
	// KeyPair fixes the lock's ephemeral key pair (optional).
	KeyPair *crypto.KeyPair

	// DeviceUUID is returned in AuthorizationID.
	DeviceUUID uuid.UUID

	// AuthID is the id to assign. Zero draws a random non-zero id.
	AuthID uint32

	// Rand supplies keys, challenges and ids.
	// Default: crypto/rand.Reader
	Rand io.Reader
}

type responderState int

const (
	responderAwaitRequest responderState = iota
	responderAwaitPublicKey
	responderAwaitAuthenticator
	responderAwaitAuthorizationData
	responderAwaitConfirmation
	responderComplete
)

// Responder is the lock side of the pairing exchange. Unlike the client it
// verifies every authenticator it receives and answers a mismatch with an
// ErrorReport.
//
// Responder is not safe for concurrent use.
type Responder struct {
	config ResponderConfig
	state  responderState

	keys         *crypto.KeyPair
	clientPublic [crypto.KeySize]byte
	key          [crypto.KeySize]byte
	nonce        [crypto.ChallengeSize]byte
	client       *AuthorizationData
}

// NewResponder creates a responder.
func NewResponder(config ResponderConfig) (*Responder, error) {
	if config.Rand == nil {
		config.Rand = rand.Reader
	}
	r := &Responder{config: config}
	if config.KeyPair != nil {
		kp := *config.KeyPair
		r.keys = &kp
	} else {
		kp, err := crypto.GenerateKeyPair(config.Rand)
		if err != nil {
			return nil, fmt.Errorf("pairing: generate key pair: %w", err)
		}
		r.keys = kp
	}
	if r.config.AuthID == 0 {
		var b [4]byte
		for r.config.AuthID == 0 {
			if _, err := io.ReadFull(config.Rand, b[:]); err != nil {
				return nil, fmt.Errorf("pairing: auth id: %w", err)
			}
			r.config.AuthID = binary.LittleEndian.Uint32(b[:])
		}
	}
	return r, nil
}

// Complete reports whether the client confirmed its authorization id.
func (r *Responder) Complete() bool {
	return r.state == responderComplete
}

// Client returns the AuthorizationData the client sent, once received.
func (r *Responder) Client() *AuthorizationData {
	return r.client
}

// Result returns the credentials agreed with the client.
func (r *Responder) Result() (Result, error) {
	if r.state != responderComplete {
		return Result{}, ErrNotComplete
	}
	return Result{Key: r.key, AuthID: r.config.AuthID, DeviceUUID: r.config.DeviceUUID}, nil
}

// Handle processes one client frame and returns the reply. A frame that
// does not fit the current step yields an ErrorReport reply together with a
// non-nil error.
func (r *Responder) Handle(in *message.Frame) (*message.Frame, error) {
	switch {
	case r.state == responderAwaitRequest && in.Command == command.RequestData:
		if len(in.Payload) != 2 || command.Command(binary.LittleEndian.Uint16(in.Payload)) != command.PublicKey {
			return r.reject(in, command.ErrorBadParameterP)
		}
		r.state = responderAwaitPublicKey
		return frame(command.PublicKey, r.keys.Public[:]), nil

	case r.state == responderAwaitPublicKey && in.Command == command.PublicKey:
		key, err := crypto.DeriveSharedKey(&r.keys.Private, in.Payload)
		if err != nil {
			return r.reject(in, command.ErrorBadParameterP)
		}
		copy(r.clientPublic[:], in.Payload)
		r.key = key
		r.state = responderAwaitAuthenticator
		return r.challenge()

	case r.state == responderAwaitAuthenticator && in.Command == command.AuthorizationAuthenticator:
		want := crypto.Authenticator(&r.key, r.clientPublic[:], r.keys.Public[:], r.nonce[:])
		if !crypto.AuthenticatorEqual(in.Payload, want[:]) {
			return r.reject(in, command.ErrorBadAuthenticator)
		}
		r.state = responderAwaitAuthorizationData
		return r.challenge()

	case r.state == responderAwaitAuthorizationData && in.Command == command.AuthorizationData:
		d, err := DecodeAuthorizationData(in.Payload)
		if err != nil {
			return r.reject(in, command.ErrorBadLength)
		}
		signed, err := d.signed()
		if err != nil {
			return r.reject(in, command.ErrorBadLength)
		}
		want := crypto.Authenticator(&r.key, signed, r.nonce[:])
		if !crypto.AuthenticatorEqual(d.Authenticator[:], want[:]) {
			return r.reject(in, command.ErrorBadAuthenticator)
		}
		r.client = d

		if _, err := io.ReadFull(r.config.Rand, r.nonce[:]); err != nil {
			return nil, err
		}
		rec := AuthorizationID{
			AuthID:     r.config.AuthID,
			DeviceUUID: r.config.DeviceUUID,
			Nonce:      r.nonce,
		}
		rec.Authenticator = crypto.Authenticator(&r.key,
			uint32LE(rec.AuthID), rec.DeviceUUID[:], rec.Nonce[:], d.Nonce[:])
		payload, err := rec.Encode()
		if err != nil {
			return nil, err
		}
		r.state = responderAwaitConfirmation
		return frame(command.AuthorizationID, payload), nil

	case r.state == responderAwaitConfirmation && in.Command == command.AuthorizationIDConfirmation:
		c, err := DecodeAuthorizationIDConfirmation(in.Payload)
		if err != nil {
			return r.reject(in, command.ErrorBadLength)
		}
		want := crypto.Authenticator(&r.key, uint32LE(r.config.AuthID), r.nonce[:])
		if c.AuthID != r.config.AuthID || !crypto.AuthenticatorEqual(c.Authenticator[:], want[:]) {
			return r.reject(in, command.ErrorBadAuthenticator)
		}
		r.state = responderComplete
		r.keys.Zeroize()
		return message.NewStatus(command.StatusComplete), nil

	default:
		return r.reject(in, command.ErrorBadParameterP)
	}
}

func (r *Responder) challenge() (*message.Frame, error) {
	if _, err := io.ReadFull(r.config.Rand, r.nonce[:]); err != nil {
		return nil, err
	}
	return frame(command.Challenge, append([]byte(nil), r.nonce[:]...)), nil
}

func (r *Responder) reject(in *message.Frame, code command.ErrorCode) (*message.Frame, error) {
	cause := ErrInvalidMessage
	if code == command.ErrorBadAuthenticator {
		cause = ErrAuthentication
	}
	return message.NewErrorReport(code, in.Command), fmt.Errorf("%w: %s in response to %s", cause, code, in.Command)
}
