package pairing

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/backkem/keyturner/pkg/command"
	"github.com/backkem/keyturner/pkg/crypto"
	"github.com/backkem/keyturner/pkg/message"
)

// Config configures a client Handshake.
type Config struct {
	// Name is sent to the lock and shown in its authorization list.
	Name string

	// IDType and AppID identify the client.
	IDType IDType
	AppID  uint32

	// Timeout bounds the whole handshake.
	// Default: DefaultTimeout
	Timeout time.Duration

	// KeyPair fixes the ephemeral key pair (optional, for tests).
	KeyPair *crypto.KeyPair

	// Rand supplies the ephemeral key and the client nonce.
	// Default: crypto/rand.Reader
	Rand io.Reader

	// LoggerFactory for logging (optional).
	LoggerFactory logging.LoggerFactory
}

// Result is the outcome of a successful handshake.
type Result struct {
	Key        [crypto.KeySize]byte
	AuthID     uint32
	DeviceUUID uuid.UUID
}

// Zeroize clears the key.
func (r *Result) Zeroize() {
	clear(r.Key[:])
}

// Handshake is the client side of the pairing exchange.
//
// Usage:
//
//	h, _ := pairing.NewHandshake(config)
//	out, _ := h.Start(now)
//	// send out; then for every received frame (or nil on an idle poll):
//	out, err = h.Step(frame)
//	h.Expire(now)
//	// until h.State().IsTerminal()
//
// Step runs the handshake forward until it reaches a state that waits for
// the peer, returning the frame to send if one was produced on the way. A
// wait state only advances when it is offered the opcode it expects; any
// other frame leaves it unchanged.
//
// Handshake is not safe for concurrent use.
type Handshake struct {
	config Config
	log    logging.LeveledLogger

	state   State
	started bool
	start   time.Time

	keys          *crypto.KeyPair
	remotePublic  [crypto.KeySize]byte
	key           [crypto.KeySize]byte
	nonce         [crypto.ChallengeSize]byte
	authenticator [crypto.AuthenticatorSize]byte

	authID     uint32
	deviceUUID uuid.UUID
	peerError  command.ErrorCode
}

// NewHandshake creates a client handshake.
func NewHandshake(config Config) (*Handshake, error) {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Rand == nil {
		config.Rand = rand.Reader
	}

	h := &Handshake{config: config, state: StateInitPairing}
	if config.LoggerFactory != nil {
		h.log = config.LoggerFactory.NewLogger("pairing")
	}

	if config.KeyPair != nil {
		kp := *config.KeyPair
		h.keys = &kp
	} else {
		kp, err := crypto.GenerateKeyPair(config.Rand)
		if err != nil {
			return nil, fmt.Errorf("pairing: generate key pair: %w", err)
		}
		h.keys = kp
	}
	return h, nil
}

// State returns the current state.
func (h *Handshake) State() State {
	return h.state
}

// LocalPublicKey returns the ephemeral public key.
func (h *Handshake) LocalPublicKey() [crypto.KeySize]byte {
	return h.keys.Public
}

// PeerError returns the error code the peer reported, if the handshake
// failed because of one.
func (h *Handshake) PeerError() (command.ErrorCode, bool) {
	return h.peerError, h.state == StateFailed && h.peerError != command.ErrorNone
}

// Start records the start time and returns the first frame to send.
func (h *Handshake) Start(now time.Time) (*message.Frame, error) {
	if h.started {
		return nil, ErrInvalidState
	}
	h.started = true
	h.start = now
	if h.log != nil {
		h.log.Infof("pairing as %q", h.config.Name)
	}
	return h.Step(nil)
}

// Expire moves the handshake to Timeout once the budget is exhausted.
// It reports whether the handshake timed out on this call.
func (h *Handshake) Expire(now time.Time) bool {
	if !h.started || h.state.IsTerminal() {
		return false
	}
	if now.Sub(h.start) < h.config.Timeout {
		return false
	}
	if h.log != nil {
		h.log.Warnf("pairing timed out in %s", h.state)
	}
	h.state = StateTimeout
	h.Zeroize()
	return true
}

// Step offers in (which may be nil) to the handshake and runs it to the next
// wait state. It returns the frame to send, if any.
//
// An ErrorReport from the peer ends the handshake in Failed. A malformed
// payload for an expected opcode is dropped with ErrInvalidMessage and the
// state is kept.
func (h *Handshake) Step(in *message.Frame) (*message.Frame, error) {
	if !h.started {
		return nil, ErrInvalidState
	}
	if h.state.IsTerminal() {
		return nil, nil
	}

	if in != nil && in.Command == command.ErrorReport {
		code, _ := in.ErrorCode()
		h.peerError = code
		if h.log != nil {
			h.log.Warnf("peer reported %s in %s", code, h.state)
		}
		h.state = StateFailed
		h.Zeroize()
		return nil, fmt.Errorf("%w: %s", ErrPeerError, code)
	}

	var out *message.Frame
	for {
		prev := h.state
		switch h.state {
		case StateInitPairing:
			h.state = StateRequestRemotePublicKey

		case StateRequestRemotePublicKey:
			out = frame(command.RequestData, uint16LE(uint16(command.PublicKey)))
			h.state = StateAwaitRemotePublicKey

		case StateAwaitRemotePublicKey:
			if !expects(in, command.PublicKey) {
				return out, nil
			}
			if len(in.Payload) != crypto.KeySize {
				return out, h.malformed(in)
			}
			copy(h.remotePublic[:], in.Payload)
			in = nil
			h.state = StateSendLocalPublicKey

		case StateSendLocalPublicKey:
			out = frame(command.PublicKey, h.keys.Public[:])
			h.state = StateDeriveSharedKey

		case StateDeriveSharedKey:
			key, err := crypto.DeriveSharedKey(&h.keys.Private, h.remotePublic[:])
			if err != nil {
				h.state = StateFailed
				h.Zeroize()
				return nil, fmt.Errorf("pairing: %w", err)
			}
			h.key = key
			clear(key[:])
			h.state = StateAwaitChallenge

		case StateAwaitChallenge, StateAwaitChallengeAuthData:
			if !expects(in, command.Challenge) {
				return out, nil
			}
			if len(in.Payload) != crypto.ChallengeSize {
				return out, h.malformed(in)
			}
			copy(h.nonce[:], in.Payload)
			in = nil
			if h.state == StateAwaitChallenge {
				h.state = StateComputeAuthenticator
			} else {
				h.state = StateSendAuthorizationData
			}

		case StateComputeAuthenticator:
			h.authenticator = crypto.Authenticator(&h.key, h.keys.Public[:], h.remotePublic[:], h.nonce[:])
			h.state = StateSendAuthenticator

		case StateSendAuthenticator:
			out = frame(command.AuthorizationAuthenticator, h.authenticator[:])
			h.state = StateAwaitChallengeAuthData

		case StateSendAuthorizationData:
			payload, err := h.authorizationData()
			if err != nil {
				h.state = StateFailed
				h.Zeroize()
				return nil, err
			}
			out = frame(command.AuthorizationData, payload)
			h.state = StateAwaitAuthorizationID

		case StateAwaitAuthorizationID:
			if !expects(in, command.AuthorizationID) {
				return out, nil
			}
			rec, err := DecodeAuthorizationID(in.Payload)
			if err != nil || rec.AuthID == 0 {
				return out, h.malformed(in)
			}
			h.authID = rec.AuthID
			h.deviceUUID = rec.DeviceUUID
			h.nonce = rec.Nonce
			in = nil
			h.state = StateSendAuthorizationIDConfirmation

		case StateSendAuthorizationIDConfirmation:
			conf := AuthorizationIDConfirmation{
				Authenticator: crypto.Authenticator(&h.key, uint32LE(h.authID), h.nonce[:]),
				AuthID:        h.authID,
			}
			payload, err := conf.Encode()
			if err != nil {
				h.state = StateFailed
				h.Zeroize()
				return nil, err
			}
			out = frame(command.AuthorizationIDConfirmation, payload)
			h.state = StateAwaitFinalStatus

		case StateAwaitFinalStatus:
			status, ok := statusOf(in)
			if !ok {
				return out, nil
			}
			if status != command.StatusComplete {
				return out, h.malformed(in)
			}
			h.state = StateSuccess
			if h.log != nil {
				h.log.Infof("paired, authorization id %d", h.authID)
			}
			h.keys.Zeroize()
			clear(h.authenticator[:])
			return out, nil

		default:
			return out, nil
		}

		if h.log != nil && prev != h.state {
			h.log.Tracef("%s -> %s", prev, h.state)
		}
	}
}

// authorizationData builds the AuthorizationData payload for the current
// challenge with a fresh client nonce.
func (h *Handshake) authorizationData() ([]byte, error) {
	d := AuthorizationData{
		IDType: h.config.IDType,
		AppID:  h.config.AppID,
		Name:   h.config.Name,
	}
	if _, err := io.ReadFull(h.config.Rand, d.Nonce[:]); err != nil {
		return nil, fmt.Errorf("pairing: client nonce: %w", err)
	}
	signed, err := d.signed()
	if err != nil {
		return nil, err
	}
	h.authenticator = crypto.Authenticator(&h.key, signed, h.nonce[:])
	d.Authenticator = h.authenticator
	return d.Encode()
}

func (h *Handshake) malformed(in *message.Frame) error {
	if h.log != nil {
		h.log.Debugf("dropping malformed %s (%d bytes) in %s", in.Command, len(in.Payload), h.state)
	}
	return fmt.Errorf("%w: %s", ErrInvalidMessage, in.Command)
}

// Result returns the credentials once the handshake succeeded.
func (h *Handshake) Result() (Result, error) {
	if h.state != StateSuccess {
		return Result{}, ErrNotComplete
	}
	return Result{Key: h.key, AuthID: h.authID, DeviceUUID: h.deviceUUID}, nil
}

// Zeroize clears all key material held by the handshake.
func (h *Handshake) Zeroize() {
	h.keys.Zeroize()
	clear(h.key[:])
	clear(h.nonce[:])
	clear(h.authenticator[:])
}

func frame(cmd command.Command, payload []byte) *message.Frame {
	return &message.Frame{Command: cmd, Payload: payload}
}

func expects(in *message.Frame, cmd command.Command) bool {
	return in != nil && in.Command == cmd
}

func statusOf(in *message.Frame) (command.StatusCode, bool) {
	if in == nil {
		return 0, false
	}
	return in.StatusCode()
}

func uint16LE(v uint16) []byte {
	return []byte{byte(v), byte(v >> 8)}
}
