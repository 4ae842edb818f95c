// Package pairing implements the key exchange that establishes the long-term
// key and authorization id shared between a client and a lock.
//
// The exchange runs over plain frames on the pairing characteristic:
//
//	client                                   lock
//	RequestData(PublicKey)          -->
//	                                <--      PublicKey(PKl)
//	PublicKey(PKc)                  -->
//	                                <--      Challenge(n1)
//	AuthorizationAuthenticator(a1)  -->      a1 = HMAC(k, PKc || PKl || n1)
//	                                <--      Challenge(n2)
//	AuthorizationData(a2 || data)   -->      a2 = HMAC(k, data || n2)
//	                                <--      AuthorizationID(a3 || id || uuid || n3)
//	AuthorizationIDConfirmation     -->      HMAC(k, id || n3) || id
//	                                <--      Status(Complete)
//
// k is derived with crypto.DeriveSharedKey. Handshake drives the client side
// from a polling loop; Responder implements the lock side for the simulator.
package pairing

import (
	"errors"
	"time"
)

// DefaultTimeout bounds a whole pairing attempt.
const DefaultTimeout = 30 * time.Second

// NameSize is the fixed width of the client name in AuthorizationData.
const NameSize = 32

// Pairing errors.
var (
	ErrInvalidState   = errors.New("pairing: invalid protocol state")
	ErrInvalidMessage = errors.New("pairing: invalid message")
	ErrPeerError      = errors.New("pairing: peer reported error")
	ErrAuthentication = errors.New("pairing: authenticator mismatch")
	ErrNotComplete    = errors.New("pairing: handshake not complete")
)

// IDType identifies the kind of client being authorized.
type IDType uint8

const (
	IDTypeApp    IDType = 0
	IDTypeBridge IDType = 1
	IDTypeFob    IDType = 2
)

// String returns the id type name.
func (t IDType) String() string {
	switch t {
	case IDTypeApp:
		return "App"
	case IDTypeBridge:
		return "Bridge"
	case IDTypeFob:
		return "Fob"
	default:
		return "Unknown"
	}
}

// State is a step of the client handshake.
type State int

const (
	StateInitPairing State = iota
	StateRequestRemotePublicKey
	StateAwaitRemotePublicKey
	StateSendLocalPublicKey
	StateDeriveSharedKey
	StateAwaitChallenge
	StateComputeAuthenticator
	StateSendAuthenticator
	StateAwaitChallengeAuthData
	StateSendAuthorizationData
	StateAwaitAuthorizationID
	StateSendAuthorizationIDConfirmation
	StateAwaitFinalStatus
	StateSuccess
	StateTimeout
	StateFailed
)

var stateNames = [...]string{
	StateInitPairing:                     "InitPairing",
	StateRequestRemotePublicKey:          "RequestRemotePublicKey",
	StateAwaitRemotePublicKey:            "AwaitRemotePublicKey",
	StateSendLocalPublicKey:              "SendLocalPublicKey",
	StateDeriveSharedKey:                 "DeriveSharedKey",
	StateAwaitChallenge:                  "AwaitChallenge",
	StateComputeAuthenticator:            "ComputeAuthenticator",
	StateSendAuthenticator:               "SendAuthenticator",
	StateAwaitChallengeAuthData:          "AwaitChallengeAuthData",
	StateSendAuthorizationData:           "SendAuthorizationData",
	StateAwaitAuthorizationID:            "AwaitAuthorizationID",
	StateSendAuthorizationIDConfirmation: "SendAuthorizationIDConfirmation",
	StateAwaitFinalStatus:                "AwaitFinalStatus",
	StateSuccess:                         "Success",
	StateTimeout:                         "Timeout",
	StateFailed:                          "Failed",
}

// String returns the state name.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// IsTerminal reports whether the handshake has ended.
func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateTimeout || s == StateFailed
}
