package command

import "errors"

// MaxPayloadSize bounds the payload of a single Action.
const MaxPayloadSize = 100

// Action errors.
var (
	ErrPayloadTooLarge  = errors.New("command: payload too large")
	ErrInvalidAuthClass = errors.New("command: invalid authentication class")
	ErrInvalidCommand   = errors.New("command: invalid command")
)

// AuthClass selects which extra protocol rounds a command requires.
type AuthClass int

const (
	// Unauthenticated commands are sent once and answered once.
	Unauthenticated AuthClass = iota
	// WithChallenge commands first fetch a challenge nonce and append it.
	WithChallenge
	// ChallengeAccept commands additionally wait for Accepted then Complete.
	ChallengeAccept
	// ChallengePin commands append the stored security PIN after the nonce.
	ChallengePin
)

// String returns the class name.
func (a AuthClass) String() string {
	switch a {
	case Unauthenticated:
		return "Command"
	case WithChallenge:
		return "CommandWithChallenge"
	case ChallengeAccept:
		return "CommandWithChallengeAndAccept"
	case ChallengePin:
		return "CommandWithChallengeAndPin"
	default:
		return "Unknown"
	}
}

// IsValid reports whether a is a defined class.
func (a AuthClass) IsValid() bool {
	return a >= Unauthenticated && a <= ChallengePin
}

// NeedsChallenge reports whether the class starts with a challenge round.
func (a AuthClass) NeedsChallenge() bool {
	return a == WithChallenge || a == ChallengeAccept || a == ChallengePin
}

// Action is a unit of work for the command execution engine.
// It is consumed by a single execution and not retained.
type Action struct {
	Class   AuthClass
	Command Command
	Payload []byte

	// Expect, when non-zero, is the opcode of the reply that ends the
	// exchange. Data replies received before it are collected in the
	// response. List requests set Expect to Status.
	Expect Command
}

// Validate checks the envelope invariants that do not depend on the link.
func (a *Action) Validate() error {
	if !a.Class.IsValid() {
		return ErrInvalidAuthClass
	}
	if a.Command == Empty {
		return ErrInvalidCommand
	}
	if len(a.Payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	return nil
}

// NewRequestData builds the unauthenticated request for a data record,
// e.g. NewRequestData(KeyturnerStates).
func NewRequestData(requested Command) Action {
	return Action{
		Class:   Unauthenticated,
		Command: RequestData,
		Payload: []byte{byte(requested), byte(requested >> 8)},
	}
}

// DefaultAuthClass returns the authentication class a request command is
// sent with. ok is false for reply-only and pairing opcodes, which are never
// sent as encrypted requests.
func DefaultAuthClass(c Command) (class AuthClass, ok bool) {
	switch c {
	case RequestData:
		return Unauthenticated, true
	case LockAction, KeypadAction, SimpleLockAction, ContinuousModeAction:
		return ChallengeAccept, true
	case RequestConfig, RequestReboot, RequestAdvancedConfig, AuthorizationDataInvite:
		return WithChallenge, true
	case RemoveUserAuthorization, RequestAuthorizationEntries, SetConfig,
		SetSecurityPIN, RequestCalibration, AuthorizationIDInvite,
		VerifySecurityPIN, UpdateTime, UpdateAuthorization,
		StartBusSignalRecording, RequestLogEntries, EnableLogging,
		SetAdvancedConfig, AddTimeControlEntry, RemoveTimeControlEntry,
		RequestTimeControlEntries, UpdateTimeControlEntry, AddKeypadCode,
		RequestKeypadCodes, UpdateKeypadCode, RemoveKeypadCode:
		return ChallengePin, true
	default:
		return Unauthenticated, false
	}
}
