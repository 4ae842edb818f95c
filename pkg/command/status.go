package command

import "fmt"

// StatusCode is the single-byte payload of a Status message.
type StatusCode uint8

const (
	// StatusComplete reports that a command finished.
	StatusComplete StatusCode = 0x00
	// StatusAccepted reports that a long-running command was accepted and
	// a StatusComplete will follow.
	StatusAccepted StatusCode = 0x01
)

// String returns the status name.
func (s StatusCode) String() string {
	switch s {
	case StatusComplete:
		return "Complete"
	case StatusAccepted:
		return "Accepted"
	default:
		return fmt.Sprintf("Status(0x%02X)", uint8(s))
	}
}

// ErrorCode is the first payload byte of an ErrorReport message.
type ErrorCode uint8

// General, pairing (P_) and keyturner (K_) error codes.
const (
	ErrorNone ErrorCode = 0x00

	ErrorNotPairing       ErrorCode = 0x10
	ErrorBadAuthenticator ErrorCode = 0x11
	ErrorBadParameterP    ErrorCode = 0x12
	ErrorMaxUser          ErrorCode = 0x13

	ErrorNotAuthorized        ErrorCode = 0x20
	ErrorBadPIN               ErrorCode = 0x21
	ErrorBadNonce             ErrorCode = 0x22
	ErrorBadParameter         ErrorCode = 0x23
	ErrorInvalidAuthID        ErrorCode = 0x24
	ErrorDisabled             ErrorCode = 0x25
	ErrorRemoteNotAllowed     ErrorCode = 0x26
	ErrorTimeNotAllowed       ErrorCode = 0x27
	ErrorTooManyPINAttempts   ErrorCode = 0x28
	ErrorTooManyEntries       ErrorCode = 0x29
	ErrorCodeAlreadyExists    ErrorCode = 0x2A
	ErrorCodeInvalid          ErrorCode = 0x2B
	ErrorCodeInvalidTimeout1  ErrorCode = 0x2C
	ErrorCodeInvalidTimeout2  ErrorCode = 0x2D
	ErrorCodeInvalidTimeout3  ErrorCode = 0x2E
	ErrorAutoUnlockTooRecent  ErrorCode = 0x40
	ErrorPositionUnknown      ErrorCode = 0x41
	ErrorMotorBlocked         ErrorCode = 0x42
	ErrorClutchFailure        ErrorCode = 0x43
	ErrorMotorTimeout         ErrorCode = 0x44
	ErrorBusy                 ErrorCode = 0x45
	ErrorCanceled             ErrorCode = 0x46
	ErrorNotCalibrated        ErrorCode = 0x47
	ErrorMotorPositionLimit   ErrorCode = 0x48
	ErrorMotorLowVoltage      ErrorCode = 0x49
	ErrorMotorPowerFailure    ErrorCode = 0x4A
	ErrorClutchPowerFailure   ErrorCode = 0x4B
	ErrorVoltageTooLow        ErrorCode = 0x4C
	ErrorFirmwareUpdateNeeded ErrorCode = 0x4D

	ErrorBadCRC    ErrorCode = 0xFD
	ErrorBadLength ErrorCode = 0xFE
	ErrorUnknown   ErrorCode = 0xFF
)

// String returns the error name, or the hex value for codes without one.
func (e ErrorCode) String() string {
	switch e {
	case ErrorNone:
		return "None"
	case ErrorNotPairing:
		return "NotPairing"
	case ErrorBadAuthenticator:
		return "BadAuthenticator"
	case ErrorNotAuthorized:
		return "NotAuthorized"
	case ErrorBadPIN:
		return "BadPIN"
	case ErrorBadNonce:
		return "BadNonce"
	case ErrorInvalidAuthID:
		return "InvalidAuthID"
	case ErrorBusy:
		return "Busy"
	case ErrorBadCRC:
		return "BadCRC"
	case ErrorBadLength:
		return "BadLength"
	default:
		return fmt.Sprintf("Error(0x%02X)", uint8(e))
	}
}
