package message

import "errors"

// Message layer errors.
var (
	// Decoding errors
	ErrMessageTooShort = errors.New("message: data too short")
	ErrInvalidLength   = errors.New("message: length field does not match received data")
	ErrCRCMismatch     = errors.New("message: CRC mismatch")
	ErrAuthIDMismatch  = errors.New("message: inner and outer authorization id differ")

	// Encoding errors
	ErrBufferFull      = errors.New("message: builder capacity exceeded")
	ErrMessageTooLong  = errors.New("message: exceeds maximum size")
	ErrPayloadTooShort = errors.New("message: payload too short for record")

	// Security errors
	ErrDecryptionFailed = errors.New("message: decryption/authentication failed")
	ErrEncryptionFailed = errors.New("message: encryption failed")
)

// Wire format constants.
const (
	// CommandSize is the size of the opcode field.
	CommandSize = 2

	// AuthIDSize is the size of the authorization identifier field.
	AuthIDSize = 4

	// LengthSize is the size of the ciphertext length field.
	LengthSize = 2

	// PlainOverhead is command + CRC around a plain payload.
	PlainOverhead = CommandSize + 2

	// HeaderSize is the cleartext header of an encrypted frame:
	// nonce (24) || auth id (4) || ciphertext length (2).
	HeaderSize = 24 + AuthIDSize + LengthSize

	// InnerHeaderSize is auth id || command at the start of the plaintext.
	InnerHeaderSize = AuthIDSize + CommandSize

	// EncryptedOverhead is every byte an encrypted frame adds to its payload.
	EncryptedOverhead = HeaderSize + InnerHeaderSize + 2 + 16

	// MaxFrameSize bounds any single frame. It matches the largest ATT
	// attribute value.
	MaxFrameSize = 512
)
