// Package message implements the two keyturner wire formats.
//
// Plain frames are used only while pairing, before a shared key exists:
//
//	command (2, LE) || payload || CRC16 (2, LE)
//
// Encrypted frames carry everything after pairing:
//
//	nonce (24) || auth id (4, LE) || length (2, LE) || secretbox(
//	    auth id (4, LE) || command (2, LE) || payload || CRC16 (2, LE))
//
// The CRC is CRC-16/CCITT-FALSE over every plaintext byte before it. A frame
// that fails CRC or authentication is rejected as a whole and never partially
// delivered.
package message

import (
	"encoding/binary"

	"github.com/backkem/keyturner/pkg/command"
	"github.com/backkem/keyturner/pkg/crypto"
)

// Frame is a decoded message.
type Frame struct {
	Command command.Command
	// AuthID is zero for plain frames.
	AuthID  uint32
	Payload []byte
}

// StatusCode interprets the payload of a Status frame.
func (f *Frame) StatusCode() (command.StatusCode, bool) {
	if f.Command != command.Status || len(f.Payload) < 1 {
		return 0, false
	}
	return command.StatusCode(f.Payload[0]), true
}

// ErrorCode interprets the payload of an ErrorReport frame.
func (f *Frame) ErrorCode() (command.ErrorCode, bool) {
	if f.Command != command.ErrorReport || len(f.Payload) < 1 {
		return 0, false
	}
	return command.ErrorCode(f.Payload[0]), true
}

// NewStatus builds a Status frame.
func NewStatus(code command.StatusCode) *Frame {
	return &Frame{Command: command.Status, Payload: []byte{byte(code)}}
}

// NewErrorReport builds an ErrorReport frame: error code (1) followed by the
// offending command (2, LE).
func NewErrorReport(code command.ErrorCode, cmd command.Command) *Frame {
	return &Frame{
		Command: command.ErrorReport,
		Payload: []byte{byte(code), byte(cmd), byte(cmd >> 8)},
	}
}

// EncodePlain builds an unencrypted frame.
func EncodePlain(cmd command.Command, payload []byte) ([]byte, error) {
	size := PlainOverhead + len(payload)
	if size > MaxFrameSize {
		return nil, ErrMessageTooLong
	}
	b := NewBuilder(size)
	b.PutUint16(uint16(cmd)).PutBytes(payload)
	body, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	return binary.LittleEndian.AppendUint16(body, crypto.CRC16(body)), nil
}

// DecodePlain parses and CRC-checks an unencrypted frame.
func DecodePlain(data []byte) (*Frame, error) {
	if len(data) < PlainOverhead {
		return nil, ErrMessageTooShort
	}
	if err := verifyCRC(data); err != nil {
		return nil, err
	}

	r := NewReader(data[:len(data)-crypto.CRCSize])
	f := &Frame{Command: command.Command(r.Uint16())}
	f.Payload = r.Bytes(r.Remaining())
	return f, nil
}

func verifyCRC(data []byte) error {
	n := len(data) - crypto.CRCSize
	want := binary.LittleEndian.Uint16(data[n:])
	if crypto.CRC16(data[:n]) != want {
		return ErrCRCMismatch
	}
	return nil
}
