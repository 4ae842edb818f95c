package device

import "github.com/backkem/keyturner/pkg/message"

// NameSuffixSize is the size of the optional name suffix of a LockAction.
const NameSuffixSize = 20

// LockActionFlagAutoUnlock asks the device to perform an auto unlock.
const LockActionFlagAutoUnlock uint8 = 0x01

// LockActionRequest is the LockAction command payload, before the
// challenge nonce is appended.
type LockActionRequest struct {
	Action LockAction
	AppID  uint32
	Flags  uint8
	// NameSuffix is shown in the device log when non-empty.
	NameSuffix string
}

// Encode serializes the request.
func (r *LockActionRequest) Encode() ([]byte, error) {
	size := 6
	if r.NameSuffix != "" {
		size += NameSuffixSize
	}
	b := message.NewBuilder(size)
	b.PutUint8(uint8(r.Action)).PutUint32(r.AppID).PutUint8(r.Flags)
	if r.NameSuffix != "" {
		b.PutFixedString(r.NameSuffix, NameSuffixSize)
	}
	return b.Bytes()
}

// DecodeLockActionRequest parses a LockAction payload with the nonce
// already removed.
func DecodeLockActionRequest(p []byte) (*LockActionRequest, error) {
	if len(p) < 6 {
		return nil, ErrShortRecord
	}
	r := message.NewReader(p)
	req := &LockActionRequest{
		Action: LockAction(r.Uint8()),
		AppID:  r.Uint32(),
		Flags:  r.Uint8(),
	}
	if r.Remaining() >= NameSuffixSize {
		req.NameSuffix = r.FixedString(NameSuffixSize)
	}
	return req, r.Err()
}

// EncodeUpdateTime builds the UpdateTime payload.
func EncodeUpdateTime(t Time) ([]byte, error) {
	b := message.NewBuilder(TimeSize)
	t.put(b)
	return b.Bytes()
}

// DecodeUpdateTime parses an UpdateTime payload.
func DecodeUpdateTime(p []byte) (Time, error) {
	if len(p) < TimeSize {
		return Time{}, ErrShortRecord
	}
	r := message.NewReader(p)
	return readTime(r), r.Err()
}

// EncodeSetSecurityPIN builds the SetSecurityPIN payload carrying the new
// PIN. The current PIN is appended by the engine.
func EncodeSetSecurityPIN(pin uint16) []byte {
	return []byte{byte(pin), byte(pin >> 8)}
}

// RequestLogEntries is the RequestLogEntries command payload.
type RequestLogEntries struct {
	StartIndex uint32
	Count      uint16
	SortOrder  uint8
	TotalCount bool
}

// Encode serializes the request.
func (r *RequestLogEntries) Encode() ([]byte, error) {
	b := message.NewBuilder(8)
	b.PutUint32(r.StartIndex).PutUint16(r.Count).PutUint8(r.SortOrder).PutUint8(boolByte(r.TotalCount))
	return b.Bytes()
}

// DecodeRequestLogEntries parses a RequestLogEntries payload.
func DecodeRequestLogEntries(p []byte) (*RequestLogEntries, error) {
	if len(p) < 8 {
		return nil, ErrShortRecord
	}
	r := message.NewReader(p)
	return &RequestLogEntries{
		StartIndex: r.Uint32(),
		Count:      r.Uint16(),
		SortOrder:  r.Uint8(),
		TotalCount: r.Uint8() != 0,
	}, r.Err()
}
