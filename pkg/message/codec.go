package message

import (
	"crypto/rand"
	"encoding/binary"
	"io"

	"github.com/backkem/keyturner/pkg/command"
	"github.com/backkem/keyturner/pkg/crypto"
)

// Codec encrypts and decrypts frames for one paired session.
type Codec struct {
	key    [crypto.KeySize]byte
	authID uint32
	rand   io.Reader
}

// NewCodec creates a codec for the long-term key and authorization id.
// The key is copied.
func NewCodec(key [crypto.KeySize]byte, authID uint32) *Codec {
	return &Codec{key: key, authID: authID, rand: rand.Reader}
}

// NewCodecWithRand is NewCodec with an injectable nonce source.
func NewCodecWithRand(key [crypto.KeySize]byte, authID uint32, r io.Reader) *Codec {
	return &Codec{key: key, authID: authID, rand: r}
}

// AuthID returns the authorization id placed in outgoing frames.
func (c *Codec) AuthID() uint32 { return c.authID }

// Encrypt builds an encrypted frame. Nothing is returned on failure.
func (c *Codec) Encrypt(cmd command.Command, payload []byte) ([]byte, error) {
	plainLen := InnerHeaderSize + len(payload) + crypto.CRCSize
	if HeaderSize+plainLen+crypto.MACSize > MaxFrameSize {
		return nil, ErrMessageTooLong
	}

	nonce, err := crypto.RandomNonce(c.rand)
	if err != nil {
		return nil, ErrEncryptionFailed
	}

	pb := NewBuilder(plainLen)
	pb.PutUint32(c.authID).PutUint16(uint16(cmd)).PutBytes(payload)
	body, err := pb.Bytes()
	if err != nil {
		return nil, err
	}
	plaintext := binary.LittleEndian.AppendUint16(body, crypto.CRC16(body))

	ciphertext := crypto.Seal(&c.key, &nonce, plaintext)
	clear(plaintext)

	out := NewBuilder(HeaderSize + len(ciphertext))
	out.PutBytes(nonce[:]).
		PutUint32(c.authID).
		PutUint16(uint16(len(ciphertext))).
		PutBytes(ciphertext)
	return out.Bytes()
}

// Decrypt authenticates, decrypts and CRC-checks an encrypted frame.
//
// The ciphertext length field comes from the peer and is checked against the
// received buffer before anything is copied.
func (c *Codec) Decrypt(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, ErrMessageTooShort
	}

	r := NewReader(data)
	var nonce [crypto.NonceSize]byte
	copy(nonce[:], r.Bytes(crypto.NonceSize))
	outerAuthID := r.Uint32()
	length := int(r.Uint16())

	if length != r.Remaining() {
		return nil, ErrInvalidLength
	}
	if length < crypto.MACSize+InnerHeaderSize+crypto.CRCSize {
		return nil, ErrMessageTooShort
	}

	plaintext, err := crypto.Open(&c.key, &nonce, data[HeaderSize:])
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	defer clear(plaintext)

	if err := verifyCRC(plaintext); err != nil {
		return nil, err
	}

	pr := NewReader(plaintext[:len(plaintext)-crypto.CRCSize])
	f := &Frame{AuthID: pr.Uint32(), Command: command.Command(pr.Uint16())}
	if f.AuthID != outerAuthID {
		return nil, ErrAuthIDMismatch
	}
	f.Payload = pr.Bytes(pr.Remaining())
	return f, nil
}

// Zeroize clears the key held by the codec.
func (c *Codec) Zeroize() {
	clear(c.key[:])
	c.authID = 0
}
