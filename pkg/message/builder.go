package message

import "encoding/binary"

// Builder appends little-endian fields to a buffer of fixed capacity.
//
// Errors are sticky: after the first overflow every Put is a no-op and Err
// reports ErrBufferFull, so a chain of Puts needs a single check at the end.
type Builder struct {
	buf []byte
	max int
	err error
}

// NewBuilder returns a Builder that refuses to grow beyond capacity bytes.
func NewBuilder(capacity int) *Builder {
	return &Builder{buf: make([]byte, 0, capacity), max: capacity}
}

func (b *Builder) reserve(n int) bool {
	if b.err != nil {
		return false
	}
	if len(b.buf)+n > b.max {
		b.err = ErrBufferFull
		return false
	}
	return true
}

// PutUint8 appends one byte.
func (b *Builder) PutUint8(v uint8) *Builder {
	if b.reserve(1) {
		b.buf = append(b.buf, v)
	}
	return b
}

// PutUint16 appends v little-endian.
func (b *Builder) PutUint16(v uint16) *Builder {
	if b.reserve(2) {
		b.buf = binary.LittleEndian.AppendUint16(b.buf, v)
	}
	return b
}

// PutUint32 appends v little-endian.
func (b *Builder) PutUint32(v uint32) *Builder {
	if b.reserve(4) {
		b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
	}
	return b
}

// PutBytes appends p verbatim.
func (b *Builder) PutBytes(p []byte) *Builder {
	if b.reserve(len(p)) {
		b.buf = append(b.buf, p...)
	}
	return b
}

// PutFixedString appends s truncated or zero-padded to exactly n bytes.
func (b *Builder) PutFixedString(s string, n int) *Builder {
	if !b.reserve(n) {
		return b
	}
	field := make([]byte, n)
	copy(field, s)
	b.buf = append(b.buf, field...)
	return b
}

// Len returns the number of bytes written so far.
func (b *Builder) Len() int { return len(b.buf) }

// Err returns the first error encountered.
func (b *Builder) Err() error { return b.err }

// Bytes returns the built buffer, or the first error.
func (b *Builder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.buf, nil
}

// Reader consumes little-endian fields from a byte slice.
// Like Builder, it records the first short read and returns zero values after.
type Reader struct {
	data []byte
	off  int
	err  error
}

// NewReader returns a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = ErrPayloadTooShort
		return nil
	}
	p := r.data[r.off : r.off+n]
	r.off += n
	return p
}

// Uint8 reads one byte.
func (r *Reader) Uint8() uint8 {
	if p := r.take(1); p != nil {
		return p[0]
	}
	return 0
}

// Uint16 reads a little-endian uint16.
func (r *Reader) Uint16() uint16 {
	if p := r.take(2); p != nil {
		return binary.LittleEndian.Uint16(p)
	}
	return 0
}

// Uint32 reads a little-endian uint32.
func (r *Reader) Uint32() uint32 {
	if p := r.take(4); p != nil {
		return binary.LittleEndian.Uint32(p)
	}
	return 0
}

// Bytes reads n bytes. The result is a copy.
func (r *Reader) Bytes(n int) []byte {
	p := r.take(n)
	if p == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, p)
	return out
}

// FixedString reads an n-byte zero-padded string.
func (r *Reader) FixedString(n int) string {
	p := r.take(n)
	for i, c := range p {
		if c == 0 {
			return string(p[:i])
		}
	}
	return string(p)
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.off }

// Err returns the first short-read error.
func (r *Reader) Err() error { return r.err }
