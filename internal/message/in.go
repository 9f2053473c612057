// Package message implements the binary message codec used on the wire
// between clients and the game server. Every message body starts with its
// int16 opcode followed by big-endian fields.
package message

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/cory-johannsen/manaserv/internal/protocol"
)

// ErrTooShort is returned by NewIn when a body cannot hold an opcode.
var ErrTooShort = errors.New("message: body shorter than opcode")

// ErrUnderflow is reported by In.Err after a read ran past the end of the body.
var ErrUnderflow = errors.New("message: read past end of body")

// In is an incoming message. Fields are read in order; a read that does not
// fit in the remaining bytes yields -1 (or "" for strings), still advances
// the cursor, and marks the message as underflowed. Bytes and shorts are
// unsigned, so -1 never collides with a value on the wire.
type In struct {
	data []byte
	pos  int
	op   protocol.Opcode
	err  error
}

// NewIn wraps body and consumes its opcode.
//
// Precondition: body is the frame body (opcode + payload); it is not copied.
// Postcondition: Returns an In positioned after the opcode, or ErrTooShort.
func NewIn(body []byte) (*In, error) {
	if len(body) < 2 {
		return nil, ErrTooShort
	}
	m := &In{data: body}
	m.op = protocol.Opcode(m.ReadInt16())
	return m, nil
}

// Opcode returns the message type.
func (m *In) Opcode() protocol.Opcode { return m.op }

// Len returns the full body length including the opcode.
func (m *In) Len() int { return len(m.data) }

// UnreadLength returns the number of bytes not yet consumed.
func (m *In) UnreadLength() int {
	if m.pos >= len(m.data) {
		return 0
	}
	return len(m.data) - m.pos
}

// Err returns ErrUnderflow once any read has run past the end, nil otherwise.
func (m *In) Err() error { return m.err }

func (m *In) fits(n int) bool {
	return m.pos+n <= len(m.data)
}

// ReadInt8 reads one unsigned byte, 0..255.
func (m *In) ReadInt8() int {
	v := -1
	if m.fits(1) {
		v = int(m.data[m.pos])
	} else {
		m.err = ErrUnderflow
	}
	m.pos++
	return v
}

// ReadInt16 reads a big-endian unsigned 16-bit integer, 0..65535.
func (m *In) ReadInt16() int {
	v := -1
	if m.fits(2) {
		v = int(binary.BigEndian.Uint16(m.data[m.pos:]))
	} else {
		m.err = ErrUnderflow
	}
	m.pos += 2
	return v
}

// ReadInt32 reads a big-endian signed 32-bit integer.
func (m *In) ReadInt32() int32 {
	var v int32 = -1
	if m.fits(4) {
		v = int32(binary.BigEndian.Uint32(m.data[m.pos:]))
	} else {
		m.err = ErrUnderflow
	}
	m.pos += 4
	return v
}

// ReadString reads a string field. A negative length means the field is
// prefixed with its int16 length. The result stops at the first NUL, but the
// cursor always advances by the whole field.
//
// Postcondition: on an invalid or oversized length the cursor moves past the
// end, "" is returned and Err reports ErrUnderflow.
func (m *In) ReadString(length int) string {
	if length < 0 {
		length = m.ReadInt16()
	}
	if length < 0 || !m.fits(length) {
		m.pos = len(m.data) + 1
		m.err = ErrUnderflow
		return ""
	}
	field := m.data[m.pos : m.pos+length]
	m.pos += length
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field)
}
