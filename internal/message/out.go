package message

import (
	"encoding/binary"

	"github.com/cory-johannsen/manaserv/internal/protocol"
)

// Out builds an outgoing message body.
type Out struct {
	data []byte
}

// NewOut starts a message of the given type.
//
// Postcondition: the body holds exactly the encoded opcode.
func NewOut(op protocol.Opcode) *Out {
	m := &Out{data: make([]byte, 0, 16)}
	m.WriteInt16(int16(op))
	return m
}

// Opcode returns the message type written by NewOut.
func (m *Out) Opcode() protocol.Opcode {
	return protocol.Opcode(binary.BigEndian.Uint16(m.data))
}

// WriteInt8 appends one byte.
func (m *Out) WriteInt8(v int8) {
	m.data = append(m.data, byte(v))
}

// WriteInt16 appends a big-endian 16-bit integer.
func (m *Out) WriteInt16(v int16) {
	m.data = binary.BigEndian.AppendUint16(m.data, uint16(v))
}

// WriteInt32 appends a big-endian 32-bit integer.
func (m *Out) WriteInt32(v int32) {
	m.data = binary.BigEndian.AppendUint32(m.data, uint32(v))
}

// MaxStringLength is the longest string a length prefix can describe.
const MaxStringLength = 0xFFFF

// WriteString appends s. A negative length writes an unsigned 16-bit length
// prefix followed by the bytes, truncating s to MaxStringLength; otherwise s
// is truncated or NUL-padded to exactly length bytes.
func (m *Out) WriteString(s string, length int) {
	if length < 0 {
		if len(s) > MaxStringLength {
			s = s[:MaxStringLength]
		}
		m.data = binary.BigEndian.AppendUint16(m.data, uint16(len(s)))
		m.data = append(m.data, s...)
		return
	}
	if len(s) > length {
		s = s[:length]
	}
	m.data = append(m.data, s...)
	for i := len(s); i < length; i++ {
		m.data = append(m.data, 0)
	}
}

// Len returns the body length including the opcode.
func (m *Out) Len() int { return len(m.data) }

// Bytes returns the encoded body. The slice aliases the builder.
func (m *Out) Bytes() []byte { return m.data }
