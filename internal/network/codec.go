package network

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderLength is the size of the big-endian body length that precedes
// every message on the stream.
const HeaderLength = 2

// DefaultMaxFrameSize is the largest body accepted when none is configured.
const DefaultMaxFrameSize = 8192

// ErrFrameTooLarge is returned when a frame declares or carries a body above
// the configured maximum.
var ErrFrameTooLarge = errors.New("network: frame exceeds maximum size")

// Decoder splits a TCP byte stream into message bodies. It keeps partial
// frames between calls.
type Decoder struct {
	buf  bytes.Buffer
	size int
	max  int
}

// NewDecoder returns a Decoder rejecting bodies above maxFrameSize.
// A non-positive maxFrameSize uses DefaultMaxFrameSize.
func NewDecoder(maxFrameSize int) *Decoder {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Decoder{size: -1, max: maxFrameSize}
}

// Decode appends data to the pending input and returns every complete body.
// Returned bodies are copies and remain valid after later calls.
//
// Postcondition: on ErrFrameTooLarge the bodies decoded before the bad
// header are still returned; the decoder must not be used afterwards.
func (d *Decoder) Decode(data []byte) ([][]byte, error) {
	d.buf.Write(data)

	var bodies [][]byte
	for {
		if d.size < 0 {
			if d.buf.Len() < HeaderLength {
				return bodies, nil
			}
			d.size = int(binary.BigEndian.Uint16(d.buf.Next(HeaderLength)))
			if d.size > d.max {
				return bodies, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, d.size, d.max)
			}
		}
		if d.buf.Len() < d.size {
			return bodies, nil
		}
		bodies = append(bodies, bytes.Clone(d.buf.Next(d.size)))
		d.size = -1
	}
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return d.buf.Len()
}

// EncodeFrame prefixes body with its length.
//
// Postcondition: Returns HeaderLength+len(body) bytes, or ErrFrameTooLarge.
func EncodeFrame(body []byte, maxFrameSize int) ([]byte, error) {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	if len(body) > maxFrameSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(body), maxFrameSize)
	}
	frame := make([]byte, HeaderLength, HeaderLength+len(body))
	binary.BigEndian.PutUint16(frame, uint16(len(body)))
	return append(frame, body...), nil
}
