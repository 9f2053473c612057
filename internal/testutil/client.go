package testutil

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/cory-johannsen/manaserv/internal/message"
	"github.com/cory-johannsen/manaserv/internal/protocol"
)

// MessageClient is a framed protocol test client for integration testing.
type MessageClient struct {
	conn net.Conn
	t    *testing.T
}

// NewMessageClient dials the given address and returns a test client.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected MessageClient or fails the test.
func NewMessageClient(t *testing.T, addr string) *MessageClient {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("message client connected to %s [%s]", addr, time.Since(start))
	return &MessageClient{conn: conn, t: t}
}

// Send frames msg and writes it to the server.
//
// Postcondition: The length-prefixed body is written, or the test fails.
func (c *MessageClient) Send(msg *message.Out) {
	c.t.Helper()
	c.SendRaw(Frame(msg.Bytes()))
}

// SendRaw writes b to the server unmodified.
func (c *MessageClient) SendRaw(b []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write(b); err != nil {
		c.t.Fatalf("sending %d bytes: %v", len(b), err)
	}
}

// Receive reads one framed message from the server.
//
// Postcondition: Returns the decoded message, or fails the test on timeout.
func (c *MessageClient) Receive(timeout time.Duration) *message.In {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))

	var header [2]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		c.t.Fatalf("reading frame header: %v", err)
	}
	body := make([]byte, binary.BigEndian.Uint16(header[:]))
	if _, err := io.ReadFull(c.conn, body); err != nil {
		c.t.Fatalf("reading frame body: %v", err)
	}
	in, err := message.NewIn(body)
	if err != nil {
		c.t.Fatalf("decoding frame: %v", err)
	}
	return in
}

// Expect reads one message and fails the test unless it has opcode op.
func (c *MessageClient) Expect(op protocol.Opcode, timeout time.Duration) *message.In {
	c.t.Helper()
	in := c.Receive(timeout)
	if in.Opcode() != op {
		c.t.Fatalf("expected %s, got %s", op, in.Opcode())
	}
	return in
}

// ExpectClosed fails the test unless the server closes the connection
// within timeout.
func (c *MessageClient) ExpectClosed(timeout time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 64)
	for {
		_, err := c.conn.Read(buf)
		if err == io.EOF {
			return
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.t.Fatalf("connection still open after %s", timeout)
			}
			return
		}
	}
}

// Close closes the underlying connection.
func (c *MessageClient) Close() {
	c.conn.Close()
}

// Frame prefixes body with its big-endian length.
func Frame(body []byte) []byte {
	out := make([]byte, 2, 2+len(body))
	binary.BigEndian.PutUint16(out, uint16(len(body)))
	return append(out, body...)
}
