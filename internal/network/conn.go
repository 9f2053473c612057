package network

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cory-johannsen/manaserv/internal/message"
)

// Conn is one connected client. Sends are safe for concurrent use.
type Conn struct {
	id           uuid.UUID
	raw          net.Conn
	writeTimeout time.Duration
	maxFrameSize int
	connectedAt  time.Time

	mu     sync.Mutex
	closed atomic.Bool
	reason atomic.Value

	onSend func()
}

// NewConn wraps a raw network connection.
//
// Precondition: raw must be a valid, open network connection.
// Postcondition: Returns a Conn with a fresh random ID.
func NewConn(raw net.Conn, writeTimeout time.Duration, maxFrameSize int) *Conn {
	return &Conn{
		id:           uuid.New(),
		raw:          raw,
		writeTimeout: writeTimeout,
		maxFrameSize: maxFrameSize,
		connectedAt:  time.Now(),
	}
}

// ID returns the connection identifier.
func (c *Conn) ID() uuid.UUID { return c.id }

// RemoteAddr returns the peer address as a string.
func (c *Conn) RemoteAddr() string {
	if addr := c.raw.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// ConnectedAt returns when the connection was accepted.
func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

// Send frames and writes msg to the client.
//
// Precondition: msg must be non-nil.
// Postcondition: The whole frame is written, or a non-nil error is returned.
func (c *Conn) Send(msg *message.Out) error {
	if c.closed.Load() {
		return fmt.Errorf("sending %s to %s: connection closed", msg.Opcode(), c.id)
	}
	frame, err := EncodeFrame(msg.Bytes(), c.maxFrameSize)
	if err != nil {
		return fmt.Errorf("sending %s: %w", msg.Opcode(), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.raw.Write(frame); err != nil {
		return fmt.Errorf("sending %s to %s: %w", msg.Opcode(), c.id, err)
	}
	if c.onSend != nil {
		c.onSend()
	}
	return nil
}

// Disconnect closes the connection. Only the first call has an effect.
func (c *Conn) Disconnect(reason string) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.reason.Store(reason)
	_ = c.raw.Close()
}

// Closed reports whether Disconnect has been called.
func (c *Conn) Closed() bool { return c.closed.Load() }

// DisconnectReason returns the reason given to Disconnect, or "".
func (c *Conn) DisconnectReason() string {
	if r, ok := c.reason.Load().(string); ok {
		return r
	}
	return ""
}
