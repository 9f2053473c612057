package network

import (
	"context"
	"fmt"

	"github.com/cory-johannsen/manaserv/internal/message"
	"github.com/cory-johannsen/manaserv/internal/protocol"
)

// Handler processes messages of the opcode it is registered for.
//
// ReceiveMessage is called on the connection's read goroutine; messages from
// one connection are delivered in arrival order.
type Handler interface {
	ReceiveMessage(ctx context.Context, conn *Conn, msg *message.In)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, conn *Conn, msg *message.In)

// ReceiveMessage calls f.
func (f HandlerFunc) ReceiveMessage(ctx context.Context, conn *Conn, msg *message.In) {
	f(ctx, conn, msg)
}

// Registrar associates opcodes with handlers.
type Registrar interface {
	Register(op protocol.Opcode, h Handler)
}

// Named is implemented by handlers that want a readable name in logs.
type Named interface {
	Name() string
}

// HandlerName returns h's Name if it has one, otherwise its Go type.
func HandlerName(h Handler) string {
	if n, ok := h.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", h)
}
