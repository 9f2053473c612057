package scripting

import (
	"context"
	"errors"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/manaserv/internal/message"
	"github.com/cory-johannsen/manaserv/internal/network"
	"github.com/cory-johannsen/manaserv/internal/protocol"
)

// errNoReceiveMessage is reported when a table handler has no callable
// receive_message at dispatch time.
var errNoReceiveMessage = errors.New("handler table has no receive_message function")

// Handler is a network.Handler backed by a Lua value registered through
// mana.register_handler.
//
// A function is called as fn(conn, msg). A table is called as
// tbl:receive_message(conn, msg); the method is looked up on every dispatch,
// including through the table's metatable, so reassigning it or inheriting
// it via __index changes which function runs.
type Handler struct {
	mgr   *Manager
	op    protocol.Opcode
	value lua.LValue
	name  string
}

// Name returns the script location that registered the handler.
func (h *Handler) Name() string { return h.name }

// Opcode returns the opcode the handler was registered for.
func (h *Handler) Opcode() protocol.Opcode { return h.op }

// ReceiveMessage runs the Lua handler with a fresh instruction budget. Lua
// errors and budget exhaustion are logged and counted, never propagated.
// With a CharacterLookup set, messages from connections without a character
// are dropped.
func (h *Handler) ReceiveMessage(ctx context.Context, conn *network.Conn, msg *message.In) {
	m := h.mgr
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	if m.characters != nil && h.op != protocol.PGMsgConnect {
		if _, _, bound := m.characters.CharacterOf(conn.ID()); !bound {
			m.logger.Debug("dropping message before character selection",
				zap.Stringer("opcode", h.op),
				zap.String("remote_addr", conn.RemoteAddr()),
			)
			return
		}
	}

	L := m.L
	cancel := ArmInstructionLimit(ctx, L, m.limit)
	defer cancel()

	connUD := newUserData(L, connType, conn)
	msgUD := newUserData(L, messageInType, msg)

	var fn lua.LValue
	var args []lua.LValue
	switch v := h.value.(type) {
	case *lua.LFunction:
		fn = v
		args = []lua.LValue{connUD, msgUD}
	case *lua.LTable:
		fn = L.GetField(v, "receive_message")
		args = []lua.LValue{v, connUD, msgUD}
	}
	if fn == nil || fn.Type() != lua.LTFunction {
		m.scriptError(h.op, h.name, errNoReceiveMessage)
		return
	}

	if err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, args...); err != nil {
		m.scriptError(h.op, h.name, err)
	}
}
