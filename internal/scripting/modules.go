package scripting

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/manaserv/internal/message"
	"github.com/cory-johannsen/manaserv/internal/network"
	"github.com/cory-johannsen/manaserv/internal/protocol"
)

const (
	messageInType  = "mana.message_in"
	messageOutType = "mana.message_out"
	connType       = "mana.connection"
)

// RegisterModules installs the mana table, the userdata metatables and a
// print that writes to the logger.
//
// Precondition: L must be from NewSandboxedState.
// Postcondition: mana global is defined in L.
func (m *Manager) RegisterModules(L *lua.LState) {
	mana := L.NewTable()
	for name, op := range protocol.Names() {
		L.SetField(mana, name, lua.LNumber(op))
	}
	for name, code := range protocol.ErrorCodeNames() {
		L.SetField(mana, name, lua.LNumber(code))
	}
	L.SetFuncs(mana, map[string]lua.LGFunction{
		"register_handler": m.luaRegisterHandler,
		"message_out":      m.luaMessageOut,
		"log":              m.luaLog,
		"client_count":     m.luaClientCount,
		"send_to_everyone": m.luaSendToEveryone,
	})
	L.SetGlobal("mana", mana)
	L.SetGlobal("print", L.NewFunction(m.luaPrint))

	registerType(L, messageInType, map[string]lua.LGFunction{
		"read_byte":     inReadByte,
		"read_short":    inReadShort,
		"read_long":     inReadLong,
		"read_string":   inReadString,
		"opcode":        inOpcode,
		"unread_length": inUnreadLength,
	})
	registerType(L, messageOutType, map[string]lua.LGFunction{
		"write_byte":   outWriteByte,
		"write_short":  outWriteShort,
		"write_long":   outWriteLong,
		"write_string": outWriteString,
		"opcode":       outOpcode,
	})
	registerType(L, connType, map[string]lua.LGFunction{
		"send":       connSend,
		"id":         connID,
		"address":    connAddress,
		"disconnect": connDisconnect,
		"character":  m.connCharacter,
	})
}

func registerType(L *lua.LState, name string, methods map[string]lua.LGFunction) {
	mt := L.NewTypeMetatable(name)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), methods))
}

func newUserData(L *lua.LState, typeName string, v interface{}) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = v
	L.SetMetatable(ud, L.GetTypeMetatable(typeName))
	return ud
}

// luaRegisterHandler implements mana.register_handler(opcode, handler).
func (m *Manager) luaRegisterHandler(L *lua.LState) int {
	raw := L.CheckInt(1)
	if raw <= 0 || raw > 0xFFFF || protocol.Opcode(raw) == protocol.XXMsgInvalid {
		L.ArgError(1, fmt.Sprintf("invalid opcode %d", raw))
		return 0
	}
	op := protocol.Opcode(raw)

	value := L.Get(2)
	switch value.Type() {
	case lua.LTFunction, lua.LTTable:
	default:
		L.ArgError(2, "handler must be a function or a table with receive_message")
		return 0
	}

	h := &Handler{mgr: m, op: op, value: value, name: handlerName(L, op)}
	m.handlers[op] = h
	m.host.Register(op, h)
	return 0
}

// handlerName names a script handler after the chunk that registered it.
func handlerName(L *lua.LState, op protocol.Opcode) string {
	if dbg, ok := L.GetStack(1); ok {
		if _, err := L.GetInfo("Sl", dbg, lua.LNil); err == nil && dbg.Source != "" {
			return fmt.Sprintf("lua:%s:%d", dbg.Source, dbg.CurrentLine)
		}
	}
	return "lua:" + op.String()
}

func (m *Manager) luaMessageOut(L *lua.LState) int {
	op := L.CheckInt(1)
	L.Push(newUserData(L, messageOutType, message.NewOut(protocol.Opcode(op))))
	return 1
}

func (m *Manager) luaLog(L *lua.LState) int {
	level := L.CheckString(1)
	msg := L.CheckString(2)
	switch level {
	case "debug":
		m.logger.Debug(msg, zap.String("source", "lua"))
	case "info":
		m.logger.Info(msg, zap.String("source", "lua"))
	case "warn":
		m.logger.Warn(msg, zap.String("source", "lua"))
	case "error":
		m.logger.Error(msg, zap.String("source", "lua"))
	default:
		L.ArgError(1, fmt.Sprintf("unknown log level %q", level))
	}
	return 0
}

func (m *Manager) luaPrint(L *lua.LState) int {
	parts := make([]string, L.GetTop())
	for i := range parts {
		parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
	}
	m.logger.Info(strings.Join(parts, "\t"), zap.String("source", "lua"))
	return 0
}

func (m *Manager) luaClientCount(L *lua.LState) int {
	L.Push(lua.LNumber(m.host.ClientCount()))
	return 1
}

func (m *Manager) luaSendToEveryone(L *lua.LState) int {
	out := checkOut(L, 1)
	L.Push(lua.LNumber(m.host.SendToEveryone(out)))
	return 1
}

func checkIn(L *lua.LState) *message.In {
	if v, ok := L.CheckUserData(1).Value.(*message.In); ok {
		return v
	}
	L.ArgError(1, "incoming message expected")
	return nil
}

func checkOut(L *lua.LState, n int) *message.Out {
	if v, ok := L.CheckUserData(n).Value.(*message.Out); ok {
		return v
	}
	L.ArgError(n, "outgoing message expected")
	return nil
}

func checkConn(L *lua.LState) *network.Conn {
	if v, ok := L.CheckUserData(1).Value.(*network.Conn); ok {
		return v
	}
	L.ArgError(1, "connection expected")
	return nil
}

func inReadByte(L *lua.LState) int {
	L.Push(lua.LNumber(checkIn(L).ReadInt8()))
	return 1
}

func inReadShort(L *lua.LState) int {
	L.Push(lua.LNumber(checkIn(L).ReadInt16()))
	return 1
}

func inReadLong(L *lua.LState) int {
	L.Push(lua.LNumber(checkIn(L).ReadInt32()))
	return 1
}

func inReadString(L *lua.LState) int {
	msg := checkIn(L)
	L.Push(lua.LString(msg.ReadString(L.OptInt(2, -1))))
	return 1
}

func inOpcode(L *lua.LState) int {
	L.Push(lua.LNumber(checkIn(L).Opcode()))
	return 1
}

func inUnreadLength(L *lua.LState) int {
	L.Push(lua.LNumber(checkIn(L).UnreadLength()))
	return 1
}

func outWriteByte(L *lua.LState) int {
	checkOut(L, 1).WriteInt8(int8(L.CheckInt(2)))
	return 0
}

func outWriteShort(L *lua.LState) int {
	checkOut(L, 1).WriteInt16(int16(L.CheckInt(2)))
	return 0
}

func outWriteLong(L *lua.LState) int {
	checkOut(L, 1).WriteInt32(int32(L.CheckInt64(2)))
	return 0
}

func outWriteString(L *lua.LState) int {
	out := checkOut(L, 1)
	out.WriteString(L.CheckString(2), L.OptInt(3, -1))
	return 0
}

func outOpcode(L *lua.LState) int {
	L.Push(lua.LNumber(checkOut(L, 1).Opcode()))
	return 1
}

// connSend returns true, or false and the error text.
func connSend(L *lua.LState) int {
	conn := checkConn(L)
	if err := conn.Send(checkOut(L, 2)); err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

func connID(L *lua.LState) int {
	L.Push(lua.LString(checkConn(L).ID().String()))
	return 1
}

func connAddress(L *lua.LState) int {
	L.Push(lua.LString(checkConn(L).RemoteAddr()))
	return 1
}

// connCharacter returns the bound character's id and name, or nil.
func (m *Manager) connCharacter(L *lua.LState) int {
	conn := checkConn(L)
	if m.characters == nil {
		L.Push(lua.LNil)
		return 1
	}
	id, name, ok := m.characters.CharacterOf(conn.ID())
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(id))
	L.Push(lua.LString(name))
	return 2
}

func connDisconnect(L *lua.LState) int {
	checkConn(L).Disconnect(L.OptString(2, "disconnected by script"))
	return 0
}
