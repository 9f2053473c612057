// Package protocol defines the opcode table and generic result codes shared
// by the game server and its clients.
//
// Payload layouts use the following notation:
//
//	B = unsigned byte, W = unsigned 16-bit, D = signed 32-bit,
//	S = W-prefixed string, S*n = fixed n-byte string
package protocol

import "fmt"

// Opcode identifies a network message type. It is the first int16 of every
// message body.
type Opcode uint16

const (
	PGMsgConnect            Opcode = 0x0050 // S*32 token
	GPMsgConnectResponse    Opcode = 0x0051 // B error
	PGMsgDisconnect         Opcode = 0x0060 // B reconnect account
	GPMsgDisconnectResponse Opcode = 0x0061 // B error

	PGMsgPickup        Opcode = 0x0110 // W*2 position
	PGMsgDrop          Opcode = 0x0111 // B slot, B amount
	PGMsgEquip         Opcode = 0x0112 // D item id, B equip slot
	PGMsgUnequip       Opcode = 0x0113 // B equip slot
	PGMsgMoveItem      Opcode = 0x0114 // B slot1, B slot2, B amount
	GPMsgInventory     Opcode = 0x0120 // { W slot, W item id [, W amount] }*
	GPMsgInventoryFull Opcode = 0x0121 // W slot count { W slot, W item id, W amount }*
	GPMsgEquip         Opcode = 0x0122 // B error, B equip slot, D item id

	PGMsgSay Opcode = 0x02A0 // S text
	GPMsgSay Opcode = 0x02A1 // W being id, S text

	PGMsgUseItem     Opcode = 0x0300 // D item id
	GPMsgUseResponse Opcode = 0x0301 // B error

	XXMsgInvalid Opcode = 0x7FFF
)

var opcodeNames = map[Opcode]string{
	PGMsgConnect:            "PGMSG_CONNECT",
	GPMsgConnectResponse:    "GPMSG_CONNECT_RESPONSE",
	PGMsgDisconnect:         "PGMSG_DISCONNECT",
	GPMsgDisconnectResponse: "GPMSG_DISCONNECT_RESPONSE",
	PGMsgPickup:             "PGMSG_PICKUP",
	PGMsgDrop:               "PGMSG_DROP",
	PGMsgEquip:              "PGMSG_EQUIP",
	PGMsgUnequip:            "PGMSG_UNEQUIP",
	PGMsgMoveItem:           "PGMSG_MOVE_ITEM",
	GPMsgInventory:          "GPMSG_INVENTORY",
	GPMsgInventoryFull:      "GPMSG_INVENTORY_FULL",
	GPMsgEquip:              "GPMSG_EQUIP",
	PGMsgSay:                "PGMSG_SAY",
	GPMsgSay:                "GPMSG_SAY",
	PGMsgUseItem:            "PGMSG_USE_ITEM",
	GPMsgUseResponse:        "GPMSG_USE_RESPONSE",
	XXMsgInvalid:            "XXMSG_INVALID",
}

// String returns the symbolic protocol name, or the hex value for opcodes
// outside the table.
func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("0x%04X", uint16(o))
}

// Known reports whether o appears in the opcode table.
func (o Opcode) Known() bool {
	_, ok := opcodeNames[o]
	return ok
}

// Names returns a fresh name → opcode map of every opcode in the table.
//
// Postcondition: len(result) equals the number of defined opcodes.
func Names() map[string]Opcode {
	out := make(map[string]Opcode, len(opcodeNames))
	for op, name := range opcodeNames {
		out[name] = op
	}
	return out
}
