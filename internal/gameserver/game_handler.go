// Package gameserver implements the natively handled game messages:
// connecting a character to a client, disconnecting, changing equipment and
// using carried items.
package gameserver

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/cory-johannsen/manaserv/internal/game/equipment"
	"github.com/cory-johannsen/manaserv/internal/game/inventory"
	"github.com/cory-johannsen/manaserv/internal/game/item"
	"github.com/cory-johannsen/manaserv/internal/message"
	"github.com/cory-johannsen/manaserv/internal/network"
	"github.com/cory-johannsen/manaserv/internal/protocol"
	"github.com/cory-johannsen/manaserv/internal/session"
	"github.com/cory-johannsen/manaserv/internal/storage/postgres"
)

// DefaultStoreTimeout bounds each storage call made while handling a message.
const DefaultStoreTimeout = 5 * time.Second

// CharacterStore resolves connect tokens to characters.
type CharacterStore interface {
	GetByToken(ctx context.Context, token string) (*postgres.Character, error)
}

// EquipmentStore persists equipment per character.
type EquipmentStore interface {
	Load(ctx context.Context, characterID int64) ([]equipment.Equipped, error)
	Apply(ctx context.Context, characterID int64, clear []equipment.Slot, set []equipment.Equipped) error
}

// InventoryStore persists backpack slots per character.
type InventoryStore interface {
	Load(ctx context.Context, characterID int64) ([]inventory.Stack, error)
	Apply(ctx context.Context, characterID int64, changed []inventory.Stack) error
}

var errNotCarried = errors.New("item not carried")

// GameHandler handles connect, disconnect, equip, unequip and use-item messages.
type GameHandler struct {
	sessions     *session.Manager
	characters   CharacterStore
	equipment    EquipmentStore
	inventory    InventoryStore
	items        *item.Registry
	logger       *zap.Logger
	storeTimeout time.Duration
}

// NewGameHandler creates a GameHandler with the given dependencies.
//
// Precondition: every argument must be non-nil.
// Postcondition: Returns a GameHandler whose store calls time out after DefaultStoreTimeout.
func NewGameHandler(
	sessions *session.Manager,
	characters CharacterStore,
	equip EquipmentStore,
	inv InventoryStore,
	items *item.Registry,
	logger *zap.Logger,
) *GameHandler {
	return &GameHandler{
		sessions:     sessions,
		characters:   characters,
		equipment:    equip,
		inventory:    inv,
		items:        items,
		logger:       logger,
		storeTimeout: DefaultStoreTimeout,
	}
}

// RegisterHandlers registers every native message handler on r.
//
// Postcondition: PGMSG_CONNECT, PGMSG_DISCONNECT, PGMSG_EQUIP,
// PGMSG_UNEQUIP and PGMSG_USE_ITEM are handled by g.
func (g *GameHandler) RegisterHandlers(r network.Registrar) {
	r.Register(protocol.PGMsgConnect, named("native:connect", g.handleConnect))
	r.Register(protocol.PGMsgDisconnect, named("native:disconnect", g.handleDisconnect))
	r.Register(protocol.PGMsgEquip, named("native:equip", g.handleEquip))
	r.Register(protocol.PGMsgUnequip, named("native:unequip", g.handleUnequip))
	r.Register(protocol.PGMsgUseItem, named("native:use_item", g.handleUseItem))
}

// OnConnect opens the session for a newly accepted client.
func (g *GameHandler) OnConnect(conn *network.Conn) {
	if _, err := g.sessions.Open(conn.ID(), conn.RemoteAddr()); err != nil {
		g.logger.Error("opening session", zap.String("conn_id", conn.ID().String()), zap.Error(err))
	}
}

// OnDisconnect releases the client's session and its character.
func (g *GameHandler) OnDisconnect(conn *network.Conn) {
	s, ok := g.sessions.Close(conn.ID())
	if !ok {
		return
	}
	if id, name, bound := s.Character(); bound {
		g.logger.Info("character left",
			zap.Int64("character_id", id),
			zap.String("name", name),
			zap.String("reason", conn.DisconnectReason()),
		)
	}
}

func (g *GameHandler) handleConnect(ctx context.Context, conn *network.Conn, msg *message.In) {
	token := msg.ReadString(postgres.TokenLength)
	if msg.Err() != nil {
		g.replyConnect(conn, protocol.ErrMsgInvalidArgument)
		return
	}

	s, ok := g.sessions.Get(conn.ID())
	if !ok {
		g.replyConnect(conn, protocol.ErrMsgFailure)
		return
	}
	if _, _, bound := s.Character(); bound {
		g.replyConnect(conn, protocol.ErrMsgAlreadyTaken)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()

	char, err := g.characters.GetByToken(ctx, token)
	if err != nil {
		if !errors.Is(err, postgres.ErrCharacterNotFound) && !errors.Is(err, postgres.ErrInvalidToken) {
			g.logger.Error("resolving connect token", zap.String("remote_addr", conn.RemoteAddr()), zap.Error(err))
		}
		g.replyConnect(conn, protocol.ErrMsgFailure)
		return
	}
	if _, online := g.sessions.ByCharacter(char.ID); online {
		g.replyConnect(conn, protocol.ErrMsgAlreadyTaken)
		return
	}

	eq, err := g.loadEquipment(ctx, char.ID)
	if err != nil {
		g.logger.Error("loading equipment", zap.Int64("character_id", char.ID), zap.Error(err))
		g.replyConnect(conn, protocol.ErrMsgFailure)
		return
	}

	inv, err := g.loadInventory(ctx, char.ID)
	if err != nil {
		g.logger.Error("loading inventory", zap.Int64("character_id", char.ID), zap.Error(err))
		g.replyConnect(conn, protocol.ErrMsgFailure)
		return
	}

	if err := g.sessions.Bind(conn.ID(), char.ID, char.Name, eq, inv); err != nil {
		g.logger.Info("connect refused", zap.Int64("character_id", char.ID), zap.Error(err))
		g.replyConnect(conn, protocol.ErrMsgAlreadyTaken)
		return
	}

	g.logger.Info("character connected",
		zap.Int64("character_id", char.ID),
		zap.String("name", char.Name),
		zap.String("remote_addr", conn.RemoteAddr()),
	)
	g.replyConnect(conn, protocol.ErrMsgOK)
	g.sendInventoryFull(conn, inv)
}

// loadEquipment rebuilds a character's equipment from storage. Stored items
// that no longer exist or no longer fit their slot are skipped.
func (g *GameHandler) loadEquipment(ctx context.Context, characterID int64) (*equipment.Equipment, error) {
	rows, err := g.equipment.Load(ctx, characterID)
	if err != nil {
		return nil, err
	}
	eq := equipment.New()
	for _, row := range rows {
		def, ok := g.items.Get(row.ItemID)
		if !ok {
			g.logger.Warn("stored item unknown, skipping",
				zap.Int64("character_id", characterID),
				zap.Int32("item_id", row.ItemID),
			)
			continue
		}
		if _, err := eq.Equip(def, row.Slot); err != nil {
			g.logger.Warn("stored item does not fit slot, skipping",
				zap.Int64("character_id", characterID),
				zap.Int32("item_id", row.ItemID),
				zap.Stringer("slot", row.Slot),
				zap.Error(err),
			)
		}
	}
	return eq, nil
}

// loadInventory rebuilds a character's backpack from storage. Stacks of
// unknown items or outside the backpack are skipped.
func (g *GameHandler) loadInventory(ctx context.Context, characterID int64) (*inventory.Backpack, error) {
	rows, err := g.inventory.Load(ctx, characterID)
	if err != nil {
		return nil, err
	}
	inv := inventory.NewBackpack(inventory.DefaultCapacity)
	for _, st := range rows {
		if _, ok := g.items.Get(st.ItemID); !ok {
			g.logger.Warn("stored item unknown, skipping",
				zap.Int64("character_id", characterID),
				zap.Int32("item_id", st.ItemID),
			)
			continue
		}
		if err := inv.Put(st); err != nil {
			g.logger.Warn("stored stack rejected, skipping",
				zap.Int64("character_id", characterID),
				zap.Int("slot", st.Slot),
				zap.Error(err),
			)
		}
	}
	return inv, nil
}

func (g *GameHandler) handleDisconnect(_ context.Context, conn *network.Conn, msg *message.In) {
	msg.ReadInt8() // reconnect flag; there is no account server to return to

	out := message.NewOut(protocol.GPMsgDisconnectResponse)
	out.WriteInt8(int8(protocol.ErrMsgOK))
	g.send(conn, out)

	conn.Disconnect("client requested disconnect")
	g.OnDisconnect(conn)
}

func (g *GameHandler) handleEquip(ctx context.Context, conn *network.Conn, msg *message.In) {
	itemID := msg.ReadInt32()
	slot := equipment.Slot(msg.ReadInt8())
	if msg.Err() != nil {
		g.replyEquip(conn, protocol.ErrMsgInvalidArgument, slot, itemID)
		return
	}

	s, charID, ok := g.boundSession(conn)
	if !ok {
		g.replyEquip(conn, protocol.ErrMsgNoCharacterSelected, slot, itemID)
		return
	}
	def, ok := g.items.Get(itemID)
	if !ok || !slot.Valid() || !equipment.Fits(def.Type, slot) {
		g.replyEquip(conn, protocol.ErrMsgInvalidArgument, slot, itemID)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()

	err := s.WithEquipment(func(eq *equipment.Equipment) error {
		next := eq.Clone()
		if _, err := next.Equip(def, slot); err != nil {
			return err
		}
		cleared := vacated(eq.Slots(), next.Slots())
		if err := g.equipment.Apply(ctx, charID, cleared, []equipment.Equipped{{Slot: slot, ItemID: itemID}}); err != nil {
			return err
		}
		displaced, err := eq.Equip(def, slot)
		if err != nil {
			return err
		}
		g.logger.Debug("equipped",
			zap.Int64("character_id", charID),
			zap.Int32("item_id", itemID),
			zap.Stringer("slot", slot),
			zap.Int32s("displaced", displaced),
		)
		return nil
	})
	if err != nil {
		g.logger.Error("equipping item", zap.Int64("character_id", charID), zap.Int32("item_id", itemID), zap.Error(err))
		g.replyEquip(conn, protocol.ErrMsgFailure, slot, itemID)
		return
	}
	g.replyEquip(conn, protocol.ErrMsgOK, slot, itemID)
}

func (g *GameHandler) handleUnequip(ctx context.Context, conn *network.Conn, msg *message.In) {
	slot := equipment.Slot(msg.ReadInt8())
	if msg.Err() != nil || !slot.Valid() {
		g.replyEquip(conn, protocol.ErrMsgInvalidArgument, slot, 0)
		return
	}

	s, charID, ok := g.boundSession(conn)
	if !ok {
		g.replyEquip(conn, protocol.ErrMsgNoCharacterSelected, slot, 0)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()

	err := s.WithEquipment(func(eq *equipment.Equipment) error {
		if _, occupied := eq.Item(slot); !occupied {
			return nil
		}
		if err := g.equipment.Apply(ctx, charID, []equipment.Slot{slot}, nil); err != nil {
			return err
		}
		_, err := eq.Unequip(slot)
		return err
	})
	if err != nil {
		g.logger.Error("unequipping slot", zap.Int64("character_id", charID), zap.Stringer("slot", slot), zap.Error(err))
		g.replyEquip(conn, protocol.ErrMsgFailure, slot, 0)
		return
	}
	g.replyEquip(conn, protocol.ErrMsgOK, slot, 0)
}

// handleUseItem answers OK when the character carries the item. Usable items
// are consumed, one per use, and the changed slots are sent as GPMSG_INVENTORY.
func (g *GameHandler) handleUseItem(ctx context.Context, conn *network.Conn, msg *message.In) {
	itemID := msg.ReadInt32()
	if msg.Err() != nil {
		g.replyUse(conn, protocol.ErrMsgInvalidArgument)
		return
	}

	s, charID, ok := g.boundSession(conn)
	if !ok {
		g.replyUse(conn, protocol.ErrMsgNoCharacterSelected)
		return
	}
	def, known := g.items.Get(itemID)

	ctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()

	var changed []inventory.Stack
	err := s.WithInventory(func(inv *inventory.Backpack) error {
		if !inv.Has(itemID) {
			return errNotCarried
		}
		if !known || def.Type != item.TypeUsable {
			return nil
		}
		pending, _ := inv.Clone().Remove(itemID, 1)
		if err := g.inventory.Apply(ctx, charID, pending); err != nil {
			return err
		}
		changed, _ = inv.Remove(itemID, 1)
		return nil
	})
	switch {
	case errors.Is(err, errNotCarried):
		g.replyUse(conn, protocol.ErrMsgFailure)
		return
	case err != nil:
		g.logger.Error("using item", zap.Int64("character_id", charID), zap.Int32("item_id", itemID), zap.Error(err))
		g.replyUse(conn, protocol.ErrMsgFailure)
		return
	}

	g.logger.Debug("item used", zap.Int64("character_id", charID), zap.Int32("item_id", itemID), zap.Bool("consumed", len(changed) > 0))
	g.replyUse(conn, protocol.ErrMsgOK)
	if len(changed) > 0 {
		g.sendInventory(conn, changed)
	}
}

func (g *GameHandler) boundSession(conn *network.Conn) (*session.Session, int64, bool) {
	s, ok := g.sessions.Get(conn.ID())
	if !ok {
		return nil, 0, false
	}
	id, _, bound := s.Character()
	return s, id, bound
}

// vacated returns the slots occupied in before that are empty in after.
func vacated(before, after []equipment.Equipped) []equipment.Slot {
	still := lo.SliceToMap(after, func(e equipment.Equipped) (equipment.Slot, bool) { return e.Slot, true })
	return lo.FilterMap(before, func(e equipment.Equipped, _ int) (equipment.Slot, bool) {
		return e.Slot, !still[e.Slot]
	})
}

func (g *GameHandler) replyConnect(conn *network.Conn, code protocol.ErrorCode) {
	out := message.NewOut(protocol.GPMsgConnectResponse)
	out.WriteInt8(int8(code))
	g.send(conn, out)
}

func (g *GameHandler) replyEquip(conn *network.Conn, code protocol.ErrorCode, slot equipment.Slot, itemID int32) {
	out := message.NewOut(protocol.GPMsgEquip)
	out.WriteInt8(int8(code))
	out.WriteInt8(int8(slot))
	out.WriteInt32(itemID)
	g.send(conn, out)
}

func (g *GameHandler) replyUse(conn *network.Conn, code protocol.ErrorCode) {
	out := message.NewOut(protocol.GPMsgUseResponse)
	out.WriteInt8(int8(code))
	g.send(conn, out)
}

// sendInventoryFull writes W stack count, then W slot, W item id, W amount per stack.
func (g *GameHandler) sendInventoryFull(conn *network.Conn, inv *inventory.Backpack) {
	stacks := inv.Stacks()
	out := message.NewOut(protocol.GPMsgInventoryFull)
	out.WriteInt16(int16(len(stacks)))
	for _, st := range stacks {
		out.WriteInt16(int16(st.Slot))
		out.WriteInt16(int16(st.ItemID))
		out.WriteInt16(int16(st.Amount))
	}
	g.send(conn, out)
}

// sendInventory writes W slot, W item id and, for a non-empty slot, W amount.
func (g *GameHandler) sendInventory(conn *network.Conn, changed []inventory.Stack) {
	out := message.NewOut(protocol.GPMsgInventory)
	for _, st := range changed {
		out.WriteInt16(int16(st.Slot))
		if st.Empty() {
			out.WriteInt16(0)
			continue
		}
		out.WriteInt16(int16(st.ItemID))
		out.WriteInt16(int16(st.Amount))
	}
	g.send(conn, out)
}

func (g *GameHandler) send(conn *network.Conn, out *message.Out) {
	if err := conn.Send(out); err != nil {
		g.logger.Debug("reply not delivered",
			zap.Stringer("opcode", out.Opcode()),
			zap.String("remote_addr", conn.RemoteAddr()),
			zap.Error(err),
		)
	}
}

// namedHandler gives a HandlerFunc a readable name in dispatch logs.
type namedHandler struct {
	network.HandlerFunc
	name string
}

func (h namedHandler) Name() string { return h.name }

func named(name string, fn network.HandlerFunc) network.Handler {
	return namedHandler{HandlerFunc: fn, name: name}
}
