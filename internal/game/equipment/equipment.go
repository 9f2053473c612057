// Package equipment models a character's equipment slots and the rules for
// which items may occupy them.
package equipment

import (
	"errors"
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/cory-johannsen/manaserv/internal/game/item"
)

// Slot identifies an equipment slot. Values are the wire byte values.
type Slot uint8

const (
	SlotHead Slot = iota
	SlotTorso
	SlotArms
	SlotLegs
	SlotFeet
	SlotRing1
	SlotRing2
	SlotNecklace
	SlotWeapon
	SlotShield
	SlotProjectile
)

// SlotCount is the number of equipment slots.
const SlotCount = int(SlotProjectile) + 1

var slotNames = [SlotCount]string{
	"head", "torso", "arms", "legs", "feet", "ring1", "ring2",
	"necklace", "weapon", "shield", "projectile",
}

// ErrInvalidSlot is returned for a slot value outside the slot table.
var ErrInvalidSlot = errors.New("equipment: invalid slot")

// ErrWrongSlot is returned when an item's type does not fit the slot.
var ErrWrongSlot = errors.New("equipment: item does not fit slot")

// Valid reports whether s is a defined slot.
func (s Slot) Valid() bool { return int(s) < SlotCount }

func (s Slot) String() string {
	if s.Valid() {
		return slotNames[s]
	}
	return fmt.Sprintf("slot(%d)", uint8(s))
}

// Fits reports whether an item of type t may be placed in s.
func Fits(t item.Type, s Slot) bool {
	switch t {
	case item.TypeOneHandWeapon, item.TypeTwoHandsWeapon:
		return s == SlotWeapon
	case item.TypeBreast:
		return s == SlotTorso
	case item.TypeArms:
		return s == SlotArms
	case item.TypeHead:
		return s == SlotHead
	case item.TypeLegs:
		return s == SlotLegs
	case item.TypeFeet:
		return s == SlotFeet
	case item.TypeShield:
		return s == SlotShield
	case item.TypeRing:
		return s == SlotRing1 || s == SlotRing2
	case item.TypeNecklace:
		return s == SlotNecklace
	case item.TypeProjectile:
		return s == SlotProjectile
	}
	return false
}

// Equipped records one occupied slot.
type Equipped struct {
	Slot   Slot
	ItemID int32
}

// Equipment holds the items a character wears. It is not safe for
// concurrent use; callers serialize access per character.
type Equipment struct {
	slots map[Slot]*item.Def
}

// New returns an empty Equipment.
func New() *Equipment {
	return &Equipment{slots: make(map[Slot]*item.Def)}
}

// Equip places def in slot and returns the IDs of the items it displaced.
// A two-handed weapon also vacates the shield slot, and a shield vacates a
// two-handed weapon.
//
// Precondition: def must be non-nil.
// Postcondition: On success Item(slot) == def. On error nothing changes.
func (e *Equipment) Equip(def *item.Def, slot Slot) ([]int32, error) {
	if !slot.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	if !Fits(def.Type, slot) {
		return nil, fmt.Errorf("%w: %s (%s) in %s", ErrWrongSlot, def.Name, def.Type, slot)
	}

	var displaced []int32
	if prev, ok := e.slots[slot]; ok {
		displaced = append(displaced, prev.ID)
	}
	switch def.Type {
	case item.TypeTwoHandsWeapon:
		if shield, ok := e.slots[SlotShield]; ok {
			displaced = append(displaced, shield.ID)
			delete(e.slots, SlotShield)
		}
	case item.TypeShield:
		if weapon, ok := e.slots[SlotWeapon]; ok && weapon.Type == item.TypeTwoHandsWeapon {
			displaced = append(displaced, weapon.ID)
			delete(e.slots, SlotWeapon)
		}
	}
	e.slots[slot] = def
	return displaced, nil
}

// Unequip empties slot and returns the ID of the item removed, or 0 when
// the slot was already empty.
func (e *Equipment) Unequip(slot Slot) (int32, error) {
	if !slot.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	prev, ok := e.slots[slot]
	if !ok {
		return 0, nil
	}
	delete(e.slots, slot)
	return prev.ID, nil
}

// Item returns the item in slot, if any.
func (e *Equipment) Item(slot Slot) (*item.Def, bool) {
	d, ok := e.slots[slot]
	return d, ok
}

// Slots returns every occupied slot ordered by slot value.
func (e *Equipment) Slots() []Equipped {
	out := lo.MapToSlice(e.slots, func(s Slot, d *item.Def) Equipped {
		return Equipped{Slot: s, ItemID: d.ID}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Clone returns an independent copy of e. Item definitions are shared.
func (e *Equipment) Clone() *Equipment {
	c := New()
	for s, d := range e.slots {
		c.slots[s] = d
	}
	return c
}

// Len returns the number of occupied slots.
func (e *Equipment) Len() int { return len(e.slots) }
