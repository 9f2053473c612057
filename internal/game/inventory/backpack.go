// Package inventory holds the items a character carries outside its
// equipment slots.
package inventory

import (
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/cory-johannsen/manaserv/internal/game/item"
)

// DefaultCapacity is the number of slots in a character's backpack.
const DefaultCapacity = 50

var (
	// ErrFull is returned by Add when the items do not fit.
	ErrFull = errors.New("inventory: not enough room")
	// ErrInvalidSlot is returned for a slot outside the backpack.
	ErrInvalidSlot = errors.New("inventory: slot out of range")
	// ErrInvalidAmount is returned for a non-positive amount or item ID.
	ErrInvalidAmount = errors.New("inventory: amount and item must be > 0")
)

// Stack is the content of one backpack slot. A zero ItemID marks an empty slot.
type Stack struct {
	Slot   int
	ItemID int32
	Amount int
}

// Empty reports whether the slot holds nothing.
func (s Stack) Empty() bool { return s.ItemID == 0 || s.Amount <= 0 }

// Backpack is a fixed row of slots, each holding a stack of one item.
// It is not safe for concurrent use; the owning session serializes access.
type Backpack struct {
	slots []Stack
}

// NewBackpack creates an empty Backpack.
//
// Precondition: capacity >= 0.
func NewBackpack(capacity int) *Backpack {
	slots := make([]Stack, capacity)
	for i := range slots {
		slots[i].Slot = i
	}
	return &Backpack{slots: slots}
}

// Capacity returns the number of slots.
func (b *Backpack) Capacity() int { return len(b.slots) }

// Put replaces the content of st.Slot with st. It restores stored stacks
// without applying stack limits.
//
// Postcondition: Returns ErrInvalidSlot or ErrInvalidAmount and leaves the
// backpack unchanged on bad input.
func (b *Backpack) Put(st Stack) error {
	if st.Slot < 0 || st.Slot >= len(b.slots) {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, st.Slot)
	}
	if st.ItemID <= 0 || st.Amount <= 0 {
		return fmt.Errorf("%w: slot %d", ErrInvalidAmount, st.Slot)
	}
	b.slots[st.Slot] = st
	return nil
}

// Add stores amount of def, topping up existing stacks of the item in slot
// order before taking empty slots. No stack grows past def.StackLimit().
//
// Precondition: def is non-nil.
// Postcondition: Returns the changed slots in slot order. On ErrFull or
// ErrInvalidAmount the backpack is unchanged.
func (b *Backpack) Add(def *item.Def, amount int) ([]Stack, error) {
	if amount <= 0 || def.ID <= 0 {
		return nil, ErrInvalidAmount
	}
	limit := def.StackLimit()
	next := make([]Stack, len(b.slots))
	copy(next, b.slots)

	touched := make(map[int]bool)
	remaining := amount
	for i := range next {
		if remaining == 0 {
			break
		}
		if next[i].ItemID == def.ID && next[i].Amount < limit {
			take := min(limit-next[i].Amount, remaining)
			next[i].Amount += take
			remaining -= take
			touched[i] = true
		}
	}
	for i := range next {
		if remaining == 0 {
			break
		}
		if next[i].Empty() {
			take := min(limit, remaining)
			next[i] = Stack{Slot: i, ItemID: def.ID, Amount: take}
			remaining -= take
			touched[i] = true
		}
	}
	if remaining > 0 {
		return nil, fmt.Errorf("%w: %d of item %d left over", ErrFull, remaining, def.ID)
	}

	b.slots = next
	return lo.Filter(next, func(st Stack, i int) bool { return touched[i] }), nil
}

// Remove takes up to amount of itemID out of the backpack, draining stacks in
// slot order. Emptied slots are reported with a zero ItemID.
//
// Postcondition: Returns the changed slots in slot order and the amount removed.
func (b *Backpack) Remove(itemID int32, amount int) ([]Stack, int) {
	if amount <= 0 {
		return nil, 0
	}
	var changed []Stack
	removed := 0
	for i := range b.slots {
		if removed == amount {
			break
		}
		st := &b.slots[i]
		if st.Empty() || st.ItemID != itemID {
			continue
		}
		take := min(st.Amount, amount-removed)
		st.Amount -= take
		removed += take
		if st.Amount == 0 {
			*st = Stack{Slot: i}
		}
		changed = append(changed, *st)
	}
	return changed, removed
}

// Has reports whether at least one itemID is carried.
func (b *Backpack) Has(itemID int32) bool {
	return b.Count(itemID) > 0
}

// Count returns the total amount of itemID across all stacks.
func (b *Backpack) Count(itemID int32) int {
	return lo.SumBy(b.slots, func(st Stack) int {
		if st.Empty() || st.ItemID != itemID {
			return 0
		}
		return st.Amount
	})
}

// Stacks returns the occupied slots in slot order.
//
// Postcondition: the slice is a copy.
func (b *Backpack) Stacks() []Stack {
	return lo.Reject(b.slots, func(st Stack, _ int) bool { return st.Empty() })
}

// Clone returns an independent copy.
func (b *Backpack) Clone() *Backpack {
	slots := make([]Stack, len(b.slots))
	copy(slots, b.slots)
	return &Backpack{slots: slots}
}
