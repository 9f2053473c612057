package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cory-johannsen/manaserv/internal/game/inventory"
	"github.com/cory-johannsen/manaserv/internal/game/item"
)

// grant is one -give argument: an item and how many to add.
type grant struct {
	itemID int32
	amount int
}

// grantFlags collects repeated -give ID[:AMOUNT] flags.
type grantFlags []grant

func (g *grantFlags) String() string {
	parts := make([]string, len(*g))
	for i, gr := range *g {
		parts[i] = fmt.Sprintf("%d:%d", gr.itemID, gr.amount)
	}
	return strings.Join(parts, ",")
}

func (g *grantFlags) Set(s string) error {
	gr, err := parseGrant(s)
	if err != nil {
		return err
	}
	*g = append(*g, gr)
	return nil
}

// parseGrant parses "ID" or "ID:AMOUNT". AMOUNT defaults to 1.
func parseGrant(s string) (grant, error) {
	idPart, amountPart, hasAmount := strings.Cut(s, ":")
	id, err := strconv.ParseInt(idPart, 10, 32)
	if err != nil || id <= 0 {
		return grant{}, fmt.Errorf("invalid item id %q", idPart)
	}
	amount := 1
	if hasAmount {
		amount, err = strconv.Atoi(amountPart)
		if err != nil || amount <= 0 {
			return grant{}, fmt.Errorf("invalid amount %q", amountPart)
		}
	}
	return grant{itemID: int32(id), amount: amount}, nil
}

// inventoryStore is the slice of the inventory repository giveItems needs.
type inventoryStore interface {
	Load(ctx context.Context, characterID int64) ([]inventory.Stack, error)
	Apply(ctx context.Context, characterID int64, changed []inventory.Stack) error
}

// giveItems adds every grant to the stored backpack of characterID and
// writes the changed slots back in one Apply.
//
// Postcondition: On error nothing is written.
func giveItems(ctx context.Context, store inventoryStore, items *item.Registry, characterID int64, grants []grant) ([]inventory.Stack, error) {
	stored, err := store.Load(ctx, characterID)
	if err != nil {
		return nil, err
	}
	bp := inventory.NewBackpack(inventory.DefaultCapacity)
	for _, st := range stored {
		if err := bp.Put(st); err != nil {
			return nil, fmt.Errorf("restoring backpack: %w", err)
		}
	}

	changed := make(map[int]inventory.Stack)
	for _, gr := range grants {
		def, ok := items.Get(gr.itemID)
		if !ok {
			return nil, fmt.Errorf("unknown item %d", gr.itemID)
		}
		stacks, err := bp.Add(def, gr.amount)
		if err != nil {
			return nil, fmt.Errorf("giving %d of item %d: %w", gr.amount, gr.itemID, err)
		}
		for _, st := range stacks {
			changed[st.Slot] = st
		}
	}

	out := make([]inventory.Stack, 0, len(changed))
	for _, st := range bp.Stacks() {
		if _, ok := changed[st.Slot]; ok {
			out = append(out, st)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	if err := store.Apply(ctx, characterID, out); err != nil {
		return nil, err
	}
	return out, nil
}
