package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/manaserv/internal/game/inventory"
)

// InventoryRepository persists the occupied backpack slots of characters.
type InventoryRepository struct {
	db *pgxpool.Pool
}

// NewInventoryRepository creates an InventoryRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewInventoryRepository(db *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// Load returns the occupied slots of characterID ordered by slot.
//
// Postcondition: Returns a slice (may be empty) or a non-nil error.
func (r *InventoryRepository) Load(ctx context.Context, characterID int64) ([]inventory.Stack, error) {
	rows, err := r.db.Query(ctx, `
		SELECT slot, item_id, amount FROM character_inventory
		WHERE character_id = $1 ORDER BY slot ASC`,
		characterID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading inventory: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (inventory.Stack, error) {
		var slot, amount int16
		var itemID int32
		if err := row.Scan(&slot, &itemID, &amount); err != nil {
			return inventory.Stack{}, err
		}
		return inventory.Stack{Slot: int(slot), ItemID: itemID, Amount: int(amount)}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning inventory: %w", err)
	}
	return out, nil
}

// Apply writes changed slots in one transaction. An empty stack deletes the
// slot's row; any other stack replaces it.
//
// Postcondition: Either every change is stored or none is.
func (r *InventoryRepository) Apply(ctx context.Context, characterID int64, changed []inventory.Stack) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		for _, st := range changed {
			if err := saveStack(ctx, tx, characterID, st); err != nil {
				return err
			}
		}
		return nil
	})
}

func saveStack(ctx context.Context, db execer, characterID int64, st inventory.Stack) error {
	if st.Slot < 0 {
		return fmt.Errorf("saving stack: %w: %d", inventory.ErrInvalidSlot, st.Slot)
	}
	if st.Empty() {
		_, err := db.Exec(ctx, `
			DELETE FROM character_inventory WHERE character_id = $1 AND slot = $2`,
			characterID, int16(st.Slot),
		)
		if err != nil {
			return fmt.Errorf("clearing inventory slot %d: %w", st.Slot, err)
		}
		return nil
	}
	_, err := db.Exec(ctx, `
		INSERT INTO character_inventory (character_id, slot, item_id, amount) VALUES ($1, $2, $3, $4)
		ON CONFLICT (character_id, slot) DO UPDATE SET item_id = EXCLUDED.item_id, amount = EXCLUDED.amount`,
		characterID, int16(st.Slot), st.ItemID, int16(st.Amount),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrCharacterNotFound
		}
		return fmt.Errorf("saving inventory slot %d: %w", st.Slot, err)
	}
	return nil
}
