package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/manaserv/internal/game/equipment"
)

// EquipmentRepository persists the occupied equipment slots of characters.
type EquipmentRepository struct {
	db *pgxpool.Pool
}

// NewEquipmentRepository creates an EquipmentRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewEquipmentRepository(db *pgxpool.Pool) *EquipmentRepository {
	return &EquipmentRepository{db: db}
}

// Load returns the occupied slots of characterID ordered by slot.
//
// Postcondition: Returns a slice (may be empty) or a non-nil error.
func (r *EquipmentRepository) Load(ctx context.Context, characterID int64) ([]equipment.Equipped, error) {
	rows, err := r.db.Query(ctx, `
		SELECT slot, item_id FROM character_equipment
		WHERE character_id = $1 ORDER BY slot ASC`,
		characterID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading equipment: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (equipment.Equipped, error) {
		var slot int16
		var itemID int32
		if err := row.Scan(&slot, &itemID); err != nil {
			return equipment.Equipped{}, err
		}
		return equipment.Equipped{Slot: equipment.Slot(slot), ItemID: itemID}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning equipment: %w", err)
	}
	return out, nil
}

// SaveSlot records itemID in slot, replacing any previous item.
//
// Precondition: slot must be valid; itemID must be > 0.
func (r *EquipmentRepository) SaveSlot(ctx context.Context, characterID int64, slot equipment.Slot, itemID int32) error {
	return saveSlot(ctx, r.db, characterID, slot, itemID)
}

// ClearSlot empties slot. Clearing an empty slot is not an error.
func (r *EquipmentRepository) ClearSlot(ctx context.Context, characterID int64, slot equipment.Slot) error {
	return clearSlot(ctx, r.db, characterID, slot)
}

// Apply clears the listed slots and then saves set in one transaction.
//
// Postcondition: Either every change is stored or none is.
func (r *EquipmentRepository) Apply(ctx context.Context, characterID int64, clear []equipment.Slot, set []equipment.Equipped) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		for _, s := range clear {
			if err := clearSlot(ctx, tx, characterID, s); err != nil {
				return err
			}
		}
		for _, e := range set {
			if err := saveSlot(ctx, tx, characterID, e.Slot, e.ItemID); err != nil {
				return err
			}
		}
		return nil
	})
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func saveSlot(ctx context.Context, db execer, characterID int64, slot equipment.Slot, itemID int32) error {
	if !slot.Valid() {
		return fmt.Errorf("saving slot: %w: %d", equipment.ErrInvalidSlot, slot)
	}
	_, err := db.Exec(ctx, `
		INSERT INTO character_equipment (character_id, slot, item_id) VALUES ($1, $2, $3)
		ON CONFLICT (character_id, slot) DO UPDATE SET item_id = EXCLUDED.item_id`,
		characterID, int16(slot), itemID,
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrCharacterNotFound
		}
		return fmt.Errorf("saving slot %s: %w", slot, err)
	}
	return nil
}

func clearSlot(ctx context.Context, db execer, characterID int64, slot equipment.Slot) error {
	_, err := db.Exec(ctx, `
		DELETE FROM character_equipment WHERE character_id = $1 AND slot = $2`,
		characterID, int16(slot),
	)
	if err != nil {
		return fmt.Errorf("clearing slot %s: %w", slot, err)
	}
	return nil
}
