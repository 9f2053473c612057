package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/manaserv/internal/game/inventory"
	"github.com/cory-johannsen/manaserv/internal/storage/postgres"
	"github.com/cory-johannsen/manaserv/internal/testutil"
)

func setupInventory(t *testing.T) (*postgres.InventoryRepository, int64) {
	t.Helper()
	pool := testutil.NewPool(t)
	c, err := postgres.NewCharacterRepository(pool).Create(context.Background(), uniqueName("Inv"))
	require.NoError(t, err)
	return postgres.NewInventoryRepository(pool), c.ID
}

func TestInventoryRepository_EmptyByDefault(t *testing.T) {
	repo, id := setupInventory(t)
	got, err := repo.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInventoryRepository_ApplyUpsertsAndDeletes(t *testing.T) {
	repo, id := setupInventory(t)
	ctx := context.Background()

	require.NoError(t, repo.Apply(ctx, id, []inventory.Stack{
		{Slot: 0, ItemID: 501, Amount: 30},
		{Slot: 1, ItemID: 501, Amount: 5},
		{Slot: 4, ItemID: 1201, Amount: 1},
	}))
	require.NoError(t, repo.Apply(ctx, id, []inventory.Stack{
		{Slot: 0},
		{Slot: 1, ItemID: 501, Amount: 3},
	}))

	got, err := repo.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []inventory.Stack{
		{Slot: 1, ItemID: 501, Amount: 3},
		{Slot: 4, ItemID: 1201, Amount: 1},
	}, got)
}

func TestInventoryRepository_ApplyIsAtomic(t *testing.T) {
	repo, id := setupInventory(t)
	ctx := context.Background()

	err := repo.Apply(ctx, id, []inventory.Stack{
		{Slot: 0, ItemID: 701, Amount: 2},
		{Slot: -1, ItemID: 701, Amount: 1},
	})
	assert.ErrorIs(t, err, inventory.ErrInvalidSlot)

	got, err := repo.Load(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInventoryRepository_UnknownCharacter(t *testing.T) {
	repo, _ := setupInventory(t)
	err := repo.Apply(context.Background(), 999999999, []inventory.Stack{{Slot: 0, ItemID: 501, Amount: 1}})
	assert.ErrorIs(t, err, postgres.ErrCharacterNotFound)
}
