package equipment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/manaserv/internal/game/equipment"
	"github.com/cory-johannsen/manaserv/internal/game/item"
)

var (
	sword  = &item.Def{ID: 1201, Name: "Short Sword", Type: item.TypeOneHandWeapon}
	bow    = &item.Def{ID: 1202, Name: "Bow", Type: item.TypeTwoHandsWeapon}
	shield = &item.Def{ID: 1301, Name: "Buckler", Type: item.TypeShield}
	ring   = &item.Def{ID: 1401, Name: "Ring", Type: item.TypeRing}
	helm   = &item.Def{ID: 1501, Name: "Helm", Type: item.TypeHead}
	potion = &item.Def{ID: 501, Name: "Potion", Type: item.TypeUsable}
)

func TestSlot_WireValues(t *testing.T) {
	assert.Equal(t, equipment.Slot(0), equipment.SlotHead)
	assert.Equal(t, equipment.Slot(8), equipment.SlotWeapon)
	assert.Equal(t, equipment.Slot(9), equipment.SlotShield)
	assert.Equal(t, equipment.Slot(10), equipment.SlotProjectile)
	assert.Equal(t, 11, equipment.SlotCount)
	assert.Equal(t, "weapon", equipment.SlotWeapon.String())
	assert.Equal(t, "slot(42)", equipment.Slot(42).String())
}

func TestEquip_EmptySlot(t *testing.T) {
	e := equipment.New()
	displaced, err := e.Equip(sword, equipment.SlotWeapon)
	require.NoError(t, err)
	assert.Empty(t, displaced)

	got, ok := e.Item(equipment.SlotWeapon)
	require.True(t, ok)
	assert.Equal(t, sword.ID, got.ID)
}

func TestEquip_ReplacesOccupant(t *testing.T) {
	e := equipment.New()
	_, err := e.Equip(sword, equipment.SlotWeapon)
	require.NoError(t, err)

	displaced, err := e.Equip(&item.Def{ID: 1203, Name: "Dagger", Type: item.TypeOneHandWeapon}, equipment.SlotWeapon)
	require.NoError(t, err)
	assert.Equal(t, []int32{sword.ID}, displaced)
}

func TestEquip_TwoHandedVacatesShield(t *testing.T) {
	e := equipment.New()
	_, err := e.Equip(sword, equipment.SlotWeapon)
	require.NoError(t, err)
	_, err = e.Equip(shield, equipment.SlotShield)
	require.NoError(t, err)

	displaced, err := e.Equip(bow, equipment.SlotWeapon)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int32{sword.ID, shield.ID}, displaced)
	_, ok := e.Item(equipment.SlotShield)
	assert.False(t, ok)
}

func TestEquip_ShieldVacatesTwoHanded(t *testing.T) {
	e := equipment.New()
	_, err := e.Equip(bow, equipment.SlotWeapon)
	require.NoError(t, err)

	displaced, err := e.Equip(shield, equipment.SlotShield)
	require.NoError(t, err)
	assert.Equal(t, []int32{bow.ID}, displaced)
	_, ok := e.Item(equipment.SlotWeapon)
	assert.False(t, ok)
}

func TestEquip_ShieldKeepsOneHanded(t *testing.T) {
	e := equipment.New()
	_, err := e.Equip(sword, equipment.SlotWeapon)
	require.NoError(t, err)

	displaced, err := e.Equip(shield, equipment.SlotShield)
	require.NoError(t, err)
	assert.Empty(t, displaced)
	assert.Equal(t, 2, e.Len())
}

func TestEquip_RingFitsEitherRingSlot(t *testing.T) {
	e := equipment.New()
	_, err := e.Equip(ring, equipment.SlotRing1)
	require.NoError(t, err)
	_, err = e.Equip(ring, equipment.SlotRing2)
	require.NoError(t, err)
	_, err = e.Equip(ring, equipment.SlotNecklace)
	assert.ErrorIs(t, err, equipment.ErrWrongSlot)
}

func TestEquip_Rejections(t *testing.T) {
	e := equipment.New()

	_, err := e.Equip(potion, equipment.SlotWeapon)
	assert.ErrorIs(t, err, equipment.ErrWrongSlot)

	_, err = e.Equip(helm, equipment.SlotTorso)
	assert.ErrorIs(t, err, equipment.ErrWrongSlot)

	_, err = e.Equip(helm, equipment.Slot(11))
	assert.ErrorIs(t, err, equipment.ErrInvalidSlot)

	assert.Zero(t, e.Len())
}

func TestUnequip(t *testing.T) {
	e := equipment.New()
	_, err := e.Equip(helm, equipment.SlotHead)
	require.NoError(t, err)

	id, err := e.Unequip(equipment.SlotHead)
	require.NoError(t, err)
	assert.Equal(t, helm.ID, id)

	id, err = e.Unequip(equipment.SlotHead)
	require.NoError(t, err)
	assert.Zero(t, id)

	_, err = e.Unequip(equipment.Slot(200))
	assert.ErrorIs(t, err, equipment.ErrInvalidSlot)
}

func TestSlots_SortedBySlot(t *testing.T) {
	e := equipment.New()
	_, _ = e.Equip(shield, equipment.SlotShield)
	_, _ = e.Equip(helm, equipment.SlotHead)
	_, _ = e.Equip(ring, equipment.SlotRing2)

	assert.Equal(t, []equipment.Equipped{
		{Slot: equipment.SlotHead, ItemID: helm.ID},
		{Slot: equipment.SlotRing2, ItemID: ring.ID},
		{Slot: equipment.SlotShield, ItemID: shield.ID},
	}, e.Slots())
}

func TestClone_Independent(t *testing.T) {
	e := equipment.New()
	_, err := e.Equip(shield, equipment.SlotShield)
	require.NoError(t, err)

	c := e.Clone()
	_, err = c.Equip(bow, equipment.SlotWeapon)
	require.NoError(t, err)

	assert.Equal(t, []equipment.Equipped{{Slot: equipment.SlotShield, ItemID: 1301}}, e.Slots())
	assert.Equal(t, []equipment.Equipped{{Slot: equipment.SlotWeapon, ItemID: 1202}}, c.Slots())
}

func TestProperty_NeverTwoHandedWithShield(t *testing.T) {
	defs := []*item.Def{sword, bow, shield, ring, helm, potion}
	rapid.Check(t, func(rt *rapid.T) {
		e := equipment.New()
		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(rt, "unequip") {
				_, _ = e.Unequip(equipment.Slot(rapid.IntRange(0, equipment.SlotCount-1).Draw(rt, "slot")))
				continue
			}
			def := rapid.SampledFrom(defs).Draw(rt, "def")
			slot := equipment.Slot(rapid.IntRange(0, equipment.SlotCount).Draw(rt, "slot"))
			before := e.Len()
			displaced, err := e.Equip(def, slot)
			if err != nil {
				if e.Len() != before {
					rt.Fatalf("failed equip changed slots")
				}
				continue
			}
			if e.Len() != before+1-len(displaced) {
				rt.Fatalf("slot count %d does not account for %d displaced (before %d)", e.Len(), len(displaced), before)
			}

			w, hasWeapon := e.Item(equipment.SlotWeapon)
			_, hasShield := e.Item(equipment.SlotShield)
			if hasWeapon && hasShield && w.Type == item.TypeTwoHandsWeapon {
				rt.Fatalf("two-handed weapon equipped together with shield")
			}
			for _, eq := range e.Slots() {
				d, _ := e.Item(eq.Slot)
				if !equipment.Fits(d.Type, eq.Slot) {
					rt.Fatalf("%s in %s does not fit", d.Name, eq.Slot)
				}
			}
		}
	})
}
