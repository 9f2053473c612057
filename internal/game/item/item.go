// Package item holds static item definitions loaded from YAML.
package item

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Type classifies what an item can be used for.
type Type string

// Type constants for Def.Type.
const (
	TypeUnusable       Type = "unusable"
	TypeUsable         Type = "usable"
	TypeOneHandWeapon  Type = "one_hand_weapon"
	TypeTwoHandsWeapon Type = "two_hands_weapon"
	TypeBreast         Type = "breast"
	TypeArms           Type = "arms"
	TypeHead           Type = "head"
	TypeLegs           Type = "legs"
	TypeShield         Type = "shield"
	TypeRing           Type = "ring"
	TypeNecklace       Type = "necklace"
	TypeFeet           Type = "feet"
	TypeProjectile     Type = "projectile"
)

var validTypes = map[Type]bool{
	TypeUnusable:       true,
	TypeUsable:         true,
	TypeOneHandWeapon:  true,
	TypeTwoHandsWeapon: true,
	TypeBreast:         true,
	TypeArms:           true,
	TypeHead:           true,
	TypeLegs:           true,
	TypeShield:         true,
	TypeRing:           true,
	TypeNecklace:       true,
	TypeFeet:           true,
	TypeProjectile:     true,
}

// Valid reports whether t is a known item type.
func (t Type) Valid() bool { return validTypes[t] }

// Equippable reports whether items of type t go in an equipment slot.
func (t Type) Equippable() bool {
	return t.Valid() && t != TypeUnusable && t != TypeUsable
}

// MaxStackLimit is the largest amount a single inventory slot can hold.
const MaxStackLimit = 255

// Def defines the static properties of an item loaded from YAML.
type Def struct {
	ID     int32   `yaml:"id"`
	Name   string  `yaml:"name"`
	Type   Type    `yaml:"type"`
	Weight float64 `yaml:"weight"`
	Value  int     `yaml:"value"`
	// MaxPerSlot is how many of the item share one inventory slot; 0 means 1.
	MaxPerSlot int `yaml:"max_per_slot"`
}

// StackLimit returns the effective per-slot amount, at least 1.
func (d *Def) StackLimit() int {
	if d.MaxPerSlot <= 0 {
		return 1
	}
	return d.MaxPerSlot
}

// Validate checks that the Def satisfies its invariants.
//
// Precondition: d is non-nil.
// Postcondition: returns nil iff all fields are valid.
func (d *Def) Validate() error {
	var errs []error
	if d.ID <= 0 {
		errs = append(errs, errors.New("ID must be > 0"))
	}
	if d.Name == "" {
		errs = append(errs, errors.New("Name must not be empty"))
	}
	if !d.Type.Valid() {
		errs = append(errs, fmt.Errorf("Type %q is not a known item type", d.Type))
	}
	if d.Weight < 0 {
		errs = append(errs, errors.New("Weight must be >= 0"))
	}
	if d.Value < 0 {
		errs = append(errs, errors.New("Value must be >= 0"))
	}
	if d.MaxPerSlot < 0 || d.MaxPerSlot > MaxStackLimit {
		errs = append(errs, fmt.Errorf("MaxPerSlot must be in 0..%d", MaxStackLimit))
	}
	if len(errs) > 0 {
		return fmt.Errorf("item validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// LoadDir reads all *.yaml and *.yml files from dir. Each file holds a list
// of item definitions. Files are read in name order.
//
// Precondition: dir is a readable directory path.
// Postcondition: returns all valid Defs or the first encountered error.
func LoadDir(dir string) ([]*Def, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("item.LoadDir: cannot read directory %q: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var defs []*Def
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("item.LoadDir: cannot read file %q: %w", path, err)
		}
		var file struct {
			Items []Def `yaml:"items"`
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("item.LoadDir: cannot parse file %q: %w", path, err)
		}
		for i := range file.Items {
			d := &file.Items[i]
			if err := d.Validate(); err != nil {
				return nil, fmt.Errorf("item.LoadDir: invalid item #%d (id %d) in %q: %w", i+1, d.ID, path, err)
			}
			defs = append(defs, d)
		}
	}
	return defs, nil
}
