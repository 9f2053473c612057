package item

import (
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Registry holds loaded item definitions indexed by ID. It is safe for
// concurrent reads after loading.
type Registry struct {
	mu    sync.RWMutex
	items map[int32]*Def
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[int32]*Def)}
}

// Register adds d to the registry.
//
// Precondition: d must not be nil and must be valid.
// Postcondition: Get(d.ID) returns (d, true); returns error if d.ID already registered.
func (r *Registry) Register(d *Def) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[d.ID]; exists {
		return fmt.Errorf("item: Registry.Register: item ID %d already registered", d.ID)
	}
	r.items[d.ID] = d
	return nil
}

// RegisterAll adds every def, stopping at the first duplicate.
func (r *Registry) RegisterAll(defs []*Def) error {
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the Def for the given id and whether it was found.
func (r *Registry) Get(id int32) (*Def, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.items[id]
	return d, ok
}

// All returns every registered Def ordered by ID.
//
// Postcondition: len(result) == Len().
func (r *Registry) All() []*Def {
	r.mu.RLock()
	out := lo.Values(r.items)
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered items.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
