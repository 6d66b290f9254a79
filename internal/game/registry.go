package game

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the board variants players can queue for.
type Registry struct {
	mu       sync.RWMutex
	variants map[int]Variant
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{variants: make(map[int]Variant)}
}

// DefaultRegistry returns a registry with the 3x3 and 4x4 variants.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Classic)
	r.Register(Large)
	return r
}

// Register adds a variant. Panics on duplicate sizes.
func (r *Registry) Register(v Variant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.variants[v.Size]; exists {
		panic(fmt.Sprintf("variant for size %d already registered", v.Size))
	}
	r.variants[v.Size] = v
}

// Get returns the variant for a board size.
func (r *Registry) Get(size int) (Variant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.variants[size]
	return v, ok
}

// List returns all variants ordered by size.
func (r *Registry) List() []Variant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Variant, 0, len(r.variants))
	for _, v := range r.variants {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Size < out[j].Size })
	return out
}

// Sizes returns the registered board sizes in ascending order.
func (r *Registry) Sizes() []int {
	vs := r.List()
	sizes := make([]int, len(vs))
	for i, v := range vs {
		sizes[i] = v.Size
	}
	return sizes
}
