package tool

import (
	"sort"
	"sync"
)

// Registry holds the descriptor table and the adapter resolved for each
// name. Registration happens at startup; lookups afterwards are
// read-only.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registration
}

type registration struct {
	desc    Descriptor
	adapter Adapter
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]registration),
	}
}

// Register adds a tool. A duplicate name replaces the earlier entry;
// descriptor tables are built once so this only matters in tests.
func (r *Registry) Register(desc Descriptor, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[desc.Name] = registration{desc: desc, adapter: adapter}
}

// Get resolves a tool by exact name match.
func (r *Registry) Get(name string) (Descriptor, Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg.desc, reg.adapter, ok
}

// List returns all descriptors sorted by name, for tools/list.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, reg.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
