// Package mapper holds the per-resource descriptors that drive the generic
// dispatcher: one declarative table entry per entity kind instead of one
// hand-written sync method per entity.
package mapper

import (
	"fmt"
	"sort"
	"strings"
)

// Mapper converts one resource's rows between local and wire shape.
// Both directions are pure and perform no I/O.
type Mapper interface {
	ToRemote(local map[string]any) (map[string]any, error)
	ToLocal(remote map[string]any) (map[string]any, error)
}

// FieldMapper is the declarative mapper for the common case where mapping is
// a column rename. Columns maps local column names to remote field names;
// local columns absent from the map pass through unchanged.
type FieldMapper struct {
	Columns map[string]string
}

func (m FieldMapper) ToRemote(local map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(local))
	for k, v := range local {
		if remote, ok := m.Columns[k]; ok {
			out[remote] = v
			continue
		}
		out[k] = v
	}
	return out, nil
}

func (m FieldMapper) ToLocal(remote map[string]any) (map[string]any, error) {
	reverse := make(map[string]string, len(m.Columns))
	for local, r := range m.Columns {
		reverse[r] = local
	}
	out := make(map[string]any, len(remote))
	for k, v := range remote {
		if local, ok := reverse[k]; ok {
			out[local] = v
			continue
		}
		out[k] = v
	}
	return out, nil
}

// Descriptor describes one syncable resource.
type Descriptor struct {
	// Resource is the remote resource name. Lookup is case-insensitive.
	Resource string

	// LocalTable is the mirroring local table.
	LocalTable string

	// KeyColumn is the resource-local record identifier column.
	KeyColumn string

	// ConflictColumns declare the upsert conflict key on the remote side.
	ConflictColumns []string

	// Priority orders resource groups within a pass (ascending). Groups with
	// remote foreign-key dependencies must be given a higher-priority parent.
	Priority int

	Mapper Mapper
}

// Registry resolves resource names to descriptors.
type Registry struct {
	byName map[string]Descriptor
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Descriptor)}
}

// Register adds a descriptor. Duplicate resource names are a configuration
// defect and rejected.
func (r *Registry) Register(d Descriptor) error {
	if d.Resource == "" || d.LocalTable == "" || d.KeyColumn == "" {
		return fmt.Errorf("descriptor for %q is incomplete", d.Resource)
	}
	if d.Mapper == nil {
		d.Mapper = FieldMapper{}
	}
	key := strings.ToLower(d.Resource)
	if _, exists := r.byName[key]; exists {
		return fmt.Errorf("descriptor for %q already registered", d.Resource)
	}
	r.byName[key] = d
	return nil
}

// Lookup returns the descriptor for a resource name, case-insensitively.
func (r *Registry) Lookup(resource string) (Descriptor, bool) {
	d, ok := r.byName[strings.ToLower(resource)]
	return d, ok
}

// All returns every registered descriptor sorted by priority, then name.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Resource < out[j].Resource
	})
	return out
}
