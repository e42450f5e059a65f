package modelinfo

import (
	"sort"
	"sync"
)

// Property is one named, typed member of a TypeEntry.
type Property struct {
	Name string
	Type TypeSpecifier

	// Target is a selector expression for slice properties, e.g.
	// "%parent.telecom[system='phone']".
	Target string
}

// Relationship links a type to a context through one of its elements.
type Relationship struct {
	Context           string `json:"context"`
	RelatedKeyElement string `json:"relatedKeyElement"`
}

// TypeEntry is one compiled class type.
type TypeEntry struct {
	Model           string
	Name            string
	Label           string
	Identifier      string
	BaseType        string
	Retrievable     bool
	PrimaryCodePath string
	Properties      []Property
	Relationships   []Relationship
}

// Key returns "Model.Name".
func (e *TypeEntry) Key() string {
	return Key(e.Model, e.Name)
}

// Key builds a registry key.
func Key(model, name string) string {
	return model + "." + name
}

// Property returns the property with the given name.
func (e *TypeEntry) Property(name string) (*Property, bool) {
	for i := range e.Properties {
		if e.Properties[i].Name == name {
			return &e.Properties[i], true
		}
	}
	return nil, false
}

// AddRelationship appends r unless an equal relationship is already present.
func (e *TypeEntry) AddRelationship(r Relationship) bool {
	for _, existing := range e.Relationships {
		if existing == r {
			return false
		}
	}
	e.Relationships = append(e.Relationships, r)
	return true
}

// Clone returns a copy that shares no slices with e.
func (e *TypeEntry) Clone() *TypeEntry {
	c := *e
	c.Properties = append([]Property(nil), e.Properties...)
	c.Relationships = append([]Relationship(nil), e.Relationships...)
	return &c
}

// Merge combines a re-derived entry with the one already recorded under the same key.
// The earliest non-empty base type is kept; everything else comes from incoming.
func Merge(existing, incoming *TypeEntry) *TypeEntry {
	merged := incoming.Clone()
	if existing != nil && existing.BaseType != "" {
		merged.BaseType = existing.BaseType
	}
	return merged
}

// Registry is the shared, keyed store of TypeEntries. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*TypeEntry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*TypeEntry)}
}

// Get returns the entry stored under key.
func (r *Registry) Get(key string) (*TypeEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	return e, ok
}

// Lookup returns the entry of a model's type.
func (r *Registry) Lookup(model, name string) (*TypeEntry, bool) {
	return r.Get(Key(model, name))
}

// Put stores entry, merging it with any entry already under its key, and returns the
// stored entry.
func (r *Registry) Put(entry *TypeEntry) *TypeEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := entry.Key()
	merged := Merge(r.entries[key], entry)
	r.entries[key] = merged
	return merged
}

// Update runs fn on the entry under key while holding the write lock.
func (r *Registry) Update(key string, fn func(*TypeEntry)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return false
	}
	fn(e)
	return true
}

// Keys returns all keys sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Entries returns the entries of one model sorted by name. An empty model returns all
// entries sorted by key.
func (r *Registry) Entries(model string) []*TypeEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*TypeEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if model == "" || e.Model == model {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
