// Package slicing derives selector expressions for sliced elements.
//
// A Tracker follows one slicing root during a tree walk. Nodes inside a slice that
// carry a fixed or pattern primitive at a discriminator path contribute a condition to
// that slice; the conditions of each slice form a selector such as
// "%parent.telecom[system='phone']".
package slicing

import (
	"strings"

	"github.com/gofhir/modelinfo/pkg/conformance"
)

const pathThis = "$this"

// Tracker collects slice conditions under one slicing root.
type Tracker struct {
	root   *conformance.ElementDefinition
	parent *Tracker

	current     string
	order       []string
	conditions  map[string][]string
	typeSlicing bool
}

// NewTracker creates a tracker for a node carrying a slicing declaration. parent is the
// tracker of the enclosing slicing root, if any.
func NewTracker(root *conformance.ElementDefinition, parent *Tracker) *Tracker {
	t := &Tracker{
		root:       root,
		parent:     parent,
		conditions: make(map[string][]string),
	}
	if root.Slicing != nil {
		for _, d := range root.Slicing.Discriminator {
			if d.Type == conformance.DiscriminatorType && d.Path == pathThis {
				t.typeSlicing = true
			}
		}
	}
	return t
}

// Root returns the slicing root node.
func (t *Tracker) Root() *conformance.ElementDefinition {
	return t.root
}

// Parent returns the enclosing tracker, or nil.
func (t *Tracker) Parent() *Tracker {
	return t.parent
}

// SetSliceName starts slice name, clearing any conditions it collected before.
func (t *Tracker) SetSliceName(name string) {
	t.current = name
	if name == "" {
		return
	}
	if _, seen := t.conditions[name]; !seen {
		t.order = append(t.order, name)
	}
	t.conditions[name] = nil
}

// Slices returns the slice names in declaration order.
func (t *Tracker) Slices() []string {
	return append([]string(nil), t.order...)
}

// IsTypeSlicing reports whether the root is sliced by type on $this. Such slices have
// no selector.
func (t *Tracker) IsTypeSlicing() bool {
	return t.typeSlicing
}

// ResolveSlicePath records node's fixed or pattern value as a condition of the active
// slice when node sits at one of the root's value or pattern discriminator paths. The
// node is always passed on to the parent tracker.
func (t *Tracker) ResolveSlicePath(node *conformance.ElementDefinition) {
	if t.current != "" && t.root.Slicing != nil {
		for _, d := range t.root.Slicing.Discriminator {
			if d.Type != conformance.DiscriminatorValue && d.Type != conformance.DiscriminatorPattern {
				continue
			}
			if node.Path != t.discriminatorPath(d.Path) {
				continue
			}
			value, ok := node.FixedPrimitive()
			if !ok {
				continue
			}
			t.addCondition(d.Path + "='" + escape(value) + "'")
		}
	}
	if t.parent != nil {
		t.parent.ResolveSlicePath(node)
	}
}

// SliceMap returns the selector of every slice with at least one condition. Type
// slicing yields an empty map.
func (t *Tracker) SliceMap() map[string]string {
	out := make(map[string]string)
	if t.typeSlicing {
		return out
	}
	field := strings.TrimSuffix(conformance.LastSegment(t.root.Path), "[x]")
	for _, name := range t.order {
		conds := t.conditions[name]
		if len(conds) == 0 {
			continue
		}
		out[name] = "%parent." + field + "[" + strings.Join(conds, " and ") + "]"
	}
	return out
}

// Selector returns the selector of one slice, or "".
func (t *Tracker) Selector(name string) string {
	return t.SliceMap()[name]
}

func (t *Tracker) discriminatorPath(path string) string {
	if path == pathThis {
		return t.root.Path
	}
	return t.root.Path + "." + strings.TrimPrefix(path, pathThis+".")
}

func (t *Tracker) addCondition(cond string) {
	for _, c := range t.conditions[t.current] {
		if c == cond {
			return
		}
	}
	t.conditions[t.current] = append(t.conditions[t.current], cond)
}

func escape(v string) string {
	return strings.ReplaceAll(v, "'", `\'`)
}
