package builder

import (
	"fmt"
	"strings"

	"github.com/gofhir/modelinfo/pkg/modelinfo"
)

// referenceError carries the content reference that could not be resolved.
type referenceError struct {
	reference string
	reason    string
}

func (e *referenceError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrContentReferenceUnresolved, e.reference, e.reason)
}

func (e *referenceError) Unwrap() error {
	return ErrContentReferenceUnresolved
}

// resolveContentReferences replaces every unresolved property type in the scope with
// the element type of the property it points at, keeping the referencing node's own
// List wrapping.
func (w *walker) resolveContentReferences() error {
	for _, key := range w.scope.order {
		entry := w.scope.entries[key]
		for i := range entry.Properties {
			p := &entry.Properties[i]
			if modelinfo.IsResolved(p.Type) {
				continue
			}
			resolved, err := w.resolveSpecifier(p.Type, map[string]bool{})
			if err != nil {
				return err
			}
			p.Type = resolved
		}
	}
	return nil
}

func (w *walker) resolveSpecifier(ts modelinfo.TypeSpecifier, visiting map[string]bool) (modelinfo.TypeSpecifier, error) {
	switch x := ts.(type) {
	case modelinfo.ListType:
		elem, err := w.resolveSpecifier(x.Element, visiting)
		if err != nil {
			return nil, err
		}
		return modelinfo.ListType{Element: modelinfo.ElementType(elem)}, nil
	case modelinfo.UnresolvedType:
		return w.resolveReference(x.Reference, visiting)
	default:
		return ts, nil
	}
}

// resolveReference follows "#Root.a.b" or "url#Root.a.b" to the referenced
// property and returns its element type. Chains are followed; cycles fail.
func (w *walker) resolveReference(ref string, visiting map[string]bool) (modelinfo.TypeSpecifier, error) {
	if visiting[ref] {
		return nil, &referenceError{reference: ref, reason: "reference cycle"}
	}
	visiting[ref] = true
	defer delete(visiting, ref)

	url, path, found := strings.Cut(ref, "#")
	if !found || path == "" {
		return nil, &referenceError{reference: ref, reason: "malformed reference"}
	}
	segs := strings.Split(path, ".")

	model := w.ms.Name
	if url != "" && url != w.sd.URL {
		if psd, ok := w.b.atlas.StructureDefinitionByURL(url); ok {
			if m, ok := w.b.settings.ModelForURL(psd.URL); ok {
				model = m
			}
		} else if m, ok := w.b.settings.ModelForURL(url); ok {
			model = m
		}
	}

	entry, ok := w.entry(model, segs[0])
	if !ok {
		return nil, &referenceError{reference: ref, reason: "root type " + modelinfo.Key(model, segs[0]) + " not found"}
	}
	for i, seg := range segs[1:] {
		seg = strings.TrimSuffix(seg, "[x]")
		p, ok := entry.Property(seg)
		if !ok {
			return nil, &referenceError{reference: ref, reason: "no element " + seg + " on " + entry.Key()}
		}
		target := p.Type
		if !modelinfo.IsResolved(target) {
			resolved, err := w.resolveSpecifier(target, visiting)
			if err != nil {
				return nil, err
			}
			target = resolved
		}
		elem := modelinfo.ElementType(target)
		if i == len(segs)-2 {
			return elem, nil
		}
		named, ok := elem.(modelinfo.NamedType)
		if !ok {
			return nil, &referenceError{reference: ref, reason: "element " + seg + " is not a named type"}
		}
		if entry, ok = w.entry(named.Model, named.Name); !ok {
			return nil, &referenceError{reference: ref, reason: "type " + named.Qualified() + " not found"}
		}
	}
	return nil, &referenceError{reference: ref, reason: "reference names no element"}
}

// entry looks a type up in the document scope first, then in the registry.
func (w *walker) entry(model, name string) (*modelinfo.TypeEntry, bool) {
	if e, ok := w.scope.get(modelinfo.Key(model, name)); ok {
		return e, true
	}
	return w.b.registry.Lookup(model, name)
}
