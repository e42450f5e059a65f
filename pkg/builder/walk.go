package builder

import (
	"strings"

	"github.com/gofhir/modelinfo/pkg/config"
	"github.com/gofhir/modelinfo/pkg/conformance"
	"github.com/gofhir/modelinfo/pkg/issue"
	"github.com/gofhir/modelinfo/pkg/modelinfo"
	"github.com/gofhir/modelinfo/pkg/slicing"
)

// scope stages the entries produced by one document.
type scope struct {
	entries     map[string]*modelinfo.TypeEntry
	order       []string
	synthesized int
}

func (s *scope) get(key string) (*modelinfo.TypeEntry, bool) {
	e, ok := s.entries[key]
	return e, ok
}

// put stages entry. A later entry under the same key replaces the earlier one but
// keeps its position.
func (s *scope) put(entry *modelinfo.TypeEntry) {
	key := entry.Key()
	if _, ok := s.entries[key]; !ok {
		s.order = append(s.order, key)
	}
	s.entries[key] = entry
}

// walker compiles one StructureDefinition.
type walker struct {
	b     *Builder
	sd    *conformance.StructureDefinition
	ms    *config.ModelSettings
	elems []conformance.ElementDefinition
	scope *scope

	// Base type elements by path, for profiles.
	base      map[string]*conformance.ElementDefinition
	baseModel string
}

// sliceGroup collects the slices that follow one slicing root.
type sliceGroup struct {
	tracker  *slicing.Tracker
	rootType modelinfo.TypeSpecifier
	slices   []*conformance.ElementDefinition
}

func newWalker(b *Builder, sd *conformance.StructureDefinition, ms *config.ModelSettings) *walker {
	w := &walker{
		b:     b,
		sd:    sd,
		ms:    ms,
		elems: sd.Elements(),
		scope: &scope{entries: make(map[string]*modelinfo.TypeEntry)},
	}
	if sd.IsProfile() {
		if def, ok := b.atlas.TypeDefinition(sd.Type); ok && def != sd {
			w.base = make(map[string]*conformance.ElementDefinition)
			elems := def.Elements()
			for i := range elems {
				if elems[i].SliceName == "" {
					w.base[elems[i].Path] = &elems[i]
				}
			}
			w.baseModel, _ = b.settings.ModelForURL(def.URL)
		}
	}
	return w
}

// walkDocument builds the document's own entry from the children of its root element.
func (w *walker) walkDocument() (*modelinfo.TypeEntry, error) {
	entry := &modelinfo.TypeEntry{Model: w.ms.Name, Name: w.sd.Type}
	if len(w.elems) > 0 {
		props, _, err := w.walkChildren(&w.elems[0], 1)
		if err != nil {
			return nil, err
		}
		entry.Properties = props
	}
	w.scope.put(entry)
	return entry, nil
}

// isDescendant reports whether node lies under parent in the flattened tree. Slices
// share their root's path, so they are siblings of it.
func isDescendant(parent, node *conformance.ElementDefinition) bool {
	return strings.HasPrefix(node.Key(), parent.Key()+".")
}

// walkChildren builds the properties of parent's direct children starting at index i.
// It returns the properties and the index following parent's subtree.
func (w *walker) walkChildren(parent *conformance.ElementDefinition, i int) ([]modelinfo.Property, int, error) {
	var (
		props []modelinfo.Property
		group *sliceGroup
	)
	for i < len(w.elems) && isDescendant(parent, &w.elems[i]) {
		node := &w.elems[i]

		if node.SliceName != "" && group != nil && node.Path == group.tracker.Root().Path {
			group.tracker.SetSliceName(node.SliceName)
			group.slices = append(group.slices, node)
			i = w.scan(node, i+1, group.tracker)
			continue
		}
		if group != nil {
			props = w.sliceProperties(props, group)
			group = nil
		}
		if node.SliceName != "" {
			// Slice of a root that produced no property.
			i = w.skip(node, i+1)
			continue
		}

		prop, next, err := w.walkNode(node, i)
		if err != nil {
			return nil, 0, err
		}
		if prop != nil {
			props = append(props, *prop)
			if node.Slicing != nil {
				group = &sliceGroup{tracker: slicing.NewTracker(node, nil), rootType: prop.Type}
			}
		}
		i = next
	}
	if group != nil {
		props = w.sliceProperties(props, group)
	}
	return props, i, nil
}

// walkNode builds the property for node, consuming its subtree.
func (w *walker) walkNode(node *conformance.ElementDefinition, i int) (*modelinfo.Property, int, error) {
	next := i + 1
	hasChildren := next < len(w.elems) && isDescendant(node, &w.elems[next])

	if node.IsInherited(w.sd.Type) || node.IsProhibited() {
		return nil, w.skip(node, next), nil
	}

	repeating := node.IsRepeating()
	if node.ContentReference != "" {
		ref := modelinfo.UnresolvedType{Reference: node.ContentReference}
		return &modelinfo.Property{Name: node.Name(), Type: modelinfo.WrapList(ref, repeating)}, w.skip(node, next), nil
	}

	types := w.effectiveTypes(node)
	code := ""
	if len(types) > 0 {
		code = types[0].Code
	}

	var (
		spec modelinfo.TypeSpecifier
		err  error
	)
	switch {
	case hasChildren && isAnonymous(code):
		spec, next, err = w.component(node, code, next)
	case hasChildren && code == "Extension":
		next = w.scan(node, next, nil)
		spec, err = w.typeSpecifier(node, types)
	case hasChildren:
		end := w.scan(node, next, nil)
		w.reportNested(node, code, end-next)
		next = end
		spec, err = w.typeSpecifier(node, types)
	case isAnonymous(code) && w.base != nil && w.baseModel != "":
		spec = modelinfo.NamedType{Model: w.baseModel, Name: componentName(node.Path)}
	default:
		spec, err = w.typeSpecifier(node, types)
	}
	if err != nil {
		return nil, 0, err
	}
	if spec == nil {
		w.b.log.Debug().Str("url", w.sd.URL).Str("element", node.Key()).Msg("element has no type")
		return nil, next, nil
	}
	return &modelinfo.Property{Name: node.Name(), Type: modelinfo.WrapList(spec, repeating)}, next, nil
}

// component synthesizes the type of an anonymous nested structure and returns a
// reference to it.
func (w *walker) component(node *conformance.ElementDefinition, code string, i int) (modelinfo.TypeSpecifier, int, error) {
	props, next, err := w.walkChildren(node, i)
	if err != nil {
		return nil, 0, err
	}
	entry := &modelinfo.TypeEntry{
		Model:      w.ms.Name,
		Name:       componentName(node.Key()),
		Properties: props,
	}
	if code != "" {
		base, err := w.coreType(code)
		if err != nil {
			return nil, 0, err
		}
		entry.BaseType = base.Qualified()
	}
	w.scope.put(entry)
	w.scope.synthesized++
	return modelinfo.NamedType{Model: entry.Model, Name: entry.Name}, next, nil
}

// scan consumes node's subtree without building properties, feeding every node to tr
// so slice conditions are still collected. Slicing roots inside the subtree get their
// own tracker chained to tr.
func (w *walker) scan(node *conformance.ElementDefinition, i int, tr *slicing.Tracker) int {
	if tr != nil {
		tr.ResolveSlicePath(node)
	}
	var nested *slicing.Tracker
	for i < len(w.elems) && isDescendant(node, &w.elems[i]) {
		child := &w.elems[i]
		switch {
		case nested != nil && child.SliceName != "" && child.Path == nested.Root().Path:
			nested.SetSliceName(child.SliceName)
			i = w.scan(child, i+1, nested)
		case child.Slicing != nil:
			nested = slicing.NewTracker(child, tr)
			i = w.scan(child, i+1, tr)
		default:
			nested = nil
			i = w.scan(child, i+1, tr)
		}
	}
	return i
}

// skip consumes node's subtree.
func (w *walker) skip(node *conformance.ElementDefinition, i int) int {
	for i < len(w.elems) && isDescendant(node, &w.elems[i]) {
		i++
	}
	return i
}

// sliceProperties appends one property per slice that has a selector. Slice
// properties take the element type of the slicing root.
func (w *walker) sliceProperties(props []modelinfo.Property, g *sliceGroup) []modelinfo.Property {
	selectors := g.tracker.SliceMap()
	if len(selectors) == 0 || g.rootType == nil {
		return props
	}
	elem := modelinfo.ElementType(g.rootType)
	for _, s := range g.slices {
		target, ok := selectors[s.SliceName]
		if !ok {
			continue
		}
		name, ok := slicePropertyName(s.SliceName)
		if !ok {
			continue
		}
		if hasProperty(props, name) {
			w.b.report.AddWithID(issue.DiagBuildDuplicateProperty, "builder",
				map[string]any{"name": name, "type": modelinfo.Key(w.ms.Name, w.sd.Type)}, s.Key())
			continue
		}
		props = append(props, modelinfo.Property{
			Name:   name,
			Type:   modelinfo.WrapList(elem, s.IsRepeating()),
			Target: target,
		})
	}
	return props
}

func (w *walker) reportNested(node *conformance.ElementDefinition, code string, count int) {
	w.b.log.Debug().Str("url", w.sd.URL).Str("element", node.Key()).Int("children", count).
		Msg("nested constraints not promoted")
	w.b.report.AddWithID(issue.DiagBuildNestedUnsupported, "builder",
		map[string]any{"path": node.Key(), "type": code, "count": count}, w.sd.URL)
}

// effectiveTypes returns the node's declared types, falling back to the base type's
// element at the same path for profile nodes that declare none.
func (w *walker) effectiveTypes(node *conformance.ElementDefinition) []conformance.TypeRef {
	if len(node.Type) > 0 || w.base == nil {
		return node.Type
	}
	if b, ok := w.base[node.Path]; ok {
		return b.Type
	}
	return nil
}

// slicePropertyName turns a slice name into a property name. Reslices ("Phone/home")
// get no property; characters outside [A-Za-z0-9_] become underscores.
func slicePropertyName(slice string) (string, bool) {
	if slice == "" || strings.Contains(slice, "/") {
		return "", false
	}
	var sb strings.Builder
	for i, r := range slice {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			sb.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String(), true
}

func hasProperty(props []modelinfo.Property, name string) bool {
	for _, p := range props {
		if p.Name == name {
			return true
		}
	}
	return false
}

func isAnonymous(code string) bool {
	return code == "" || code == "BackboneElement" || code == "Element"
}

// componentName derives a synthesized type name from an element key:
// "Patient.contact" becomes "PatientContactComponent" and
// "Observation.component:systolic" becomes "ObservationComponentSystolicComponent".
func componentName(key string) string {
	var sb strings.Builder
	for _, seg := range strings.FieldsFunc(key, func(r rune) bool { return r == '.' || r == ':' }) {
		seg = strings.TrimSuffix(seg, "[x]")
		if seg == "" {
			continue
		}
		sb.WriteString(strings.ToUpper(seg[:1]))
		sb.WriteString(seg[1:])
	}
	sb.WriteString("Component")
	return sb.String()
}
