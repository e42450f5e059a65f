package builder

import (
	"fmt"
	"strings"

	"github.com/gofhir/modelinfo/pkg/config"
	"github.com/gofhir/modelinfo/pkg/conformance"
	"github.com/gofhir/modelinfo/pkg/modelinfo"
)

const (
	// systemTypePrefix marks the primitive types of FHIRPath's System model.
	systemTypePrefix = "http://hl7.org/fhirpath/System."

	coreDefinitionPrefix = "http://hl7.org/fhir/StructureDefinition/"
)

// typeSpecifier computes the specifier for a leaf node's declared types. It returns
// nil when the node declares no type.
func (w *walker) typeSpecifier(node *conformance.ElementDefinition, types []conformance.TypeRef) (modelinfo.TypeSpecifier, error) {
	if len(types) == 0 {
		return nil, nil
	}
	if name, ok := w.boundTypeName(node); ok {
		return w.boundType(name)
	}
	specs := make([]modelinfo.TypeSpecifier, 0, len(types))
	for _, t := range types {
		resolved, err := w.resolveTypeRef(t)
		if err != nil {
			return nil, err
		}
		specs = append(specs, resolved...)
	}
	return modelinfo.Combine(specs), nil
}

// resolveTypeRef maps one declared type to named specifiers. Each resolvable profile
// yields the profiled type in the profile's model; otherwise the type code is used.
func (w *walker) resolveTypeRef(t conformance.TypeRef) ([]modelinfo.TypeSpecifier, error) {
	if strings.HasPrefix(t.Code, systemTypePrefix) {
		return []modelinfo.TypeSpecifier{w.mapped(config.ModelSystem, strings.TrimPrefix(t.Code, systemTypePrefix))}, nil
	}
	var out []modelinfo.TypeSpecifier
	for _, url := range t.Profile {
		psd, ok := w.b.atlas.StructureDefinitionByURL(url)
		if !ok || psd.Type == "" {
			continue
		}
		model, ok := w.b.settings.ModelForURL(psd.URL)
		if !ok {
			continue
		}
		out = append(out, w.mapped(model, psd.Type))
	}
	if len(out) > 0 {
		return out, nil
	}
	n, err := w.coreType(t.Code)
	if err != nil {
		return nil, err
	}
	return []modelinfo.TypeSpecifier{n}, nil
}

// coreType resolves a bare type code against the model owning its core definition
// and applies the current model's mappings.
func (w *walker) coreType(code string) (modelinfo.NamedType, error) {
	model, ok := w.b.settings.ModelForURL(coreDefinitionPrefix + code)
	if !ok {
		return modelinfo.NamedType{}, fmt.Errorf("%w: no model owns type %q", ErrModelUnresolved, code)
	}
	return w.mapped(model, code), nil
}

func (w *walker) mapped(model, name string) modelinfo.NamedType {
	return modelinfo.ParseNamed(w.ms.MapType(modelinfo.Key(model, name), w.b.preserve))
}

// boundTypeName reports whether node is bound with required strength to a named
// binding, which becomes its own type whatever the declared type.
func (w *walker) boundTypeName(node *conformance.ElementDefinition) (string, bool) {
	if w.b.preserve {
		return "", false
	}
	binding := node.Binding
	if binding == nil && w.base != nil {
		if b, ok := w.base[node.Path]; ok {
			binding = b.Binding
		}
	}
	if binding == nil || binding.Strength != conformance.BindingRequired {
		return "", false
	}
	name := binding.Name()
	return name, name != ""
}

// boundType stages the synthesized entry for a bound node and returns its specifier.
// The entry is a single string-valued element.
func (w *walker) boundType(name string) (modelinfo.TypeSpecifier, error) {
	spec := modelinfo.NamedType{Model: w.ms.Name, Name: name}
	key := spec.Qualified()
	if _, ok := w.scope.get(key); ok {
		return spec, nil
	}
	element, err := w.unmappedCoreType("Element")
	if err != nil {
		return nil, err
	}
	w.scope.put(&modelinfo.TypeEntry{
		Model:    w.ms.Name,
		Name:     name,
		BaseType: element,
		Properties: []modelinfo.Property{
			{Name: "value", Type: modelinfo.NamedType{Model: config.ModelSystem, Name: "String"}},
		},
	})
	w.scope.synthesized++
	return spec, nil
}

func (w *walker) unmappedCoreType(code string) (string, error) {
	model, ok := w.b.settings.ModelForURL(coreDefinitionPrefix + code)
	if !ok {
		return "", fmt.Errorf("%w: no model owns type %q", ErrModelUnresolved, code)
	}
	return modelinfo.Key(model, code), nil
}
