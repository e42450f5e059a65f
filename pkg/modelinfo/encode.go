package modelinfo

import (
	"encoding/json"
)

// Specifier JSON follows the ModelInfo element layout: a Named type is written as a
// plain type name, anything else as a typed specifier object.

type namedJSON struct {
	Kind      string `json:"type"`
	ModelName string `json:"modelName,omitempty"`
	Name      string `json:"name"`
}

type listJSON struct {
	Kind                 string `json:"type"`
	ElementType          string `json:"elementType,omitempty"`
	ElementTypeSpecifier any    `json:"elementTypeSpecifier,omitempty"`
}

type choiceJSON struct {
	Kind   string `json:"type"`
	Choice []any  `json:"choice"`
}

type unresolvedJSON struct {
	Kind      string `json:"type"`
	Reference string `json:"reference"`
}

func specifierJSON(ts TypeSpecifier) any {
	switch x := ts.(type) {
	case NamedType:
		return namedJSON{Kind: "NamedTypeSpecifier", ModelName: x.Model, Name: x.Name}
	case ListType:
		out := listJSON{Kind: "ListTypeSpecifier"}
		if n, ok := x.Element.(NamedType); ok {
			out.ElementType = n.Qualified()
		} else {
			out.ElementTypeSpecifier = specifierJSON(x.Element)
		}
		return out
	case ChoiceType:
		out := choiceJSON{Kind: "ChoiceTypeSpecifier", Choice: make([]any, len(x.Choices))}
		for i, c := range x.Choices {
			out.Choice[i] = specifierJSON(c)
		}
		return out
	case UnresolvedType:
		return unresolvedJSON{Kind: "UnresolvedTypeSpecifier", Reference: x.Reference}
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler.
func (n NamedType) MarshalJSON() ([]byte, error) {
	return json.Marshal(specifierJSON(n))
}

// MarshalJSON implements json.Marshaler.
func (l ListType) MarshalJSON() ([]byte, error) {
	return json.Marshal(specifierJSON(l))
}

// MarshalJSON implements json.Marshaler.
func (c ChoiceType) MarshalJSON() ([]byte, error) {
	return json.Marshal(specifierJSON(c))
}

// MarshalJSON implements json.Marshaler.
func (u UnresolvedType) MarshalJSON() ([]byte, error) {
	return json.Marshal(specifierJSON(u))
}

// MarshalJSON implements json.Marshaler.
func (p Property) MarshalJSON() ([]byte, error) {
	out := struct {
		Name                 string `json:"name"`
		ElementType          string `json:"elementType,omitempty"`
		ElementTypeSpecifier any    `json:"elementTypeSpecifier,omitempty"`
		Target               string `json:"target,omitempty"`
	}{Name: p.Name, Target: p.Target}
	if n, ok := p.Type.(NamedType); ok {
		out.ElementType = n.Qualified()
	} else {
		out.ElementTypeSpecifier = specifierJSON(p.Type)
	}
	return json.Marshal(out)
}

// MarshalJSON implements json.Marshaler.
func (e *TypeEntry) MarshalJSON() ([]byte, error) {
	out := struct {
		Namespace       string         `json:"namespace"`
		Name            string         `json:"name"`
		Label           string         `json:"label,omitempty"`
		Identifier      string         `json:"identifier,omitempty"`
		BaseType        string         `json:"baseType,omitempty"`
		Retrievable     bool           `json:"retrievable"`
		PrimaryCodePath string         `json:"primaryCodePath,omitempty"`
		Element         []Property     `json:"element,omitempty"`
		ContextRelation []Relationship `json:"contextRelationship,omitempty"`
	}{
		Namespace:       e.Model,
		Name:            e.Name,
		Label:           e.Label,
		Identifier:      e.Identifier,
		BaseType:        e.BaseType,
		Retrievable:     e.Retrievable,
		PrimaryCodePath: e.PrimaryCodePath,
		Element:         e.Properties,
		ContextRelation: e.Relationships,
	}
	return json.Marshal(out)
}
