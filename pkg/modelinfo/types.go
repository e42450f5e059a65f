// Package modelinfo defines the compiled type model: type specifiers, type entries,
// the shared type registry, and the per-model ModelInfo document.
package modelinfo

import (
	"strings"
)

// TypeSpecifier describes the type of a property. It is one of NamedType, ListType,
// ChoiceType or UnresolvedType.
type TypeSpecifier interface {
	typeSpecifier()
	String() string
}

// NamedType refers to a type by model and name. An empty model is used for
// names that are not qualified, such as "Interval<System.DateTime>".
type NamedType struct {
	Model string
	Name  string
}

// ListType is a repeating element.
type ListType struct {
	Element TypeSpecifier
}

// ChoiceType is one of several named types, in declared order.
type ChoiceType struct {
	Choices []TypeSpecifier
}

// UnresolvedType is a content reference that has not been substituted yet. It never
// appears in a committed entry.
type UnresolvedType struct {
	Reference string
}

func (NamedType) typeSpecifier()      {}
func (ListType) typeSpecifier()       {}
func (ChoiceType) typeSpecifier()     {}
func (UnresolvedType) typeSpecifier() {}

// Qualified returns "Model.Name", or Name when there is no model.
func (n NamedType) Qualified() string {
	if n.Model == "" {
		return n.Name
	}
	return n.Model + "." + n.Name
}

func (n NamedType) String() string { return n.Qualified() }

func (l ListType) String() string { return "List<" + l.Element.String() + ">" }

func (c ChoiceType) String() string {
	parts := make([]string, len(c.Choices))
	for i, ch := range c.Choices {
		parts[i] = ch.String()
	}
	return "Choice<" + strings.Join(parts, ",") + ">"
}

func (u UnresolvedType) String() string { return "Unresolved(" + u.Reference + ")" }

// ParseNamed splits a qualified type name at its first dot. Generic names such as
// "Interval<System.DateTime>" are kept whole with an empty model.
func ParseNamed(qualified string) NamedType {
	if strings.ContainsAny(qualified, "<>") {
		return NamedType{Name: qualified}
	}
	if i := strings.IndexByte(qualified, '.'); i > 0 {
		return NamedType{Model: qualified[:i], Name: qualified[i+1:]}
	}
	return NamedType{Name: qualified}
}

// Equal reports whether two specifiers describe the same type.
func Equal(a, b TypeSpecifier) bool {
	switch x := a.(type) {
	case NamedType:
		y, ok := b.(NamedType)
		return ok && x == y
	case ListType:
		y, ok := b.(ListType)
		return ok && Equal(x.Element, y.Element)
	case ChoiceType:
		y, ok := b.(ChoiceType)
		if !ok || len(x.Choices) != len(y.Choices) {
			return false
		}
		for i := range x.Choices {
			if !Equal(x.Choices[i], y.Choices[i]) {
				return false
			}
		}
		return true
	case UnresolvedType:
		y, ok := b.(UnresolvedType)
		return ok && x == y
	default:
		return a == nil && b == nil
	}
}

// Dedup removes repeated specifiers, keeping first occurrences in order.
func Dedup(specs []TypeSpecifier) []TypeSpecifier {
	out := make([]TypeSpecifier, 0, len(specs))
	for _, s := range specs {
		dup := false
		for _, o := range out {
			if Equal(s, o) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, s)
		}
	}
	return out
}

// Combine returns the single specifier, or a Choice of the deduplicated specifiers.
// It returns nil for an empty list.
func Combine(specs []TypeSpecifier) TypeSpecifier {
	specs = Dedup(specs)
	switch len(specs) {
	case 0:
		return nil
	case 1:
		return specs[0]
	default:
		return ChoiceType{Choices: specs}
	}
}

// WrapList wraps ts in a List when repeating is set.
func WrapList(ts TypeSpecifier, repeating bool) TypeSpecifier {
	if !repeating || ts == nil {
		return ts
	}
	return ListType{Element: ts}
}

// ElementType returns the element type of a List, or ts itself.
func ElementType(ts TypeSpecifier) TypeSpecifier {
	if l, ok := ts.(ListType); ok {
		return l.Element
	}
	return ts
}

// IsResolved reports whether ts contains no UnresolvedType.
func IsResolved(ts TypeSpecifier) bool {
	switch x := ts.(type) {
	case UnresolvedType:
		return false
	case ListType:
		return IsResolved(x.Element)
	case ChoiceType:
		for _, c := range x.Choices {
			if !IsResolved(c) {
				return false
			}
		}
	}
	return true
}
