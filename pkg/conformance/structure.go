// Package conformance holds lightweight in-memory views of the FHIR conformance
// resources the compiler reads: StructureDefinition, CompartmentDefinition,
// SearchParameter and Bundle.
//
// The structs decode only what the compiler uses and keep each element's raw JSON so
// fixed[x] and pattern[x] values can be read without enumerating every FHIR type.
package conformance

import (
	"encoding/json"
	"strconv"
	"strings"
)

// StructureDefinition.kind values.
const (
	KindResource      = "resource"
	KindComplexType   = "complex-type"
	KindPrimitiveType = "primitive-type"
	KindLogical       = "logical"
)

// Binding strengths.
const (
	BindingRequired   = "required"
	BindingExtensible = "extensible"
)

// Discriminator types.
const (
	DiscriminatorValue   = "value"
	DiscriminatorPattern = "pattern"
	DiscriminatorType    = "type"
	DiscriminatorProfile = "profile"
	DiscriminatorExists  = "exists"
)

// ExtBindingName is the extension carrying a binding's declared name.
const ExtBindingName = "http://hl7.org/fhir/StructureDefinition/elementdefinition-bindingName"

// StructureDefinition is the schema document describing one type's shape.
type StructureDefinition struct {
	ResourceType   string `json:"resourceType"`
	ID             string `json:"id"`
	URL            string `json:"url"`
	Name           string `json:"name"`
	Title          string `json:"title,omitempty"`
	Version        string `json:"version,omitempty"`
	Kind           string `json:"kind"` // resource, complex-type, primitive-type, logical
	Abstract       bool   `json:"abstract"`
	Type           string `json:"type"`           // The type this SD defines
	BaseDefinition string `json:"baseDefinition"` // URL of the base SD
	Derivation     string `json:"derivation"`     // specialization | constraint

	Snapshot     *ElementList `json:"snapshot,omitempty"`
	Differential *ElementList `json:"differential,omitempty"`
}

// GetResourceType implements Resource.
func (sd *StructureDefinition) GetResourceType() string { return "StructureDefinition" }

// CanonicalURL implements Resource.
func (sd *StructureDefinition) CanonicalURL() string { return sd.URL }

// ResourceID implements Resource.
func (sd *StructureDefinition) ResourceID() string { return sd.ID }

// Elements returns the snapshot elements, or the differential when there is no snapshot.
func (sd *StructureDefinition) Elements() []ElementDefinition {
	if sd.Snapshot != nil && len(sd.Snapshot.Element) > 0 {
		return sd.Snapshot.Element
	}
	if sd.Differential != nil {
		return sd.Differential.Element
	}
	return nil
}

// IsProfile reports whether the document constrains another type rather than
// defining its own: its id differs from the type it describes.
func (sd *StructureDefinition) IsProfile() bool {
	if sd.Derivation == "constraint" {
		return true
	}
	return sd.ID != "" && sd.Type != "" && sd.ID != sd.Type
}

// ElementList is a snapshot or differential element array.
type ElementList struct {
	Element []ElementDefinition `json:"element"`
}

// UnmarshalJSON implements custom unmarshaling to preserve raw JSON for each element.
func (l *ElementList) UnmarshalJSON(data []byte) error {
	var raw struct {
		Element []json.RawMessage `json:"element"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	l.Element = make([]ElementDefinition, len(raw.Element))
	for i, elemRaw := range raw.Element {
		if err := json.Unmarshal(elemRaw, &l.Element[i]); err != nil {
			return err
		}
		l.Element[i].raw = elemRaw
	}
	return nil
}

// ElementDefinition is one node of a StructureDefinition's flattened element tree.
type ElementDefinition struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	SliceName string    `json:"sliceName,omitempty"`
	Min       uint32    `json:"min"`
	Max       string    `json:"max"`
	Base      *Base     `json:"base,omitempty"`
	Type      []TypeRef `json:"type,omitempty"`
	Binding   *Binding  `json:"binding,omitempty"`
	Slicing   *Slicing  `json:"slicing,omitempty"`

	// ContentReference points at another element of the same document, "#Path"
	// (R4) or "url#Path" (R5).
	ContentReference string `json:"contentReference,omitempty"`

	raw json.RawMessage
}

// Key returns the structural key of the element: its id when present, else its path.
// Ids carry slice qualifiers (Patient.telecom:Phone.system), paths do not.
func (ed *ElementDefinition) Key() string {
	if ed.ID != "" {
		return ed.ID
	}
	return ed.Path
}

// Name returns the last path segment with any choice suffix removed.
func (ed *ElementDefinition) Name() string {
	return strings.TrimSuffix(LastSegment(ed.Path), "[x]")
}

// IsChoice reports whether the element is a choice element (value[x]).
func (ed *ElementDefinition) IsChoice() bool {
	return strings.HasSuffix(ed.Path, "[x]")
}

// IsRepeating reports whether max is "*" or an integer greater than one.
func (ed *ElementDefinition) IsRepeating() bool {
	return IsRepeatingMax(ed.Max)
}

// IsProhibited reports whether the element is constrained away (max = "0").
func (ed *ElementDefinition) IsProhibited() bool {
	return ed.Max == "0"
}

// IsInherited reports whether the element was declared by an ancestor of owner.
func (ed *ElementDefinition) IsInherited(owner string) bool {
	if ed.Base == nil || ed.Base.Path == "" {
		return false
	}
	return RootSegment(ed.Base.Path) != owner
}

// TypeCodes returns the declared type codes in order.
func (ed *ElementDefinition) TypeCodes() []string {
	codes := make([]string, 0, len(ed.Type))
	for _, t := range ed.Type {
		codes = append(codes, t.Code)
	}
	return codes
}

// GetFixed extracts fixed[x] value dynamically from raw JSON.
// Returns the value, type suffix (e.g., "Uri", "Code", "Coding"), and whether it exists.
func (ed *ElementDefinition) GetFixed() (value json.RawMessage, typeSuffix string, exists bool) {
	return extractPrefixedValue(ed.raw, "fixed")
}

// GetPattern extracts pattern[x] value dynamically from raw JSON.
func (ed *ElementDefinition) GetPattern() (value json.RawMessage, typeSuffix string, exists bool) {
	return extractPrefixedValue(ed.raw, "pattern")
}

// FixedPrimitive returns the element's fixed (or, failing that, pattern) value when
// it is a JSON primitive. Strings are returned unquoted.
func (ed *ElementDefinition) FixedPrimitive() (string, bool) {
	if v, _, ok := ed.GetFixed(); ok {
		if s, ok := primitiveText(v); ok {
			return s, true
		}
	}
	if v, _, ok := ed.GetPattern(); ok {
		if s, ok := primitiveText(v); ok {
			return s, true
		}
	}
	return "", false
}

func primitiveText(v json.RawMessage) (string, bool) {
	var decoded interface{}
	if err := json.Unmarshal(v, &decoded); err != nil {
		return "", false
	}
	switch x := decoded.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return "", false
	}
}

// extractPrefixedValue finds a key with the given prefix in the raw JSON.
// Used for polymorphic properties like fixed[x] and pattern[x].
func extractPrefixedValue(raw json.RawMessage, prefix string) (json.RawMessage, string, bool) {
	if raw == nil {
		return nil, "", false
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, "", false
	}

	for key, value := range obj {
		if strings.HasPrefix(key, prefix) && len(key) > len(prefix) {
			typeSuffix := strings.TrimPrefix(key, prefix)
			// Skip sibling keys such as "_fixedCode" or lowercase continuations.
			if typeSuffix[0] < 'A' || typeSuffix[0] > 'Z' {
				continue
			}
			return value, typeSuffix, true
		}
	}
	return nil, "", false
}

// Base records where an element was originally declared.
type Base struct {
	Path string `json:"path"`
	Min  uint32 `json:"min"`
	Max  string `json:"max"`
}

// TypeRef represents an allowed type for an element.
type TypeRef struct {
	Code          string   `json:"code"`
	Profile       []string `json:"profile,omitempty"`
	TargetProfile []string `json:"targetProfile,omitempty"`
}

// Extension represents a FHIR extension.
type Extension struct {
	URL         string `json:"url"`
	ValueString string `json:"valueString,omitempty"`
	ValueURL    string `json:"valueUrl,omitempty"`
}

// Binding represents a terminology binding.
type Binding struct {
	Strength    string      `json:"strength"` // required | extensible | preferred | example
	ValueSet    string      `json:"valueSet"`
	Description string      `json:"description,omitempty"`
	Extension   []Extension `json:"extension,omitempty"`
}

// Name returns the binding's declared name from the bindingName extension.
func (b *Binding) Name() string {
	if b == nil {
		return ""
	}
	for _, ext := range b.Extension {
		if ext.URL == ExtBindingName {
			return ext.ValueString
		}
	}
	return ""
}

// Slicing represents slicing rules for an element.
type Slicing struct {
	Discriminator []Discriminator `json:"discriminator,omitempty"`
	Rules         string          `json:"rules"` // open | closed | openAtEnd
	Ordered       bool            `json:"ordered,omitempty"`
}

// Discriminator defines how to match elements to slices.
type Discriminator struct {
	Type string `json:"type"` // value | exists | pattern | type | profile
	Path string `json:"path"`
}

// IsRepeatingMax reports whether a max cardinality allows more than one occurrence.
func IsRepeatingMax(max string) bool {
	if max == "*" {
		return true
	}
	n, err := strconv.Atoi(max)
	return err == nil && n > 1
}

// LastSegment returns the text after the final '.' or '/'.
func LastSegment(path string) string {
	if i := strings.LastIndexAny(path, "./"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// RootSegment returns the text before the first '.'.
func RootSegment(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}
