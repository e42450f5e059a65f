package conformance

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofhir/fhir/r4"
)

// Resource kinds the compiler indexes with a dedicated view.
const (
	TypeStructureDefinition   = "StructureDefinition"
	TypeCompartmentDefinition = "CompartmentDefinition"
	TypeSearchParameter       = "SearchParameter"
	TypeBundle                = "Bundle"
)

// ErrNoResourceType is returned by Parse when the JSON has no resourceType.
var ErrNoResourceType = errors.New("missing 'resourceType' property")

// Resource is any indexed conformance resource.
type Resource interface {
	GetResourceType() string
	CanonicalURL() string
	ResourceID() string
}

// CompartmentDefinition describes which resources belong to a compartment and the
// search parameters that link them to the compartment subject.
type CompartmentDefinition struct {
	ResourceType string                `json:"resourceType"`
	ID           string                `json:"id,omitempty"`
	URL          string                `json:"url"`
	Name         string                `json:"name"`
	Code         string                `json:"code"` // Patient, Encounter, Practitioner, RelatedPerson, Device
	Search       bool                  `json:"search"`
	Resource     []CompartmentResource `json:"resource,omitempty"`
}

// CompartmentResource describes a single resource type's membership in a compartment.
type CompartmentResource struct {
	Code  string   `json:"code"`  // Resource type (e.g. "Observation")
	Param []string `json:"param"` // Search parameters linking to compartment
}

// GetResourceType implements Resource.
func (cd *CompartmentDefinition) GetResourceType() string { return TypeCompartmentDefinition }

// CanonicalURL implements Resource.
func (cd *CompartmentDefinition) CanonicalURL() string { return cd.URL }

// ResourceID implements Resource.
func (cd *CompartmentDefinition) ResourceID() string { return cd.ID }

// SearchParameter is the subset of a SearchParameter the context builder needs.
type SearchParameter struct {
	ResourceType string   `json:"resourceType"`
	ID           string   `json:"id,omitempty"`
	URL          string   `json:"url"`
	Name         string   `json:"name"`
	Code         string   `json:"code"`
	Base         []string `json:"base"`
	Type         string   `json:"type"`
	Expression   string   `json:"expression,omitempty"`
	Xpath        string   `json:"xpath,omitempty"`
	Target       []string `json:"target,omitempty"`
}

// GetResourceType implements Resource.
func (sp *SearchParameter) GetResourceType() string { return TypeSearchParameter }

// CanonicalURL implements Resource.
func (sp *SearchParameter) CanonicalURL() string { return sp.URL }

// ResourceID implements Resource.
func (sp *SearchParameter) ResourceID() string { return sp.ID }

// AppliesTo reports whether the parameter's base set contains resourceType.
func (sp *SearchParameter) AppliesTo(resourceType string) bool {
	for _, b := range sp.Base {
		if b == resourceType {
			return true
		}
	}
	return false
}

// Matches reports whether the parameter is known by name, comparing the code first.
func (sp *SearchParameter) Matches(name string) bool {
	return sp.Code == name || sp.Name == name
}

// Generic is any other conformance resource, indexed by identity only.
type Generic struct {
	Type string          `json:"-"`
	ID   string          `json:"id"`
	URL  string          `json:"url"`
	Raw  json.RawMessage `json:"-"`
}

// GetResourceType implements Resource.
func (g *Generic) GetResourceType() string { return g.Type }

// CanonicalURL implements Resource.
func (g *Generic) CanonicalURL() string { return g.URL }

// ResourceID implements Resource.
func (g *Generic) ResourceID() string { return g.ID }

// Bundle holds the raw entries of a Bundle; nested bundles are unrolled by the loader.
type Bundle struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id,omitempty"`
	Entry        []struct {
		FullURL  string          `json:"fullUrl,omitempty"`
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

// Resources returns the non-empty entry resources in order.
func (b *Bundle) Resources() []json.RawMessage {
	out := make([]json.RawMessage, 0, len(b.Entry))
	for _, e := range b.Entry {
		if len(e.Resource) > 0 {
			out = append(out, e.Resource)
		}
	}
	return out
}

// PeekResourceType returns the resourceType of a JSON resource.
func PeekResourceType(data []byte) (string, error) {
	var peek struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return "", err
	}
	if peek.ResourceType == "" {
		return "", ErrNoResourceType
	}
	return peek.ResourceType, nil
}

// Parse decodes a single (non-Bundle) resource into its typed view.
func Parse(data []byte) (Resource, error) {
	resourceType, err := PeekResourceType(data)
	if err != nil {
		return nil, err
	}

	switch resourceType {
	case TypeStructureDefinition:
		return ParseStructureDefinition(data)
	case TypeCompartmentDefinition:
		var cd r4.CompartmentDefinition
		if err := json.Unmarshal(data, &cd); err != nil {
			return nil, fmt.Errorf("decode CompartmentDefinition: %w", err)
		}
		return FromR4CompartmentDefinition(&cd)
	case TypeSearchParameter:
		var sp r4.SearchParameter
		if err := json.Unmarshal(data, &sp); err != nil {
			return nil, fmt.Errorf("decode SearchParameter: %w", err)
		}
		return FromR4SearchParameter(&sp)
	case TypeBundle:
		return nil, fmt.Errorf("bundles must be unrolled before parsing")
	default:
		g := &Generic{Type: resourceType, Raw: json.RawMessage(data)}
		if err := json.Unmarshal(data, g); err != nil {
			return nil, fmt.Errorf("decode %s: %w", resourceType, err)
		}
		return g, nil
	}
}

// ParseStructureDefinition decodes a StructureDefinition.
func ParseStructureDefinition(data []byte) (*StructureDefinition, error) {
	var sd StructureDefinition
	if err := json.Unmarshal(data, &sd); err != nil {
		return nil, fmt.Errorf("decode StructureDefinition: %w", err)
	}
	if sd.ResourceType == "" {
		sd.ResourceType = TypeStructureDefinition
	}
	return &sd, nil
}

// ParseBundle decodes a Bundle.
func ParseBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode Bundle: %w", err)
	}
	return &b, nil
}
