package conformance

import (
	"encoding/json"
	"fmt"

	"github.com/gofhir/fhir/r4"
)

// FromR4 converts a typed R4 StructureDefinition into the compiler's view.
// The R4 model is round-tripped through its FHIR JSON form so every element keeps its
// raw JSON, which is where fixed[x], pattern[x] and binding extensions are read from.
func FromR4(sd *r4.StructureDefinition) (*StructureDefinition, error) {
	if sd == nil {
		return nil, fmt.Errorf("nil StructureDefinition")
	}
	data, err := json.Marshal(sd)
	if err != nil {
		return nil, fmt.Errorf("encode r4 StructureDefinition: %w", err)
	}
	return ParseStructureDefinition(data)
}

// FromR4CompartmentDefinition converts a typed R4 CompartmentDefinition.
func FromR4CompartmentDefinition(cd *r4.CompartmentDefinition) (*CompartmentDefinition, error) {
	if cd == nil {
		return nil, fmt.Errorf("nil CompartmentDefinition")
	}
	out := &CompartmentDefinition{
		ResourceType: TypeCompartmentDefinition,
		ID:           deref(cd.Id),
		URL:          deref(cd.Url),
		Name:         deref(cd.Name),
		Search:       cd.Search != nil && *cd.Search,
	}
	if cd.Code != nil {
		out.Code = string(*cd.Code)
	}
	for _, r := range cd.Resource {
		out.Resource = append(out.Resource, CompartmentResource{
			Code:  deref(r.Code),
			Param: append([]string(nil), r.Param...),
		})
	}
	return out, nil
}

// FromR4SearchParameter converts a typed R4 SearchParameter.
func FromR4SearchParameter(sp *r4.SearchParameter) (*SearchParameter, error) {
	if sp == nil {
		return nil, fmt.Errorf("nil SearchParameter")
	}
	out := &SearchParameter{
		ResourceType: TypeSearchParameter,
		ID:           deref(sp.Id),
		URL:          deref(sp.Url),
		Name:         deref(sp.Name),
		Code:         deref(sp.Code),
		Base:         append([]string(nil), sp.Base...),
		Expression:   deref(sp.Expression),
		Xpath:        deref(sp.Xpath),
		Target:       append([]string(nil), sp.Target...),
	}
	if sp.Type != nil {
		out.Type = string(*sp.Type)
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
