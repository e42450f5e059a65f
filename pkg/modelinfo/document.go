package modelinfo

import (
	"sort"
	"strings"

	"github.com/gofhir/modelinfo/pkg/config"
)

// ContextInfo is a retrieval context, such as Patient, a model exposes.
type ContextInfo struct {
	Name             string    `json:"name"`
	KeyElement       string    `json:"keyElement"`
	BirthDateElement string    `json:"birthDateElement,omitempty"`
	ContextType      NamedType `json:"contextType"`
}

// ModelInfo is the compiled document for one model.
type ModelInfo struct {
	Name                         string                 `json:"name"`
	Version                      string                 `json:"version"`
	URL                          string                 `json:"url"`
	TargetQualifier              string                 `json:"targetQualifier"`
	PatientClassName             string                 `json:"patientClassName,omitempty"`
	PatientBirthDatePropertyName string                 `json:"patientBirthDatePropertyName,omitempty"`
	RequiredModels               []config.RequiredModel `json:"requiredModelInfo,omitempty"`
	TypeInfo                     []*TypeEntry           `json:"typeInfo"`
	ConversionInfo               []config.Conversion    `json:"conversionInfo,omitempty"`
	ContextInfo                  []ContextInfo          `json:"contextInfo,omitempty"`
}

// Type returns the type entry with the given name.
func (m *ModelInfo) Type(name string) (*TypeEntry, bool) {
	i := sort.Search(len(m.TypeInfo), func(i int) bool { return m.TypeInfo[i].Name >= name })
	if i < len(m.TypeInfo) && m.TypeInfo[i].Name == name {
		return m.TypeInfo[i], true
	}
	return nil, false
}

// Conversion returns the conversion from a fully qualified type.
func (m *ModelInfo) Conversion(from string) (config.Conversion, bool) {
	for _, c := range m.ConversionInfo {
		if c.FromType == from {
			return c, true
		}
	}
	return config.Conversion{}, false
}

// Assemble packages the registry entries of one model with its settings, the curated
// conversions, derived conversions, and the given contexts.
//
// A conversion is derived for every entry with exactly one property whose base type is
// named "Element", unless a curated conversion from that entry exists.
func Assemble(reg *Registry, settings *config.ModelSettings, contexts []ContextInfo) *ModelInfo {
	mi := &ModelInfo{
		Name:                         settings.Name,
		Version:                      settings.Version,
		URL:                          settings.URL,
		TargetQualifier:              settings.TargetQualifier,
		PatientClassName:             settings.PatientClassName,
		PatientBirthDatePropertyName: settings.PatientBirthDatePropertyName,
		RequiredModels:               append([]config.RequiredModel(nil), settings.RequiredModels...),
		ContextInfo:                  append([]ContextInfo(nil), contexts...),
	}

	for _, e := range reg.Entries(settings.Name) {
		mi.TypeInfo = append(mi.TypeInfo, e.Clone())
	}
	sort.Slice(mi.TypeInfo, func(i, j int) bool { return mi.TypeInfo[i].Name < mi.TypeInfo[j].Name })

	curated := make(map[string]bool, len(settings.Conversions))
	for _, c := range settings.Conversions {
		curated[c.FromType] = true
	}
	mi.ConversionInfo = append(mi.ConversionInfo, settings.Conversions...)

	for _, e := range mi.TypeInfo {
		if len(e.Properties) != 1 || ParseNamed(e.BaseType).Name != "Element" {
			continue
		}
		to, ok := e.Properties[0].Type.(NamedType)
		if !ok {
			continue
		}
		from := e.Key()
		if curated[from] {
			continue
		}
		mi.ConversionInfo = append(mi.ConversionInfo, config.Conversion{
			FromType:     from,
			ToType:       to.Qualified(),
			FunctionName: settings.ConversionFunctionPrefix + "To" + capitalize(to.Name),
		})
	}
	return mi
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
